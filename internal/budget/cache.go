package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "budget:version"

// Cache keeps versioned budget snapshots in Redis. Bumping the version on
// every accrual refresh invalidates all snapshots at once, so readers never
// see figures older than the latest refresh.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) snapshotKey(ctx context.Context, budgetID int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("budget:snapshot:%d:%d", budgetID, ver), nil
}

// FetchSnapshot loads a cached budget or populates it using the loader.
func (c *Cache) FetchSnapshot(ctx context.Context, budgetID int64, loader func(context.Context) (Budget, error)) (Budget, error) {
	if loader == nil {
		return Budget{}, errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.snapshotKey(ctx, budgetID)
	if err != nil {
		return Budget{}, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var b Budget
		if err := json.Unmarshal(payload, &b); err == nil {
			return b, nil
		}
		// Corrupt entry falls through to the loader and gets overwritten.
	} else if err != redis.Nil {
		return Budget{}, err
	}
	b, err := loader(ctx)
	if err != nil {
		return Budget{}, err
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return Budget{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Budget{}, err
	}
	return b, nil
}

func (c *Cache) listKey(ctx context.Context, filters ListFilters) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	account := int64(0)
	if filters.AnalyticalAccountID != nil {
		account = *filters.AnalyticalAccountID
	}
	return fmt.Sprintf("budget:list:%d:%s:%s:%d", account, filters.State, filters.Type, ver), nil
}

// FetchList loads a cached utilization listing or populates it using the
// loader. Listings share the snapshot version, so a refresh invalidates
// both at once.
func (c *Cache) FetchList(ctx context.Context, filters ListFilters, loader func(context.Context) ([]Budget, error)) ([]Budget, error) {
	if loader == nil {
		return nil, errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.listKey(ctx, filters)
	if err != nil {
		return nil, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var budgets []Budget
		if err := json.Unmarshal(payload, &budgets); err == nil {
			return budgets, nil
		}
	} else if err != redis.Nil {
		return nil, err
	}
	budgets, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(budgets)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return nil, err
	}
	return budgets, nil
}

// Bump invalidates all snapshots by incrementing the global version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
