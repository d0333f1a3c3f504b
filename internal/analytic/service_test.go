package analytic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryAnalyticRepo struct {
	accounts map[int64]Account
	rules    map[int64]Rule
	nextID   int64
}

func newMemoryAnalyticRepo() *memoryAnalyticRepo {
	return &memoryAnalyticRepo{
		accounts: make(map[int64]Account),
		rules:    make(map[int64]Rule),
	}
}

func (r *memoryAnalyticRepo) ListAccounts(ctx context.Context, includeArchived bool) ([]Account, error) {
	var accounts []Account
	for _, a := range r.accounts {
		if !includeArchived && a.IsArchived {
			continue
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (r *memoryAnalyticRepo) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *memoryAnalyticRepo) CreateAccount(ctx context.Context, account Account) (Account, error) {
	r.nextID++
	account.ID = r.nextID
	r.accounts[account.ID] = account
	return account, nil
}

func (r *memoryAnalyticRepo) ArchiveAccount(ctx context.Context, id int64) error {
	a, ok := r.accounts[id]
	if !ok {
		return shared.ErrNotFound
	}
	a.IsArchived = true
	r.accounts[id] = a
	return nil
}

func (r *memoryAnalyticRepo) ListRules(ctx context.Context, includeArchived bool) ([]Rule, error) {
	var rules []Rule
	for _, rule := range r.rules {
		if !includeArchived && rule.IsArchived {
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (r *memoryAnalyticRepo) GetRule(ctx context.Context, id int64) (Rule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return Rule{}, shared.ErrNotFound
	}
	return rule, nil
}

func (r *memoryAnalyticRepo) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	r.nextID++
	rule.ID = r.nextID
	r.rules[rule.ID] = rule
	return rule, nil
}

func (r *memoryAnalyticRepo) ArchiveRule(ctx context.Context, id int64) error {
	rule, ok := r.rules[id]
	if !ok {
		return shared.ErrNotFound
	}
	rule.IsArchived = true
	r.rules[id] = rule
	return nil
}

type memoryLookup struct {
	tags       map[int64][]int64
	categories map[int64]*int64
}

func (l *memoryLookup) ContactTagIDs(ctx context.Context, contactID int64) ([]int64, error) {
	return l.tags[contactID], nil
}

func (l *memoryLookup) ProductCategoryID(ctx context.Context, productID int64) (*int64, error) {
	return l.categories[productID], nil
}

func TestCreateRuleDerivesPriority(t *testing.T) {
	repo := newMemoryAnalyticRepo()
	svc := NewService(repo, &memoryLookup{})

	rule, err := svc.CreateRule(context.Background(), Rule{
		Name:                "wholesale customers",
		PartnerTagID:        ptr(10),
		ProductCategoryID:   ptr(20),
		AnalyticalAccountID: 1,
		Priority:            99, // caller-supplied value is ignored
	})
	require.NoError(t, err)
	require.Equal(t, 2, rule.Priority)
}

func TestCreateRuleRequiresCriterion(t *testing.T) {
	repo := newMemoryAnalyticRepo()
	svc := NewService(repo, &memoryLookup{})

	_, err := svc.CreateRule(context.Background(), Rule{Name: "empty", AnalyticalAccountID: 1})
	require.Error(t, err)
}

func TestMatchLineResolvesMasterData(t *testing.T) {
	repo := newMemoryAnalyticRepo()
	lookup := &memoryLookup{
		tags:       map[int64][]int64{7: {10}},
		categories: map[int64]*int64{42: ptr(20)},
	}
	svc := NewService(repo, lookup)

	_, err := svc.CreateRule(context.Background(), Rule{
		Name:                "tag only",
		PartnerTagID:        ptr(10),
		AnalyticalAccountID: 100,
	})
	require.NoError(t, err)
	_, err = svc.CreateRule(context.Background(), Rule{
		Name:                "tag and category",
		PartnerTagID:        ptr(10),
		ProductCategoryID:   ptr(20),
		AnalyticalAccountID: 200,
	})
	require.NoError(t, err)

	assignment, ok, err := svc.MatchLine(context.Background(), ptr(7), ptr(42))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(200), assignment.AnalyticalAccountID)
}

func TestMatchLineWithoutRules(t *testing.T) {
	svc := NewService(newMemoryAnalyticRepo(), &memoryLookup{})

	_, ok, err := svc.MatchLine(context.Background(), ptr(1), nil)
	require.NoError(t, err)
	require.False(t, ok)
}
