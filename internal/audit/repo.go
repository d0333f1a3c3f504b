package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repo struct {
	pool *pgxpool.Pool
}

// NewRepository creates a postgres-backed audit trail reader.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{pool: pool}
}

func buildWhere(filters Filters) (string, []interface{}) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if filters.Entity != "" {
		where += fmt.Sprintf(` AND entity = $%d`, idx)
		args = append(args, filters.Entity)
		idx++
	}
	if filters.Action != "" {
		where += fmt.Sprintf(` AND action = $%d`, idx)
		args = append(args, filters.Action)
		idx++
	}
	if filters.EntityID != "" {
		where += fmt.Sprintf(` AND entity_id = $%d`, idx)
		args = append(args, filters.EntityID)
		idx++
	}
	if !filters.From.IsZero() {
		where += fmt.Sprintf(` AND occurred_at >= $%d`, idx)
		args = append(args, filters.From)
		idx++
	}
	if !filters.To.IsZero() {
		where += fmt.Sprintf(` AND occurred_at <= $%d`, idx)
		args = append(args, filters.To)
		idx++
	}
	return where, args
}

func (r *repo) List(ctx context.Context, filters Filters) ([]Entry, error) {
	where, args := buildWhere(filters)
	offset := (filters.Page - 1) * filters.PerPage
	query := `SELECT id, action, entity, entity_id, meta, occurred_at FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filters.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.Entity, &e.EntityID, &metaJSON, &e.At); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Meta); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repo) Count(ctx context.Context, filters Filters) (int, error) {
	where, args := buildWhere(filters)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total)
	return total, err
}
