package portal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repo struct {
	pool *pgxpool.Pool
}

// NewRepository creates a postgres-backed portal user repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{pool: pool}
}

func (r *repo) GetByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT id, contact_id, email, name, password_hash, role, created_at
	                             FROM portal_users WHERE email = $1`, email).
		Scan(&u.ID, &u.ContactID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (r *repo) Insert(ctx context.Context, user User) (int64, error) {
	query := `INSERT INTO portal_users (contact_id, email, name, password_hash, role, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, query, user.ContactID, user.Email, user.Name, user.PasswordHash, user.Role, time.Now()).Scan(&id)
	return id, err
}
