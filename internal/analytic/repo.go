package analytic

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a postgres-backed analytic repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

func (r *repo) ListAccounts(ctx context.Context, includeArchived bool) ([]Account, error) {
	query := `SELECT id, name, code, description, is_archived, created_at FROM analytical_accounts`
	if !includeArchived {
		query += ` WHERE is_archived = FALSE`
	}
	query += ` ORDER BY code`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Code, &a.Description, &a.IsArchived, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repo) GetAccount(ctx context.Context, id int64) (Account, error) {
	query := `SELECT id, name, code, description, is_archived, created_at FROM analytical_accounts WHERE id = $1`
	var a Account
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.Name, &a.Code, &a.Description, &a.IsArchived, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrNotFound
	}
	return a, err
}

func (r *repo) CreateAccount(ctx context.Context, account Account) (Account, error) {
	query := `INSERT INTO analytical_accounts (name, code, description, is_archived, created_at)
	          VALUES ($1, $2, $3, FALSE, $4) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, account.Name, account.Code, account.Description, now).Scan(&account.ID)
	if err != nil {
		return Account{}, err
	}
	account.CreatedAt = now
	return account, nil
}

func (r *repo) ArchiveAccount(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE analytical_accounts SET is_archived = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) ListRules(ctx context.Context, includeArchived bool) ([]Rule, error) {
	query := `SELECT id, name, partner_tag_id, partner_id, product_category_id, product_id,
	                 analytical_account_id, budget_id, priority, is_archived, created_at
	          FROM auto_analytical_rules`
	if !includeArchived {
		query += ` WHERE is_archived = FALSE`
	}
	query += ` ORDER BY priority DESC, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.PartnerTagID, &rule.PartnerID, &rule.ProductCategoryID,
			&rule.ProductID, &rule.AnalyticalAccountID, &rule.BudgetID, &rule.Priority, &rule.IsArchived, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *repo) GetRule(ctx context.Context, id int64) (Rule, error) {
	query := `SELECT id, name, partner_tag_id, partner_id, product_category_id, product_id,
	                 analytical_account_id, budget_id, priority, is_archived, created_at
	          FROM auto_analytical_rules WHERE id = $1`
	var rule Rule
	err := r.db.QueryRow(ctx, query, id).Scan(&rule.ID, &rule.Name, &rule.PartnerTagID, &rule.PartnerID,
		&rule.ProductCategoryID, &rule.ProductID, &rule.AnalyticalAccountID, &rule.BudgetID,
		&rule.Priority, &rule.IsArchived, &rule.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, shared.ErrNotFound
	}
	return rule, err
}

func (r *repo) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	query := `INSERT INTO auto_analytical_rules
	          (name, partner_tag_id, partner_id, product_category_id, product_id, analytical_account_id, budget_id, priority, is_archived, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, rule.Name, rule.PartnerTagID, rule.PartnerID, rule.ProductCategoryID,
		rule.ProductID, rule.AnalyticalAccountID, rule.BudgetID, rule.Priority, now).Scan(&rule.ID)
	if err != nil {
		return Rule{}, err
	}
	rule.CreatedAt = now
	return rule, nil
}

func (r *repo) ArchiveRule(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE auto_analytical_rules SET is_archived = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
