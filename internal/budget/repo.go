package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a postgres-backed budget repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

const budgetColumns = `id, name, start_date, end_date, analytical_account_id, type,
	budgeted_amount, achieved_amount, achievement_percentage, remaining_balance,
	state, created_at, updated_at`

func scanBudget(row pgx.Row) (Budget, error) {
	var b Budget
	err := row.Scan(&b.ID, &b.Name, &b.StartDate, &b.EndDate, &b.AnalyticalAccountID, &b.Type,
		&b.BudgetedAmount, &b.AchievedAmount, &b.AchievementPercentage, &b.RemainingBalance,
		&b.State, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *repo) List(ctx context.Context, filters ListFilters) ([]Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if filters.AnalyticalAccountID != nil {
		query += fmt.Sprintf(` AND analytical_account_id = $%d`, idx)
		args = append(args, *filters.AnalyticalAccountID)
		idx++
	}
	if filters.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, idx)
		args = append(args, filters.State)
		idx++
	}
	if filters.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, idx)
		args = append(args, filters.Type)
		idx++
	}
	query += ` ORDER BY start_date DESC, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (r *repo) Get(ctx context.Context, id int64) (Budget, error) {
	b, err := scanBudget(r.db.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Budget{}, shared.ErrNotFound
	}
	if err != nil {
		return Budget{}, err
	}
	b.Revisions, err = r.listRevisions(ctx, id)
	return b, err
}

func (r *repo) listRevisions(ctx context.Context, budgetID int64) ([]Revision, error) {
	rows, err := r.db.Query(ctx, `SELECT id, budget_id, previous_amount, new_amount, reason, revision_date
	                              FROM budget_revisions WHERE budget_id = $1 ORDER BY revision_date, id`, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.ID, &rev.BudgetID, &rev.PreviousAmount, &rev.NewAmount, &rev.Reason, &rev.RevisionDate); err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

func (r *repo) Create(ctx context.Context, b Budget) (Budget, error) {
	query := `INSERT INTO budgets
	          (name, start_date, end_date, analytical_account_id, type, budgeted_amount,
	           achieved_amount, achievement_percentage, remaining_balance, state, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $6, $7, $8, $8) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, b.Name, b.StartDate, b.EndDate, b.AnalyticalAccountID, b.Type,
		b.BudgetedAmount, StateDraft, now).Scan(&b.ID)
	if err != nil {
		return Budget{}, err
	}
	b.State = StateDraft
	b.AchievedAmount = 0
	b.AchievementPercentage = 0
	b.RemainingBalance = b.BudgetedAmount
	b.CreatedAt = now
	b.UpdatedAt = now
	return b, nil
}

func (r *repo) UpdateState(ctx context.Context, id int64, state string) error {
	tag, err := r.db.Exec(ctx, `UPDATE budgets SET state = $1, updated_at = $2 WHERE id = $3`, state, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) UpdateAccrual(ctx context.Context, id int64, accrual Accrual) error {
	tag, err := r.db.Exec(ctx, `UPDATE budgets
	                            SET achieved_amount = $1, achievement_percentage = $2, remaining_balance = $3, updated_at = $4
	                            WHERE id = $5`,
		accrual.AchievedAmount, accrual.AchievementPercentage, accrual.RemainingBalance, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Revise updates the budgeted amount and appends the revision inside one
// transaction so the history never diverges from the header.
func (r *repo) Revise(ctx context.Context, id int64, newAmount float64, revision Revision) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `UPDATE budgets SET budgeted_amount = $1, state = $2, updated_at = $3 WHERE id = $4`,
		newAmount, StateRevised, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	_, err = tx.Exec(ctx, `INSERT INTO budget_revisions (budget_id, previous_amount, new_amount, reason, revision_date)
	                       VALUES ($1, $2, $3, $4, $5)`,
		id, revision.PreviousAmount, revision.NewAmount, revision.Reason, revision.RevisionDate)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *repo) ListConfirmedByAccount(ctx context.Context, analyticalAccountID int64) ([]Budget, error) {
	rows, err := r.db.Query(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE analytical_account_id = $1 AND state = $2 ORDER BY id`,
		analyticalAccountID, StateConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (r *repo) SumExpenseLines(ctx context.Context, analyticalAccountID int64, start, end time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(l.subtotal), 0)
	          FROM vendor_bill_lines l
	          JOIN vendor_bills b ON b.id = l.bill_id
	          WHERE l.analytical_account_id = $1
	            AND b.status IN ('posted', 'paid', 'partially_paid')
	            AND b.bill_date >= $2 AND b.bill_date <= $3`
	var sum float64
	err := r.db.QueryRow(ctx, query, analyticalAccountID, start, end).Scan(&sum)
	return sum, err
}

func (r *repo) SumIncomeLines(ctx context.Context, analyticalAccountID int64, start, end time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(l.subtotal), 0)
	          FROM customer_invoice_lines l
	          JOIN customer_invoices i ON i.id = l.invoice_id
	          WHERE l.analytical_account_id = $1
	            AND i.status IN ('posted', 'paid', 'partially_paid')
	            AND i.invoice_date >= $2 AND i.invoice_date <= $3`
	var sum float64
	err := r.db.QueryRow(ctx, query, analyticalAccountID, start, end).Scan(&sum)
	return sum, err
}
