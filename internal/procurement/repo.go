package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repo struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository creates a postgres-backed purchase order repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{db: pool, pool: pool}
}

// WithTx runs fn inside one repeatable-read transaction. The TxRepository
// handed to fn shares this repo's queries but executes them on the tx.
func (r *repo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &repo{db: tx, pool: r.pool}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const orderColumns = `id, order_number, vendor_id, order_date, total_amount, status, analytical_account_id, is_archived, created_at, updated_at`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.OrderNumber, &po.VendorID, &po.OrderDate, &po.TotalAmount, &po.Status,
		&po.AnalyticalAccountID, &po.IsArchived, &po.CreatedAt, &po.UpdatedAt)
	return po, err
}

func (r *repo) Get(ctx context.Context, id int64) (PurchaseOrder, []Line, error) {
	po, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, subtotal, analytical_account_id, budget_id
	                              FROM purchase_order_lines WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.UnitPrice,
			&line.Subtotal, &line.AnalyticalAccountID, &line.BudgetID); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	return po, lines, rows.Err()
}

func (r *repo) List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE is_archived = FALSE`
	args := []interface{}{}
	idx := 1
	if filters.VendorID != nil {
		query += fmt.Sprintf(` AND vendor_id = $%d`, idx)
		args = append(args, *filters.VendorID)
		idx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, filters.Status)
		idx++
	}
	query += ` ORDER BY order_date DESC, id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

func (r *repo) CountByMonth(ctx context.Context, at time.Time) (int, error) {
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
	end := start.AddDate(0, 1, 0)
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE created_at >= $1 AND created_at < $2`, start, end).Scan(&count)
	return count, err
}

func (r *repo) CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	query := `INSERT INTO purchase_orders
	          (order_number, vendor_id, order_date, total_amount, status, analytical_account_id, is_archived, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7) RETURNING id`
	var id int64
	err := r.db.QueryRow(ctx, query, po.OrderNumber, po.VendorID, po.OrderDate, po.TotalAmount, po.Status,
		po.AnalyticalAccountID, time.Now()).Scan(&id)
	return id, err
}

func (r *repo) InsertLine(ctx context.Context, line Line) error {
	query := `INSERT INTO purchase_order_lines (order_id, product_id, quantity, unit_price, subtotal, analytical_account_id, budget_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query, line.OrderID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal,
		line.AnalyticalAccountID, line.BudgetID)
	return err
}

func (r *repo) DeleteLines(ctx context.Context, orderID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM purchase_order_lines WHERE order_id = $1`, orderID)
	return err
}

func (r *repo) UpdateHeader(ctx context.Context, po PurchaseOrder) error {
	query := `UPDATE purchase_orders SET vendor_id = $1, order_date = $2, total_amount = $3, analytical_account_id = $4, updated_at = $5 WHERE id = $6`
	tag, err := r.db.Exec(ctx, query, po.VendorID, po.OrderDate, po.TotalAmount, po.AnalyticalAccountID, time.Now(), po.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE purchase_orders SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) Archive(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE purchase_orders SET is_archived = TRUE, updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
