package ap

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

// NewRepository creates a postgres-backed vendor bill repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{db: pool, pool: pool}
}

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

const billColumns = `id, bill_number, vendor_id, order_id, bill_date, due_date, total_amount, paid_amount, status, is_archived, created_at, updated_at`

func scanBill(row pgx.Row) (VendorBill, error) {
	var b VendorBill
	err := row.Scan(&b.ID, &b.BillNumber, &b.VendorID, &b.OrderID, &b.BillDate, &b.DueDate,
		&b.TotalAmount, &b.PaidAmount, &b.Status, &b.IsArchived, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *repo) GetBill(ctx context.Context, id int64) (VendorBill, []BillLine, error) {
	bill, err := scanBill(r.db.QueryRow(ctx, `SELECT `+billColumns+` FROM vendor_bills WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return VendorBill{}, nil, ErrNotFound
	}
	if err != nil {
		return VendorBill{}, nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, bill_id, product_id, quantity, unit_price, subtotal, analytical_account_id, budget_id
	                              FROM vendor_bill_lines WHERE bill_id = $1 ORDER BY id`, id)
	if err != nil {
		return VendorBill{}, nil, err
	}
	defer rows.Close()

	var lines []BillLine
	for rows.Next() {
		var line BillLine
		if err := rows.Scan(&line.ID, &line.BillID, &line.ProductID, &line.Quantity, &line.UnitPrice,
			&line.Subtotal, &line.AnalyticalAccountID, &line.BudgetID); err != nil {
			return VendorBill{}, nil, err
		}
		lines = append(lines, line)
	}
	return bill, lines, rows.Err()
}

func (r *repo) List(ctx context.Context, filters ListFilters) ([]VendorBill, error) {
	query := `SELECT ` + billColumns + ` FROM vendor_bills WHERE is_archived = FALSE`
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
	query += ` ORDER BY bill_date DESC, id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []VendorBill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func (r *repo) ListPayments(ctx context.Context, billID int64) ([]BillPayment, error) {
	rows, err := r.db.Query(ctx, `SELECT id, payment_number, bill_id, payment_date, amount, mode, status, reference, notes
	                              FROM bill_payments WHERE bill_id = $1 ORDER BY payment_date, id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []BillPayment
	for rows.Next() {
		var p BillPayment
		if err := rows.Scan(&p.ID, &p.PaymentNumber, &p.BillID, &p.PaymentDate, &p.Amount, &p.Mode,
			&p.Status, &p.Reference, &p.Notes); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *repo) SumCompletedPayments(ctx context.Context, billID int64) (float64, error) {
	var sum float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM bill_payments WHERE bill_id = $1 AND status = $2`,
		billID, PaymentCompleted).Scan(&sum)
	return sum, err
}

func (r *repo) ListLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT b.id, b.paid_amount, COALESCE(SUM(p.amount) FILTER (WHERE p.status = $1), 0) AS ledger_paid,
		       b.total_amount, b.status
		FROM vendor_bills b
		LEFT JOIN bill_payments p ON p.bill_id = b.id
		WHERE b.status IN ($2, $3, $4)
		GROUP BY b.id, b.paid_amount, b.total_amount, b.status
		HAVING b.paid_amount <> COALESCE(SUM(p.amount) FILTER (WHERE p.status = $1), 0)`,
		PaymentCompleted, StatusPosted, StatusPartiallyPaid, StatusPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mismatches []LedgerMismatch
	for rows.Next() {
		var m LedgerMismatch
		if err := rows.Scan(&m.BillID, &m.StoredPaid, &m.LedgerPaid, &m.TotalAmount, &m.Status); err != nil {
			return nil, err
		}
		mismatches = append(mismatches, m)
	}
	return mismatches, rows.Err()
}

func (r *repo) CountByMonth(ctx context.Context, at time.Time) (int, error) {
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
	end := start.AddDate(0, 1, 0)
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM vendor_bills WHERE created_at >= $1 AND created_at < $2`, start, end).Scan(&count)
	return count, err
}

func (r *repo) CreateBill(ctx context.Context, bill VendorBill) (int64, error) {
	query := `INSERT INTO vendor_bills
	          (bill_number, vendor_id, order_id, bill_date, due_date, total_amount, paid_amount, status, is_archived, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $9) RETURNING id`
	var id int64
	err := r.db.QueryRow(ctx, query, bill.BillNumber, bill.VendorID, bill.OrderID, bill.BillDate, bill.DueDate,
		bill.TotalAmount, bill.PaidAmount, bill.Status, time.Now()).Scan(&id)
	return id, err
}

func (r *repo) InsertLine(ctx context.Context, line BillLine) error {
	query := `INSERT INTO vendor_bill_lines (bill_id, product_id, quantity, unit_price, subtotal, analytical_account_id, budget_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query, line.BillID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal,
		line.AnalyticalAccountID, line.BudgetID)
	return err
}

func (r *repo) InsertPayment(ctx context.Context, payment BillPayment) (int64, error) {
	query := `INSERT INTO bill_payments (payment_number, bill_id, payment_date, amount, mode, status, reference, notes)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	var id int64
	err := r.db.QueryRow(ctx, query, payment.PaymentNumber, payment.BillID, payment.PaymentDate, payment.Amount,
		payment.Mode, payment.Status, payment.Reference, payment.Notes).Scan(&id)
	return id, err
}

func (r *repo) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE vendor_bills SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) UpdatePaid(ctx context.Context, id int64, paidAmount float64, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE vendor_bills SET paid_amount = $1, status = $2, updated_at = $3 WHERE id = $4`,
		paidAmount, status, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
