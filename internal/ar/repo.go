package ar

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

// NewRepository creates a postgres-backed customer invoice repository.
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

const invoiceColumns = `id, invoice_number, customer_id, order_id, invoice_date, due_date, total_amount, paid_amount, status, is_archived, created_at, updated_at`

func scanInvoice(row pgx.Row) (CustomerInvoice, error) {
	var inv CustomerInvoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.CustomerID, &inv.OrderID, &inv.InvoiceDate, &inv.DueDate,
		&inv.TotalAmount, &inv.PaidAmount, &inv.Status, &inv.IsArchived, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (r *repo) GetInvoice(ctx context.Context, id int64) (CustomerInvoice, []InvoiceLine, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM customer_invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return CustomerInvoice{}, nil, ErrNotFound
	}
	if err != nil {
		return CustomerInvoice{}, nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, invoice_id, product_id, quantity, unit_price, subtotal, analytical_account_id, budget_id
	                              FROM customer_invoice_lines WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return CustomerInvoice{}, nil, err
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.ProductID, &line.Quantity, &line.UnitPrice,
			&line.Subtotal, &line.AnalyticalAccountID, &line.BudgetID); err != nil {
			return CustomerInvoice{}, nil, err
		}
		lines = append(lines, line)
	}
	return inv, lines, rows.Err()
}

func (r *repo) List(ctx context.Context, filters ListFilters) ([]CustomerInvoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM customer_invoices WHERE is_archived = FALSE`
	args := []interface{}{}
	idx := 1
	if filters.CustomerID != nil {
		query += fmt.Sprintf(` AND customer_id = $%d`, idx)
		args = append(args, *filters.CustomerID)
		idx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, filters.Status)
		idx++
	}
	query += ` ORDER BY invoice_date DESC, id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []CustomerInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (r *repo) ListPayments(ctx context.Context, invoiceID int64) ([]InvoicePayment, error) {
	rows, err := r.db.Query(ctx, `SELECT id, payment_number, invoice_id, payment_date, amount, mode, status, reference
	                              FROM invoice_payments WHERE invoice_id = $1 ORDER BY payment_date, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []InvoicePayment
	for rows.Next() {
		var p InvoicePayment
		if err := rows.Scan(&p.ID, &p.PaymentNumber, &p.InvoiceID, &p.PaymentDate, &p.Amount, &p.Mode,
			&p.Status, &p.Reference); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *repo) SumCompletedPayments(ctx context.Context, invoiceID int64) (float64, error) {
	var sum float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM invoice_payments WHERE invoice_id = $1 AND status = $2`,
		invoiceID, PaymentCompleted).Scan(&sum)
	return sum, err
}

func (r *repo) ListLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT i.id, i.paid_amount, COALESCE(SUM(p.amount) FILTER (WHERE p.status = $1), 0) AS ledger_paid,
		       i.total_amount, i.status
		FROM customer_invoices i
		LEFT JOIN invoice_payments p ON p.invoice_id = i.id
		WHERE i.status IN ($2, $3, $4)
		GROUP BY i.id, i.paid_amount, i.total_amount, i.status
		HAVING i.paid_amount <> COALESCE(SUM(p.amount) FILTER (WHERE p.status = $1), 0)`,
		PaymentCompleted, StatusPosted, StatusPartiallyPaid, StatusPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mismatches []LedgerMismatch
	for rows.Next() {
		var m LedgerMismatch
		if err := rows.Scan(&m.InvoiceID, &m.StoredPaid, &m.LedgerPaid, &m.TotalAmount, &m.Status); err != nil {
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
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM customer_invoices WHERE created_at >= $1 AND created_at < $2`, start, end).Scan(&count)
	return count, err
}

func (r *repo) CreateInvoice(ctx context.Context, invoice CustomerInvoice) (int64, error) {
	query := `INSERT INTO customer_invoices
	          (invoice_number, customer_id, order_id, invoice_date, due_date, total_amount, paid_amount, status, is_archived, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $9) RETURNING id`
	var id int64
	err := r.db.QueryRow(ctx, query, invoice.InvoiceNumber, invoice.CustomerID, invoice.OrderID, invoice.InvoiceDate,
		invoice.DueDate, invoice.TotalAmount, invoice.PaidAmount, invoice.Status, time.Now()).Scan(&id)
	return id, err
}

func (r *repo) InsertLine(ctx context.Context, line InvoiceLine) error {
	query := `INSERT INTO customer_invoice_lines (invoice_id, product_id, quantity, unit_price, subtotal, analytical_account_id, budget_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query, line.InvoiceID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal,
		line.AnalyticalAccountID, line.BudgetID)
	return err
}

func (r *repo) InsertPayment(ctx context.Context, payment InvoicePayment) (int64, error) {
	query := `INSERT INTO invoice_payments (payment_number, invoice_id, payment_date, amount, mode, status, reference)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64
	err := r.db.QueryRow(ctx, query, payment.PaymentNumber, payment.InvoiceID, payment.PaymentDate, payment.Amount,
		payment.Mode, payment.Status, payment.Reference).Scan(&id)
	return id, err
}

func (r *repo) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE customer_invoices SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) UpdatePaid(ctx context.Context, id int64, paidAmount float64, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE customer_invoices SET paid_amount = $1, status = $2, updated_at = $3 WHERE id = $4`,
		paidAmount, status, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
