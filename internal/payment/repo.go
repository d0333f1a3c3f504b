package payment

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type orderRepo struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a postgres-backed payment order repository.
func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &orderRepo{pool: pool}
}

func (r *orderRepo) Insert(ctx context.Context, order PaymentOrder) (int64, error) {
	query := `INSERT INTO payment_orders (invoice_id, gateway_order_id, amount, currency, receipt, status, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, query, order.InvoiceID, order.GatewayOrderID, order.Amount, order.Currency,
		order.Receipt, order.Status, time.Now()).Scan(&id)
	return id, err
}

func (r *orderRepo) MarkPaid(ctx context.Context, gatewayOrderID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE payment_orders SET status = $1 WHERE gateway_order_id = $2`, OrderPaid, gatewayOrderID)
	return err
}

func (r *orderRepo) ListStale(ctx context.Context, olderThan time.Duration) ([]PaymentOrder, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, gateway_order_id, amount, currency, receipt, status, created_at
	                                FROM payment_orders WHERE status = $1 AND created_at < $2 ORDER BY created_at`, OrderCreated, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []PaymentOrder
	for rows.Next() {
		var o PaymentOrder
		if err := rows.Scan(&o.ID, &o.InvoiceID, &o.GatewayOrderID, &o.Amount, &o.Currency, &o.Receipt, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
