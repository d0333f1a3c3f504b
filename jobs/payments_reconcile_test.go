package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/payment"
)

type stubReconciler struct {
	fixed int
	calls int
}

func (s *stubReconciler) ReconcilePaidAmounts(ctx context.Context) (int, error) {
	s.calls++
	return s.fixed, nil
}

type stubOrderRepo struct {
	stale  []payment.PaymentOrder
	cutoff time.Duration
}

func (s *stubOrderRepo) Insert(ctx context.Context, order payment.PaymentOrder) (int64, error) {
	return 0, nil
}

func (s *stubOrderRepo) MarkPaid(ctx context.Context, gatewayOrderID string) error {
	return nil
}

func (s *stubOrderRepo) ListStale(ctx context.Context, olderThan time.Duration) ([]payment.PaymentOrder, error) {
	s.cutoff = olderThan
	return s.stale, nil
}

func TestReconcileJobRunsLedgerAndStaleScans(t *testing.T) {
	invoices := &stubReconciler{fixed: 2}
	bills := &stubReconciler{}
	orders := &stubOrderRepo{stale: []payment.PaymentOrder{
		{GatewayOrderID: "order_abc", InvoiceID: 7, Amount: 500, CreatedAt: time.Now().Add(-48 * time.Hour)},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	job := NewPaymentsReconcileJob(invoices, bills, orders, logger, nil)

	task, err := NewPaymentsReconcileTask(12)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, invoices.calls)
	require.Equal(t, 1, bills.calls)
	require.Equal(t, 12*time.Hour, orders.cutoff)
}

func TestReconcileJobDefaultsWindow(t *testing.T) {
	orders := &stubOrderRepo{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	job := NewPaymentsReconcileJob(nil, nil, orders, logger, nil)

	task, err := NewPaymentsReconcileTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, orders.cutoff)
}
