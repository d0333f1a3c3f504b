package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/payment"
)

// PaidAmountReconciler reapplies the completed-payment ledger sum to
// documents whose stored paid amount has drifted. Satisfied by the ar and
// ap services.
type PaidAmountReconciler interface {
	ReconcilePaidAmounts(ctx context.Context) (int, error)
}

// PaymentsReconcileJob heals paid-amount drift on invoices and bills from
// their payment ledgers, and surfaces gateway orders that were created but
// never completed by a verified payment. Stale orders are reported, not
// auto-cancelled.
type PaymentsReconcileJob struct {
	Invoices PaidAmountReconciler
	Bills    PaidAmountReconciler
	Orders   payment.OrderRepository
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPaymentsReconcileJob wires dependencies for the reconcile handler.
func NewPaymentsReconcileJob(invoices, bills PaidAmountReconciler, orders payment.OrderRepository, logger *slog.Logger, metrics *jobmetrics.Metrics) *PaymentsReconcileJob {
	return &PaymentsReconcileJob{Invoices: invoices, Bills: bills, Orders: orders, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPaymentsReconcile tasks.
func (j *PaymentsReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Orders == nil {
		return errors.New("payments reconcile: handler not configured")
	}
	var payload PaymentsReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThanHours <= 0 {
		payload.OlderThanHours = 24
	}

	tracker := j.metrics().Track(TaskPaymentsReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	invoicesFixed := j.reconcile(ctx, "invoice_paid_amount", j.Invoices, &resultErr)
	billsFixed := j.reconcile(ctx, "bill_paid_amount", j.Bills, &resultErr)

	stale, err := j.Orders.ListStale(ctx, time.Duration(payload.OlderThanHours)*time.Hour)
	if err != nil {
		resultErr = err
		j.logger().Error("list stale gateway orders", slog.Any("error", err))
		return resultErr
	}
	for _, order := range stale {
		j.logger().Warn("gateway order without completed payment",
			slog.String("gateway_order_id", order.GatewayOrderID),
			slog.Int64("invoice_id", order.InvoiceID),
			slog.Float64("amount", order.Amount),
			slog.Time("created_at", order.CreatedAt))
	}
	j.metrics().AddReconciliationGaps("stale_gateway_order", len(stale))
	j.logger().Info("completed payments reconciliation",
		slog.Int("invoices_fixed", invoicesFixed),
		slog.Int("bills_fixed", billsFixed),
		slog.Int("stale_orders", len(stale)))
	return resultErr
}

func (j *PaymentsReconcileJob) reconcile(ctx context.Context, kind string, rec PaidAmountReconciler, resultErr *error) int {
	if rec == nil {
		return 0
	}
	fixed, err := rec.ReconcilePaidAmounts(ctx)
	if err != nil {
		*resultErr = err
		j.logger().Error("reconcile paid amounts", slog.String("kind", kind), slog.Any("error", err))
		return 0
	}
	j.metrics().AddReconciliationGaps(kind, fixed)
	return fixed
}

func (j *PaymentsReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *PaymentsReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
