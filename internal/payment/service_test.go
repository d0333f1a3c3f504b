package payment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ar"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryInvoiceRepo struct {
	invoices map[int64]ar.CustomerInvoice
	lines    map[int64][]ar.InvoiceLine
	payments map[int64][]ar.InvoicePayment
	nextID   int64
}

func newMemoryInvoiceRepo() *memoryInvoiceRepo {
	return &memoryInvoiceRepo{
		invoices: make(map[int64]ar.CustomerInvoice),
		lines:    make(map[int64][]ar.InvoiceLine),
		payments: make(map[int64][]ar.InvoicePayment),
	}
}

func (r *memoryInvoiceRepo) WithTx(ctx context.Context, fn func(context.Context, ar.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryInvoiceRepo) GetInvoice(ctx context.Context, id int64) (ar.CustomerInvoice, []ar.InvoiceLine, error) {
	invoice, ok := r.invoices[id]
	if !ok {
		return ar.CustomerInvoice{}, nil, ar.ErrNotFound
	}
	return invoice, append([]ar.InvoiceLine(nil), r.lines[id]...), nil
}

func (r *memoryInvoiceRepo) List(ctx context.Context, filters ar.ListFilters) ([]ar.CustomerInvoice, error) {
	return nil, nil
}

func (r *memoryInvoiceRepo) ListPayments(ctx context.Context, invoiceID int64) ([]ar.InvoicePayment, error) {
	return append([]ar.InvoicePayment(nil), r.payments[invoiceID]...), nil
}

func (r *memoryInvoiceRepo) SumCompletedPayments(ctx context.Context, invoiceID int64) (float64, error) {
	var sum float64
	for _, p := range r.payments[invoiceID] {
		if p.Status == ar.PaymentCompleted {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (r *memoryInvoiceRepo) CountByMonth(ctx context.Context, at time.Time) (int, error) {
	return len(r.invoices), nil
}

func (r *memoryInvoiceRepo) ListLedgerMismatches(ctx context.Context) ([]ar.LedgerMismatch, error) {
	var mismatches []ar.LedgerMismatch
	for id, inv := range r.invoices {
		ledger, _ := r.SumCompletedPayments(ctx, id)
		if ledger != inv.PaidAmount {
			mismatches = append(mismatches, ar.LedgerMismatch{
				InvoiceID:   id,
				StoredPaid:  inv.PaidAmount,
				LedgerPaid:  ledger,
				TotalAmount: inv.TotalAmount,
				Status:      inv.Status,
			})
		}
	}
	return mismatches, nil
}

func (r *memoryInvoiceRepo) CreateInvoice(ctx context.Context, invoice ar.CustomerInvoice) (int64, error) {
	r.nextID++
	invoice.ID = r.nextID
	r.invoices[invoice.ID] = invoice
	return invoice.ID, nil
}

func (r *memoryInvoiceRepo) InsertLine(ctx context.Context, line ar.InvoiceLine) error {
	r.lines[line.InvoiceID] = append(r.lines[line.InvoiceID], line)
	return nil
}

func (r *memoryInvoiceRepo) InsertPayment(ctx context.Context, payment ar.InvoicePayment) (int64, error) {
	r.nextID++
	payment.ID = r.nextID
	r.payments[payment.InvoiceID] = append(r.payments[payment.InvoiceID], payment)
	return payment.ID, nil
}

func (r *memoryInvoiceRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	invoice := r.invoices[id]
	invoice.Status = status
	r.invoices[id] = invoice
	return nil
}

func (r *memoryInvoiceRepo) UpdatePaid(ctx context.Context, id int64, paidAmount float64, status string) error {
	invoice := r.invoices[id]
	invoice.PaidAmount = paidAmount
	invoice.Status = status
	r.invoices[id] = invoice
	return nil
}

type memoryOrderRepo struct {
	orders []PaymentOrder
}

func (r *memoryOrderRepo) Insert(ctx context.Context, order PaymentOrder) (int64, error) {
	r.orders = append(r.orders, order)
	return int64(len(r.orders)), nil
}

func (r *memoryOrderRepo) MarkPaid(ctx context.Context, gatewayOrderID string) error {
	for i := range r.orders {
		if r.orders[i].GatewayOrderID == gatewayOrderID {
			r.orders[i].Status = OrderPaid
		}
	}
	return nil
}

func (r *memoryOrderRepo) ListStale(ctx context.Context, olderThan time.Duration) ([]PaymentOrder, error) {
	return nil, nil
}

type stubGateway struct {
	createCalls  int
	validOrderID string
	validPayment string
	validSig     string
	rejectAll    bool
}

func (g *stubGateway) CreateOrder(ctx context.Context, amountPaise int64, receipt string) (GatewayOrder, error) {
	g.createCalls++
	return GatewayOrder{ID: fmt.Sprintf("order_%d", g.createCalls), Amount: amountPaise, Currency: "INR", Receipt: receipt, Status: "created"}, nil
}

func (g *stubGateway) VerifySignature(orderID, paymentID, signature string) bool {
	if g.rejectAll {
		return false
	}
	return orderID == g.validOrderID && paymentID == g.validPayment && signature == g.validSig
}

func (g *stubGateway) KeyID() string { return "rzp_test_key" }

type memoryClaimer struct {
	keys map[string]bool
}

func newMemoryClaimer() *memoryClaimer { return &memoryClaimer{keys: make(map[string]bool)} }

func (c *memoryClaimer) CheckAndInsert(ctx context.Context, key, module string) error {
	if c.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	c.keys[key] = true
	return nil
}

func (c *memoryClaimer) Delete(ctx context.Context, key string) error {
	delete(c.keys, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int64) *int64 { return &v }

func seedInvoice(repo *memoryInvoiceRepo, total float64, status string) int64 {
	id, _ := repo.CreateInvoice(context.Background(), ar.CustomerInvoice{
		InvoiceNumber: "INV-2605-0001",
		CustomerID:    8,
		TotalAmount:   total,
		Status:        status,
	})
	_ = repo.InsertLine(context.Background(), ar.InvoiceLine{InvoiceID: id, ProductID: 10, Quantity: 1, UnitPrice: total, Subtotal: total, AnalyticalAccountID: intPtr(3)})
	return id
}

func newTestService(repo *memoryInvoiceRepo, gw *stubGateway, claims *memoryClaimer) *Service {
	return NewService(repo, &memoryOrderRepo{}, gw, claims, nil, nil, testLogger())
}

func TestCreateOrderConvertsToPaise(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	id := seedInvoice(repo, 118000, ar.StatusPosted)
	gw := &stubGateway{}
	svc := newTestService(repo, gw, newMemoryClaimer())

	result, err := svc.CreateOrder(context.Background(), id, 50000)
	require.NoError(t, err)
	require.Equal(t, int64(5000000), result.Amount)
	require.Equal(t, "INR", result.Currency)
	require.Equal(t, "rzp_test_key", result.KeyID)
	require.NotEmpty(t, result.OrderID)
}

func TestCreateOrderRejectsDraftInvoice(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	id := seedInvoice(repo, 1000, ar.StatusDraft)
	svc := newTestService(repo, &stubGateway{}, newMemoryClaimer())

	_, err := svc.CreateOrder(context.Background(), id, 1000)
	require.ErrorIs(t, err, ErrNotPayable)
}

func TestCreateOrderRejectsAmountOverBalance(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	id := seedInvoice(repo, 1000, ar.StatusPosted)
	svc := newTestService(repo, &stubGateway{}, newMemoryClaimer())

	_, err := svc.CreateOrder(context.Background(), id, 1500)
	require.ErrorIs(t, err, ErrAmountExceedsDue)
	require.Contains(t, err.Error(), "1,000.00")
}

func TestVerifyPaymentRecomputesFromLedger(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	id := seedInvoice(repo, 118000, ar.StatusPosted)
	gw := &stubGateway{validOrderID: "order_1", validPayment: "pay_1", validSig: "sig_1"}
	svc := newTestService(repo, gw, newMemoryClaimer())

	first, err := svc.VerifyPayment(context.Background(), VerifyInput{
		InvoiceID: id, RazorpayOrderID: "order_1", RazorpayPaymentID: "pay_1", RazorpaySignature: "sig_1", Amount: 50000,
	})
	require.NoError(t, err)
	require.Equal(t, 50000.0, first.NewPaidAmount)
	require.Equal(t, 68000.0, first.NewBalanceDue)
	require.Equal(t, ar.StatusPartiallyPaid, first.NewStatus)
	require.NotEmpty(t, first.PaymentNumber)

	gw.validPayment = "pay_2"
	gw.validSig = "sig_2"
	second, err := svc.VerifyPayment(context.Background(), VerifyInput{
		InvoiceID: id, RazorpayOrderID: "order_1", RazorpayPaymentID: "pay_2", RazorpaySignature: "sig_2", Amount: 68000,
	})
	require.NoError(t, err)
	require.Equal(t, 118000.0, second.NewPaidAmount)
	require.Equal(t, 0.0, second.NewBalanceDue)
	require.Equal(t, ar.StatusPaid, second.NewStatus)
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	id := seedInvoice(repo, 1000, ar.StatusPosted)
	gw := &stubGateway{rejectAll: true}
	svc := newTestService(repo, gw, newMemoryClaimer())

	_, err := svc.VerifyPayment(context.Background(), VerifyInput{
		InvoiceID: id, RazorpayOrderID: "order_1", RazorpayPaymentID: "pay_1", RazorpaySignature: "forged", Amount: 1000,
	})
	require.ErrorIs(t, err, ErrSignatureMismatch)
	// No record created on authenticity failure.
	require.Empty(t, repo.payments[id])
}

func TestVerifyPaymentChecksSignatureBeforeInvoiceLookup(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	gw := &stubGateway{rejectAll: true}
	svc := newTestService(repo, gw, newMemoryClaimer())

	// A forged callback against an unknown invoice fails on the
	// signature, not on the lookup.
	_, err := svc.VerifyPayment(context.Background(), VerifyInput{
		InvoiceID: 999, RazorpayOrderID: "order_x", RazorpayPaymentID: "pay_x", RazorpaySignature: "forged", Amount: 1000,
	})
	require.ErrorIs(t, err, ErrSignatureMismatch)
	require.NotErrorIs(t, err, ar.ErrNotFound)
}

func TestVerifyPaymentReplayDoesNotDoubleCount(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	id := seedInvoice(repo, 1000, ar.StatusPosted)
	gw := &stubGateway{validOrderID: "order_1", validPayment: "pay_1", validSig: "sig_1"}
	svc := newTestService(repo, gw, newMemoryClaimer())

	input := VerifyInput{InvoiceID: id, RazorpayOrderID: "order_1", RazorpayPaymentID: "pay_1", RazorpaySignature: "sig_1", Amount: 400}
	first, err := svc.VerifyPayment(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 400.0, first.NewPaidAmount)

	replay, err := svc.VerifyPayment(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 400.0, replay.NewPaidAmount)
	require.Equal(t, ar.StatusPartiallyPaid, replay.NewStatus)
	require.Equal(t, first.PaymentNumber, replay.PaymentNumber)
	require.Len(t, repo.payments[id], 1)
}

func TestVerifyPaymentUnknownInvoice(t *testing.T) {
	svc := newTestService(newMemoryInvoiceRepo(), &stubGateway{validOrderID: "o", validPayment: "p", validSig: "s"}, newMemoryClaimer())

	_, err := svc.VerifyPayment(context.Background(), VerifyInput{InvoiceID: 99, RazorpayOrderID: "o", RazorpayPaymentID: "p", RazorpaySignature: "s"})
	require.ErrorIs(t, err, ar.ErrNotFound)
}
