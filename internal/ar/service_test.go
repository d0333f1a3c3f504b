package ar

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/analytic"
	"github.com/meridian-erp/meridian-erp/internal/sales"
)

type memoryInvoiceRepo struct {
	invoices map[int64]CustomerInvoice
	lines    map[int64][]InvoiceLine
	payments map[int64][]InvoicePayment
	nextID   int64
}

func newMemoryInvoiceRepo() *memoryInvoiceRepo {
	return &memoryInvoiceRepo{
		invoices: make(map[int64]CustomerInvoice),
		lines:    make(map[int64][]InvoiceLine),
		payments: make(map[int64][]InvoicePayment),
	}
}

func (r *memoryInvoiceRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryInvoiceRepo) GetInvoice(ctx context.Context, id int64) (CustomerInvoice, []InvoiceLine, error) {
	invoice, ok := r.invoices[id]
	if !ok {
		return CustomerInvoice{}, nil, ErrNotFound
	}
	return invoice, append([]InvoiceLine(nil), r.lines[id]...), nil
}

func (r *memoryInvoiceRepo) List(ctx context.Context, filters ListFilters) ([]CustomerInvoice, error) {
	var invoices []CustomerInvoice
	for _, inv := range r.invoices {
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (r *memoryInvoiceRepo) ListPayments(ctx context.Context, invoiceID int64) ([]InvoicePayment, error) {
	return append([]InvoicePayment(nil), r.payments[invoiceID]...), nil
}

func (r *memoryInvoiceRepo) SumCompletedPayments(ctx context.Context, invoiceID int64) (float64, error) {
	var sum float64
	for _, p := range r.payments[invoiceID] {
		if p.Status == PaymentCompleted {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (r *memoryInvoiceRepo) CountByMonth(ctx context.Context, at time.Time) (int, error) {
	return len(r.invoices), nil
}

func (r *memoryInvoiceRepo) ListLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error) {
	var mismatches []LedgerMismatch
	for id, inv := range r.invoices {
		if inv.Status != StatusPosted && inv.Status != StatusPartiallyPaid && inv.Status != StatusPaid {
			continue
		}
		ledger, _ := r.SumCompletedPayments(ctx, id)
		if ledger != inv.PaidAmount {
			mismatches = append(mismatches, LedgerMismatch{
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

func (r *memoryInvoiceRepo) CreateInvoice(ctx context.Context, invoice CustomerInvoice) (int64, error) {
	r.nextID++
	invoice.ID = r.nextID
	r.invoices[invoice.ID] = invoice
	return invoice.ID, nil
}

func (r *memoryInvoiceRepo) InsertLine(ctx context.Context, line InvoiceLine) error {
	r.lines[line.InvoiceID] = append(r.lines[line.InvoiceID], line)
	return nil
}

func (r *memoryInvoiceRepo) InsertPayment(ctx context.Context, payment InvoicePayment) (int64, error) {
	r.nextID++
	payment.ID = r.nextID
	r.payments[payment.InvoiceID] = append(r.payments[payment.InvoiceID], payment)
	return payment.ID, nil
}

func (r *memoryInvoiceRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	invoice, ok := r.invoices[id]
	if !ok {
		return ErrNotFound
	}
	invoice.Status = status
	r.invoices[id] = invoice
	return nil
}

func (r *memoryInvoiceRepo) UpdatePaid(ctx context.Context, id int64, paidAmount float64, status string) error {
	invoice, ok := r.invoices[id]
	if !ok {
		return ErrNotFound
	}
	invoice.PaidAmount = paidAmount
	invoice.Status = status
	r.invoices[id] = invoice
	return nil
}

type stubRefresher struct {
	accounts []int64
}

func (s *stubRefresher) RefreshAllForAccount(ctx context.Context, accountID int64) error {
	s.accounts = append(s.accounts, accountID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int64) *int64 { return &v }

type stubMatcher struct {
	assignment analytic.Assignment
	matched    bool
	calls      int
}

func (s *stubMatcher) MatchLine(ctx context.Context, partnerID, productID *int64) (analytic.Assignment, bool, error) {
	s.calls++
	return s.assignment, s.matched, nil
}

func TestCreateInvoiceMatchesUnassignedLines(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	budgetID := int64(12)
	matcher := &stubMatcher{assignment: analytic.Assignment{AnalyticalAccountID: 3, BudgetID: &budgetID}, matched: true}
	svc := NewService(repo, matcher, nil, nil, testLogger())

	invoice, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		CustomerID: 8,
		Lines: []InvoiceLineInput{
			{ProductID: 10, Quantity: 1, UnitPrice: 100},
			{ProductID: 20, Quantity: 1, UnitPrice: 200, AnalyticalAccountID: intPtr(7)},
		},
	})
	require.NoError(t, err)
	// Only the line without an assignment goes through the matcher.
	require.Equal(t, 1, matcher.calls)

	lines := repo.lines[invoice.ID]
	require.Len(t, lines, 2)
	require.NotNil(t, lines[0].AnalyticalAccountID)
	require.Equal(t, int64(3), *lines[0].AnalyticalAccountID)
	require.Equal(t, int64(12), *lines[0].BudgetID)
	require.Equal(t, int64(7), *lines[1].AnalyticalAccountID)
}

func TestHandleOrderCreatedRaisesDraftInvoice(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	orderDate := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	evt := sales.OrderCreatedEvent{
		OrderID:     42,
		OrderNumber: "SO-2605-0001",
		CustomerID:  8,
		OrderDate:   orderDate,
		TotalAmount: 118000,
		Lines: []sales.OrderLineEvent{
			{ProductID: 10, Quantity: 1, UnitPrice: 100000, Subtotal: 100000, AnalyticalAccountID: intPtr(3)},
			{ProductID: 20, Quantity: 2, UnitPrice: 9000, Subtotal: 18000, AnalyticalAccountID: intPtr(3)},
		},
	}
	require.NoError(t, svc.HandleOrderCreated(context.Background(), evt))

	require.Len(t, repo.invoices, 1)
	var invoice CustomerInvoice
	for _, inv := range repo.invoices {
		invoice = inv
	}
	require.Equal(t, StatusDraft, invoice.Status)
	require.Equal(t, 118000.0, invoice.TotalAmount)
	require.Equal(t, 0.0, invoice.PaidAmount)
	require.NotNil(t, invoice.OrderID)
	require.Equal(t, int64(42), *invoice.OrderID)
	require.Equal(t, int64(8), invoice.CustomerID)
	require.Equal(t, orderDate.AddDate(0, 0, 30), invoice.DueDate)

	lines := repo.lines[invoice.ID]
	require.Len(t, lines, 2)
	require.Equal(t, 100000.0, lines[0].Subtotal)
	require.Equal(t, 18000.0, lines[1].Subtotal)
}

func TestPostInvoiceDoesNotRefreshBudgets(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	refresher := &stubRefresher{}
	svc := NewService(repo, nil, refresher, nil, testLogger())

	invoice, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		CustomerID: 5,
		Lines: []InvoiceLineInput{
			{ProductID: 10, Quantity: 2, UnitPrice: 500, AnalyticalAccountID: intPtr(6)},
		},
	})
	require.NoError(t, err)

	posted, err := svc.PostInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	// Income accrues on receipt, posting alone must not move budgets.
	require.Empty(t, refresher.accounts)
}

func TestCancelInvoiceRefreshesBudgets(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	refresher := &stubRefresher{}
	svc := NewService(repo, nil, refresher, nil, testLogger())

	invoice, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		CustomerID: 5,
		Lines:      []InvoiceLineInput{{ProductID: 10, Quantity: 1, UnitPrice: 700, AnalyticalAccountID: intPtr(2)}},
	})
	require.NoError(t, err)
	_, err = svc.PostInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Empty(t, refresher.accounts)

	cancelled, err := svc.CancelInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, []int64{2}, refresher.accounts)
}

func TestRegisterPaymentDerivesCumulativeStatusAndRefreshes(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	refresher := &stubRefresher{}
	svc := NewService(repo, nil, refresher, nil, testLogger())

	invoice, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		CustomerID: 5,
		Lines:      []InvoiceLineInput{{ProductID: 10, Quantity: 1, UnitPrice: 1000, AnalyticalAccountID: intPtr(1)}},
	})
	require.NoError(t, err)
	_, err = svc.PostInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)

	partial, err := svc.RegisterPayment(context.Background(), invoice.ID, PaymentInput{Amount: 400})
	require.NoError(t, err)
	require.Equal(t, 400.0, partial.PaidAmount)
	require.Equal(t, StatusPartiallyPaid, partial.Status)
	require.Equal(t, []int64{1}, refresher.accounts)

	full, err := svc.RegisterPayment(context.Background(), invoice.ID, PaymentInput{Amount: 600})
	require.NoError(t, err)
	require.Equal(t, 1000.0, full.PaidAmount)
	require.Equal(t, StatusPaid, full.Status)
}

func TestRegisterPaymentRejectsDraft(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	invoice, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		CustomerID: 5,
		Lines:      []InvoiceLineInput{{ProductID: 10, Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)

	_, err = svc.RegisterPayment(context.Background(), invoice.ID, PaymentInput{Amount: 100})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReconcilePaidAmountsHealsDrift(t *testing.T) {
	repo := newMemoryInvoiceRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	invoice, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		CustomerID: 5,
		Lines:      []InvoiceLineInput{{ProductID: 10, Quantity: 1, UnitPrice: 1000}},
	})
	require.NoError(t, err)
	_, err = svc.PostInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)
	_, err = svc.RegisterPayment(context.Background(), invoice.ID, PaymentInput{Amount: 1000})
	require.NoError(t, err)

	// Simulate a failed header write after the ledger insert.
	drifted := repo.invoices[invoice.ID]
	drifted.PaidAmount = 0
	drifted.Status = StatusPosted
	repo.invoices[invoice.ID] = drifted

	fixed, err := svc.ReconcilePaidAmounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fixed)

	healed := repo.invoices[invoice.ID]
	require.Equal(t, 1000.0, healed.PaidAmount)
	require.Equal(t, StatusPaid, healed.Status)

	fixed, err = svc.ReconcilePaidAmounts(context.Background())
	require.NoError(t, err)
	require.Zero(t, fixed)
}

func TestBalanceDue(t *testing.T) {
	invoice := CustomerInvoice{TotalAmount: 118000, PaidAmount: 50000}
	require.Equal(t, 68000.0, invoice.BalanceDue())
}
