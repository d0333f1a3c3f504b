package ap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/analytic"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
)

type memoryBillRepo struct {
	bills    map[int64]VendorBill
	lines    map[int64][]BillLine
	payments map[int64][]BillPayment
	nextID   int64
}

func newMemoryBillRepo() *memoryBillRepo {
	return &memoryBillRepo{
		bills:    make(map[int64]VendorBill),
		lines:    make(map[int64][]BillLine),
		payments: make(map[int64][]BillPayment),
	}
}

func (r *memoryBillRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryBillRepo) GetBill(ctx context.Context, id int64) (VendorBill, []BillLine, error) {
	bill, ok := r.bills[id]
	if !ok {
		return VendorBill{}, nil, ErrNotFound
	}
	return bill, append([]BillLine(nil), r.lines[id]...), nil
}

func (r *memoryBillRepo) List(ctx context.Context, filters ListFilters) ([]VendorBill, error) {
	var bills []VendorBill
	for _, b := range r.bills {
		bills = append(bills, b)
	}
	return bills, nil
}

func (r *memoryBillRepo) ListPayments(ctx context.Context, billID int64) ([]BillPayment, error) {
	return append([]BillPayment(nil), r.payments[billID]...), nil
}

func (r *memoryBillRepo) SumCompletedPayments(ctx context.Context, billID int64) (float64, error) {
	var sum float64
	for _, p := range r.payments[billID] {
		if p.Status == PaymentCompleted {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (r *memoryBillRepo) CountByMonth(ctx context.Context, at time.Time) (int, error) {
	return len(r.bills), nil
}

func (r *memoryBillRepo) ListLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error) {
	var mismatches []LedgerMismatch
	for id, bill := range r.bills {
		if bill.Status != StatusPosted && bill.Status != StatusPartiallyPaid && bill.Status != StatusPaid {
			continue
		}
		ledger, _ := r.SumCompletedPayments(ctx, id)
		if ledger != bill.PaidAmount {
			mismatches = append(mismatches, LedgerMismatch{
				BillID:      id,
				StoredPaid:  bill.PaidAmount,
				LedgerPaid:  ledger,
				TotalAmount: bill.TotalAmount,
				Status:      bill.Status,
			})
		}
	}
	return mismatches, nil
}

func (r *memoryBillRepo) CreateBill(ctx context.Context, bill VendorBill) (int64, error) {
	r.nextID++
	bill.ID = r.nextID
	r.bills[bill.ID] = bill
	return bill.ID, nil
}

func (r *memoryBillRepo) InsertLine(ctx context.Context, line BillLine) error {
	r.lines[line.BillID] = append(r.lines[line.BillID], line)
	return nil
}

func (r *memoryBillRepo) InsertPayment(ctx context.Context, payment BillPayment) (int64, error) {
	r.nextID++
	payment.ID = r.nextID
	r.payments[payment.BillID] = append(r.payments[payment.BillID], payment)
	return payment.ID, nil
}

func (r *memoryBillRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	bill, ok := r.bills[id]
	if !ok {
		return ErrNotFound
	}
	bill.Status = status
	r.bills[id] = bill
	return nil
}

func (r *memoryBillRepo) UpdatePaid(ctx context.Context, id int64, paidAmount float64, status string) error {
	bill, ok := r.bills[id]
	if !ok {
		return ErrNotFound
	}
	bill.PaidAmount = paidAmount
	bill.Status = status
	r.bills[id] = bill
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

func TestCreateBillMatchesUnassignedLines(t *testing.T) {
	repo := newMemoryBillRepo()
	budgetID := int64(5)
	matcher := &stubMatcher{assignment: analytic.Assignment{AnalyticalAccountID: 2, BudgetID: &budgetID}, matched: true}
	svc := NewService(repo, matcher, nil, nil, testLogger())

	bill, err := svc.CreateBill(context.Background(), CreateBillInput{
		VendorID: 3,
		Lines: []BillLineInput{
			{ProductID: 10, Quantity: 1, UnitPrice: 100},
			{ProductID: 20, Quantity: 1, UnitPrice: 200, AnalyticalAccountID: intPtr(9)},
		},
	})
	require.NoError(t, err)
	// Only the line without an assignment goes through the matcher.
	require.Equal(t, 1, matcher.calls)

	lines := repo.lines[bill.ID]
	require.Len(t, lines, 2)
	require.NotNil(t, lines[0].AnalyticalAccountID)
	require.Equal(t, int64(2), *lines[0].AnalyticalAccountID)
	require.Equal(t, int64(5), *lines[0].BudgetID)
	require.Equal(t, int64(9), *lines[1].AnalyticalAccountID)
}

func TestHandleOrderConfirmedCreatesPaidBillWithPayment(t *testing.T) {
	repo := newMemoryBillRepo()
	refresher := &stubRefresher{}
	svc := NewService(repo, nil, refresher, nil, testLogger())

	orderDate := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	evt := procurement.OrderConfirmedEvent{
		OrderID:     55,
		OrderNumber: "PO-2604-0001",
		VendorID:    7,
		OrderDate:   orderDate,
		TotalAmount: 500,
		Lines: []procurement.OrderLineEvent{
			{ProductID: 10, Quantity: 2, UnitPrice: 100, Subtotal: 200, AnalyticalAccountID: intPtr(1)},
			{ProductID: 20, Quantity: 3, UnitPrice: 100, Subtotal: 300, AnalyticalAccountID: intPtr(2)},
		},
	}
	require.NoError(t, svc.HandleOrderConfirmed(context.Background(), evt))

	require.Len(t, repo.bills, 1)
	var bill VendorBill
	for _, b := range repo.bills {
		bill = b
	}
	require.Equal(t, StatusPaid, bill.Status)
	require.Equal(t, 500.0, bill.TotalAmount)
	require.Equal(t, 500.0, bill.PaidAmount)
	require.NotNil(t, bill.OrderID)
	require.Equal(t, int64(55), *bill.OrderID)
	require.Equal(t, orderDate.AddDate(0, 0, 30), bill.DueDate)

	lines := repo.lines[bill.ID]
	require.Len(t, lines, 2)
	require.Equal(t, 200.0, lines[0].Subtotal)

	payments := repo.payments[bill.ID]
	require.Len(t, payments, 1)
	require.Equal(t, 500.0, payments[0].Amount)
	require.Equal(t, PaymentCompleted, payments[0].Status)
	require.Equal(t, ModeBankTransfer, payments[0].Mode)
	require.Equal(t, "Auto-payment for PO-2604-0001", payments[0].Reference)
	require.Equal(t, "Automatic payment on order confirmation", payments[0].Notes)

	// Each distinct analytical account is refreshed exactly once.
	require.ElementsMatch(t, []int64{1, 2}, refresher.accounts)
}

func TestHandleOrderConfirmedDeduplicatesAccounts(t *testing.T) {
	repo := newMemoryBillRepo()
	refresher := &stubRefresher{}
	svc := NewService(repo, nil, refresher, nil, testLogger())

	evt := procurement.OrderConfirmedEvent{
		OrderID: 1, OrderNumber: "PO-2604-0002", VendorID: 7, TotalAmount: 200,
		Lines: []procurement.OrderLineEvent{
			{ProductID: 10, Quantity: 1, UnitPrice: 100, Subtotal: 100, AnalyticalAccountID: intPtr(1)},
			{ProductID: 20, Quantity: 1, UnitPrice: 100, Subtotal: 100, AnalyticalAccountID: intPtr(1)},
		},
	}
	require.NoError(t, svc.HandleOrderConfirmed(context.Background(), evt))
	require.Equal(t, []int64{1}, refresher.accounts)
}

func TestPostBillRefreshesBudgets(t *testing.T) {
	repo := newMemoryBillRepo()
	refresher := &stubRefresher{}
	svc := NewService(repo, nil, refresher, nil, testLogger())

	bill, err := svc.CreateBill(context.Background(), CreateBillInput{
		VendorID: 3,
		Lines: []BillLineInput{
			{ProductID: 10, Quantity: 2, UnitPrice: 50, AnalyticalAccountID: intPtr(9)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, bill.Status)
	require.Empty(t, refresher.accounts)

	posted, err := svc.PostBill(context.Background(), bill.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.Equal(t, []int64{9}, refresher.accounts)
}

func TestCancelBillRefreshesBudgets(t *testing.T) {
	repo := newMemoryBillRepo()
	refresher := &stubRefresher{}
	svc := NewService(repo, nil, refresher, nil, testLogger())

	bill, err := svc.CreateBill(context.Background(), CreateBillInput{
		VendorID: 3,
		Lines:    []BillLineInput{{ProductID: 10, Quantity: 1, UnitPrice: 80, AnalyticalAccountID: intPtr(4)}},
	})
	require.NoError(t, err)
	_, err = svc.PostBill(context.Background(), bill.ID)
	require.NoError(t, err)
	refresher.accounts = nil

	cancelled, err := svc.CancelBill(context.Background(), bill.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, []int64{4}, refresher.accounts)
}

func TestRegisterPaymentDerivesCumulativeStatus(t *testing.T) {
	repo := newMemoryBillRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	bill, err := svc.CreateBill(context.Background(), CreateBillInput{
		VendorID: 3,
		Lines:    []BillLineInput{{ProductID: 10, Quantity: 1, UnitPrice: 1000}},
	})
	require.NoError(t, err)
	_, err = svc.PostBill(context.Background(), bill.ID)
	require.NoError(t, err)

	partial, err := svc.RegisterPayment(context.Background(), bill.ID, PaymentInput{Amount: 400})
	require.NoError(t, err)
	require.Equal(t, 400.0, partial.PaidAmount)
	require.Equal(t, StatusPartiallyPaid, partial.Status)

	full, err := svc.RegisterPayment(context.Background(), bill.ID, PaymentInput{Amount: 600})
	require.NoError(t, err)
	require.Equal(t, 1000.0, full.PaidAmount)
	require.Equal(t, StatusPaid, full.Status)
}

func TestRegisterPaymentRejectsDraft(t *testing.T) {
	repo := newMemoryBillRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	bill, err := svc.CreateBill(context.Background(), CreateBillInput{
		VendorID: 3,
		Lines:    []BillLineInput{{ProductID: 10, Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)

	_, err = svc.RegisterPayment(context.Background(), bill.ID, PaymentInput{Amount: 100})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReconcilePaidAmountsHealsDrift(t *testing.T) {
	repo := newMemoryBillRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	bill, err := svc.CreateBill(context.Background(), CreateBillInput{
		VendorID: 3,
		Lines:    []BillLineInput{{ProductID: 10, Quantity: 1, UnitPrice: 1000}},
	})
	require.NoError(t, err)
	_, err = svc.PostBill(context.Background(), bill.ID)
	require.NoError(t, err)
	_, err = svc.RegisterPayment(context.Background(), bill.ID, PaymentInput{Amount: 600})
	require.NoError(t, err)

	// Simulate a failed header write after the ledger insert.
	drifted := repo.bills[bill.ID]
	drifted.PaidAmount = 0
	drifted.Status = StatusPosted
	repo.bills[bill.ID] = drifted

	fixed, err := svc.ReconcilePaidAmounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fixed)

	healed := repo.bills[bill.ID]
	require.Equal(t, 600.0, healed.PaidAmount)
	require.Equal(t, StatusPartiallyPaid, healed.Status)

	fixed, err = svc.ReconcilePaidAmounts(context.Background())
	require.NoError(t, err)
	require.Zero(t, fixed)
}

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, StatusPaid, DeriveStatus(StatusPosted, 100, 100))
	require.Equal(t, StatusPaid, DeriveStatus(StatusPosted, 150, 100))
	require.Equal(t, StatusPartiallyPaid, DeriveStatus(StatusPosted, 50, 100))
	require.Equal(t, StatusPosted, DeriveStatus(StatusPosted, 0, 100))
}
