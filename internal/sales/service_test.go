package sales

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/analytic"
)

type memoryOrderRepo struct {
	orders map[int64]SalesOrder
	lines  map[int64][]Line
	nextID int64
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: make(map[int64]SalesOrder), lines: make(map[int64][]Line)}
}

func (r *memoryOrderRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryOrderRepo) Get(ctx context.Context, id int64) (SalesOrder, []Line, error) {
	so, ok := r.orders[id]
	if !ok {
		return SalesOrder{}, nil, ErrNotFound
	}
	return so, append([]Line(nil), r.lines[id]...), nil
}

func (r *memoryOrderRepo) List(ctx context.Context, filters ListFilters) ([]SalesOrder, error) {
	var orders []SalesOrder
	for _, so := range r.orders {
		orders = append(orders, so)
	}
	return orders, nil
}

func (r *memoryOrderRepo) CountByMonth(ctx context.Context, at time.Time) (int, error) {
	return len(r.orders), nil
}

func (r *memoryOrderRepo) Archive(ctx context.Context, id int64) error {
	so, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	so.IsArchived = true
	r.orders[id] = so
	return nil
}

func (r *memoryOrderRepo) CreateOrder(ctx context.Context, so SalesOrder) (int64, error) {
	r.nextID++
	so.ID = r.nextID
	r.orders[so.ID] = so
	return so.ID, nil
}

func (r *memoryOrderRepo) InsertLine(ctx context.Context, line Line) error {
	r.lines[line.OrderID] = append(r.lines[line.OrderID], line)
	return nil
}

func (r *memoryOrderRepo) UpdateHeader(ctx context.Context, so SalesOrder) error {
	if _, ok := r.orders[so.ID]; !ok {
		return ErrNotFound
	}
	r.orders[so.ID] = so
	return nil
}

func (r *memoryOrderRepo) DeleteLines(ctx context.Context, orderID int64) error {
	delete(r.lines, orderID)
	return nil
}

func (r *memoryOrderRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	so, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	so.Status = status
	r.orders[id] = so
	return nil
}

type stubMatcher struct {
	assignment analytic.Assignment
	matched    bool
	calls      int
	partners   []int64
}

func (s *stubMatcher) MatchLine(ctx context.Context, partnerID, productID *int64) (analytic.Assignment, bool, error) {
	s.calls++
	if partnerID != nil {
		s.partners = append(s.partners, *partnerID)
	}
	return s.assignment, s.matched, nil
}

type stubInvoicing struct {
	events []OrderCreatedEvent
	err    error
}

func (s *stubInvoicing) HandleOrderCreated(ctx context.Context, evt OrderCreatedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateAssignsAnalyticalAccountsAndEmitsEvent(t *testing.T) {
	repo := newMemoryOrderRepo()
	budgetID := int64(12)
	matcher := &stubMatcher{assignment: analytic.Assignment{AnalyticalAccountID: 3, BudgetID: &budgetID}, matched: true}
	invoicing := &stubInvoicing{}
	svc := NewService(repo, matcher, invoicing, nil, testLogger())

	so, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID: 8,
		Lines: []LineInput{
			{ProductID: 10, Quantity: 1, UnitPrice: 100000},
			{ProductID: 20, Quantity: 2, UnitPrice: 9000},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, so.Status)
	require.Equal(t, 118000.0, so.TotalAmount)
	require.Equal(t, 2, matcher.calls)

	lines := repo.lines[so.ID]
	require.Len(t, lines, 2)
	require.NotNil(t, lines[0].AnalyticalAccountID)
	require.Equal(t, int64(3), *lines[0].AnalyticalAccountID)
	require.Equal(t, int64(12), *lines[0].BudgetID)

	require.Len(t, invoicing.events, 1)
	evt := invoicing.events[0]
	require.Equal(t, so.ID, evt.OrderID)
	require.Equal(t, so.OrderNumber, evt.OrderNumber)
	require.Equal(t, int64(8), evt.CustomerID)
	require.Equal(t, 118000.0, evt.TotalAmount)
	require.Len(t, evt.Lines, 2)
	require.Equal(t, 18000.0, evt.Lines[1].Subtotal)
}

func TestCreateSurvivesInvoicingFailure(t *testing.T) {
	repo := newMemoryOrderRepo()
	invoicing := &stubInvoicing{err: errors.New("boom")}
	svc := NewService(repo, nil, invoicing, nil, testLogger())

	so, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID: 8,
		Lines:      []LineInput{{ProductID: 10, Quantity: 1, UnitPrice: 500}},
	})
	require.ErrorIs(t, err, ErrInvoicingIncomplete)
	// The order itself is created and stays.
	require.NotZero(t, so.ID)
	stored, _, getErr := repo.Get(context.Background(), so.ID)
	require.NoError(t, getErr)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestCreateRequiresCustomerAndLines(t *testing.T) {
	svc := NewService(newMemoryOrderRepo(), nil, nil, nil, testLogger())

	_, err := svc.Create(context.Background(), CreateOrderInput{Lines: []LineInput{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), CreateOrderInput{CustomerID: 8})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateDraftCustomerChangeRematchesAllLines(t *testing.T) {
	repo := newMemoryOrderRepo()
	matcher := &stubMatcher{}
	svc := NewService(repo, matcher, nil, nil, testLogger())

	so, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID: 8,
		Lines:      []LineInput{{ProductID: 10, Quantity: 1, UnitPrice: 10}, {ProductID: 20, Quantity: 1, UnitPrice: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, matcher.calls)

	updated, err := svc.UpdateDraft(context.Background(), so.ID, CreateOrderInput{
		CustomerID: 9,
		Lines:      []LineInput{{ProductID: 10, Quantity: 1, UnitPrice: 10}, {ProductID: 20, Quantity: 1, UnitPrice: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), updated.CustomerID)
	// Every line is re-evaluated against the new customer.
	require.Equal(t, 4, matcher.calls)
	require.Equal(t, []int64{8, 8, 9, 9}, matcher.partners)
	require.Len(t, repo.lines[so.ID], 2)
}

func TestUpdateDraftRejectsConfirmedOrder(t *testing.T) {
	repo := newMemoryOrderRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	so, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID: 8,
		Lines:      []LineInput{{ProductID: 10, Quantity: 1, UnitPrice: 10}},
	})
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), so.ID)
	require.NoError(t, err)

	_, err = svc.UpdateDraft(context.Background(), so.ID, CreateOrderInput{
		Lines: []LineInput{{ProductID: 10, Quantity: 2, UnitPrice: 10}},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConfirmRequiresDraft(t *testing.T) {
	repo := newMemoryOrderRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	so, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID: 8,
		Lines:      []LineInput{{ProductID: 10, Quantity: 1, UnitPrice: 500}},
	})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(context.Background(), so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = svc.Confirm(context.Background(), so.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelIsIdempotent(t *testing.T) {
	repo := newMemoryOrderRepo()
	svc := NewService(repo, nil, nil, nil, testLogger())

	so, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID: 8,
		Lines:      []LineInput{{ProductID: 10, Quantity: 1, UnitPrice: 500}},
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	again, err := svc.Cancel(context.Background(), so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, again.Status)
}
