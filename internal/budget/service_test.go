package budget

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type ledgerEntry struct {
	accountID int64
	subtotal  float64
	status    string
	date      time.Time
}

type memoryBudgetRepo struct {
	budgets   map[int64]Budget
	revisions map[int64][]Revision
	expense   []ledgerEntry
	income    []ledgerEntry
	nextID    int64
	sumErr    error
	sumCalls  int
}

func newMemoryBudgetRepo() *memoryBudgetRepo {
	return &memoryBudgetRepo{
		budgets:   make(map[int64]Budget),
		revisions: make(map[int64][]Revision),
	}
}

func (r *memoryBudgetRepo) List(ctx context.Context, filters ListFilters) ([]Budget, error) {
	var budgets []Budget
	for _, b := range r.budgets {
		if filters.State != "" && b.State != filters.State {
			continue
		}
		if filters.Type != "" && b.Type != filters.Type {
			continue
		}
		if filters.AnalyticalAccountID != nil && b.AnalyticalAccountID != *filters.AnalyticalAccountID {
			continue
		}
		budgets = append(budgets, b)
	}
	return budgets, nil
}

func (r *memoryBudgetRepo) Get(ctx context.Context, id int64) (Budget, error) {
	b, ok := r.budgets[id]
	if !ok {
		return Budget{}, shared.ErrNotFound
	}
	b.Revisions = append([]Revision(nil), r.revisions[id]...)
	return b, nil
}

func (r *memoryBudgetRepo) Create(ctx context.Context, b Budget) (Budget, error) {
	r.nextID++
	b.ID = r.nextID
	b.State = StateDraft
	b.RemainingBalance = b.BudgetedAmount
	r.budgets[b.ID] = b
	return b, nil
}

func (r *memoryBudgetRepo) UpdateState(ctx context.Context, id int64, state string) error {
	b, ok := r.budgets[id]
	if !ok {
		return shared.ErrNotFound
	}
	b.State = state
	r.budgets[id] = b
	return nil
}

func (r *memoryBudgetRepo) UpdateAccrual(ctx context.Context, id int64, accrual Accrual) error {
	b, ok := r.budgets[id]
	if !ok {
		return shared.ErrNotFound
	}
	b.AchievedAmount = accrual.AchievedAmount
	b.AchievementPercentage = accrual.AchievementPercentage
	b.RemainingBalance = accrual.RemainingBalance
	r.budgets[id] = b
	return nil
}

func (r *memoryBudgetRepo) Revise(ctx context.Context, id int64, newAmount float64, revision Revision) error {
	b, ok := r.budgets[id]
	if !ok {
		return shared.ErrNotFound
	}
	b.BudgetedAmount = newAmount
	b.State = StateRevised
	r.budgets[id] = b
	r.revisions[id] = append(r.revisions[id], revision)
	return nil
}

func (r *memoryBudgetRepo) ListConfirmedByAccount(ctx context.Context, accountID int64) ([]Budget, error) {
	var budgets []Budget
	for _, b := range r.budgets {
		if b.AnalyticalAccountID == accountID && b.State == StateConfirmed {
			budgets = append(budgets, b)
		}
	}
	return budgets, nil
}

func sumEntries(entries []ledgerEntry, accountID int64, start, end time.Time) float64 {
	var sum float64
	for _, e := range entries {
		if e.accountID != accountID {
			continue
		}
		if e.status != "posted" && e.status != "paid" && e.status != "partially_paid" {
			continue
		}
		if e.date.Before(start) || e.date.After(end) {
			continue
		}
		sum += e.subtotal
	}
	return sum
}

func (r *memoryBudgetRepo) SumExpenseLines(ctx context.Context, accountID int64, start, end time.Time) (float64, error) {
	r.sumCalls++
	if r.sumErr != nil {
		return 0, r.sumErr
	}
	return sumEntries(r.expense, accountID, start, end), nil
}

func (r *memoryBudgetRepo) SumIncomeLines(ctx context.Context, accountID int64, start, end time.Time) (float64, error) {
	r.sumCalls++
	if r.sumErr != nil {
		return 0, r.sumErr
	}
	return sumEntries(r.income, accountID, start, end), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedBudget(t *testing.T, repo *memoryBudgetRepo, svc *Service, b Budget) Budget {
	t.Helper()
	created, err := svc.Create(context.Background(), b)
	require.NoError(t, err)
	confirmed, err := svc.Confirm(context.Background(), created.ID)
	require.NoError(t, err)
	return confirmed
}

func TestRefreshDerivesAccrualFigures(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, testLogger(), nil)

	repo.expense = []ledgerEntry{
		{accountID: 1, subtotal: 3000, status: "posted", date: date(2026, 3, 10)},
		{accountID: 1, subtotal: 2000, status: "paid", date: date(2026, 5, 1)},
		{accountID: 1, subtotal: 9999, status: "cancelled", date: date(2026, 4, 1)},
		{accountID: 1, subtotal: 9999, status: "draft", date: date(2026, 4, 2)},
		{accountID: 1, subtotal: 9999, status: "posted", date: date(2027, 1, 1)}, // outside window
		{accountID: 2, subtotal: 9999, status: "posted", date: date(2026, 4, 3)}, // other account
	}
	b := seedBudget(t, repo, svc, Budget{
		Name: "marketing", Type: TypeExpense, AnalyticalAccountID: 1,
		BudgetedAmount: 10000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})

	require.Equal(t, 5000.0, b.AchievedAmount)
	require.Equal(t, 50.0, b.AchievementPercentage)
	require.Equal(t, 5000.0, b.RemainingBalance)
}

func TestRefreshCapsPercentageNotBalance(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, testLogger(), nil)

	repo.expense = []ledgerEntry{
		{accountID: 1, subtotal: 15000, status: "posted", date: date(2026, 6, 1)},
	}
	b := seedBudget(t, repo, svc, Budget{
		Name: "overrun", Type: TypeExpense, AnalyticalAccountID: 1,
		BudgetedAmount: 10000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})

	require.Equal(t, 100.0, b.AchievementPercentage)
	require.Equal(t, -5000.0, b.RemainingBalance)
}

func TestRefreshIsIdempotent(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, testLogger(), nil)

	repo.income = []ledgerEntry{
		{accountID: 1, subtotal: 4200, status: "partially_paid", date: date(2026, 2, 1)},
	}
	b := seedBudget(t, repo, svc, Budget{
		Name: "sales target", Type: TypeIncome, AnalyticalAccountID: 1,
		BudgetedAmount: 8000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})
	first := b.AchievedAmount

	require.NoError(t, svc.Refresh(context.Background(), b.ID))
	again, err := svc.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, first, again.AchievedAmount)
}

func TestRefreshQueryErrorLeavesStoredValues(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, testLogger(), nil)

	repo.expense = []ledgerEntry{
		{accountID: 1, subtotal: 1000, status: "posted", date: date(2026, 2, 1)},
	}
	b := seedBudget(t, repo, svc, Budget{
		Name: "fragile", Type: TypeExpense, AnalyticalAccountID: 1,
		BudgetedAmount: 5000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})

	repo.sumErr = errors.New("ledger unavailable")
	require.Error(t, svc.Refresh(context.Background(), b.ID))

	stale, err := svc.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, 1000.0, stale.AchievedAmount)
}

func TestRefreshAllForAccountOnlyConfirmed(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, testLogger(), nil)

	repo.expense = []ledgerEntry{
		{accountID: 1, subtotal: 500, status: "posted", date: date(2026, 2, 1)},
	}
	confirmed := seedBudget(t, repo, svc, Budget{
		Name: "confirmed", Type: TypeExpense, AnalyticalAccountID: 1,
		BudgetedAmount: 1000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})
	draft, err := svc.Create(context.Background(), Budget{
		Name: "still draft", Type: TypeExpense, AnalyticalAccountID: 1,
		BudgetedAmount: 1000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})
	require.NoError(t, err)

	require.NoError(t, svc.RefreshAllForAccount(context.Background(), 1))

	got, err := svc.Get(context.Background(), confirmed.ID)
	require.NoError(t, err)
	require.Equal(t, 500.0, got.AchievedAmount)

	untouched, err := svc.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, 0.0, untouched.AchievedAmount)
}

func TestConfirmRequiresDraft(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, testLogger(), nil)

	b := seedBudget(t, repo, svc, Budget{
		Name: "once", Type: TypeExpense, AnalyticalAccountID: 1,
		BudgetedAmount: 1000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})

	_, err := svc.Confirm(context.Background(), b.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}

func TestReviseAppendsHistoryAndMarksRevised(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, testLogger(), nil)

	b := seedBudget(t, repo, svc, Budget{
		Name: "growing", Type: TypeExpense, AnalyticalAccountID: 1,
		BudgetedAmount: 1000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})

	revised, err := svc.Revise(context.Background(), b.ID, 2000, "scope increase")
	require.NoError(t, err)
	require.Equal(t, StateRevised, revised.State)
	require.Equal(t, 2000.0, revised.BudgetedAmount)
	require.Len(t, revised.Revisions, 1)
	require.Equal(t, 1000.0, revised.Revisions[0].PreviousAmount)
	require.Equal(t, 2000.0, revised.Revisions[0].NewAmount)

	again, err := svc.Revise(context.Background(), b.ID, 3000, "")
	require.NoError(t, err)
	require.Len(t, again.Revisions, 2)
}

func TestArchiveBlocksRevision(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, testLogger(), nil)

	b := seedBudget(t, repo, svc, Budget{
		Name: "old", Type: TypeExpense, AnalyticalAccountID: 1,
		BudgetedAmount: 1000,
		StartDate:      date(2026, 1, 1), EndDate: date(2026, 12, 31),
	})
	require.NoError(t, svc.Archive(context.Background(), b.ID))

	_, err := svc.Revise(context.Background(), b.ID, 500, "too late")
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}
