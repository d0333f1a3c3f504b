package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service drives budget lifecycle and accrual recomputation.
type Service struct {
	repo    Repository
	cache   *Cache
	logger  *slog.Logger
	metrics *observability.Metrics
	group   singleflight.Group
}

// NewService builds the budget service. Cache and metrics may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, cache: cache, logger: logger, metrics: metrics}
}

// List serves the utilization listing through the cache when one is
// configured, so dashboard reads skip the ledger sums between refreshes.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Budget, error) {
	if s.cache == nil {
		return s.repo.List(ctx, filters)
	}
	return s.cache.FetchList(ctx, filters, func(ctx context.Context) ([]Budget, error) {
		return s.repo.List(ctx, filters)
	})
}

// Get serves the budget snapshot through the cache when one is configured.
func (s *Service) Get(ctx context.Context, id int64) (Budget, error) {
	if id <= 0 {
		return Budget{}, errors.New("invalid budget ID")
	}
	if s.cache == nil {
		return s.repo.Get(ctx, id)
	}
	return s.cache.FetchSnapshot(ctx, id, func(ctx context.Context) (Budget, error) {
		return s.repo.Get(ctx, id)
	})
}

func (s *Service) Create(ctx context.Context, b Budget) (Budget, error) {
	if strings.TrimSpace(b.Name) == "" {
		return Budget{}, errors.New("budget name is required")
	}
	if b.Type != TypeIncome && b.Type != TypeExpense {
		return Budget{}, fmt.Errorf("budget type must be %q or %q", TypeIncome, TypeExpense)
	}
	if b.AnalyticalAccountID <= 0 {
		return Budget{}, errors.New("analytical account is required")
	}
	if b.BudgetedAmount < 0 {
		return Budget{}, errors.New("budgeted amount must not be negative")
	}
	if b.EndDate.Before(b.StartDate) {
		return Budget{}, errors.New("end date must not precede start date")
	}
	return s.repo.Create(ctx, b)
}

// Confirm moves a draft budget into the confirmed state and seeds its
// accrual figures from the ledger.
func (s *Service) Confirm(ctx context.Context, id int64) (Budget, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Budget{}, err
	}
	if b.State != StateDraft {
		return Budget{}, fmt.Errorf("%w: confirm requires draft, budget is %s", shared.ErrInvalidStatus, b.State)
	}
	if err := s.repo.UpdateState(ctx, id, StateConfirmed); err != nil {
		return Budget{}, err
	}
	if err := s.Refresh(ctx, id); err != nil {
		return Budget{}, err
	}
	return s.repo.Get(ctx, id)
}

// Revise changes the budgeted amount, appending to the revision history.
func (s *Service) Revise(ctx context.Context, id int64, newAmount float64, reason string) (Budget, error) {
	if newAmount < 0 {
		return Budget{}, errors.New("budgeted amount must not be negative")
	}
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Budget{}, err
	}
	if b.State == StateArchived {
		return Budget{}, fmt.Errorf("%w: archived budgets cannot be revised", shared.ErrInvalidStatus)
	}
	revision := Revision{
		BudgetID:       id,
		PreviousAmount: b.BudgetedAmount,
		NewAmount:      newAmount,
		Reason:         reason,
		RevisionDate:   time.Now(),
	}
	if err := s.repo.Revise(ctx, id, newAmount, revision); err != nil {
		return Budget{}, err
	}
	if err := s.Refresh(ctx, id); err != nil {
		return Budget{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Archive(ctx context.Context, id int64) error {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.State == StateArchived {
		return nil
	}
	return s.repo.UpdateState(ctx, id, StateArchived)
}

// Refresh recomputes the achieved amount from the transaction ledger and
// stores the derived figures. Concurrent refreshes of the same budget are
// collapsed into one recomputation; a ledger query error leaves the stored
// values untouched.
func (s *Service) Refresh(ctx context.Context, id int64) error {
	_, err, _ := s.group.Do(fmt.Sprintf("budget:%d", id), func() (interface{}, error) {
		return nil, s.refresh(ctx, id)
	})
	return err
}

func (s *Service) refresh(ctx context.Context, id int64) error {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	var achieved float64
	switch b.Type {
	case TypeExpense:
		achieved, err = s.repo.SumExpenseLines(ctx, b.AnalyticalAccountID, b.StartDate, b.EndDate)
	case TypeIncome:
		achieved, err = s.repo.SumIncomeLines(ctx, b.AnalyticalAccountID, b.StartDate, b.EndDate)
	default:
		return fmt.Errorf("unknown budget type %q", b.Type)
	}
	if err != nil {
		s.logger.Error("budget accrual query failed, keeping stored values",
			slog.Int64("budget_id", id), slog.Any("error", err))
		s.metrics.ObserveBudgetRefresh("error")
		return err
	}

	if err := s.repo.UpdateAccrual(ctx, id, ComputeAccrual(b.BudgetedAmount, achieved)); err != nil {
		s.metrics.ObserveBudgetRefresh("error")
		return err
	}
	s.metrics.ObserveBudgetRefresh("ok")
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("budget cache bump failed", slog.Any("error", err))
	}
	return nil
}

// RefreshAllForAccount recomputes every confirmed budget referencing the
// analytical account. Individual failures are logged and do not stop the
// remaining refreshes.
func (s *Service) RefreshAllForAccount(ctx context.Context, analyticalAccountID int64) error {
	budgets, err := s.repo.ListConfirmedByAccount(ctx, analyticalAccountID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, b := range budgets {
		if err := s.Refresh(ctx, b.ID); err != nil {
			s.logger.Error("refresh budget for account",
				slog.Int64("budget_id", b.ID),
				slog.Int64("analytical_account_id", analyticalAccountID),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
