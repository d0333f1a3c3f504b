package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/budget"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BudgetRefreshJob recomputes budget accrual figures in the background.
// The nightly full run keeps stored figures self-healing even when no
// transaction touched a budget's account.
type BudgetRefreshJob struct {
	Budgets *budget.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBudgetRefreshJob wires dependencies for the refresh handlers.
func NewBudgetRefreshJob(budgets *budget.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *BudgetRefreshJob {
	return &BudgetRefreshJob{Budgets: budgets, Logger: logger, Metrics: metrics}
}

// HandleRefreshAll processes TaskBudgetRefreshAll tasks.
func (j *BudgetRefreshJob) HandleRefreshAll(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Budgets == nil {
		return errors.New("budget refresh: handler not configured")
	}
	tracker := j.metrics().Track(TaskBudgetRefreshAll)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	budgets, err := j.Budgets.List(ctx, budget.ListFilters{State: budget.StateConfirmed})
	if err != nil {
		resultErr = err
		j.logger().Error("list confirmed budgets", slog.Any("error", err))
		return resultErr
	}

	refreshed := 0
	for _, b := range budgets {
		if err := j.Budgets.Refresh(ctx, b.ID); err != nil {
			resultErr = err
			j.logger().Error("refresh budget", slog.Int64("budget_id", b.ID), slog.Any("error", err))
			continue
		}
		refreshed++
	}
	j.logger().Info("completed budget refresh",
		slog.Int("refreshed", refreshed), slog.Int("total", len(budgets)), slog.Duration("duration", time.Since(start)))
	return resultErr
}

// HandleRefreshAccount processes TaskBudgetRefreshAccount tasks.
func (j *BudgetRefreshJob) HandleRefreshAccount(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Budgets == nil {
		return errors.New("budget refresh: handler not configured")
	}
	var payload BudgetRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.AnalyticalAccountID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskBudgetRefreshAccount)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	resultErr = j.Budgets.RefreshAllForAccount(ctx, payload.AnalyticalAccountID)
	if resultErr != nil {
		j.logger().Error("refresh account budgets",
			slog.Int64("analytical_account_id", payload.AnalyticalAccountID), slog.Any("error", resultErr))
	}
	return resultErr
}

func (j *BudgetRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *BudgetRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
