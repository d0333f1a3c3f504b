package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBudgetRefreshAll recomputes accrual for every confirmed budget.
	TaskBudgetRefreshAll = "budget:refresh_all"
	// TaskBudgetRefreshAccount recomputes confirmed budgets of one account.
	TaskBudgetRefreshAccount = "budget:refresh_account"
	// TaskPaymentsReconcile heals paid-amount drift and flags stale gateway orders.
	TaskPaymentsReconcile = "payments:reconcile"
)

// BudgetRefreshPayload scopes a refresh run. A zero AnalyticalAccountID
// means all confirmed budgets.
type BudgetRefreshPayload struct {
	AnalyticalAccountID int64 `json:"analytical_account_id"`
}

// NewBudgetRefreshAllTask builds the nightly full refresh task.
func NewBudgetRefreshAllTask() (*asynq.Task, error) {
	body, err := json.Marshal(BudgetRefreshPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBudgetRefreshAll, body, asynq.Queue(QueueDefault)), nil
}

// NewBudgetRefreshAccountTask builds a single-account refresh task.
func NewBudgetRefreshAccountTask(analyticalAccountID int64) (*asynq.Task, error) {
	body, err := json.Marshal(BudgetRefreshPayload{AnalyticalAccountID: analyticalAccountID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBudgetRefreshAccount, body, asynq.Queue(QueueDefault)), nil
}

// PaymentsReconcilePayload bounds the reconciliation scan window.
type PaymentsReconcilePayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewPaymentsReconcileTask builds the reconciliation scan task.
func NewPaymentsReconcileTask(olderThanHours int) (*asynq.Task, error) {
	body, err := json.Marshal(PaymentsReconcilePayload{OlderThanHours: olderThanHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentsReconcile, body, asynq.Queue(QueueDefault)), nil
}
