// Package budget tracks budgeted versus achieved amounts per analytical
// account. Accrual is a full recomputation from the transaction ledger so
// cancellations and edits self-correct on the next refresh.
package budget

import (
	"context"
	"time"
)

// Budget states.
const (
	StateDraft     = "draft"
	StateConfirmed = "confirmed"
	StateRevised   = "revised"
	StateArchived  = "archived"
)

// Budget types.
const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

// Budget tracks a budgeted amount for one analytical account over a
// date window.
type Budget struct {
	ID                    int64      `json:"id"`
	Name                  string     `json:"name"`
	StartDate             time.Time  `json:"start_date"`
	EndDate               time.Time  `json:"end_date"`
	AnalyticalAccountID   int64      `json:"analytical_account_id"`
	Type                  string     `json:"type"`
	BudgetedAmount        float64    `json:"budgeted_amount"`
	AchievedAmount        float64    `json:"achieved_amount"`
	AchievementPercentage float64    `json:"achievement_percentage"`
	RemainingBalance      float64    `json:"remaining_balance"`
	State                 string     `json:"state"`
	Revisions             []Revision `json:"revisions,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Revision is an append-only record of a budgeted amount change.
type Revision struct {
	ID             int64     `json:"id"`
	BudgetID       int64     `json:"budget_id"`
	PreviousAmount float64   `json:"previous_amount"`
	NewAmount      float64   `json:"new_amount"`
	Reason         string    `json:"reason"`
	RevisionDate   time.Time `json:"revision_date"`
}

// Accrual holds the recomputed achievement figures for a budget.
type Accrual struct {
	AchievedAmount        float64
	AchievementPercentage float64
	RemainingBalance      float64
}

// ComputeAccrual derives the utilization figures. Percentage is capped at
// 100; remaining balance is not capped and goes negative on overrun.
func ComputeAccrual(budgetedAmount, achievedAmount float64) Accrual {
	pct := 0.0
	if budgetedAmount > 0 {
		pct = achievedAmount / budgetedAmount * 100
		if pct > 100 {
			pct = 100
		}
	}
	return Accrual{
		AchievedAmount:        achievedAmount,
		AchievementPercentage: pct,
		RemainingBalance:      budgetedAmount - achievedAmount,
	}
}

// ListFilters narrows budget listings.
type ListFilters struct {
	AnalyticalAccountID *int64
	State               string
	Type                string
}

// Repository persists budgets and their revision history.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Budget, error)
	Get(ctx context.Context, id int64) (Budget, error)
	Create(ctx context.Context, b Budget) (Budget, error)
	UpdateState(ctx context.Context, id int64, state string) error
	UpdateAccrual(ctx context.Context, id int64, accrual Accrual) error
	Revise(ctx context.Context, id int64, newAmount float64, revision Revision) error
	ListConfirmedByAccount(ctx context.Context, analyticalAccountID int64) ([]Budget, error)

	// Ledger sums for accrual. Both only count documents in posted,
	// paid or partially_paid status with dates inside the window.
	SumExpenseLines(ctx context.Context, analyticalAccountID int64, start, end time.Time) (float64, error)
	SumIncomeLines(ctx context.Context, analyticalAccountID int64, start, end time.Time) (float64, error)
}
