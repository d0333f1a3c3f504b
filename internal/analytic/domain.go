// Package analytic provides analytical accounts and the auto-assignment
// rules that tag transaction lines with them.
package analytic

import (
	"context"
	"time"
)

// Account is a cost or revenue tracking dimension, independent of the
// chart of accounts.
type Account struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	IsArchived  bool      `json:"is_archived"`
	CreatedAt   time.Time `json:"created_at"`
}

// Rule maps transaction line attributes to an analytical account.
// Priority holds the count of criteria set at creation time.
type Rule struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	PartnerTagID        *int64    `json:"partner_tag_id"`
	PartnerID           *int64    `json:"partner_id"`
	ProductCategoryID   *int64    `json:"product_category_id"`
	ProductID           *int64    `json:"product_id"`
	AnalyticalAccountID int64     `json:"analytical_account_id"`
	BudgetID            *int64    `json:"budget_id"`
	Priority            int       `json:"priority"`
	IsArchived          bool      `json:"is_archived"`
	CreatedAt           time.Time `json:"created_at"`
}

// CriteriaCount returns the number of matching criteria a rule defines.
func (r Rule) CriteriaCount() int {
	count := 0
	if r.PartnerTagID != nil {
		count++
	}
	if r.PartnerID != nil {
		count++
	}
	if r.ProductCategoryID != nil {
		count++
	}
	if r.ProductID != nil {
		count++
	}
	return count
}

// Assignment is the outcome of a successful rule match.
type Assignment struct {
	AnalyticalAccountID int64  `json:"analytical_account_id"`
	BudgetID            *int64 `json:"budget_id"`
}

// Repository persists analytical accounts and rules.
type Repository interface {
	ListAccounts(ctx context.Context, includeArchived bool) ([]Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	CreateAccount(ctx context.Context, account Account) (Account, error)
	ArchiveAccount(ctx context.Context, id int64) error

	ListRules(ctx context.Context, includeArchived bool) ([]Rule, error)
	GetRule(ctx context.Context, id int64) (Rule, error)
	CreateRule(ctx context.Context, rule Rule) (Rule, error)
	ArchiveRule(ctx context.Context, id int64) error
}

// MasterLookup resolves line attributes from master data.
type MasterLookup interface {
	ContactTagIDs(ctx context.Context, contactID int64) ([]int64, error)
	ProductCategoryID(ctx context.Context, productID int64) (*int64, error)
}

// LineMatcher assigns an analytical account to a transaction line by
// partner and product. Consumed by the document services.
type LineMatcher interface {
	MatchLine(ctx context.Context, partnerID, productID *int64) (Assignment, bool, error)
}
