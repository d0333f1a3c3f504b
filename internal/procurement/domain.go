// Package procurement manages purchase orders and their confirmation flow.
package procurement

import (
	"context"
	"errors"
	"time"
)

// Purchase order statuses.
const (
	StatusDraft     = "draft"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Sentinel errors.
var (
	ErrNotFound     = errors.New("procurement: not found")
	ErrValidation   = errors.New("procurement: validation failed")
	ErrInvalidState = errors.New("procurement: invalid state transition")

	// ErrBillingIncomplete signals that the order was confirmed but the
	// downstream bill creation failed. The confirmation is not rolled
	// back; the caller reports the partial outcome.
	ErrBillingIncomplete = errors.New("procurement: order confirmed but billing incomplete")
)

// PurchaseOrder is the document header.
type PurchaseOrder struct {
	ID                  int64     `json:"id"`
	OrderNumber         string    `json:"order_number"`
	VendorID            int64     `json:"vendor_id"`
	OrderDate           time.Time `json:"order_date"`
	TotalAmount         float64   `json:"total_amount"`
	Status              string    `json:"status"`
	AnalyticalAccountID *int64    `json:"analytical_account_id"`
	IsArchived          bool      `json:"is_archived"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Line belongs to a purchase order. Subtotal is always quantity times
// unit price; the analytical assignment comes from the matching rules.
type Line struct {
	ID                  int64   `json:"id"`
	OrderID             int64   `json:"order_id"`
	ProductID           int64   `json:"product_id"`
	Quantity            float64 `json:"quantity"`
	UnitPrice           float64 `json:"unit_price"`
	Subtotal            float64 `json:"subtotal"`
	AnalyticalAccountID *int64  `json:"analytical_account_id"`
	BudgetID            *int64  `json:"budget_id"`
}

// ListFilters narrows order listings.
type ListFilters struct {
	VendorID *int64
	Status   string
}

// TxRepository exposes mutations that run inside one transaction.
type TxRepository interface {
	CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	DeleteLines(ctx context.Context, orderID int64) error
	UpdateHeader(ctx context.Context, po PurchaseOrder) error
	UpdateStatus(ctx context.Context, id int64, status string) error
}

// Repository persists purchase orders.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, []Line, error)
	List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error)
	CountByMonth(ctx context.Context, at time.Time) (int, error)
	Archive(ctx context.Context, id int64) error
}
