// Package sales manages sales orders. Order creation drives the
// receivables side through the InvoiceCreator contract.
package sales

import (
	"context"
	"errors"
	"time"
)

// Sales order statuses.
const (
	StatusDraft     = "draft"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Sentinel errors.
var (
	ErrNotFound     = errors.New("sales: not found")
	ErrValidation   = errors.New("sales: validation failed")
	ErrInvalidState = errors.New("sales: invalid state transition")

	// ErrInvoicingIncomplete signals that the order was created but the
	// downstream invoice creation failed. The order stands; the caller
	// reports the partial outcome.
	ErrInvoicingIncomplete = errors.New("sales: order created but invoicing incomplete")
)

// SalesOrder is the document header.
type SalesOrder struct {
	ID          int64     `json:"id"`
	OrderNumber string    `json:"order_number"`
	CustomerID  int64     `json:"customer_id"`
	OrderDate   time.Time `json:"order_date"`
	TotalAmount float64   `json:"total_amount"`
	Status      string    `json:"status"`
	IsArchived  bool      `json:"is_archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Line belongs to a sales order. Subtotal is always quantity times unit
// price; the analytical assignment comes from the matching rules.
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
	CustomerID *int64
	Status     string
}

// TxRepository exposes mutations that run inside one transaction.
type TxRepository interface {
	CreateOrder(ctx context.Context, so SalesOrder) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	UpdateHeader(ctx context.Context, so SalesOrder) error
	DeleteLines(ctx context.Context, orderID int64) error
	UpdateStatus(ctx context.Context, id int64, status string) error
}

// Repository persists sales orders.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (SalesOrder, []Line, error)
	List(ctx context.Context, filters ListFilters) ([]SalesOrder, error)
	CountByMonth(ctx context.Context, at time.Time) (int, error)
	Archive(ctx context.Context, id int64) error
}
