// Package ar covers accounts receivable: customer invoices and their
// payments, including the gateway-driven portal payments.
package ar

import (
	"context"
	"errors"
	"time"
)

// Customer invoice statuses.
const (
	StatusDraft         = "draft"
	StatusPosted        = "posted"
	StatusPaid          = "paid"
	StatusPartiallyPaid = "partially_paid"
	StatusCancelled     = "cancelled"
)

// Payment statuses and modes.
const (
	PaymentCompleted = "completed"
	ModeBankTransfer = "bank_transfer"
	ModeOnline       = "online"
)

// Sentinel errors.
var (
	ErrNotFound     = errors.New("ar: not found")
	ErrValidation   = errors.New("ar: validation failed")
	ErrInvalidState = errors.New("ar: invalid state transition")
)

// CustomerInvoice is the receivable document header.
type CustomerInvoice struct {
	ID            int64     `json:"id"`
	InvoiceNumber string    `json:"invoice_number"`
	CustomerID    int64     `json:"customer_id"`
	OrderID       *int64    `json:"order_id"`
	InvoiceDate   time.Time `json:"invoice_date"`
	DueDate       time.Time `json:"due_date"`
	TotalAmount   float64   `json:"total_amount"`
	PaidAmount    float64   `json:"paid_amount"`
	Status        string    `json:"status"`
	IsArchived    bool      `json:"is_archived"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BalanceDue is what remains to be collected.
func (i CustomerInvoice) BalanceDue() float64 {
	return i.TotalAmount - i.PaidAmount
}

// InvoiceLine belongs to a customer invoice.
type InvoiceLine struct {
	ID                  int64   `json:"id"`
	InvoiceID           int64   `json:"invoice_id"`
	ProductID           int64   `json:"product_id"`
	Quantity            float64 `json:"quantity"`
	UnitPrice           float64 `json:"unit_price"`
	Subtotal            float64 `json:"subtotal"`
	AnalyticalAccountID *int64  `json:"analytical_account_id"`
	BudgetID            *int64  `json:"budget_id"`
}

// InvoicePayment records money received against an invoice.
type InvoicePayment struct {
	ID            int64     `json:"id"`
	PaymentNumber string    `json:"payment_number"`
	InvoiceID     int64     `json:"invoice_id"`
	PaymentDate   time.Time `json:"payment_date"`
	Amount        float64   `json:"amount"`
	Mode          string    `json:"mode"`
	Status        string    `json:"status"`
	Reference     string    `json:"reference"`
}

// ListFilters narrows invoice listings.
type ListFilters struct {
	CustomerID *int64
	Status     string
}

// TxRepository exposes mutations that run inside one transaction.
type TxRepository interface {
	CreateInvoice(ctx context.Context, invoice CustomerInvoice) (int64, error)
	InsertLine(ctx context.Context, line InvoiceLine) error
	InsertPayment(ctx context.Context, payment InvoicePayment) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdatePaid(ctx context.Context, id int64, paidAmount float64, status string) error
}

// Repository persists customer invoices and payments.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (CustomerInvoice, []InvoiceLine, error)
	List(ctx context.Context, filters ListFilters) ([]CustomerInvoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]InvoicePayment, error)
	SumCompletedPayments(ctx context.Context, invoiceID int64) (float64, error)
	CountByMonth(ctx context.Context, at time.Time) (int, error)
	ListLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error)
}

// LedgerMismatch is an invoice whose stored paid amount disagrees with the
// sum of its completed payments.
type LedgerMismatch struct {
	InvoiceID   int64
	StoredPaid  float64
	LedgerPaid  float64
	TotalAmount float64
	Status      string
}

// BudgetRefresher recomputes confirmed budgets for an analytical account.
type BudgetRefresher interface {
	RefreshAllForAccount(ctx context.Context, analyticalAccountID int64) error
}

// DeriveStatus maps a cumulative paid amount to the invoice status.
// Callers pass the total paid so far, never a delta.
func DeriveStatus(current string, paidAmount, totalAmount float64) string {
	switch {
	case paidAmount >= totalAmount && totalAmount > 0:
		return StatusPaid
	case paidAmount > 0:
		return StatusPartiallyPaid
	default:
		return current
	}
}
