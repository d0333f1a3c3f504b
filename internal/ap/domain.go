// Package ap covers accounts payable: vendor bills and their payments.
package ap

import (
	"context"
	"errors"
	"time"
)

// Vendor bill statuses.
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
)

// Sentinel errors.
var (
	ErrNotFound     = errors.New("ap: not found")
	ErrValidation   = errors.New("ap: validation failed")
	ErrInvalidState = errors.New("ap: invalid state transition")
)

// VendorBill is the payable document header.
type VendorBill struct {
	ID          int64     `json:"id"`
	BillNumber  string    `json:"bill_number"`
	VendorID    int64     `json:"vendor_id"`
	OrderID     *int64    `json:"order_id"`
	BillDate    time.Time `json:"bill_date"`
	DueDate     time.Time `json:"due_date"`
	TotalAmount float64   `json:"total_amount"`
	PaidAmount  float64   `json:"paid_amount"`
	Status      string    `json:"status"`
	IsArchived  bool      `json:"is_archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BillLine belongs to a vendor bill.
type BillLine struct {
	ID                  int64   `json:"id"`
	BillID              int64   `json:"bill_id"`
	ProductID           int64   `json:"product_id"`
	Quantity            float64 `json:"quantity"`
	UnitPrice           float64 `json:"unit_price"`
	Subtotal            float64 `json:"subtotal"`
	AnalyticalAccountID *int64  `json:"analytical_account_id"`
	BudgetID            *int64  `json:"budget_id"`
}

// BillPayment records money paid against a bill.
type BillPayment struct {
	ID            int64     `json:"id"`
	PaymentNumber string    `json:"payment_number"`
	BillID        int64     `json:"bill_id"`
	PaymentDate   time.Time `json:"payment_date"`
	Amount        float64   `json:"amount"`
	Mode          string    `json:"mode"`
	Status        string    `json:"status"`
	Reference     string    `json:"reference"`
	Notes         string    `json:"notes"`
}

// ListFilters narrows bill listings.
type ListFilters struct {
	VendorID *int64
	Status   string
}

// TxRepository exposes mutations that run inside one transaction.
type TxRepository interface {
	CreateBill(ctx context.Context, bill VendorBill) (int64, error)
	InsertLine(ctx context.Context, line BillLine) error
	InsertPayment(ctx context.Context, payment BillPayment) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdatePaid(ctx context.Context, id int64, paidAmount float64, status string) error
}

// Repository persists vendor bills and payments.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, id int64) (VendorBill, []BillLine, error)
	List(ctx context.Context, filters ListFilters) ([]VendorBill, error)
	ListPayments(ctx context.Context, billID int64) ([]BillPayment, error)
	SumCompletedPayments(ctx context.Context, billID int64) (float64, error)
	CountByMonth(ctx context.Context, at time.Time) (int, error)
	ListLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error)
}

// LedgerMismatch is a bill whose stored paid amount disagrees with the sum
// of its completed payments.
type LedgerMismatch struct {
	BillID      int64
	StoredPaid  float64
	LedgerPaid  float64
	TotalAmount float64
	Status      string
}

// BudgetRefresher recomputes confirmed budgets for an analytical account.
// Satisfied by the budget service.
type BudgetRefresher interface {
	RefreshAllForAccount(ctx context.Context, analyticalAccountID int64) error
}

// DeriveStatus maps a cumulative paid amount to the bill status. Callers
// pass the total paid so far, never a delta.
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
