// Package payment hosts the gateway-facing payment service: order
// creation against the Razorpay REST API and signature-verified payment
// recording with idempotent balance recomputation.
package payment

import (
	"context"
	"errors"
	"time"
)

// Payment order statuses.
const (
	OrderCreated = "created"
	OrderPaid    = "paid"
)

// Sentinel errors.
var (
	ErrNotPayable        = errors.New("payment: invoice is not payable")
	ErrAmountExceedsDue  = errors.New("payment: amount exceeds balance due")
	ErrSignatureMismatch = errors.New("payment: signature verification failed")
)

// PaymentOrder records a gateway order handle issued for an invoice.
type PaymentOrder struct {
	ID             int64     `json:"id"`
	InvoiceID      int64     `json:"invoice_id"`
	GatewayOrderID string    `json:"gateway_order_id"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Receipt        string    `json:"receipt"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrderRepository persists gateway order handles.
type OrderRepository interface {
	Insert(ctx context.Context, order PaymentOrder) (int64, error)
	MarkPaid(ctx context.Context, gatewayOrderID string) error
	ListStale(ctx context.Context, olderThan time.Duration) ([]PaymentOrder, error)
}

// Gateway is the remote payment provider surface the service needs.
type Gateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, receipt string) (GatewayOrder, error)
	VerifySignature(orderID, paymentID, signature string) bool
	KeyID() string
}

// Claimer guards against replayed gateway callbacks.
type Claimer interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}
