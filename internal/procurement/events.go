package procurement

import (
	"context"
	"time"
)

// OrderLineEvent describes individual line values for integration mapping.
type OrderLineEvent struct {
	ProductID           int64
	Quantity            float64
	UnitPrice           float64
	Subtotal            float64
	AnalyticalAccountID *int64
	BudgetID            *int64
}

// OrderConfirmedEvent captures the details downstream handlers need to
// create the vendor bill and its payment.
type OrderConfirmedEvent struct {
	OrderID     int64
	OrderNumber string
	VendorID    int64
	OrderDate   time.Time
	TotalAmount float64
	Lines       []OrderLineEvent
}

// IntegrationHandler receives procurement domain events for financial
// integration.
type IntegrationHandler interface {
	HandleOrderConfirmed(ctx context.Context, evt OrderConfirmedEvent) error
}
