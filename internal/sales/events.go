package sales

import (
	"context"
	"time"
)

// OrderLineEvent describes individual line values for invoice mapping.
type OrderLineEvent struct {
	ProductID           int64
	Quantity            float64
	UnitPrice           float64
	Subtotal            float64
	AnalyticalAccountID *int64
	BudgetID            *int64
}

// OrderCreatedEvent captures the details the receivables side needs to
// raise the matching draft invoice.
type OrderCreatedEvent struct {
	OrderID     int64
	OrderNumber string
	CustomerID  int64
	OrderDate   time.Time
	TotalAmount float64
	Lines       []OrderLineEvent
}

// InvoiceCreator receives sales domain events for invoice creation.
type InvoiceCreator interface {
	HandleOrderCreated(ctx context.Context, evt OrderCreatedEvent) error
}
