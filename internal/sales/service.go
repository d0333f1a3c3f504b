package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/analytic"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates sales order flows.
type Service struct {
	repo      Repository
	matcher   analytic.LineMatcher
	invoicing InvoiceCreator
	audit     AuditPort
	logger    *slog.Logger
}

// NewService constructs the sales service. Invoicing and audit may be nil;
// creation then skips the corresponding side effect.
func NewService(repo Repository, matcher analytic.LineMatcher, invoicing InvoiceCreator, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, matcher: matcher, invoicing: invoicing, audit: audit, logger: logger}
}

// LineInput describes an order line as submitted.
type LineInput struct {
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// CreateOrderInput describes creation payload.
type CreateOrderInput struct {
	CustomerID int64       `json:"customer_id"`
	OrderDate  time.Time   `json:"order_date"`
	Lines      []LineInput `json:"lines"`
}

func (s *Service) Get(ctx context.Context, id int64) (SalesOrder, []Line, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]SalesOrder, error) {
	return s.repo.List(ctx, filters)
}

// Create persists a draft order and hands the event to the invoicing
// integration so the matching draft invoice exists from day one. An
// invoicing failure leaves the order in place and surfaces as
// ErrInvoicingIncomplete.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (SalesOrder, error) {
	if input.CustomerID <= 0 {
		return SalesOrder{}, fmt.Errorf("%w: customer is required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return SalesOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}

	lines, total, err := s.buildLines(ctx, input.CustomerID, input.Lines)
	if err != nil {
		return SalesOrder{}, err
	}

	number, err := s.generateOrderNumber(ctx)
	if err != nil {
		return SalesOrder{}, err
	}
	so := SalesOrder{
		OrderNumber: number,
		CustomerID:  input.CustomerID,
		OrderDate:   defaultTime(input.OrderDate),
		TotalAmount: total,
		Status:      StatusDraft,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, so)
		if err != nil {
			return err
		}
		so.ID = id
		for i := range lines {
			lines[i].OrderID = id
			if err := tx.InsertLine(ctx, lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, "SO_CREATE", so.ID, map[string]any{"number": so.OrderNumber})

	if s.invoicing == nil {
		return so, nil
	}
	evt := OrderCreatedEvent{
		OrderID:     so.ID,
		OrderNumber: so.OrderNumber,
		CustomerID:  so.CustomerID,
		OrderDate:   so.OrderDate,
		TotalAmount: so.TotalAmount,
	}
	for _, line := range lines {
		evt.Lines = append(evt.Lines, OrderLineEvent{
			ProductID:           line.ProductID,
			Quantity:            line.Quantity,
			UnitPrice:           line.UnitPrice,
			Subtotal:            line.Subtotal,
			AnalyticalAccountID: line.AnalyticalAccountID,
			BudgetID:            line.BudgetID,
		})
	}
	if err := s.invoicing.HandleOrderCreated(ctx, evt); err != nil {
		s.logger.Error("sales order created but invoice creation failed",
			slog.Int64("order_id", so.ID), slog.Any("error", err))
		return so, fmt.Errorf("%w: %v", ErrInvoicingIncomplete, err)
	}
	return so, nil
}

// UpdateDraft replaces header fields and lines of a draft order. A customer
// change re-runs the analytical match for every line, not only changed ones.
func (s *Service) UpdateDraft(ctx context.Context, id int64, input CreateOrderInput) (SalesOrder, error) {
	so, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return SalesOrder{}, err
	}
	if so.Status != StatusDraft {
		return SalesOrder{}, fmt.Errorf("%w: only draft orders are editable", ErrInvalidState)
	}
	if len(input.Lines) == 0 {
		return SalesOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	customerID := so.CustomerID
	if input.CustomerID > 0 {
		customerID = input.CustomerID
	}

	lines, total, err := s.buildLines(ctx, customerID, input.Lines)
	if err != nil {
		return SalesOrder{}, err
	}

	so.CustomerID = customerID
	so.TotalAmount = total
	if !input.OrderDate.IsZero() {
		so.OrderDate = input.OrderDate
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateHeader(ctx, so); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		for _, line := range lines {
			line.OrderID = id
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, "SO_UPDATE", id, map[string]any{"number": so.OrderNumber})
	return so, nil
}

// Confirm transitions a draft order to confirmed.
func (s *Service) Confirm(ctx context.Context, id int64) (SalesOrder, error) {
	so, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return SalesOrder{}, err
	}
	if so.Status != StatusDraft {
		return SalesOrder{}, fmt.Errorf("%w: confirm requires draft, order is %s", ErrInvalidState, so.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusConfirmed)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	so.Status = StatusConfirmed
	s.recordAudit(ctx, "SO_CONFIRM", id, map[string]any{"number": so.OrderNumber})
	return so, nil
}

// Cancel marks a non-terminal order as cancelled.
func (s *Service) Cancel(ctx context.Context, id int64) (SalesOrder, error) {
	so, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return SalesOrder{}, err
	}
	if so.Status == StatusCancelled {
		return so, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	so.Status = StatusCancelled
	s.recordAudit(ctx, "SO_CANCEL", id, map[string]any{"number": so.OrderNumber})
	return so, nil
}

func (s *Service) Archive(ctx context.Context, id int64) error {
	if err := s.repo.Archive(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "SO_ARCHIVE", id, nil)
	return nil
}

func (s *Service) buildLines(ctx context.Context, customerID int64, inputs []LineInput) ([]Line, float64, error) {
	var (
		lines []Line
		total float64
	)
	for _, in := range inputs {
		if in.ProductID <= 0 || in.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: line needs product and positive quantity", ErrValidation)
		}
		line := Line{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Subtotal:  in.Quantity * in.UnitPrice,
		}
		if s.matcher != nil {
			customer := customerID
			product := in.ProductID
			assignment, ok, err := s.matcher.MatchLine(ctx, &customer, &product)
			if err != nil {
				return nil, 0, err
			}
			if ok {
				line.AnalyticalAccountID = &assignment.AnalyticalAccountID
				line.BudgetID = assignment.BudgetID
			}
		}
		total += line.Subtotal
		lines = append(lines, line)
	}
	return lines, total, nil
}

func (s *Service) generateOrderNumber(ctx context.Context) (string, error) {
	now := time.Now()
	count, err := s.repo.CountByMonth(ctx, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SO-%s-%04d", now.Format("0601"), count+1), nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "sales", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
