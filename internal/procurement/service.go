package procurement

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

// Service orchestrates purchase order flows.
type Service struct {
	repo    Repository
	matcher analytic.LineMatcher
	billing IntegrationHandler
	audit   AuditPort
	logger  *slog.Logger
}

// NewService constructs the procurement service. Billing and audit may be
// nil; confirmation then skips the corresponding side effect.
func NewService(repo Repository, matcher analytic.LineMatcher, billing IntegrationHandler, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, matcher: matcher, billing: billing, audit: audit, logger: logger}
}

// LineInput describes an order line as submitted.
type LineInput struct {
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// CreateOrderInput describes creation payload.
type CreateOrderInput struct {
	VendorID  int64       `json:"vendor_id"`
	OrderDate time.Time   `json:"order_date"`
	Lines     []LineInput `json:"lines"`
}

func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, []Line, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	return s.repo.List(ctx, filters)
}

// Create persists a draft order. Each line gets its analytical assignment
// from the matching rules at creation time.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if input.VendorID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: vendor is required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}

	lines, total, err := s.buildLines(ctx, input.VendorID, input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}

	number, err := s.generateOrderNumber(ctx)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		OrderNumber: number,
		VendorID:    input.VendorID,
		OrderDate:   defaultTime(input.OrderDate),
		TotalAmount: total,
		Status:      StatusDraft,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, line := range lines {
			line.OrderID = id
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", po.ID, map[string]any{"number": po.OrderNumber})
	return po, nil
}

// UpdateDraft replaces header fields and lines of a draft order. A vendor
// change re-runs the analytical match for every line, not only changed ones.
func (s *Service) UpdateDraft(ctx context.Context, id int64, input CreateOrderInput) (PurchaseOrder, error) {
	po, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Status != StatusDraft {
		return PurchaseOrder{}, fmt.Errorf("%w: only draft orders are editable", ErrInvalidState)
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	vendorID := po.VendorID
	if input.VendorID > 0 {
		vendorID = input.VendorID
	}

	lines, total, err := s.buildLines(ctx, vendorID, input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}

	po.VendorID = vendorID
	po.TotalAmount = total
	if !input.OrderDate.IsZero() {
		po.OrderDate = input.OrderDate
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateHeader(ctx, po); err != nil {
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
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_UPDATE", id, map[string]any{"number": po.OrderNumber})
	return po, nil
}

// Confirm transitions a draft order to confirmed and hands the event to
// the billing integration. A billing failure leaves the order confirmed
// and surfaces as ErrBillingIncomplete.
func (s *Service) Confirm(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, lines, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Status != StatusDraft {
		return PurchaseOrder{}, fmt.Errorf("%w: confirm requires draft, order is %s", ErrInvalidState, po.Status)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusConfirmed)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = StatusConfirmed
	s.recordAudit(ctx, "PO_CONFIRM", id, map[string]any{"number": po.OrderNumber})

	if s.billing == nil {
		return po, nil
	}
	evt := OrderConfirmedEvent{
		OrderID:     po.ID,
		OrderNumber: po.OrderNumber,
		VendorID:    po.VendorID,
		OrderDate:   po.OrderDate,
		TotalAmount: po.TotalAmount,
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
	if err := s.billing.HandleOrderConfirmed(ctx, evt); err != nil {
		s.logger.Error("order confirmed but bill creation failed",
			slog.Int64("order_id", id), slog.Any("error", err))
		return po, fmt.Errorf("%w: %v", ErrBillingIncomplete, err)
	}
	return po, nil
}

// Cancel marks a non-terminal order as cancelled.
func (s *Service) Cancel(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Status == StatusCancelled {
		return po, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = StatusCancelled
	s.recordAudit(ctx, "PO_CANCEL", id, map[string]any{"number": po.OrderNumber})
	return po, nil
}

func (s *Service) Archive(ctx context.Context, id int64) error {
	if err := s.repo.Archive(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_ARCHIVE", id, nil)
	return nil
}

func (s *Service) buildLines(ctx context.Context, vendorID int64, inputs []LineInput) ([]Line, float64, error) {
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
			vendor := vendorID
			product := in.ProductID
			assignment, ok, err := s.matcher.MatchLine(ctx, &vendor, &product)
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
	return fmt.Sprintf("PO-%s-%04d", now.Format("0601"), count+1), nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
