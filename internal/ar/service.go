package ar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/analytic"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates customer invoice flows. It also consumes the
// sales.InvoiceCreator contract to raise a draft invoice for every new
// sales order.
type Service struct {
	repo    Repository
	matcher analytic.LineMatcher
	budgets BudgetRefresher
	audit   AuditPort
	logger  *slog.Logger
}

// NewService constructs the AR service. Matcher, budgets and audit may be nil.
func NewService(repo Repository, matcher analytic.LineMatcher, budgets BudgetRefresher, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, matcher: matcher, budgets: budgets, audit: audit, logger: logger}
}

// InvoiceLineInput describes an invoice line as submitted.
type InvoiceLineInput struct {
	ProductID           int64   `json:"product_id"`
	Quantity            float64 `json:"quantity"`
	UnitPrice           float64 `json:"unit_price"`
	AnalyticalAccountID *int64  `json:"analytical_account_id"`
	BudgetID            *int64  `json:"budget_id"`
}

// CreateInvoiceInput describes invoice creation payload.
type CreateInvoiceInput struct {
	CustomerID  int64              `json:"customer_id"`
	InvoiceDate time.Time          `json:"invoice_date"`
	DueDate     time.Time          `json:"due_date"`
	Lines       []InvoiceLineInput `json:"lines"`
}

// PaymentInput describes a manual payment registration.
type PaymentInput struct {
	Amount      float64   `json:"amount"`
	Mode        string    `json:"mode"`
	Reference   string    `json:"reference"`
	PaymentDate time.Time `json:"payment_date"`
}

func (s *Service) GetInvoice(ctx context.Context, id int64) (CustomerInvoice, []InvoiceLine, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]CustomerInvoice, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]InvoicePayment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// CreateInvoice persists a draft invoice with its lines.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (CustomerInvoice, error) {
	if input.CustomerID <= 0 {
		return CustomerInvoice{}, fmt.Errorf("%w: customer is required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return CustomerInvoice{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}

	number, err := s.generateInvoiceNumber(ctx)
	if err != nil {
		return CustomerInvoice{}, err
	}
	invoice := CustomerInvoice{
		InvoiceNumber: number,
		CustomerID:    input.CustomerID,
		InvoiceDate:   defaultTime(input.InvoiceDate),
		Status:        StatusDraft,
	}
	invoice.DueDate = input.DueDate
	if invoice.DueDate.IsZero() {
		invoice.DueDate = invoice.InvoiceDate.AddDate(0, 0, 30)
	}

	var lines []InvoiceLine
	for _, in := range input.Lines {
		if in.ProductID <= 0 || in.Quantity <= 0 {
			return CustomerInvoice{}, fmt.Errorf("%w: line needs product and positive quantity", ErrValidation)
		}
		line := InvoiceLine{
			ProductID:           in.ProductID,
			Quantity:            in.Quantity,
			UnitPrice:           in.UnitPrice,
			Subtotal:            in.Quantity * in.UnitPrice,
			AnalyticalAccountID: in.AnalyticalAccountID,
			BudgetID:            in.BudgetID,
		}
		// Lines submitted without an assignment go through the matching
		// rules, same as order lines.
		if line.AnalyticalAccountID == nil && s.matcher != nil {
			customer := input.CustomerID
			product := in.ProductID
			assignment, ok, err := s.matcher.MatchLine(ctx, &customer, &product)
			if err != nil {
				return CustomerInvoice{}, err
			}
			if ok {
				line.AnalyticalAccountID = &assignment.AnalyticalAccountID
				line.BudgetID = assignment.BudgetID
			}
		}
		invoice.TotalAmount += line.Subtotal
		lines = append(lines, line)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		invoice.ID = id
		for _, line := range lines {
			line.InvoiceID = id
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CustomerInvoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_CREATE", invoice.ID, map[string]any{"number": invoice.InvoiceNumber})
	return invoice, nil
}

// HandleOrderCreated implements sales.InvoiceCreator: every sales order
// immediately gets a matching draft invoice with the same lines and total.
func (s *Service) HandleOrderCreated(ctx context.Context, evt sales.OrderCreatedEvent) error {
	number, err := s.generateInvoiceNumber(ctx)
	if err != nil {
		return err
	}
	invoice := CustomerInvoice{
		InvoiceNumber: number,
		CustomerID:    evt.CustomerID,
		OrderID:       &evt.OrderID,
		InvoiceDate:   defaultTime(evt.OrderDate),
		DueDate:       defaultTime(evt.OrderDate).AddDate(0, 0, 30),
		TotalAmount:   evt.TotalAmount,
		Status:        StatusDraft,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		invoice.ID = id
		for _, l := range evt.Lines {
			if err := tx.InsertLine(ctx, InvoiceLine{
				InvoiceID:           id,
				ProductID:           l.ProductID,
				Quantity:            l.Quantity,
				UnitPrice:           l.UnitPrice,
				Subtotal:            l.Subtotal,
				AnalyticalAccountID: l.AnalyticalAccountID,
				BudgetID:            l.BudgetID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "INVOICE_AUTO_CREATE", invoice.ID, map[string]any{
		"number": invoice.InvoiceNumber,
		"order":  evt.OrderNumber,
	})
	return nil
}

// PostInvoice moves a draft invoice to posted. Income budgets are NOT
// refreshed here: revenue accrues on cash receipt, not on posting.
func (s *Service) PostInvoice(ctx context.Context, id int64) (CustomerInvoice, error) {
	invoice, _, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return CustomerInvoice{}, err
	}
	if invoice.Status != StatusDraft {
		return CustomerInvoice{}, fmt.Errorf("%w: post requires draft, invoice is %s", ErrInvalidState, invoice.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusPosted)
	})
	if err != nil {
		return CustomerInvoice{}, err
	}
	invoice.Status = StatusPosted
	s.recordAudit(ctx, "INVOICE_POST", id, map[string]any{"number": invoice.InvoiceNumber})
	return invoice, nil
}

// CancelInvoice marks the invoice cancelled and refreshes income budgets
// so its lines drop out of the accrual sums.
func (s *Service) CancelInvoice(ctx context.Context, id int64) (CustomerInvoice, error) {
	invoice, lines, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return CustomerInvoice{}, err
	}
	if invoice.Status == StatusCancelled {
		return invoice, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return CustomerInvoice{}, err
	}
	invoice.Status = StatusCancelled
	s.recordAudit(ctx, "INVOICE_CANCEL", id, map[string]any{"number": invoice.InvoiceNumber})
	s.refreshBudgets(ctx, lines)
	return invoice, nil
}

// RegisterPayment records a payment and recomputes the paid amount from
// the full payment ledger. Income budgets refresh on receipt.
func (s *Service) RegisterPayment(ctx context.Context, invoiceID int64, input PaymentInput) (CustomerInvoice, error) {
	invoice, lines, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return CustomerInvoice{}, err
	}
	if invoice.Status != StatusPosted && invoice.Status != StatusPartiallyPaid {
		return CustomerInvoice{}, fmt.Errorf("%w: invoice is not payable in status %s", ErrInvalidState, invoice.Status)
	}
	if input.Amount <= 0 {
		return CustomerInvoice{}, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}

	payment := InvoicePayment{
		PaymentNumber: generatePaymentNumber("REC"),
		InvoiceID:     invoiceID,
		PaymentDate:   defaultTime(input.PaymentDate),
		Amount:        input.Amount,
		Mode:          defaultString(input.Mode, ModeBankTransfer),
		Status:        PaymentCompleted,
		Reference:     input.Reference,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return CustomerInvoice{}, err
	}

	paid, err := s.repo.SumCompletedPayments(ctx, invoiceID)
	if err != nil {
		return CustomerInvoice{}, err
	}
	status := DeriveStatus(invoice.Status, paid, invoice.TotalAmount)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePaid(ctx, invoiceID, paid, status)
	})
	if err != nil {
		return CustomerInvoice{}, err
	}
	invoice.PaidAmount = paid
	invoice.Status = status
	s.recordAudit(ctx, "INVOICE_PAYMENT", invoiceID, map[string]any{"amount": input.Amount, "paid": paid})
	s.refreshBudgets(ctx, lines)
	return invoice, nil
}

// ReconcilePaidAmounts reapplies the completed-payment ledger sum to every
// invoice whose stored paid amount has drifted from it. Returns the number
// of invoices corrected.
func (s *Service) ReconcilePaidAmounts(ctx context.Context) (int, error) {
	mismatches, err := s.repo.ListLedgerMismatches(ctx)
	if err != nil {
		return 0, err
	}
	corrected := 0
	for _, m := range mismatches {
		status := DeriveStatus(m.Status, m.LedgerPaid, m.TotalAmount)
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdatePaid(ctx, m.InvoiceID, m.LedgerPaid, status)
		})
		if err != nil {
			s.logger.Error("reconcile invoice paid amount",
				slog.Int64("invoice_id", m.InvoiceID), slog.Any("error", err))
			continue
		}
		s.logger.Warn("invoice paid amount reconciled",
			slog.Int64("invoice_id", m.InvoiceID),
			slog.Float64("stored", m.StoredPaid),
			slog.Float64("ledger", m.LedgerPaid),
			slog.String("status", status))
		corrected++
	}
	return corrected, nil
}

func (s *Service) refreshBudgets(ctx context.Context, lines []InvoiceLine) {
	if s.budgets == nil {
		return
	}
	seen := make(map[int64]bool)
	for _, line := range lines {
		if line.AnalyticalAccountID == nil || seen[*line.AnalyticalAccountID] {
			continue
		}
		seen[*line.AnalyticalAccountID] = true
		if err := s.budgets.RefreshAllForAccount(ctx, *line.AnalyticalAccountID); err != nil {
			s.logger.Error("budget refresh after invoice mutation",
				slog.Int64("analytical_account_id", *line.AnalyticalAccountID), slog.Any("error", err))
		}
	}
}

func (s *Service) generateInvoiceNumber(ctx context.Context) (string, error) {
	now := time.Now()
	count, err := s.repo.CountByMonth(ctx, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%s-%04d", now.Format("0601"), count+1), nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "ar", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generatePaymentNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
