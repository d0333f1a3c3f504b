package ap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/analytic"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates vendor bill flows. It also consumes the
// procurement.IntegrationHandler contract for auto-billing confirmed
// purchase orders.
type Service struct {
	repo    Repository
	matcher analytic.LineMatcher
	budgets BudgetRefresher
	audit   AuditPort
	logger  *slog.Logger
}

// NewService constructs the AP service. Matcher, budgets and audit may be nil.
func NewService(repo Repository, matcher analytic.LineMatcher, budgets BudgetRefresher, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, matcher: matcher, budgets: budgets, audit: audit, logger: logger}
}

// BillLineInput describes a bill line as submitted.
type BillLineInput struct {
	ProductID           int64   `json:"product_id"`
	Quantity            float64 `json:"quantity"`
	UnitPrice           float64 `json:"unit_price"`
	AnalyticalAccountID *int64  `json:"analytical_account_id"`
	BudgetID            *int64  `json:"budget_id"`
}

// CreateBillInput describes bill creation payload.
type CreateBillInput struct {
	VendorID int64           `json:"vendor_id"`
	BillDate time.Time       `json:"bill_date"`
	DueDate  time.Time       `json:"due_date"`
	Lines    []BillLineInput `json:"lines"`
}

// PaymentInput describes a manual payment registration.
type PaymentInput struct {
	Amount      float64   `json:"amount"`
	Mode        string    `json:"mode"`
	Reference   string    `json:"reference"`
	PaymentDate time.Time `json:"payment_date"`
}

func (s *Service) GetBill(ctx context.Context, id int64) (VendorBill, []BillLine, error) {
	return s.repo.GetBill(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]VendorBill, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) ListPayments(ctx context.Context, billID int64) ([]BillPayment, error) {
	return s.repo.ListPayments(ctx, billID)
}

// CreateBill persists a draft bill with its lines.
func (s *Service) CreateBill(ctx context.Context, input CreateBillInput) (VendorBill, error) {
	if input.VendorID <= 0 {
		return VendorBill{}, fmt.Errorf("%w: vendor is required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return VendorBill{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}

	number, err := s.generateBillNumber(ctx)
	if err != nil {
		return VendorBill{}, err
	}
	bill := VendorBill{
		BillNumber: number,
		VendorID:   input.VendorID,
		BillDate:   defaultTime(input.BillDate),
		Status:     StatusDraft,
	}
	bill.DueDate = input.DueDate
	if bill.DueDate.IsZero() {
		bill.DueDate = bill.BillDate.AddDate(0, 0, 30)
	}

	var lines []BillLine
	for _, in := range input.Lines {
		if in.ProductID <= 0 || in.Quantity <= 0 {
			return VendorBill{}, fmt.Errorf("%w: line needs product and positive quantity", ErrValidation)
		}
		line := BillLine{
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
			vendor := input.VendorID
			product := in.ProductID
			assignment, ok, err := s.matcher.MatchLine(ctx, &vendor, &product)
			if err != nil {
				return VendorBill{}, err
			}
			if ok {
				line.AnalyticalAccountID = &assignment.AnalyticalAccountID
				line.BudgetID = assignment.BudgetID
			}
		}
		bill.TotalAmount += line.Subtotal
		lines = append(lines, line)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		for _, line := range lines {
			line.BillID = id
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return VendorBill{}, err
	}
	s.recordAudit(ctx, "BILL_CREATE", bill.ID, map[string]any{"number": bill.BillNumber})
	return bill, nil
}

// PostBill moves a draft bill to posted and refreshes the affected
// budgets: posted bills count toward expense accrual immediately.
func (s *Service) PostBill(ctx context.Context, id int64) (VendorBill, error) {
	bill, lines, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return VendorBill{}, err
	}
	if bill.Status != StatusDraft {
		return VendorBill{}, fmt.Errorf("%w: post requires draft, bill is %s", ErrInvalidState, bill.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusPosted)
	})
	if err != nil {
		return VendorBill{}, err
	}
	bill.Status = StatusPosted
	s.recordAudit(ctx, "BILL_POST", id, map[string]any{"number": bill.BillNumber})
	s.refreshBudgets(ctx, lines)
	return bill, nil
}

// CancelBill marks the bill cancelled and refreshes budgets so the
// excluded lines drop out of the accrual sums.
func (s *Service) CancelBill(ctx context.Context, id int64) (VendorBill, error) {
	bill, lines, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return VendorBill{}, err
	}
	if bill.Status == StatusCancelled {
		return bill, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return VendorBill{}, err
	}
	bill.Status = StatusCancelled
	s.recordAudit(ctx, "BILL_CANCEL", id, map[string]any{"number": bill.BillNumber})
	s.refreshBudgets(ctx, lines)
	return bill, nil
}

// RegisterPayment records a payment and recomputes the paid amount from
// the full payment ledger rather than adding the delta.
func (s *Service) RegisterPayment(ctx context.Context, billID int64, input PaymentInput) (VendorBill, error) {
	bill, _, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return VendorBill{}, err
	}
	if bill.Status != StatusPosted && bill.Status != StatusPartiallyPaid {
		return VendorBill{}, fmt.Errorf("%w: bill is not payable in status %s", ErrInvalidState, bill.Status)
	}
	if input.Amount <= 0 {
		return VendorBill{}, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}

	payment := BillPayment{
		PaymentNumber: generatePaymentNumber("PAY"),
		BillID:        billID,
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
		return VendorBill{}, err
	}

	paid, err := s.repo.SumCompletedPayments(ctx, billID)
	if err != nil {
		return VendorBill{}, err
	}
	status := DeriveStatus(bill.Status, paid, bill.TotalAmount)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePaid(ctx, billID, paid, status)
	})
	if err != nil {
		return VendorBill{}, err
	}
	bill.PaidAmount = paid
	bill.Status = status
	s.recordAudit(ctx, "BILL_PAYMENT", billID, map[string]any{"amount": input.Amount, "paid": paid})
	return bill, nil
}

// HandleOrderConfirmed implements procurement.IntegrationHandler. A
// confirmed purchase order produces a bill that is already paid in full:
// the bill, its lines and the auto payment are committed atomically,
// then every distinct analytical account across the lines is refreshed.
func (s *Service) HandleOrderConfirmed(ctx context.Context, evt procurement.OrderConfirmedEvent) error {
	number, err := s.generateBillNumber(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	bill := VendorBill{
		BillNumber:  number,
		VendorID:    evt.VendorID,
		OrderID:     &evt.OrderID,
		BillDate:    defaultTime(evt.OrderDate),
		DueDate:     defaultTime(evt.OrderDate).AddDate(0, 0, 30),
		TotalAmount: evt.TotalAmount,
		PaidAmount:  evt.TotalAmount,
		Status:      StatusPaid,
	}
	var lines []BillLine
	for _, l := range evt.Lines {
		lines = append(lines, BillLine{
			ProductID:           l.ProductID,
			Quantity:            l.Quantity,
			UnitPrice:           l.UnitPrice,
			Subtotal:            l.Subtotal,
			AnalyticalAccountID: l.AnalyticalAccountID,
			BudgetID:            l.BudgetID,
		})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		for _, line := range lines {
			line.BillID = id
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		_, err = tx.InsertPayment(ctx, BillPayment{
			PaymentNumber: generatePaymentNumber("PAY"),
			BillID:        id,
			PaymentDate:   now,
			Amount:        evt.TotalAmount,
			Mode:          ModeBankTransfer,
			Status:        PaymentCompleted,
			Reference:     fmt.Sprintf("Auto-payment for %s", evt.OrderNumber),
			Notes:         "Automatic payment on order confirmation",
		})
		return err
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "BILL_AUTO_CREATE", bill.ID, map[string]any{
		"number": bill.BillNumber,
		"order":  evt.OrderNumber,
	})
	s.refreshBudgets(ctx, lines)
	return nil
}

// ReconcilePaidAmounts reapplies the completed-payment ledger sum to every
// bill whose stored paid amount has drifted from it. Returns the number of
// bills corrected.
func (s *Service) ReconcilePaidAmounts(ctx context.Context) (int, error) {
	mismatches, err := s.repo.ListLedgerMismatches(ctx)
	if err != nil {
		return 0, err
	}
	corrected := 0
	for _, m := range mismatches {
		status := DeriveStatus(m.Status, m.LedgerPaid, m.TotalAmount)
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdatePaid(ctx, m.BillID, m.LedgerPaid, status)
		})
		if err != nil {
			s.logger.Error("reconcile bill paid amount",
				slog.Int64("bill_id", m.BillID), slog.Any("error", err))
			continue
		}
		s.logger.Warn("bill paid amount reconciled",
			slog.Int64("bill_id", m.BillID),
			slog.Float64("stored", m.StoredPaid),
			slog.Float64("ledger", m.LedgerPaid),
			slog.String("status", status))
		corrected++
	}
	return corrected, nil
}

// refreshBudgets recomputes each distinct analytical account once.
// Failures are logged; the accrual self-corrects on the next refresh.
func (s *Service) refreshBudgets(ctx context.Context, lines []BillLine) {
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
			s.logger.Error("budget refresh after bill mutation",
				slog.Int64("analytical_account_id", *line.AnalyticalAccountID), slog.Any("error", err))
		}
	}
}

func (s *Service) generateBillNumber(ctx context.Context) (string, error) {
	now := time.Now()
	count, err := s.repo.CountByMonth(ctx, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BILL-%s-%04d", now.Format("0601"), count+1), nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "ap", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
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
