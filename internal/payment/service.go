package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-erp/meridian-erp/internal/ar"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service implements the two gateway actions. Amounts are validated
// against stored invoice state, never trusted from the caller.
type Service struct {
	invoices ar.Repository
	orders   OrderRepository
	gateway  Gateway
	claims   Claimer
	budgets  ar.BudgetRefresher
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService constructs the payment service. Budgets and metrics may be nil.
func NewService(invoices ar.Repository, orders OrderRepository, gateway Gateway, claims Claimer,
	budgets ar.BudgetRefresher, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		invoices: invoices,
		orders:   orders,
		gateway:  gateway,
		claims:   claims,
		budgets:  budgets,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateOrderResult is what the checkout widget needs.
type CreateOrderResult struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId"`
}

// VerifyResult reports the post-verification invoice state.
type VerifyResult struct {
	PaymentID         int64     `json:"paymentId"`
	PaymentNumber     string    `json:"paymentNumber"`
	RazorpayPaymentID string    `json:"razorpayPaymentId"`
	PaymentDate       time.Time `json:"paymentDate"`
	NewPaidAmount     float64   `json:"newPaidAmount"`
	NewBalanceDue     float64   `json:"newBalanceDue"`
	NewStatus         string    `json:"newStatus"`
}

// CreateOrder validates the invoice and opens a gateway order for amount.
func (s *Service) CreateOrder(ctx context.Context, invoiceID int64, amount float64) (CreateOrderResult, error) {
	invoice, _, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if invoice.Status != ar.StatusPosted && invoice.Status != ar.StatusPartiallyPaid {
		return CreateOrderResult{}, fmt.Errorf("%w: invoice is %s", ErrNotPayable, invoice.Status)
	}
	if amount <= 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: amount must be positive", ErrNotPayable)
	}
	if due := invoice.BalanceDue(); amount > due {
		p := message.NewPrinter(language.English)
		return CreateOrderResult{}, fmt.Errorf("%w: balance due is INR %s", ErrAmountExceedsDue, p.Sprintf("%.2f", due))
	}

	paise := int64(math.Round(amount * 100))
	receipt := fmt.Sprintf("%s-%s", invoice.InvoiceNumber, uuid.NewString()[:8])
	order, err := s.gateway.CreateOrder(ctx, paise, receipt)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if _, err := s.orders.Insert(ctx, PaymentOrder{
		InvoiceID:      invoiceID,
		GatewayOrderID: order.ID,
		Amount:         amount,
		Currency:       order.Currency,
		Receipt:        receipt,
		Status:         OrderCreated,
	}); err != nil {
		s.logger.Error("record payment order", slog.String("gateway_order_id", order.ID), slog.Any("error", err))
	}
	return CreateOrderResult{
		OrderID:  order.ID,
		Amount:   paise,
		Currency: order.Currency,
		KeyID:    s.gateway.KeyID(),
	}, nil
}

// VerifyInput carries the checkout callback fields.
type VerifyInput struct {
	InvoiceID         int64
	RazorpayOrderID   string
	RazorpayPaymentID string
	RazorpaySignature string
	Amount            float64
}

// VerifyPayment checks the callback signature, records the payment once
// per gateway payment id, and recomputes the invoice paid amount from
// the full payment ledger.
func (s *Service) VerifyPayment(ctx context.Context, input VerifyInput) (VerifyResult, error) {
	// The signature is checked before any database work; a forged
	// callback never learns whether the invoice exists.
	if !s.gateway.VerifySignature(input.RazorpayOrderID, input.RazorpayPaymentID, input.RazorpaySignature) {
		s.metrics.ObserveGatewayPayment("rejected")
		s.logger.Warn("gateway signature mismatch",
			slog.Int64("invoice_id", input.InvoiceID), slog.String("gateway_order_id", input.RazorpayOrderID))
		return VerifyResult{}, ErrSignatureMismatch
	}
	invoice, lines, err := s.invoices.GetInvoice(ctx, input.InvoiceID)
	if err != nil {
		return VerifyResult{}, err
	}

	if err := s.claims.CheckAndInsert(ctx, input.RazorpayPaymentID, "payment"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			s.metrics.ObserveGatewayPayment("replayed")
			return s.replayResult(ctx, invoice, input.RazorpayPaymentID)
		}
		return VerifyResult{}, err
	}

	payment := ar.InvoicePayment{
		PaymentNumber: generateGatewayPaymentNumber(),
		InvoiceID:     input.InvoiceID,
		PaymentDate:   time.Now(),
		Amount:        input.Amount,
		Mode:          ar.ModeOnline,
		Status:        ar.PaymentCompleted,
		Reference:     input.RazorpayPaymentID,
	}
	var paymentID int64
	err = s.invoices.WithTx(ctx, func(ctx context.Context, tx ar.TxRepository) error {
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		paymentID = id
		return nil
	})
	if err != nil {
		// The claim must not outlive a failed insert, otherwise a
		// legitimate retry would be treated as a replay.
		_ = s.claims.Delete(ctx, input.RazorpayPaymentID)
		s.metrics.ObserveGatewayPayment("error")
		return VerifyResult{}, err
	}

	paid, err := s.invoices.SumCompletedPayments(ctx, input.InvoiceID)
	if err != nil {
		paid = invoice.PaidAmount + input.Amount
		s.logger.Error("payment recorded but ledger sum failed, invoice totals stale",
			slog.Int64("invoice_id", input.InvoiceID), slog.Any("error", err))
	}
	status := ar.DeriveStatus(invoice.Status, paid, invoice.TotalAmount)
	err = s.invoices.WithTx(ctx, func(ctx context.Context, tx ar.TxRepository) error {
		return tx.UpdatePaid(ctx, input.InvoiceID, paid, status)
	})
	if err != nil {
		s.logger.Error("payment recorded but invoice update failed, reconciliation gap",
			slog.Int64("invoice_id", input.InvoiceID), slog.Int64("payment_id", paymentID), slog.Any("error", err))
	}
	if err := s.orders.MarkPaid(ctx, input.RazorpayOrderID); err != nil {
		s.logger.Error("mark payment order paid", slog.String("gateway_order_id", input.RazorpayOrderID), slog.Any("error", err))
	}

	s.refreshBudgets(ctx, lines)
	s.metrics.ObserveGatewayPayment("ok")
	return VerifyResult{
		PaymentID:         paymentID,
		PaymentNumber:     payment.PaymentNumber,
		RazorpayPaymentID: input.RazorpayPaymentID,
		PaymentDate:       payment.PaymentDate,
		NewPaidAmount:     paid,
		NewBalanceDue:     invoice.TotalAmount - paid,
		NewStatus:         status,
	}, nil
}

// replayResult rebuilds the success shape for a callback whose payment
// was already recorded, without crediting the invoice again.
func (s *Service) replayResult(ctx context.Context, invoice ar.CustomerInvoice, gatewayPaymentID string) (VerifyResult, error) {
	result := VerifyResult{
		RazorpayPaymentID: gatewayPaymentID,
		NewPaidAmount:     invoice.PaidAmount,
		NewBalanceDue:     invoice.BalanceDue(),
		NewStatus:         invoice.Status,
	}
	payments, err := s.invoices.ListPayments(ctx, invoice.ID)
	if err != nil {
		return result, nil
	}
	for _, p := range payments {
		if p.Reference == gatewayPaymentID {
			result.PaymentID = p.ID
			result.PaymentNumber = p.PaymentNumber
			result.PaymentDate = p.PaymentDate
			break
		}
	}
	return result, nil
}

func (s *Service) refreshBudgets(ctx context.Context, lines []ar.InvoiceLine) {
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
			s.logger.Error("budget refresh after gateway payment",
				slog.Int64("analytical_account_id", *line.AnalyticalAccountID), slog.Any("error", err))
		}
	}
}

func generateGatewayPaymentNumber() string {
	return fmt.Sprintf("RZP-%s-%04d", time.Now().Format("0601"), rand.Intn(10000))
}
