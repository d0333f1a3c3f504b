package payment

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ar"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes the single-action gateway endpoint the portal checkout
// calls. Responses follow the gateway wire shape, success/error flags in
// the body rather than problem details.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers the gateway endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.dispatch)
}

type gatewayRequest struct {
	Action            string  `json:"action" validate:"required,oneof=create_order verify_payment"`
	InvoiceID         int64   `json:"invoiceId" validate:"required,gt=0"`
	Amount            float64 `json:"amount" validate:"required,gt=0"`
	RazorpayOrderID   string  `json:"razorpayOrderId" validate:"required_if=Action verify_payment"`
	RazorpayPaymentID string  `json:"razorpayPaymentId" validate:"required_if=Action verify_payment"`
	RazorpaySignature string  `json:"razorpaySignature" validate:"required_if=Action verify_payment"`
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req gatewayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Action {
	case "create_order":
		h.createOrder(w, r, req)
	case "verify_payment":
		h.verifyPayment(w, r, req)
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request, req gatewayRequest) {
	result, err := h.service.CreateOrder(r.Context(), req.InvoiceID, req.Amount)
	if err != nil {
		h.mapError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"orderId":  result.OrderID,
		"amount":   result.Amount,
		"currency": result.Currency,
		"keyId":    result.KeyID,
	})
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request, req gatewayRequest) {
	result, err := h.service.VerifyPayment(r.Context(), VerifyInput{
		InvoiceID:         req.InvoiceID,
		RazorpayOrderID:   req.RazorpayOrderID,
		RazorpayPaymentID: req.RazorpayPaymentID,
		RazorpaySignature: req.RazorpaySignature,
		Amount:            req.Amount,
	})
	if err != nil {
		h.mapError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"paymentId":         result.PaymentID,
		"paymentNumber":     result.PaymentNumber,
		"razorpayPaymentId": result.RazorpayPaymentID,
		"paymentDate":       result.PaymentDate,
		"newPaidAmount":     result.NewPaidAmount,
		"newBalanceDue":     result.NewBalanceDue,
		"newStatus":         result.NewStatus,
	})
}

func (h *Handler) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ar.ErrNotFound):
		h.fail(w, http.StatusNotFound, "invoice not found")
	case errors.Is(err, ErrNotPayable), errors.Is(err, ErrAmountExceedsDue):
		h.fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSignatureMismatch):
		h.fail(w, http.StatusBadRequest, "payment signature verification failed")
	default:
		h.logger.Error("gateway action failed", slog.Any("error", err))
		h.fail(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	httpx.JSON(w, status, map[string]any{"success": false, "error": msg})
}
