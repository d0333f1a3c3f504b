package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes the audit trail endpoint.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trail", h.trail)
}

func (h *Handler) trail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := Filters{
		Entity:   q.Get("entity"),
		Action:   q.Get("action"),
		EntityID: q.Get("entity_id"),
	}
	if raw := q.Get("page"); raw != "" {
		if page, err := strconv.Atoi(raw); err == nil {
			filters.Page = page
		}
	}
	if raw := q.Get("per_page"); raw != "" {
		if perPage, err := strconv.Atoi(raw); err == nil {
			filters.PerPage = perPage
		}
	}
	if raw := q.Get("from"); raw != "" {
		if from, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.From = from
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.To = to
		}
	}

	result, err := h.service.Trail(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
