package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/felipemaragno/hookline/internal/deliverylog"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/observability"
	"github.com/felipemaragno/hookline/internal/registry"
)

type Handler struct {
	registry *registry.Registry
	log      *deliverylog.Log
	logger   *slog.Logger
}

func NewHandler(reg *registry.Registry, log *deliverylog.Log, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: reg,
		log:      log,
		logger:   logger,
	}
}

type CreateWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

type UpdateWebhookRequest struct {
	URL    *string   `json:"url,omitempty"`
	Events *[]string `json:"events,omitempty"`
	Status *string   `json:"status,omitempty"`
}

func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t := tenantFrom(r.Context())
	webhook, err := h.registry.Create(r.Context(), registry.CreateInput{
		TenantID: t.ID,
		APIKeyID: t.APIKeyID,
		URL:      req.URL,
		Events:   req.Events,
		Secret:   req.Secret,
	})
	if err != nil {
		h.respondDomainError(w, r, err, "failed to create webhook")
		return
	}

	h.respondJSON(w, http.StatusCreated, webhook)
}

func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.registry.List(r.Context(), tenantFrom(r.Context()).ID, r.URL.Query().Get("status"))
	if err != nil {
		h.respondDomainError(w, r, err, "failed to list webhooks")
		return
	}
	h.respondJSON(w, http.StatusOK, webhooks)
}

func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"), tenantFrom(r.Context()).ID)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to get webhook")
		return
	}
	h.respondJSON(w, http.StatusOK, webhook)
}

func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	webhook, err := h.registry.Update(r.Context(), chi.URLParam(r, "id"), tenantFrom(r.Context()).ID, registry.UpdateInput{
		URL:    req.URL,
		Events: req.Events,
		Status: req.Status,
	})
	if err != nil {
		h.respondDomainError(w, r, err, "failed to update webhook")
		return
	}
	h.respondJSON(w, http.StatusOK, webhook)
}

func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), chi.URLParam(r, "id"), tenantFrom(r.Context()).ID); err != nil {
		h.respondDomainError(w, r, err, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PauseWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.registry.Pause(r.Context(), chi.URLParam(r, "id"), tenantFrom(r.Context()).ID)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to pause webhook")
		return
	}
	h.respondJSON(w, http.StatusOK, webhook)
}

func (h *Handler) ResumeWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.registry.Resume(r.Context(), chi.URLParam(r, "id"), tenantFrom(r.Context()).ID)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to resume webhook")
		return
	}
	h.respondJSON(w, http.StatusOK, webhook)
}

func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	deliveries, err := h.log.List(r.Context(), chi.URLParam(r, "id"), tenantFrom(r.Context()).ID, limit)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to list deliveries")
		return
	}
	h.respondJSON(w, http.StatusOK, deliveries)
}

func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	detail, err := h.log.Get(r.Context(), chi.URLParam(r, "deliveryId"), chi.URLParam(r, "id"), tenantFrom(r.Context()).ID)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to get delivery")
		return
	}
	h.respondJSON(w, http.StatusOK, detail)
}

func (h *Handler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.log.Retry(r.Context(), chi.URLParam(r, "deliveryId"), chi.URLParam(r, "id"), tenantFrom(r.Context()).ID)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to retry delivery")
		return
	}
	h.respondJSON(w, http.StatusAccepted, delivery)
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondDomainError maps domain sentinels to status codes. Anything
// unrecognised is logged and reported as a 500 with fallback as message.
func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrInvalidURL),
		errors.Is(err, domain.ErrNoEventsSpecified),
		errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrInvalidStatus):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAPIKeyNotFound):
		h.respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case deliverylog.IsConflict(err):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		observability.LoggerFromContext(r.Context()).Error(fallback, "error", err)
		h.respondError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}
