package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/felipemaragno/hookline/internal/queue"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// QueueInspector reports queue depth for the readiness probe.
type QueueInspector interface {
	Counts(ctx context.Context) (queue.Counts, error)
}

type HealthHandler struct {
	db    HealthChecker
	queue QueueInspector
	ready atomic.Bool
}

func NewHealthHandler(db HealthChecker, q QueueInspector) *HealthHandler {
	h := &HealthHandler{db: db, queue: q}
	h.ready.Store(false)
	return h
}

func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Queue  *queue.Counts     `json:"queue,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	checks := make(map[string]string)
	allHealthy := true

	if !h.ready.Load() {
		checks["app"] = "not ready"
		allHealthy = false
	} else {
		checks["app"] = "ok"
	}

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			checks["database"] = err.Error()
			allHealthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	var counts *queue.Counts
	if h.queue != nil {
		c, err := h.queue.Counts(r.Context())
		if err != nil {
			checks["queue"] = err.Error()
			allHealthy = false
		} else {
			checks["queue"] = "ok"
			counts = &c
		}
	}

	status := "ok"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ReadyResponse{
		Status: status,
		Checks: checks,
		Queue:  counts,
	})
}
