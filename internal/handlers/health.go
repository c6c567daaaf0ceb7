package handlers

import (
	"context"
	"net/http"
	"time"
)

var startTime = time.Now()

// HealthHandlers answers liveness and readiness probes. Readiness checks the
// backing store when a ping function is supplied.
type HealthHandlers struct {
	ping func(ctx context.Context) error
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithReadinessPing wires a backing store check into the readiness probe.
func WithReadinessPing(ping func(ctx context.Context) error) HealthOption {
	return func(h *HealthHandlers) {
		h.ping = ping
	}
}

// NewHealthHandlers constructs handlers for /healthz and /readyz.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether the service can reach its backing store.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ready"})
}
