package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// ReadyFunc reports whether the backing stores are reachable
type ReadyFunc func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	ready   ReadyFunc
	timeout time.Duration
}

func NewHealthHandler(ready ReadyFunc) *HealthHandler {
	return &HealthHandler{ready: ready, timeout: 3 * time.Second}
}

// Live always answers ok while the process serves requests
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// Ready pings the mapping store and object store
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}
