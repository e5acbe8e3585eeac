package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teemow/mailgraph/internal/logging"
	"github.com/teemow/mailgraph/internal/tokenstore"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusUnavailable  = "unavailable"
)

// storePingTimeout bounds the readiness check against the token store.
const storePingTimeout = 2 * time.Second

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	ready         atomic.Bool
	serverContext *ServerContext
	startTime     time.Time
}

// NewHealthChecker creates a HealthChecker. It starts ready.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

func (h *HealthChecker) isServerShuttingDown() bool {
	return h.serverContext != nil && h.serverContext.IsShutdown()
}

// pingStore reports the token store health. Stores without a Ping method
// are assumed healthy.
func (h *HealthChecker) pingStore(ctx context.Context) error {
	if h.serverContext == nil {
		return nil
	}
	p, ok := h.serverContext.Store().(tokenstore.Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	return p.Ping(ctx)
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse adds uptime and per-check detail.
type DetailedHealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

// checks evaluates readiness, shutdown and the token store.
func (h *HealthChecker) checks(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, 3)
	allOK := true

	if h.ready.Load() {
		checks["ready"] = healthStatusOK
	} else {
		checks["ready"] = healthStatusNotReady
		allOK = false
	}

	if h.isServerShuttingDown() {
		checks["shutdown"] = healthStatusShuttingDown
		allOK = false
	} else {
		checks["shutdown"] = healthStatusOK
	}

	if err := h.pingStore(ctx); err != nil {
		checks["token_store"] = healthStatusUnavailable
		allOK = false
		if h.serverContext != nil {
			h.serverContext.Logger().WarnContext(ctx, "token store health check failed", logging.Err(err))
		}
	} else {
		checks["token_store"] = healthStatusOK
	}
	return checks, allOK
}

// LivenessHandler serves /healthz. It only proves the process answers.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler serves /readyz.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks, ok := h.checks(r.Context())
		if ok {
			writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK, Checks: checks})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: healthStatusNotReady, Checks: checks})
	})
}

// DetailedHealthHandler serves /healthz/detailed.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks, ok := h.checks(r.Context())
		resp := DetailedHealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
			Checks: checks,
		}
		status := http.StatusOK
		switch {
		case h.isServerShuttingDown():
			resp.Status = healthStatusShuttingDown
			status = http.StatusServiceUnavailable
		case !ok:
			resp.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	})
}

// RegisterHealthEndpoints registers the probes on r.
func (h *HealthChecker) RegisterHealthEndpoints(r chi.Router) {
	r.Method(http.MethodGet, "/healthz", h.LivenessHandler())
	r.Method(http.MethodGet, "/readyz", h.ReadinessHandler())
	r.Method(http.MethodGet, "/healthz/detailed", h.DetailedHealthHandler())
}
