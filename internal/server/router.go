package server

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed openapi.json
var openAPIDocument []byte

// RouterConfig wires the HTTP surface. Tools and MCP are injected so this
// package does not depend on the tool layer.
type RouterConfig struct {
	SC          *ServerContext
	APIKeys     *APIKeyAuth
	RateLimiter *RateLimiter
	Health      *HealthChecker
	// TrustProxy enables X-Forwarded-For and X-Real-IP handling.
	TrustProxy bool

	// Tools serves POST /api/tools.
	Tools http.Handler
	// MCP serves the streamable HTTP MCP endpoint at /mcp. Optional.
	MCP http.Handler
}

// NewRouter builds the chi router for the whole HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(httpMetrics(cfg.SC.Metrics()))

	health := cfg.Health
	if health == nil {
		health = NewHealthChecker(cfg.SC)
	}
	health.RegisterHealthEndpoints(r)

	r.Get("/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(openAPIDocument)
	})

	auth := &authHandlers{sc: cfg.SC}
	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}

		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", auth.login)
			r.Get("/callback", auth.callback)
			r.With(cfg.APIKeys.Middleware).Post("/revoke", auth.revoke)
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.APIKeys.Middleware)
			if cfg.Tools != nil {
				r.Method(http.MethodPost, "/api/tools", cfg.Tools)
			}
			if cfg.MCP != nil {
				r.Handle("/mcp", cfg.MCP)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}
