package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// HTTPServerConfig configures the public listener.
type HTTPServerConfig struct {
	Addr string
	// BaseURL is the externally visible URL; it must be https unless it
	// points at a loopback host.
	BaseURL string
	Handler http.Handler

	// TLSCertFile and TLSKeyFile enable TLS on the listener itself.
	TLSCertFile string
	TLSKeyFile  string

	Logger *slog.Logger
}

// HTTPServer serves the router built by NewRouter.
type HTTPServer struct {
	cfg    HTTPServerConfig
	logger *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewHTTPServer validates cfg.
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.Handler == nil {
		return nil, errors.New("http server requires a handler")
	}
	if err := validateHTTPSRequirement(cfg.BaseURL); err != nil {
		return nil, err
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, errors.New("both TLS certificate and key files are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{cfg: cfg, logger: logger}, nil
}

// Start listens and serves until Shutdown. It returns http.ErrServerClosed
// after a graceful shutdown.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.cfg.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Scans may run for minutes; each Graph call has its own timeout.
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting http server",
		slog.String("addr", ln.Addr().String()),
		slog.String("base_url", s.cfg.BaseURL),
		slog.Bool("tls", s.cfg.TLSCertFile != ""))

	if s.cfg.TLSCertFile != "" {
		return srv.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return srv.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// validateHTTPSRequirement allows plain HTTP only for loopback hosts, since
// the base URL is the OAuth redirect target.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return errors.New("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("base URL must use HTTPS outside localhost (got: %s)", baseURL)
		}
		return nil
	default:
		return fmt.Errorf("invalid URL scheme: %q. Must be http (localhost only) or https", u.Scheme)
	}
}
