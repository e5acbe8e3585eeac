package server

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/teemow/mailgraph/internal/authflow"
	"github.com/teemow/mailgraph/internal/graph"
	"github.com/teemow/mailgraph/internal/instrumentation"
	"github.com/teemow/mailgraph/internal/mail"
	"github.com/teemow/mailgraph/internal/tokenstore"
)

// ServerContext holds the long-lived collaborators shared by every
// request: the credential store, the authorization controller and the
// Graph fetcher.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	store         tokenstore.Store
	auth          *authflow.Controller
	fetcher       *graph.Fetcher
	graphBaseURL  string
	publicBaseURL string

	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	shutdown bool
}

// ContextOption configures a ServerContext.
type ContextOption func(*ServerContext)

// WithAuthController sets the authorization flow controller.
func WithAuthController(c *authflow.Controller) ContextOption {
	return func(sc *ServerContext) { sc.auth = c }
}

// WithFetcher sets the Graph fetcher shared by all mail clients.
func WithFetcher(f *graph.Fetcher) ContextOption {
	return func(sc *ServerContext) { sc.fetcher = f }
}

// WithGraphBaseURL overrides the Graph root used by mail clients.
func WithGraphBaseURL(u string) ContextOption {
	return func(sc *ServerContext) { sc.graphBaseURL = u }
}

// WithPublicBaseURL sets the externally reachable URL of this server,
// used to build login links.
func WithPublicBaseURL(u string) ContextOption {
	return func(sc *ServerContext) { sc.publicBaseURL = strings.TrimRight(u, "/") }
}

// WithInstrumentation sets metrics and audit logging. Either may be nil.
func WithInstrumentation(m *instrumentation.Metrics, a *instrumentation.AuditLogger) ContextOption {
	return func(sc *ServerContext) {
		sc.metrics = m
		sc.audit = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ContextOption {
	return func(sc *ServerContext) { sc.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ContextOption {
	return func(sc *ServerContext) { sc.now = now }
}

// NewServerContext creates a server context around store.
func NewServerContext(ctx context.Context, store tokenstore.Store, opts ...ContextOption) (*ServerContext, error) {
	if store == nil {
		return nil, errors.New("server context requires a credential store")
	}
	shutdownCtx, cancel := context.WithCancel(ctx)
	sc := &ServerContext{
		ctx:          shutdownCtx,
		cancel:       cancel,
		store:        store,
		graphBaseURL: mail.DefaultBaseURL,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.fetcher == nil {
		sc.fetcher = graph.NewFetcher(graph.WithMetrics(sc.metrics), graph.WithLogger(sc.logger))
	}
	return sc, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Store returns the credential store.
func (sc *ServerContext) Store() tokenstore.Store { return sc.store }

// Auth returns the authorization controller, or nil when none is set.
func (sc *ServerContext) Auth() *authflow.Controller { return sc.auth }

// Fetcher returns the shared Graph fetcher.
func (sc *ServerContext) Fetcher() *graph.Fetcher { return sc.fetcher }

// MailClient returns a query client for accessToken.
func (sc *ServerContext) MailClient(accessToken string) *mail.Client {
	return mail.NewClient(sc.fetcher, accessToken,
		mail.WithBaseURL(sc.graphBaseURL),
		mail.WithLogger(sc.logger))
}

// LoginURL returns the link a user follows to bind a credential to
// identityKey.
func (sc *ServerContext) LoginURL(identityKey string) string {
	return sc.publicBaseURL + "/auth/login?identity_key=" + url.QueryEscape(identityKey)
}

// Metrics returns the metrics recorder, possibly nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics { return sc.metrics }

// AuditLogger returns the audit logger, possibly nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger { return sc.audit }

// Logger returns the logger.
func (sc *ServerContext) Logger() *slog.Logger { return sc.logger }

// Now returns the current time from the configured clock.
func (sc *ServerContext) Now() time.Time { return sc.now() }

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the context and closes the store. It is safe to call
// more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return sc.store.Close()
}
