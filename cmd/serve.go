package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/mailgraph/internal/authflow"
	"github.com/teemow/mailgraph/internal/graph"
	"github.com/teemow/mailgraph/internal/instrumentation"
	"github.com/teemow/mailgraph/internal/logging"
	"github.com/teemow/mailgraph/internal/resources"
	"github.com/teemow/mailgraph/internal/server"
	"github.com/teemow/mailgraph/internal/tokenstore"
	"github.com/teemow/mailgraph/internal/tools"
	"github.com/teemow/mailgraph/internal/tools/mail_tools"
)

// Transport names accepted by --transport.
const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

// errStdioClosed ends the serve group when the stdio client disconnects.
var errStdioClosed = errors.New("stdio session ended")

// ServeConfig holds every serve setting after flags and env are merged.
type ServeConfig struct {
	Transport string
	HTTPAddr  string
	// BaseURL is the public URL of this server; login links and the OAuth
	// redirect are built from it.
	BaseURL string
	APIKeys []string

	ClientID     string
	ClientSecret string
	Tenant       string
	Scopes       []string

	GraphBaseURL   string
	CircuitBreaker bool

	Storage       StorageConfig
	SweepInterval time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool

	TLSCertFile string
	TLSKeyFile  string

	Metrics MetricsConfig
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

func newServeCmd() *cobra.Command {
	return newServeCmdWithConfig(&ServeConfig{})
}

// newServeCmdWithConfig binds the serve flags to cfg.
func newServeCmdWithConfig(cfg *ServeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mailgraph server",
		Long: `Start the HTTP surface (authorization endpoints, JSON action endpoint and
MCP streamable HTTP endpoint) backed by the configured token store.

Transports:
  - streamable-http: MCP at /mcp next to the JSON endpoint (default)
  - stdio: MCP over standard input/output; the HTTP listener still runs so
    users can complete the login flow

Azure AD application:
  --client-id / AZURE_CLIENT_ID is required. The redirect URI registered for
  the application must be <base-url>/auth/callback.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadServeEnvVars(cmd, cfg)
			if err := cfg.validate(); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, *cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Transport, "transport", transportStreamableHTTP, "MCP transport: streamable-http or stdio. Can also use MCP_TRANSPORT env var.")
	f.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP listen address. Can also use HTTP_ADDR env var.")
	f.StringVar(&cfg.BaseURL, "base-url", "", "Public base URL, e.g. https://mail.example.com. Defaults to http://localhost<http-addr>. Can also use MAILGRAPH_BASE_URL env var.")
	f.StringSliceVar(&cfg.APIKeys, "api-keys", nil, "API keys accepted on /api/tools, /mcp and /auth/revoke (comma-separated). Can also use MAILGRAPH_API_KEYS env var.")
	f.StringVar(&cfg.ClientID, "client-id", "", "Azure AD application (client) ID. Can also use AZURE_CLIENT_ID env var.")
	f.StringVar(&cfg.ClientSecret, "client-secret", "", "Azure AD client secret; omit for public clients. Can also use AZURE_CLIENT_SECRET env var.")
	f.StringVar(&cfg.Tenant, "tenant", "common", "Azure AD tenant ID or domain. Can also use AZURE_TENANT_ID env var.")
	f.StringSliceVar(&cfg.Scopes, "scopes", authflow.DefaultScopes, "OAuth scopes to request (comma-separated). Can also use MAILGRAPH_SCOPES env var.")
	f.StringVar(&cfg.GraphBaseURL, "graph-base-url", "", "Microsoft Graph root (default: https://graph.microsoft.com/v1.0). Can also use GRAPH_BASE_URL env var.")
	f.BoolVar(&cfg.CircuitBreaker, "circuit-breaker", false, "Stop calling Graph for a while after repeated throttling or server errors. Can also use CIRCUIT_BREAKER_ENABLED env var.")
	addStorageFlags(cmd, &cfg.Storage)
	f.DurationVar(&cfg.SweepInterval, "sweep-interval", 15*time.Minute, "How often expired credentials are removed; 0 sweeps only at startup. Can also use SWEEP_INTERVAL env var.")
	f.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", 10, "Requests per second allowed per client IP. Can also use RATE_LIMIT_RPS env var.")
	f.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", 20, "Burst allowed per client IP. Can also use RATE_LIMIT_BURST env var.")
	f.BoolVar(&cfg.TrustProxy, "trust-proxy", false, "Take the client IP from X-Forwarded-For / X-Real-IP. Only behind a trusted proxy. Can also use TRUST_PROXY env var.")
	f.StringVar(&cfg.TLSCertFile, "tls-cert-file", "", "Path to TLS certificate file (PEM format). Can also use TLS_CERT_FILE env var.")
	f.StringVar(&cfg.TLSKeyFile, "tls-key-file", "", "Path to TLS private key file (PEM format). Can also use TLS_KEY_FILE env var.")
	f.BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func loadServeEnvVars(cmd *cobra.Command, cfg *ServeConfig) {
	envString(cmd, "transport", "MCP_TRANSPORT", &cfg.Transport)
	envString(cmd, "http-addr", "HTTP_ADDR", &cfg.HTTPAddr)
	envString(cmd, "base-url", "MAILGRAPH_BASE_URL", &cfg.BaseURL)
	envList(cmd, "api-keys", "MAILGRAPH_API_KEYS", &cfg.APIKeys)
	envString(cmd, "client-id", "AZURE_CLIENT_ID", &cfg.ClientID)
	envString(cmd, "client-secret", "AZURE_CLIENT_SECRET", &cfg.ClientSecret)
	envString(cmd, "tenant", "AZURE_TENANT_ID", &cfg.Tenant)
	envList(cmd, "scopes", "MAILGRAPH_SCOPES", &cfg.Scopes)
	envString(cmd, "graph-base-url", "GRAPH_BASE_URL", &cfg.GraphBaseURL)
	envBool(cmd, "circuit-breaker", "CIRCUIT_BREAKER_ENABLED", &cfg.CircuitBreaker)
	loadStorageEnvVars(cmd, &cfg.Storage)
	envDuration(cmd, "sweep-interval", "SWEEP_INTERVAL", &cfg.SweepInterval)
	envFloat(cmd, "rate-limit-rps", "RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	envInt(cmd, "rate-limit-burst", "RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	envBool(cmd, "trust-proxy", "TRUST_PROXY", &cfg.TrustProxy)
	envString(cmd, "tls-cert-file", "TLS_CERT_FILE", &cfg.TLSCertFile)
	envString(cmd, "tls-key-file", "TLS_KEY_FILE", &cfg.TLSKeyFile)
	envBool(cmd, "metrics-enabled", "METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString(cmd, "metrics-addr", "METRICS_ADDR", &cfg.Metrics.Addr)
}

// validate checks required settings and fills derived defaults.
func (cfg *ServeConfig) validate() error {
	switch cfg.Transport {
	case transportStdio, transportStreamableHTTP:
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: %s, %s)", cfg.Transport, transportStdio, transportStreamableHTTP)
	}
	if cfg.ClientID == "" {
		return errors.New("an Azure AD client id is required (--client-id or AZURE_CLIENT_ID)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://" + cfg.HTTPAddr
		if strings.HasPrefix(cfg.HTTPAddr, ":") {
			cfg.BaseURL = "http://localhost" + cfg.HTTPAddr
		}
		slog.Info("no base URL configured, using auto-detected; set --base-url for deployed instances",
			slog.String("base_url", cfg.BaseURL))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.APIKeys) == 0 {
		slog.Warn("no API keys configured: /api/tools, /mcp and /auth/revoke will reject every request")
	}
	if cfg.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit must be positive (got %v)", cfg.RateLimitRPS)
	}
	return nil
}

func runServe(ctx context.Context, cfg ServeConfig) error {
	logger := slog.Default()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	var metrics *instrumentation.Metrics
	var audit *instrumentation.AuditLogger
	if provider.Enabled() {
		metrics = provider.Metrics()
		audit = instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)
	}

	storeCfg, err := cfg.Storage.tokenStoreConfig(metrics)
	if err != nil {
		return err
	}
	store, err := tokenstore.Open(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}

	fetcherOpts := []graph.Option{graph.WithMetrics(metrics), graph.WithLogger(logger)}
	if cfg.CircuitBreaker {
		fetcherOpts = append(fetcherOpts, graph.WithCircuitBreaker(graph.DefaultBreakerSettings))
	}

	auth, err := authflow.NewController(authflow.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Tenant:       cfg.Tenant,
		RedirectURL:  cfg.BaseURL + "/auth/callback",
		Scopes:       cfg.Scopes,
		Logger:       logger,
		Metrics:      metrics,
	}, store)
	if err != nil {
		_ = store.Close()
		return err
	}

	scOpts := []server.ContextOption{
		server.WithAuthController(auth),
		server.WithFetcher(graph.NewFetcher(fetcherOpts...)),
		server.WithPublicBaseURL(cfg.BaseURL),
		server.WithInstrumentation(metrics, audit),
		server.WithLogger(logger),
	}
	if cfg.GraphBaseURL != "" {
		scOpts = append(scOpts, server.WithGraphBaseURL(cfg.GraphBaseURL))
	}
	sc, err := server.NewServerContext(ctx, store, scOpts...)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := sc.Shutdown(); err != nil {
			logger.Warn("error during server context shutdown", logging.Err(err))
		}
	}()

	dispatcher, err := tools.NewDispatcher(sc, mail_tools.Actions())
	if err != nil {
		return err
	}
	mcpSrv := mcpserver.NewMCPServer("mailgraph", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)
	tools.RegisterMCPTools(mcpSrv, dispatcher)
	resources.Register(mcpSrv, sc, dispatcher.Actions())

	routerCfg := server.RouterConfig{
		SC:          sc,
		APIKeys:     server.NewAPIKeyAuth(cfg.APIKeys),
		RateLimiter: server.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, metrics, logger),
		Health:      server.NewHealthChecker(sc),
		TrustProxy:  cfg.TrustProxy,
		Tools:       dispatcher,
	}
	if cfg.Transport == transportStreamableHTTP {
		routerCfg.MCP = mcpserver.NewStreamableHTTPServer(mcpSrv, mcpserver.WithEndpointPath("/mcp"))
	}
	httpSrv, err := server.NewHTTPServer(server.HTTPServerConfig{
		Addr:        cfg.HTTPAddr,
		BaseURL:     cfg.BaseURL,
		Handler:     server.NewRouter(routerCfg),
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	var metricsSrv *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() {
		metricsSrv, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tokenstore.RunSweeper(gctx, store, cfg.SweepInterval, logging.NewSlogAdapter(logger))
		return nil
	})
	g.Go(func() error {
		routerCfg.RateLimiter.Run(gctx.Done(), time.Minute)
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			if err := metricsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server stopped with error: %w", err)
			}
			return nil
		})
	}
	if cfg.Transport == transportStdio {
		g.Go(func() error {
			if err := mcpserver.ServeStdio(mcpSrv); err != nil {
				return fmt.Errorf("stdio server stopped with error: %w", err)
			}
			return errStdioClosed
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		routerCfg.Health.SetReady(false)
		var errs []error
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down HTTP server: %w", err))
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("error shutting down metrics server: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	logger.Info("mailgraph started",
		slog.String("transport", cfg.Transport),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("base_url", cfg.BaseURL),
		slog.String("storage", storeCfg.Backend),
		slog.Bool("metrics", metricsSrv != nil))

	if err := g.Wait(); err != nil && !errors.Is(err, errStdioClosed) {
		return err
	}
	logger.Info("mailgraph stopped")
	return nil
}
