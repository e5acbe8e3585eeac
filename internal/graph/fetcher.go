package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/mailgraph/internal/instrumentation"
	"github.com/teemow/mailgraph/internal/logging"
)

// DefaultTimeout bounds a single attempt, including reading the body.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBodyBytes caps a single response body.
const DefaultMaxBodyBytes = 32 << 20

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetcher performs GET requests against the remote API with retries.
// It is safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	sleep   Sleeper
	policy  Policy
	timeout time.Duration
	maxBody int64
	breaker *gobreaker.CircuitBreaker
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithSleeper replaces the sleep function used between attempts.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) { f.sleep = s }
}

// WithPolicy replaces the retry policy.
func WithPolicy(p Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithMaxBodyBytes caps the response body. Larger responses fail with
// ErrResponseTooLarge instead of being truncated.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBody = n }
}

// WithMetrics records attempts, retries and pages.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// BreakerSettings configures WithCircuitBreaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial requests allowed while half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerSettings trips after 5 consecutive transient failures.
var DefaultBreakerSettings = BreakerSettings{
	ConsecutiveFailures: 5,
	OpenTimeout:         30 * time.Second,
	HalfOpenRequests:    1,
}

// WithCircuitBreaker wraps each FetchPage, retries included, in a circuit
// breaker. Only throttling, server errors and transport failures count
// as failures.
func WithCircuitBreaker(s BreakerSettings) Option {
	return func(f *Fetcher) {
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "graph",
			MaxRequests: s.HalfOpenRequests,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.ConsecutiveFailures
			},
			IsSuccessful: breakerSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn("circuit breaker state changed",
					logging.Component(name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}
}

func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return !re.Transient()
	}
	return false
}

// NewFetcher creates a Fetcher. The default client is traced with otelhttp.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		sleep:   ContextSleep,
		policy:  DefaultPolicy,
		timeout: DefaultTimeout,
		maxBody: DefaultMaxBodyBytes,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPage GETs rawURL and returns the body of the first 2xx response.
// 429 and 5xx responses are retried per the policy; when retries run out
// the last *RemoteError is returned. Any other status fails immediately.
// Transport errors are not retried.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	if f.breaker == nil {
		return f.fetchWithRetry(ctx, rawURL, header)
	}
	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetchWithRetry(ctx, rawURL, header)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	endpoint := endpointLabel(rawURL)
	for attempt := 0; ; attempt++ {
		body, resp, err := f.do(ctx, rawURL, header, endpoint)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		remoteErr := &RemoteError{Status: resp.StatusCode, Body: string(body), URL: rawURL}
		retry, delay := f.policy.Next(attempt, resp)
		if !retry {
			return nil, remoteErr
		}

		f.metrics.RecordGraphRetry(ctx, resp.StatusCode)
		f.logger.DebugContext(ctx, "retrying graph request",
			logging.RedactURL(rawURL),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))

		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// do runs one attempt under the per-attempt timeout and returns the fully
// read body with the response headers.
func (f *Fetcher) do(ctx context.Context, rawURL string, header http.Header, endpoint string) ([]byte, *http.Response, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build graph request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.RecordGraphRequest(ctx, endpoint, 0, time.Since(start))
		return nil, nil, fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	f.metrics.RecordGraphRequest(ctx, endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, nil, fmt.Errorf("read graph response: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, nil, fmt.Errorf("%w: %s returned more than %d bytes", ErrResponseTooLarge, endpoint, f.maxBody)
	}
	return body, resp, nil
}

// knownSegments are path segments kept verbatim in metric labels. Anything
// else (ids, names) collapses to "{id}".
var knownSegments = map[string]bool{
	"v1.0": true, "beta": true, "me": true, "messages": true, "mailFolders": true,
	"childFolders": true, "inbox": true, "sentitems": true, "searchfolders": true,
}

func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	out := segs[:0]
	for _, s := range segs {
		if s == "v1.0" || s == "beta" {
			continue
		}
		if !knownSegments[s] {
			s = "{id}"
		}
		out = append(out, s)
	}
	return "/" + strings.Join(out, "/")
}
