package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrBackend   = "backend"
	attrResult    = "result"
	attrAction    = "action"
	attrDomain    = "sender_domain"
	attrEndpoint  = "endpoint"
)

// Metrics records the service's metrics. The zero value is a valid no-op
// recorder, and all methods are safe to call on a nil receiver.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	rateLimitedTotal    metric.Int64Counter

	graphRequestsTotal   metric.Int64Counter
	graphRequestDuration metric.Float64Histogram
	graphRetriesTotal    metric.Int64Counter
	graphPagesTotal      metric.Int64Counter

	authCallbacksTotal metric.Int64Counter

	storeOperationsTotal metric.Int64Counter
	storeSweptTotal      metric.Int64Counter

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	detailedLabels bool
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}
	var err error

	if m.httpRequestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0)); err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}
	if m.rateLimitedTotal, err = meter.Int64Counter("http_rate_limited_total",
		metric.WithDescription("Requests rejected by the per-client rate limiter"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create http_rate_limited_total counter: %w", err)
	}

	if m.graphRequestsTotal, err = meter.Int64Counter("graph_requests_total",
		metric.WithDescription("Total number of Microsoft Graph HTTP attempts"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create graph_requests_total counter: %w", err)
	}
	if m.graphRequestDuration, err = meter.Float64Histogram("graph_request_duration_seconds",
		metric.WithDescription("Microsoft Graph attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0)); err != nil {
		return nil, fmt.Errorf("failed to create graph_request_duration_seconds histogram: %w", err)
	}
	if m.graphRetriesTotal, err = meter.Int64Counter("graph_retries_total",
		metric.WithDescription("Retries scheduled after throttling or server errors"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, fmt.Errorf("failed to create graph_retries_total counter: %w", err)
	}
	if m.graphPagesTotal, err = meter.Int64Counter("graph_pages_total",
		metric.WithDescription("Result pages consumed from Microsoft Graph"),
		metric.WithUnit("{page}")); err != nil {
		return nil, fmt.Errorf("failed to create graph_pages_total counter: %w", err)
	}

	if m.authCallbacksTotal, err = meter.Int64Counter("oauth_auth_total",
		metric.WithDescription("Authorization callbacks by outcome"),
		metric.WithUnit("{callback}")); err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	if m.storeOperationsTotal, err = meter.Int64Counter("token_store_operations_total",
		metric.WithDescription("Credential store operations by backend and status"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("failed to create token_store_operations_total counter: %w", err)
	}
	if m.storeSweptTotal, err = meter.Int64Counter("token_sweep_removed_total",
		metric.WithDescription("Expired credentials removed by sweeps"),
		metric.WithUnit("{credential}")); err != nil {
		return nil, fmt.Errorf("failed to create token_sweep_removed_total counter: %w", err)
	}

	if m.toolInvocationsTotal, err = meter.Int64Counter("tool_invocations_total",
		metric.WithDescription("Total number of mail tool invocations"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, fmt.Errorf("failed to create tool_invocations_total counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("tool_duration_seconds",
		metric.WithDescription("Mail tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0)); err != nil {
		return nil, fmt.Errorf("failed to create tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an inbound HTTP request. path should be the
// route pattern, not the raw URL.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context, path string) {
	if m == nil || m.rateLimitedTotal == nil {
		return
	}
	m.rateLimitedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrPath, path)))
}

// RecordGraphRequest records one HTTP attempt against Microsoft Graph.
// statusCode is 0 for transport failures.
func (m *Metrics) RecordGraphRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration) {
	if m == nil || m.graphRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrEndpoint, endpoint),
		attribute.String(attrStatus, StatusClass(statusCode)),
	)
	m.graphRequestsTotal.Add(ctx, 1, attrs)
	m.graphRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordGraphRetry counts a scheduled retry for the given status code.
func (m *Metrics) RecordGraphRetry(ctx context.Context, statusCode int) {
	if m == nil || m.graphRetriesTotal == nil {
		return
	}
	m.graphRetriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, strconv.Itoa(statusCode))))
}

// RecordGraphPage counts a consumed result page.
func (m *Metrics) RecordGraphPage(ctx context.Context) {
	if m == nil || m.graphPagesTotal == nil {
		return
	}
	m.graphPagesTotal.Add(ctx, 1)
}

// RecordAuthCallback records the outcome of an authorization callback.
func (m *Metrics) RecordAuthCallback(ctx context.Context, result string) {
	if m == nil || m.authCallbacksTotal == nil {
		return
	}
	m.authCallbacksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordStoreOperation records a credential store call.
func (m *Metrics) RecordStoreOperation(ctx context.Context, backend, operation, status string) {
	if m == nil || m.storeOperationsTotal == nil {
		return
	}
	m.storeOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrBackend, backend),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	))
}

// RecordStoreSwept adds the number of credentials removed by a sweep.
func (m *Metrics) RecordStoreSwept(ctx context.Context, backend string, removed int) {
	if m == nil || m.storeSweptTotal == nil || removed <= 0 {
		return
	}
	m.storeSweptTotal.Add(ctx, int64(removed), metric.WithAttributes(attribute.String(attrBackend, backend)))
}

// RecordToolInvocation records a tool action with its status and duration.
// senderDomain is attached only when detailed labels are enabled.
func (m *Metrics) RecordToolInvocation(ctx context.Context, action, status, senderDomain string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrAction, action),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && senderDomain != "" {
		attrs = append(attrs, attribute.String(attrDomain, senderDomain))
	}
	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
