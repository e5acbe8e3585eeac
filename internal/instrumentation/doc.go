// Package instrumentation provides OpenTelemetry metrics, tracing and
// audit logging for mailgraph.
//
// # Metrics
//
// Metrics are exported through Prometheus by default (served by the
// metrics server on :9090), or pushed via OTLP. Instruments cover:
//
//   - inbound HTTP requests and rate-limit rejections
//   - Microsoft Graph attempts, retries and consumed pages
//   - authorization callback outcomes
//   - credential store operations and sweeps
//   - tool invocations
//
// A zero or nil *Metrics is a valid no-op recorder, so components can be
// constructed without instrumentation in tests.
//
// # Configuration
//
// DefaultConfig reads the standard OTEL_* variables plus:
//
//	INSTRUMENTATION_ENABLED      true|false (default true)
//	METRICS_EXPORTER             prometheus|otlp|stdout
//	TRACING_EXPORTER             otlp|stdout|none
//	METRICS_DETAILED_LABELS      attach sender domains to tool metrics
//	AUDIT_LOGGING_ENABLED        true|false (default true)
//	AUDIT_LOGGING_INCLUDE_PII    log raw identity keys
package instrumentation
