package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/mailgraph/internal/logging"
)

// ToolInvocation captures one tool action for the audit trail.
//
// IdentityKey is a bearer-like handle for a stored credential. It is only
// written raw when the audit logger has IncludePII set.
type ToolInvocation struct {
	Action      string
	IdentityKey string

	// Transport is "http" or "mcp".
	Transport string

	RequiresLogin bool
	ResultCount   int

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation creates a ToolInvocation with timing started.
func NewToolInvocation(action string) *ToolInvocation {
	return &ToolInvocation{Action: action, StartTime: time.Now()}
}

// WithIdentity sets the identity key the action ran under.
func (ti *ToolInvocation) WithIdentity(identityKey string) *ToolInvocation {
	ti.IdentityKey = identityKey
	return ti
}

// WithTransport records which surface received the call.
func (ti *ToolInvocation) WithTransport(transport string) *ToolInvocation {
	ti.Transport = transport
	return ti
}

// WithSpanContext copies trace identifiers from the span in ctx.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		ti.TraceID = sc.TraceID().String()
		ti.SpanID = sc.SpanID().String()
	}
	return ti
}

// Complete stops the clock and records the outcome.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteWithError marks the invocation as failed with the given error.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// Status returns "success" or "error".
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns the attributes for an audit record. The identity key is
// anonymized unless includePII is set.
func (ti *ToolInvocation) LogAttrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", ti.Action),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if includePII {
		attrs = append(attrs, slog.String("identity_key", ti.IdentityKey))
	} else {
		attrs = append(attrs, logging.Identity(ti.IdentityKey))
	}
	if ti.Transport != "" {
		attrs = append(attrs, slog.String("transport", ti.Transport))
	}
	if ti.RequiresLogin {
		attrs = append(attrs, slog.Bool("requires_login", true))
	}
	if ti.Success {
		attrs = append(attrs, slog.Int("result_count", ti.ResultCount))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID), slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	return attrs
}

// AuditLogger writes one structured record per tool invocation.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLoggerWithConfig creates an AuditLogger from config.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("log_type", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation writes ti as "tool_executed" or "tool_failed".
func (al *AuditLogger) LogToolInvocation(ctx context.Context, ti *ToolInvocation) {
	if al == nil || !al.enabled || ti == nil {
		return
	}
	level := slog.LevelInfo
	msg := "tool_executed"
	if !ti.Success {
		level = slog.LevelWarn
		msg = "tool_failed"
	}
	al.logger.LogAttrs(ctx, level, msg, ti.LogAttrs(al.includePII)...)
}
