package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer name used for all spans started by mailgraph.
const TracerName = "github.com/teemow/mailgraph"

// Span attribute keys.
const (
	SpanAttrAction      = "mailgraph.action"
	SpanAttrIdentity    = "mailgraph.identity"
	SpanAttrOperation   = "mailgraph.operation"
	SpanAttrBackend     = "mailgraph.store.backend"
	SpanAttrResultCount = "mailgraph.result_count"
)

// SpanAttributeBuilder constructs span attributes with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{attrs: make([]attribute.KeyValue, 0, 6)}
}

// WithIdentity adds an already anonymized identity attribute.
func (b *SpanAttributeBuilder) WithIdentity(anonymized string) *SpanAttributeBuilder {
	if anonymized != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrIdentity, anonymized))
	}
	return b
}

// WithResultCount adds the number of items returned.
func (b *SpanAttributeBuilder) WithResultCount(n int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Int(SpanAttrResultCount, n))
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartToolSpan starts a server span for a tool action.
func StartToolSpan(ctx context.Context, action string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{attribute.String(SpanAttrAction, action)}, attrs...)
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "tool."+action,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartStoreSpan starts a client span for a credential store call.
func StartStoreSpan(ctx context.Context, backend, operation string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "store."+operation,
		trace.WithAttributes(
			attribute.String(SpanAttrBackend, backend),
			attribute.String(SpanAttrOperation, operation),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records err on the span and marks it failed. A nil err is ignored.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
