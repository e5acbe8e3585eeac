package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestSpanAttributeBuilder(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithIdentity("").
		WithIdentity("id:abc").
		WithResultCount(3).
		Build()
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes (empty identity skipped), got %d", len(attrs))
	}
	if attrs[1].Key != SpanAttrResultCount || attrs[1].Value.AsInt64() != 3 {
		t.Errorf("result count attribute = %v", attrs[1])
	}
}

func TestStartToolSpan(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartToolSpan(context.Background(), "latest")
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("expected a valid span in context")
	}
	SetSpanError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Name() != "tool.latest" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", ended[0].Status().Code)
	}
	var action string
	for _, kv := range ended[0].Attributes() {
		if kv.Key == SpanAttrAction {
			action = kv.Value.AsString()
		}
	}
	if action != "latest" {
		t.Errorf("action attribute = %q, want %q", action, "latest")
	}
}

func TestStartStoreSpan(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartStoreSpan(context.Background(), BackendPostgres, OperationPut)
	SetSpanError(span, nil)
	SetSpanSuccess(span)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Name() != "store.put" {
		t.Fatalf("unexpected spans: %v", ended)
	}
	if ended[0].Status().Code != codes.Ok {
		t.Errorf("span status = %v, want Ok", ended[0].Status().Code)
	}
}
