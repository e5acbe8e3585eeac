package common

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/mailgraph/internal/instrumentation"
	"github.com/teemow/mailgraph/internal/logging"
	"github.com/teemow/mailgraph/internal/server"
)

// InstrumentedAction wraps an action handler with a span, metrics and an
// audit record. A login prompt is recorded with status "login_required".
//
// Usage:
//
//	run := common.InstrumentedAction("latest", sc, handler)
func InstrumentedAction(action string, sc *server.ServerContext, handler Handler) Handler {
	return func(ctx context.Context, call Call) (Result, error) {
		attrs := instrumentation.NewSpanAttributeBuilder().
			WithIdentity(logging.AnonymizeIdentity(call.IdentityKey)).
			Build()
		ctx, span := instrumentation.StartToolSpan(ctx, action, attrs...)
		defer span.End()

		start := time.Now()
		invocation := instrumentation.NewToolInvocation(action).
			WithIdentity(call.IdentityKey).
			WithTransport(call.Transport).
			WithSpanContext(ctx)

		result, err := handler(ctx, call)

		status := instrumentation.StatusSuccess
		switch {
		case errors.Is(err, ErrLoginRequired):
			status = instrumentation.StatusLoginRequired
			invocation.RequiresLogin = true
			invocation.CompleteSuccess()
			instrumentation.SetSpanSuccess(span)
		case err != nil:
			status = instrumentation.StatusError
			invocation.CompleteWithError(err)
			instrumentation.SetSpanError(span, err)
		default:
			invocation.ResultCount = result.Count
			invocation.CompleteSuccess()
			span.SetAttributes(instrumentation.NewSpanAttributeBuilder().WithResultCount(result.Count).Build()...)
			instrumentation.SetSpanSuccess(span)
		}

		sc.Metrics().RecordToolInvocation(ctx, action, status, result.SenderDomain, time.Since(start))
		sc.AuditLogger().LogToolInvocation(ctx, invocation)

		return result, err
	}
}
