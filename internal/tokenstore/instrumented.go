package tokenstore

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/mailgraph/internal/instrumentation"
)

// InstrumentedStore records metrics and spans around another Store.
type InstrumentedStore struct {
	next    Store
	backend string
	metrics *instrumentation.Metrics
}

// Instrument wraps s. metrics may be nil.
func Instrument(s Store, backend string, metrics *instrumentation.Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: s, backend: backend, metrics: metrics}
}

// Backend returns the backend name.
func (s *InstrumentedStore) Backend() string { return s.backend }

func (s *InstrumentedStore) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := instrumentation.StartStoreSpan(ctx, s.backend, op)
	defer span.End()

	err := fn(ctx)
	status := instrumentation.StatusSuccess
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
		instrumentation.SetSpanSuccess(span)
	case err != nil:
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	default:
		instrumentation.SetSpanSuccess(span)
	}
	s.metrics.RecordStoreOperation(ctx, s.backend, op, status)
	return err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, cred Credential) error {
	return s.observe(ctx, instrumentation.OperationPut, func(ctx context.Context) error {
		return s.next.Put(ctx, key, cred)
	})
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (*Credential, error) {
	var cred *Credential
	err := s.observe(ctx, instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		cred, err = s.next.Get(ctx, key)
		return err
	})
	return cred, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	return s.observe(ctx, instrumentation.OperationDelete, func(ctx context.Context) error {
		return s.next.Delete(ctx, key)
	})
}

func (s *InstrumentedStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.observe(ctx, instrumentation.OperationSweep, func(ctx context.Context) error {
		var err error
		n, err = s.next.SweepExpired(ctx, now)
		return err
	})
	s.metrics.RecordStoreSwept(ctx, s.backend, n)
	return n, err
}

// Ping delegates to the wrapped store when it supports health checks.
func (s *InstrumentedStore) Ping(ctx context.Context) error {
	if p, ok := s.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *InstrumentedStore) Close() error { return s.next.Close() }
