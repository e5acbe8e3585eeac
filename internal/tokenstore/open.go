package tokenstore

import (
	"context"
	"fmt"

	"github.com/teemow/mailgraph/internal/instrumentation"
)

// Config selects and configures a backend for Open.
type Config struct {
	// Backend is "memory", "postgres" or "redis".
	Backend string

	PostgresDSN string
	Redis       RedisConfig

	// EncryptionKey enables AES-256-GCM for tokens in durable backends.
	EncryptionKey []byte

	Metrics *instrumentation.Metrics
}

// Open builds the configured backend wrapped with instrumentation.
func Open(ctx context.Context, cfg Config) (*InstrumentedStore, error) {
	cipher, err := NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	var store Store
	switch cfg.Backend {
	case "", instrumentation.BackendMemory:
		cfg.Backend = instrumentation.BackendMemory
		store = NewMemoryStore()
	case instrumentation.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		store, err = OpenPostgres(ctx, cfg.PostgresDSN, cipher)
	case instrumentation.BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		store, err = OpenRedis(ctx, cfg.Redis, cipher)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (supported: memory, postgres, redis)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(store, cfg.Backend, cfg.Metrics), nil
}
