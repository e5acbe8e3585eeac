package tokenstore

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	items map[string]Credential
}

// MemoryStore keeps credentials in process memory. Keys are spread over
// fixed shards so writers to different keys rarely contend.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]Credential)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Put upserts cred under key.
func (s *MemoryStore) Put(_ context.Context, key string, cred Credential) error {
	sh := s.shardFor(key)
	now := s.now().UTC()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	cred.IdentityKey = key
	cred.UpdatedAt = now
	if existing, ok := sh.items[key]; ok {
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.CreatedAt = now
	}
	sh.items[key] = cred
	return nil
}

// Get returns a copy of the record for key.
func (s *MemoryStore) Get(_ context.Context, key string) (*Credential, error) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	cred, ok := sh.items[key]
	sh.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &cred, nil
}

// Delete removes the record for key if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
	return nil
}

// SweepExpired removes every record with Expiry <= now.
func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UnixMilli()
	removed := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for key, cred := range sh.items {
			if cred.Expiry <= cutoff {
				delete(sh.items, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
