package tokenstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*MemoryStore
	sweeps atomic.Int32
}

func (c *countingStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	c.sweeps.Add(1)
	return c.MemoryStore.SweepExpired(ctx, now)
}

func TestSweep_RemovesExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.Put(ctx, "gone", Credential{AccessToken: "a", Expiry: now.Add(-time.Second).UnixMilli()}))
	require.NoError(t, s.Put(ctx, "kept", Credential{AccessToken: "b", Expiry: now.Add(time.Hour).UnixMilli()}))

	removed, err := Sweep(ctx, s, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
}

func TestRunSweeper_OnceWithoutInterval(t *testing.T) {
	s := &countingStore{MemoryStore: NewMemoryStore()}
	RunSweeper(context.Background(), s, 0, nil)
	assert.Equal(t, int32(1), s.sweeps.Load())
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	s := &countingStore{MemoryStore: NewMemoryStore()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, s, 5*time.Millisecond, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.sweeps.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
