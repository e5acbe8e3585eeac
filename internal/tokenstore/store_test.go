package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

// storeFactory returns a fresh store and a function that moves its clock.
type storeFactory func(t *testing.T) (Store, func(time.Time))

func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("last write wins and created_at is preserved", func(t *testing.T) {
		s, setClock := newStore(t)

		setClock(t0)
		require.NoError(t, s.Put(ctx, "k", Credential{
			AccessToken:  "first",
			RefreshToken: "r1",
			Expiry:       t0.Add(time.Hour).UnixMilli(),
			Scopes:       "Mail.Read offline_access",
		}))

		t1 := t0.Add(10 * time.Minute)
		setClock(t1)
		require.NoError(t, s.Put(ctx, "k", Credential{
			AccessToken: "second",
			Expiry:      t1.Add(time.Hour).UnixMilli(),
			Scopes:      "Mail.Read",
		}))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "k", got.IdentityKey)
		assert.Equal(t, "second", got.AccessToken)
		assert.Equal(t, "", got.RefreshToken)
		assert.Equal(t, t1.Add(time.Hour).UnixMilli(), got.Expiry)
		assert.Equal(t, "Mail.Read", got.Scopes)
		assert.True(t, got.CreatedAt.Equal(t0), "created_at = %v, want %v", got.CreatedAt, t0)
		assert.True(t, got.UpdatedAt.Equal(t1), "updated_at = %v, want %v", got.UpdatedAt, t1)
	})

	t.Run("expired record is still found", func(t *testing.T) {
		s, setClock := newStore(t)
		setClock(t0)
		require.NoError(t, s.Put(ctx, "old", Credential{AccessToken: "a", Expiry: t0.Add(-time.Hour).UnixMilli()}))

		got, err := s.Get(ctx, "old")
		require.NoError(t, err)
		assert.False(t, got.Usable(t0))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s, setClock := newStore(t)
		setClock(t0)
		require.NoError(t, s.Put(ctx, "k", Credential{AccessToken: "a", Expiry: t0.Add(time.Hour).UnixMilli()}))

		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "never-existed"))

		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("sweep removes expiry at or before now", func(t *testing.T) {
		s, setClock := newStore(t)
		setClock(t0)
		now := t0.Add(time.Hour)

		require.NoError(t, s.Put(ctx, "before", Credential{AccessToken: "a", Expiry: now.Add(-time.Millisecond).UnixMilli()}))
		require.NoError(t, s.Put(ctx, "exact", Credential{AccessToken: "b", Expiry: now.UnixMilli()}))
		require.NoError(t, s.Put(ctx, "after", Credential{AccessToken: "c", Expiry: now.Add(time.Millisecond).UnixMilli()}))

		removed, err := s.SweepExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		removed, err = s.SweepExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)

		_, err = s.Get(ctx, "before")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "exact")
		assert.ErrorIs(t, err, ErrNotFound)
		got, err := s.Get(ctx, "after")
		require.NoError(t, err)
		assert.Equal(t, "c", got.AccessToken)
	})

	t.Run("sweep ignores records extended by a later put", func(t *testing.T) {
		s, setClock := newStore(t)
		setClock(t0)
		require.NoError(t, s.Put(ctx, "k", Credential{AccessToken: "a", Expiry: t0.UnixMilli()}))
		require.NoError(t, s.Put(ctx, "k", Credential{AccessToken: "b", Expiry: t0.Add(time.Hour).UnixMilli()}))

		removed, err := s.SweepExpired(ctx, t0)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})
}

func TestCredentialUsable(t *testing.T) {
	now := t0
	tests := []struct {
		name   string
		cred   *Credential
		usable bool
	}{
		{"expires in 30s", &Credential{AccessToken: "a", Expiry: now.Add(30 * time.Second).UnixMilli()}, false},
		{"expires in exactly 60s", &Credential{AccessToken: "a", Expiry: now.Add(60 * time.Second).UnixMilli()}, false},
		{"expires in 120s", &Credential{AccessToken: "a", Expiry: now.Add(120 * time.Second).UnixMilli()}, true},
		{"already expired", &Credential{AccessToken: "a", Expiry: now.Add(-time.Minute).UnixMilli()}, false},
		{"no access token", &Credential{Expiry: now.Add(time.Hour).UnixMilli()}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.usable, tt.cred.Usable(now))
		})
	}
}

func TestCredentialToken(t *testing.T) {
	c := &Credential{AccessToken: "a", RefreshToken: "r", Expiry: t0.UnixMilli(), Scopes: "Mail.Read  offline_access"}
	tok := c.Token()
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(t0))
	assert.Equal(t, []string{"Mail.Read", "offline_access"}, c.ScopeList())
}

func TestErrNotFoundIsDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrNotFound, context.DeadlineExceeded))
}
