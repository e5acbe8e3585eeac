package tokenstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// SkewWindow is how far ahead of expiry a credential stops being usable.
const SkewWindow = 60 * time.Second

// ErrNotFound is returned by Get when no record exists for a key. An
// expired record is still found.
var ErrNotFound = errors.New("credential not found")

// Credential is the single record bound to an identity key.
type Credential struct {
	IdentityKey  string    `json:"identity_key"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       int64     `json:"expiry"` // epoch milliseconds
	Scopes       string    `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpiryTime returns Expiry as a time.Time.
func (c *Credential) ExpiryTime() time.Time {
	return time.UnixMilli(c.Expiry)
}

// Usable reports whether the access token can still be used at now,
// leaving SkewWindow of headroom.
func (c *Credential) Usable(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return c.Expiry > now.Add(SkewWindow).UnixMilli()
}

// Token converts the credential into an oauth2.Token.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.ExpiryTime(),
	}
}

// ScopeList splits Scopes on whitespace.
func (c *Credential) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// Store persists at most one Credential per identity key.
//
// Put replaces the token fields of an existing record and keeps its
// CreatedAt. Delete of an absent key succeeds. SweepExpired removes every
// record whose Expiry is at or before now and returns how many it removed.
type Store interface {
	Put(ctx context.Context, key string, cred Credential) error
	Get(ctx context.Context, key string) (*Credential, error)
	Delete(ctx context.Context, key string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
