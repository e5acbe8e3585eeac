package authflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/mailgraph/internal/tokenstore"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

// countingStore counts writes to the wrapped store.
type countingStore struct {
	tokenstore.Store
	puts atomic.Int32
}

func (s *countingStore) Put(ctx context.Context, key string, cred tokenstore.Credential) error {
	s.puts.Add(1)
	return s.Store.Put(ctx, key, cred)
}

type tokenEndpoint struct {
	*httptest.Server
	forms  []url.Values
	auths  []string
	status int
	body   string
}

func newTokenEndpoint(t *testing.T, status int, body string) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{status: status, body: body}
	te.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(raw))
		te.forms = append(te.forms, form)
		te.auths = append(te.auths, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(te.status)
		_, _ = io.WriteString(w, te.body)
	}))
	t.Cleanup(te.Close)
	return te
}

func newController(t *testing.T, te *tokenEndpoint) (*Controller, *countingStore) {
	t.Helper()
	store := &countingStore{Store: tokenstore.NewMemoryStore()}
	cfg := Config{
		ClientID:     "client-123",
		ClientSecret: "secret",
		RedirectURL:  "https://mail.example.com/auth/callback",
		Scopes:       []string{"offline_access", "Mail.Read"},
		Now:          func() time.Time { return fixedNow },
	}
	if te != nil {
		cfg.Endpoint = &oauth2.Endpoint{AuthURL: te.URL + "/authorize", TokenURL: te.URL + "/token"}
	}
	c, err := NewController(cfg, store)
	require.NoError(t, err)
	return c, store
}

func TestNewController_Validation(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	_, err := NewController(Config{RedirectURL: "https://x"}, store)
	assert.Error(t, err)
	_, err = NewController(Config{ClientID: "c"}, store)
	assert.Error(t, err)
	_, err = NewController(Config{ClientID: "c", RedirectURL: "https://x"}, nil)
	assert.Error(t, err)
}

func TestNewController_DefaultsToCommonTenant(t *testing.T) {
	c, err := NewController(Config{ClientID: "c", RedirectURL: "https://x/cb"}, tokenstore.NewMemoryStore())
	require.NoError(t, err)

	u, err := c.Initiate("key-1")
	require.NoError(t, err)
	assert.Contains(t, u, "https://login.microsoftonline.com/common/oauth2/v2.0/authorize")
	assert.Equal(t, "offline_access User.Read Mail.Read", c.Scope())
}

func TestInitiate(t *testing.T) {
	c, _ := newController(t, nil)

	_, err := c.Initiate("")
	assert.ErrorIs(t, err, ErrMissingIdentity)

	raw, err := c.Initiate("5f0c3a5e-7d2b-4d8e-9d53-5b1f0e0c9a11")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "5f0c3a5e-7d2b-4d8e-9d53-5b1f0e0c9a11", q.Get("state"))
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "offline_access Mail.Read", q.Get("scope"))
	assert.Equal(t, "https://mail.example.com/auth/callback", q.Get("redirect_uri"))
}

func TestParseCallback(t *testing.T) {
	q := url.Values{"code": {"c"}, "state": {"s"}, "error": {"e"}, "error_description": {"d"}}
	assert.Equal(t, CallbackParams{Code: "c", State: "s", Error: "e", ErrorDescription: "d"}, ParseCallback(q))
}

func TestComplete_Success(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK,
		`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"Bearer","scope":"Mail.Read"}`)
	c, store := newController(t, te)
	ctx := context.Background()

	cred, err := c.Complete(ctx, CallbackParams{Code: "the-code", State: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, "key-1", cred.IdentityKey)
	assert.Equal(t, fixedNow.UnixMilli()+3_600_000, cred.Expiry)

	require.Len(t, te.forms, 1)
	form := te.forms[0]
	assert.Equal(t, "client-123", form.Get("client_id"))
	assert.Equal(t, "secret", form.Get("client_secret"))
	assert.Equal(t, "offline_access Mail.Read", form.Get("scope"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "https://mail.example.com/auth/callback", form.Get("redirect_uri"))
	assert.Equal(t, "authorization_code", form.Get("grant_type"))

	stored, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AccessToken)
	assert.Equal(t, "rt-1", stored.RefreshToken)
	assert.Equal(t, "Mail.Read", stored.Scopes)
	assert.Equal(t, int32(1), store.puts.Load())
}

func TestComplete_SendsClientCredentialsInForm(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"at","expires_in":60}`)
	store := tokenstore.NewMemoryStore()
	c, err := NewController(Config{
		ClientID:    "public-client",
		RedirectURL: "https://mail.example.com/auth/callback",
		Endpoint:    &oauth2.Endpoint{AuthURL: te.URL + "/authorize", TokenURL: te.URL + "/token"},
		Now:         func() time.Time { return fixedNow },
	}, store)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), CallbackParams{Code: "c", State: "key-1"})
	require.NoError(t, err)

	require.Len(t, te.forms, 1)
	assert.Empty(t, te.auths[0])
	assert.Equal(t, "public-client", te.forms[0].Get("client_id"))
	_, hasSecret := te.forms[0]["client_secret"]
	assert.False(t, hasSecret)
	assert.Equal(t, "offline_access User.Read Mail.Read", te.forms[0].Get("scope"))
}

func TestComplete_ReplacesExistingCredential(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"new","expires_in":60}`)
	c, store := newController(t, te)
	ctx := context.Background()
	require.NoError(t, store.Store.Put(ctx, "key-1", tokenstore.Credential{AccessToken: "old", Expiry: 1}))

	_, err := c.Complete(ctx, CallbackParams{Code: "x", State: "key-1"})
	require.NoError(t, err)

	got, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, "offline_access Mail.Read", got.Scopes)
}

func TestComplete_ProviderErrorNeverWrites(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"at"}`)
	c, store := newController(t, te)

	_, err := c.Complete(context.Background(), CallbackParams{
		Code: "c", State: "key-1", Error: "access_denied", ErrorDescription: "user said no",
	})
	require.ErrorIs(t, err, ErrProviderError)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "access_denied", pe.Code)
	assert.Equal(t, "user said no", pe.Description)

	assert.Empty(t, te.forms)
	assert.Equal(t, int32(0), store.puts.Load())
}

func TestComplete_MissingParameters(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"at"}`)
	c, store := newController(t, te)

	for _, p := range []CallbackParams{{State: "s"}, {Code: "c"}, {}} {
		_, err := c.Complete(context.Background(), p)
		assert.ErrorIs(t, err, ErrMissingParameters)
	}
	assert.Empty(t, te.forms)
	assert.Equal(t, int32(0), store.puts.Load())
}

func TestComplete_ExchangeFailureLeavesStoreUntouched(t *testing.T) {
	body := `{"error":"invalid_grant","error_description":"AADSTS70008: expired"}`
	te := newTokenEndpoint(t, http.StatusBadRequest, body)
	c, store := newController(t, te)
	ctx := context.Background()
	require.NoError(t, store.Store.Put(ctx, "key-1", tokenstore.Credential{AccessToken: "old", Expiry: 42}))

	_, err := c.Complete(ctx, CallbackParams{Code: "c", State: "key-1"})
	require.ErrorIs(t, err, ErrExchangeFailed)
	var ee *ExchangeError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, http.StatusBadRequest, ee.Status)
	assert.Equal(t, body, ee.Body)

	got, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "old", got.AccessToken)
	assert.Equal(t, int64(42), got.Expiry)
	assert.Equal(t, int32(0), store.puts.Load())
}

func TestComplete_ResponseWithoutAccessToken(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"token_type":"Bearer"}`)
	c, store := newController(t, te)

	_, err := c.Complete(context.Background(), CallbackParams{Code: "c", State: "key-1"})
	assert.ErrorIs(t, err, ErrExchangeFailed)
	assert.Equal(t, int32(0), store.puts.Load())
}

func TestComplete_TransportFailure(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{}`)
	c, store := newController(t, te)
	te.Close()

	_, err := c.Complete(context.Background(), CallbackParams{Code: "c", State: "key-1"})
	var ee *ExchangeError
	require.True(t, errors.As(err, &ee))
	assert.Zero(t, ee.Status)
	assert.Error(t, ee.Err)
	assert.Equal(t, int32(0), store.puts.Load())
}

func TestRevokeAndStatus(t *testing.T) {
	c, store := newController(t, nil)
	ctx := context.Background()

	st, err := c.Status(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, st.Bound)

	require.NoError(t, store.Put(ctx, "key-1", tokenstore.Credential{
		AccessToken: "at",
		Expiry:      fixedNow.Add(time.Hour).UnixMilli(),
		Scopes:      "Mail.Read",
	}))
	st, err = c.Status(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, st.Bound)
	assert.True(t, st.Usable)
	require.NotNil(t, st.ExpiresAt)
	assert.Equal(t, fixedNow.Add(time.Hour).UTC(), *st.ExpiresAt)

	require.NoError(t, c.Revoke(ctx, "key-1"))
	require.NoError(t, c.Revoke(ctx, "key-1"))
	st, err = c.Status(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, st.Bound)

	assert.ErrorIs(t, c.Revoke(ctx, ""), ErrMissingIdentity)
	_, err = c.Status(ctx, "")
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestStatus_ExpiringCredentialIsNotUsable(t *testing.T) {
	c, store := newController(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "key-1", tokenstore.Credential{
		AccessToken: "at",
		Expiry:      fixedNow.Add(30 * time.Second).UnixMilli(),
	}))

	st, err := c.Status(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, st.Bound)
	assert.False(t, st.Usable)
}
