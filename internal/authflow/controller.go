package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/teemow/mailgraph/internal/instrumentation"
	"github.com/teemow/mailgraph/internal/logging"
	"github.com/teemow/mailgraph/internal/tokenstore"
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"offline_access", "User.Read", "Mail.Read"}

// exchangeTimeout bounds the token endpoint call.
const exchangeTimeout = 30 * time.Second

// Config holds the fixed application identity for the code flow.
type Config struct {
	ClientID     string
	ClientSecret string
	// Tenant is the Azure AD tenant; "common" when empty.
	Tenant      string
	RedirectURL string
	Scopes      []string

	// Endpoint overrides the Azure AD endpoints, mainly for tests.
	Endpoint *oauth2.Endpoint

	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics
}

// Controller runs the authorization code flow and binds the resulting
// credential to the identity key carried in state.
type Controller struct {
	oauth   *oauth2.Config
	store   tokenstore.Store
	client  *http.Client
	now     func() time.Time
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewController validates cfg and returns a Controller writing to store.
func NewController(cfg Config, store tokenstore.Store) (*Controller, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("authflow: client id is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("authflow: redirect url is required")
	}
	if store == nil {
		return nil, errors.New("authflow: store is required")
	}

	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	c := &Controller{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		store:   store,
		client:  cfg.HTTPClient,
		now:     cfg.Now,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: exchangeTimeout}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = logging.WithComponent(c.logger, "authflow")
	return c, nil
}

// Scope returns the space-separated scope string sent to the provider.
func (c *Controller) Scope() string {
	return strings.Join(c.oauth.Scopes, " ")
}

// Initiate returns the provider authorization URL for identityKey. The
// key travels as state and is never minted here.
func (c *Controller) Initiate(identityKey string) (string, error) {
	if identityKey == "" {
		return "", ErrMissingIdentity
	}
	return c.oauth.AuthCodeURL(identityKey), nil
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseCallback extracts CallbackParams from a callback query.
func ParseCallback(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// Complete finishes the flow. The store is written only after a
// successful exchange.
func (c *Controller) Complete(ctx context.Context, p CallbackParams) (*tokenstore.Credential, error) {
	if p.Error != "" {
		c.metrics.RecordAuthCallback(ctx, instrumentation.AuthResultProviderError)
		return nil, &ProviderError{Code: p.Error, Description: p.ErrorDescription}
	}
	if p.Code == "" || p.State == "" {
		c.metrics.RecordAuthCallback(ctx, instrumentation.AuthResultMissingParams)
		return nil, ErrMissingParameters
	}

	tok, err := c.exchange(ctx, p.Code)
	if err != nil {
		c.metrics.RecordAuthCallback(ctx, instrumentation.AuthResultExchangeFailed)
		c.logger.WarnContext(ctx, "token exchange failed", logging.Identity(p.State), logging.Err(err))
		return nil, err
	}

	scopes, _ := tok.Extra("scope").(string)
	if scopes == "" {
		scopes = c.Scope()
	}
	cred := tokenstore.Credential{
		IdentityKey:  p.State,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       c.now().UnixMilli() + tok.ExpiresIn*1000,
		Scopes:       scopes,
	}
	if err := c.store.Put(ctx, p.State, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	c.metrics.RecordAuthCallback(ctx, instrumentation.AuthResultSuccess)
	c.logger.InfoContext(ctx, "credential bound",
		logging.Identity(p.State),
		slog.Time("expires", cred.ExpiryTime()))
	return &cred, nil
}

// exchange trades the authorization code for a token at the token
// endpoint. A rejected exchange keeps the provider body unchanged.
func (c *Controller) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)

	tok, err := c.oauth.Exchange(ctx, code, oauth2.SetAuthURLParam("scope", c.Scope()))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &ExchangeError{Status: re.Response.StatusCode, Body: string(re.Body)}
		}
		return nil, &ExchangeError{Err: err}
	}
	return tok, nil
}

// Revoke deletes the credential bound to identityKey.
func (c *Controller) Revoke(ctx context.Context, identityKey string) error {
	if identityKey == "" {
		return ErrMissingIdentity
	}
	if err := c.store.Delete(ctx, identityKey); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	c.logger.InfoContext(ctx, "credential revoked", logging.Identity(identityKey))
	return nil
}

// Status describes the credential bound to an identity key.
type Status struct {
	IdentityKey string     `json:"identity_key"`
	Bound       bool       `json:"bound"`
	Usable      bool       `json:"usable"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Scopes      string     `json:"scopes,omitempty"`
}

// Status reports whether identityKey has a usable credential.
func (c *Controller) Status(ctx context.Context, identityKey string) (Status, error) {
	st := Status{IdentityKey: identityKey}
	if identityKey == "" {
		return st, ErrMissingIdentity
	}
	cred, err := c.store.Get(ctx, identityKey)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("load credential: %w", err)
	}
	exp := cred.ExpiryTime().UTC()
	st.Bound = true
	st.Usable = cred.Usable(c.now())
	st.ExpiresAt = &exp
	st.Scopes = cred.Scopes
	return st, nil
}
