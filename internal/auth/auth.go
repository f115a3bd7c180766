// Package auth provides bearer tokens for the journal, event ingress and sheet
// storage clients.
//
// A Cache is built once per process and passed to every client that needs a
// token. It fetches a client-credentials token on first use and reuses it
// until shortly before it expires.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ExpiryBuffer is subtracted from a token's lifetime so it is refreshed
// before the server starts rejecting it.
const ExpiryBuffer = 5 * time.Minute

// defaultLifetime applies when the token response carries no expires_in.
const defaultLifetime = time.Hour

// TokenSource yields a bearer token for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token, used when one is configured directly.
type Static string

// Token returns the fixed token.
func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// Entry is a cached token and the instant it stops being usable.
type Entry struct {
	Token     string
	ExpiresAt time.Time
}

// Fresh reports whether the entry can still be used at now.
func (e Entry) Fresh(now time.Time) bool {
	return e.Token != "" && now.Before(e.ExpiresAt)
}

// Credentials configures a client-credentials grant.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Scopes is passed verbatim as the scope parameter (comma separated).
	Scopes string
}

// FetchFunc obtains a new token.
type FetchFunc func(ctx context.Context) (*oauth2.Token, error)

// Cache holds one token and refreshes it when it is no longer fresh.
// Safe for concurrent use.
type Cache struct {
	fetch FetchFunc
	now   func() time.Time

	mu    sync.Mutex
	entry Entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache returns a cache that fetches tokens with the client-credentials
// grant described by creds.
func NewCache(creds Credentials, opts ...Option) *Cache {
	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if creds.Scopes != "" {
		cfg.EndpointParams = url.Values{"scope": {creds.Scopes}}
	}
	return NewCacheFunc(cfg.Token, opts...)
}

// NewCacheFunc returns a cache backed by an arbitrary fetch function.
func NewCacheFunc(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{fetch: fetch, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached token, fetching a new one if the cached one is
// missing or about to expire.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.entry.Fresh(now) {
		return c.entry.Token, nil
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	c.entry = entryFor(tok, now)
	return c.entry.Token, nil
}

// Entry returns the current cache contents.
func (c *Cache) Entry() Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry
}

func entryFor(tok *oauth2.Token, now time.Time) Entry {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(defaultLifetime)
	}
	return Entry{
		Token:     tok.AccessToken,
		ExpiresAt: expiry.Add(-ExpiryBuffer),
	}
}
