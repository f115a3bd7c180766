package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestEntry_Fresh(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{"empty", Entry{}, false},
		{"before expiry", Entry{Token: "t", ExpiresAt: now.Add(time.Second)}, true},
		{"at expiry", Entry{Token: "t", ExpiresAt: now}, false},
		{"after expiry", Entry{Token: "t", ExpiresAt: now.Add(-time.Second)}, false},
		{"no token", Entry{ExpiresAt: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Fresh(now))
		})
	}
}

func TestCache_ReusesFreshToken(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var calls int
	c := NewCacheFunc(func(context.Context) (*oauth2.Token, error) {
		calls++
		return &oauth2.Token{AccessToken: fmt.Sprintf("tok-%d", calls), Expiry: now.Add(time.Hour)}, nil
	}, WithClock(func() time.Time { return now }))

	a, err := c.Token(context.Background())
	require.NoError(t, err)
	b, err := c.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", a)
	assert.Equal(t, "tok-1", b)
	assert.Equal(t, 1, calls)
	assert.Equal(t, now.Add(time.Hour-ExpiryBuffer), c.Entry().ExpiresAt)
}

func TestCache_RefreshesInsideBuffer(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	var calls int
	c := NewCacheFunc(func(context.Context) (*oauth2.Token, error) {
		calls++
		return &oauth2.Token{AccessToken: fmt.Sprintf("tok-%d", calls), Expiry: clock.Add(time.Hour)}, nil
	}, WithClock(func() time.Time { return clock }))

	_, err := c.Token(context.Background())
	require.NoError(t, err)

	clock = now.Add(56 * time.Minute) // within the 5 minute buffer
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, calls)
}

func TestCache_FetchError(t *testing.T) {
	c := NewCacheFunc(func(context.Context) (*oauth2.Token, error) {
		return nil, errors.New("denied")
	})

	_, err := c.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.False(t, c.Entry().Fresh(time.Now()))
}

func TestNewCache_ClientCredentials(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "openid,AdobeID", r.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"ims-token","token_type":"bearer","expires_in":86399}`)
	}))
	defer srv.Close()

	c := NewCache(Credentials{
		TokenURL:     srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		Scopes:       "openid,AdobeID",
	})

	for i := 0; i < 3; i++ {
		tok, err := c.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ims-token", tok)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestStatic(t *testing.T) {
	tok, err := Static("fixed").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", tok)
}
