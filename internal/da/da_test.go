package da

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formsheet/internal/auth"
	"github.com/roach88/formsheet/internal/sheet"
	"github.com/roach88/formsheet/internal/testutil"
)

func newTestClient(t *testing.T, srv *testutil.DAServer) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: srv.URL, Org: "org", Site: "site", Tokens: auth.Static("tok")})
	require.NoError(t, err)
	return c
}

func TestClient_WriteThenFetch(t *testing.T) {
	srv := testutil.NewDAServer(t, "org", "site")
	c := newTestClient(t, srv)
	ctx := context.Background()

	doc, _ := sheet.Append(sheet.NewDocument(), sheet.NewRecord("name", "John"), sheet.DefaultSheet)
	require.NoError(t, c.Write(ctx, "/incoming/contact/2025.json", doc))

	raw, ok := srv.Get("/incoming/contact/2025.json")
	require.True(t, ok)
	assert.JSONEq(t, `{":private":{"private-data":{"total":1,"limit":1,"offset":0,"data":[{"timestamp":"","IP":"","name":"John"}]}}}`, string(raw))

	back, err := c.Fetch(ctx, "/incoming/contact/2025.json")
	require.NoError(t, err)
	seq, ok := back.Lookup(sheet.DefaultSheet)
	require.True(t, ok)
	assert.Equal(t, 1, seq.Total)
	assert.Equal(t, "John", seq.Data[0].Value("name"))
}

func TestClient_FetchMissing(t *testing.T) {
	srv := testutil.NewDAServer(t, "org", "site")
	c := newTestClient(t, srv)

	_, err := c.Fetch(context.Background(), "/nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_FetchInvalidDocument(t *testing.T) {
	srv := testutil.NewDAServer(t, "org", "site")
	srv.Put("/bad.json", []byte(`[1,2,3]`))
	c := newTestClient(t, srv)

	_, err := c.Fetch(context.Background(), "/bad.json")
	assert.ErrorIs(t, err, sheet.ErrInvalidDocument)
}

func TestClient_WriteFailureCarriesXError(t *testing.T) {
	srv := testutil.NewDAServer(t, "org", "site")
	srv.FailWrites(http.StatusForbidden)
	c := newTestClient(t, srv)

	err := c.Write(context.Background(), "/x.json", sheet.NewDocument())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Status)
	assert.Equal(t, "write refused", se.XError)
	assert.Empty(t, srv.Writes())
}

func TestClient_List(t *testing.T) {
	srv := testutil.NewDAServer(t, "org", "site")
	srv.Put("/incoming/contact/2024.json", []byte(`{}`))
	srv.Put("/incoming/contact/email-template.html", []byte(`<p>x</p>`))
	srv.Put("/incoming/other/2024.json", []byte(`{}`))
	c := newTestClient(t, srv)

	entries, err := c.List(context.Background(), "/incoming/contact")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Path: "/org/site/incoming/contact/2024.json", Name: "2024.json", Ext: "json"}, entries[0])
	assert.Equal(t, "email-template.html", entries[1].Name)

	entries, err = c.List(context.Background(), "/incoming/empty")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_ListNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list/org/site/incoming/gone", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/", Org: "org", Site: "site", Tokens: auth.Static("tok")})
	require.NoError(t, err)
	entries, err := c.List(context.Background(), "/incoming/gone")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_ListError(t *testing.T) {
	srv := testutil.NewDAServer(t, "org", "site")
	srv.FailReads(http.StatusBadGateway)
	c := newTestClient(t, srv)

	_, err := c.List(context.Background(), "/incoming/contact")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "list folder", se.Op)
	assert.Equal(t, "list unavailable", se.XError)
}

func TestClient_FetchHTML(t *testing.T) {
	srv := testutil.NewDAServer(t, "org", "site")
	srv.Put("/incoming/contact/email-template.html", []byte(`<body><p>To: a@b.c</p></body>`))
	c := newTestClient(t, srv)
	ctx := context.Background()

	html, ok, err := c.FetchHTML(ctx, "/incoming/contact/email-template.html")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, html, "To: a@b.c")

	html, ok, err = c.FetchHTML(ctx, "/incoming/contact/email-template")
	require.NoError(t, err)
	assert.True(t, ok, "extension is added when missing")
	assert.NotEmpty(t, html)

	_, ok, err = c.FetchHTML(ctx, "/incoming/other/email-template.html")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewClient_RequiresOrgAndSite(t *testing.T) {
	_, err := NewClient(Config{Org: "o"})
	assert.Error(t, err)

	c, err := NewClient(Config{Org: "o", Site: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://admin.da.live/source/o/s/a.json", c.url("source", "a.json"))
}
