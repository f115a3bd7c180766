// Package da talks to the document authoring admin API that stores sheets.
//
// Paths are site-relative ("/incoming/contact/2025.json"); the client
// prefixes them with /source/<org>/<site> or /list/<org>/<site>.
package da

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/roach88/formsheet/internal/auth"
	"github.com/roach88/formsheet/internal/sheet"
)

// DefaultBaseURL is the public admin endpoint.
const DefaultBaseURL = "https://admin.da.live"

// ErrNotFound is returned when the requested document does not exist.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx admin API response. XError carries the
// server's x-error header when present.
type StatusError struct {
	Op     string
	Status int
	XError string
}

func (e *StatusError) Error() string {
	if e.XError != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.XError)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

// Entry is one item of a folder listing.
type Entry struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Ext          string `json:"ext,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Org     string
	Site    string

	Tokens     auth.TokenSource
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client reads and writes documents for one org/site.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// NewClient returns a client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Org == "" || cfg.Site == "" {
		return nil, errors.New("da org and site are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Tokens == nil {
		cfg.Tokens = auth.Static("")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, http: hc, logger: cfg.Logger}, nil
}

func (c *Client) url(kind, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s/%s/%s/%s%s", c.cfg.BaseURL, kind, c.cfg.Org, c.cfg.Site, path)
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}

func (c *Client) get(ctx context.Context, op, url string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Op: op, Status: resp.StatusCode, XError: resp.Header.Get("x-error")}
		c.logger.Error().Int("status", se.Status).Str("xError", se.XError).Str("url", url).Msg(op + " failed")
		return nil, se
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	return body, nil
}

// Fetch reads and decodes the sheet at path.
func (c *Client) Fetch(ctx context.Context, path string) (sheet.Document, error) {
	url := c.url("source", path)
	c.logger.Info().Str("url", url).Msg("fetching sheet")
	body, err := c.get(ctx, "fetch sheet", url)
	if err != nil {
		return sheet.Document{}, err
	}
	doc, err := sheet.Decode(body)
	if err != nil {
		return sheet.Document{}, fmt.Errorf("fetch sheet %s: %w", path, err)
	}
	return doc, nil
}

// Write replaces the sheet at path with doc, sent as the multipart file
// part "data". The store either persists the whole document or fails.
func (c *Client) Write(ctx context.Context, path string, doc sheet.Document) error {
	encoded, err := sheet.Encode(doc)
	if err != nil {
		return fmt.Errorf("write sheet %s: %w", path, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="data"; filename="blob"`)
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("write sheet %s: %w", path, err)
	}
	if _, err := part.Write(encoded); err != nil {
		return fmt.Errorf("write sheet %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("write sheet %s: %w", path, err)
	}

	url := c.url("source", path)
	c.logger.Info().Str("url", url).Msg("updating sheet")
	resp, err := c.do(ctx, http.MethodPut, url, &body, mw.FormDataContentType())
	if err != nil {
		return fmt.Errorf("write sheet %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Op: "write sheet", Status: resp.StatusCode, XError: resp.Header.Get("x-error")}
		c.logger.Error().Int("status", se.Status).Str("xError", se.XError).Str("url", url).Msg("write sheet failed")
		return se
	}
	return nil
}

// List returns the entries of the folder at path. A folder that does not
// exist lists as empty.
func (c *Client) List(ctx context.Context, path string) ([]Entry, error) {
	url := c.url("list", path)
	c.logger.Info().Str("url", url).Msg("fetching folder")
	body, err := c.get(ctx, "list folder", url)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("list folder %s: expected array", path)
	}
	var entries []Entry
	parsed.ForEach(func(_, v gjson.Result) bool {
		entries = append(entries, Entry{
			Path:         v.Get("path").String(),
			Name:         v.Get("name").String(),
			Ext:          v.Get("ext").String(),
			LastModified: v.Get("lastModified").Int(),
		})
		return true
	})
	return entries, nil
}

// FetchHTML returns the HTML document at path, adding the .html extension
// when missing. ok is false when the document does not exist.
func (c *Client) FetchHTML(ctx context.Context, path string) (html string, ok bool, err error) {
	if !strings.HasSuffix(path, ".html") {
		path += ".html"
	}
	url := c.url("source", path)
	c.logger.Info().Str("url", url).Msg("fetching HTML")
	body, err := c.get(ctx, "fetch HTML", url)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(body), true, nil
}
