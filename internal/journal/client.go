package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/roach88/formsheet/internal/auth"
)

// Event is one journal entry. Event holds the published payload untouched.
type Event struct {
	Position string          `json:"position"`
	Event    json.RawMessage `json:"event"`
}

// Page is the result of a single fetch.
type Page struct {
	Events []Event
	// Last is the position of the last event on the page, empty when the
	// page has no events.
	Last  string
	Count int
	Links map[string]string
}

// IsEmpty reports whether the page carries no events.
func (p Page) IsEmpty() bool {
	return len(p.Events) == 0
}

// NextPosition returns the position to pass as since for the following
// page. The body's last field wins; when it is missing the position of the
// final event is used.
func (p Page) NextPosition() string {
	if p.Last != "" {
		return p.Last
	}
	if n := len(p.Events); n > 0 {
		return p.Events[n-1].Position
	}
	return ""
}

// Options narrows a fetch.
type Options struct {
	Since  string
	Latest bool
	Limit  int
}

// Reader fetches pages from a journal.
type Reader interface {
	FetchPage(ctx context.Context, opts Options) (Page, error)
}

// Config configures a Client.
type Config struct {
	URL    string
	APIKey string
	OrgID  string
	// Limit is sent as the limit parameter on every page when non-zero.
	Limit int

	Tokens     auth.TokenSource
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client is the HTTP journal reader.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// NewClient returns a client for the journal at cfg.URL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("journal url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse journal url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	if cfg.Tokens == nil {
		cfg.Tokens = auth.Static("")
	}
	return &Client{cfg: cfg, http: hc, logger: cfg.Logger}, nil
}

type pageBody struct {
	Events []Event `json:"events"`
	Page   *struct {
		Last  string `json:"last"`
		Count int    `json:"count"`
	} `json:"_page"`
	// Some deployments omit the underscore.
	AltPage *struct {
		Last  string `json:"last"`
		Count int    `json:"count"`
	} `json:"page"`
}

// FetchPage fetches one page of events.
func (c *Client) FetchPage(ctx context.Context, opts Options) (Page, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return Page{}, fmt.Errorf("parse journal url: %w", err)
	}
	q := u.Query()
	if opts.Since != "" {
		q.Set("since", opts.Since)
	}
	if opts.Latest {
		q.Set("latest", "true")
	}
	limit := opts.Limit
	if limit == 0 {
		limit = c.cfg.Limit
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("journal token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build journal request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-ims-org-id", c.cfg.OrgID)

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch journal: %w", err)
	}
	defer resp.Body.Close()

	links := ParseLinkHeader(resp.Header.Get("Link"))

	switch {
	case resp.StatusCode == http.StatusNoContent:
		c.logger.Debug().Str("since", opts.Since).Msg("journal page empty")
		return Page{Links: links}, nil
	case resp.StatusCode == http.StatusGone:
		return Page{}, ErrRetentionGap
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Page{}, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var body pageBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("decode journal page: %w", err)
	}

	page := Page{Events: body.Events, Links: links, Count: len(body.Events)}
	meta := body.Page
	if meta == nil {
		meta = body.AltPage
	}
	if meta != nil {
		page.Last = meta.Last
		if meta.Count > 0 {
			page.Count = meta.Count
		}
	}
	c.logger.Debug().
		Str("since", opts.Since).
		Int("events", len(page.Events)).
		Str("last", page.Last).
		Msg("journal page fetched")
	return page, nil
}
