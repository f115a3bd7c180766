package emails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultAPIURL is the public delivery endpoint.
const DefaultAPIURL = "https://api.adobecommerce.live"

// Sender delivers an email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// SendError is a rejected delivery request.
type SendError struct {
	Status int
	XError string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send email: status %d %s", e.Status, e.XError)
}

// Config configures a Client.
type Config struct {
	APIURL string
	Org    string
	Site   string
	Token  string

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client posts emails to <api>/<org>/sites/<site>/emails.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a delivery client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Org == "" || cfg.Site == "" {
		return nil, errors.New("email org and site are required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, http: hc}, nil
}

// Send posts e as JSON.
func (c *Client) Send(ctx context.Context, e Email) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	url := fmt.Sprintf("%s/%s/sites/%s/emails", c.cfg.APIURL, c.cfg.Org, c.cfg.Site)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &SendError{Status: resp.StatusCode, XError: resp.Header.Get("x-error")}
		c.cfg.Logger.Error().Int("status", se.Status).Str("xError", se.XError).Msg("failed to send email")
		return se
	}
	return nil
}
