// Package events publishes CloudEvents to the event ingress.
//
// Two event types flow through the system: form.submitted, one per accepted
// submission, and form.grouped, one per form per drain cycle.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/roach88/formsheet/internal/auth"
)

const (
	TypeSubmitted = "form.submitted"
	TypeGrouped   = "form.grouped"

	// DefaultIngressURL is the public ingress endpoint.
	DefaultIngressURL = "https://eventsingress.adobe.io"

	specVersion = "1.0"
	contentType = "application/cloudevents+json"
)

// CloudEvent is the structured-mode envelope posted to the ingress.
type CloudEvent struct {
	DataContentType string          `json:"datacontenttype"`
	SpecVersion     string          `json:"specversion"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	ID              string          `json:"id"`
	Data            json.RawMessage `json:"data"`
}

// Submitted is the payload of a form.submitted event.
type Submitted struct {
	FormID string          `json:"formId"`
	Data   json.RawMessage `json:"data"`
}

// Grouped is the payload of a form.grouped event: every submission for one
// form read in a drain cycle, in journal order.
type Grouped struct {
	FormID      string            `json:"formId"`
	Submissions []json.RawMessage `json:"submissions"`
}

// Publisher emits one event. A returned error means the event may not have
// been delivered.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, eventType string, data any) error

func (f PublisherFunc) Publish(ctx context.Context, eventType string, data any) error {
	return f(ctx, eventType, data)
}

// PublishError is a rejected ingress request.
type PublishError struct {
	Type   string
	Status int
	Body   string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: ingress returned %d %s", e.Type, e.Status, e.Body)
}

// Config configures an HTTPPublisher.
type Config struct {
	IngressURL string
	APIKey     string
	ProviderID string

	Tokens     auth.TokenSource
	IDs        IDGenerator
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPPublisher posts CloudEvents to the ingress.
type HTTPPublisher struct {
	cfg  Config
	http *http.Client
}

// NewHTTPPublisher returns a publisher for cfg, filling defaults.
func NewHTTPPublisher(cfg Config) (*HTTPPublisher, error) {
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("events provider id is required")
	}
	if cfg.IngressURL == "" {
		cfg.IngressURL = DefaultIngressURL
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDv7Generator{}
	}
	if cfg.Tokens == nil {
		cfg.Tokens = auth.Static("")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPPublisher{cfg: cfg, http: hc}, nil
}

// Envelope wraps data in a CloudEvent of the given type.
func (p *HTTPPublisher) Envelope(eventType string, data any) (CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return CloudEvent{}, fmt.Errorf("encode %s data: %w", eventType, err)
	}
	return CloudEvent{
		DataContentType: "application/json",
		SpecVersion:     specVersion,
		Source:          "urn:uuid:" + p.cfg.ProviderID,
		Type:            eventType,
		ID:              p.cfg.IDs.Generate(),
		Data:            raw,
	}, nil
}

// Publish posts one event. Any status other than 2xx is a *PublishError.
func (p *HTTPPublisher) Publish(ctx context.Context, eventType string, data any) error {
	ev, err := p.Envelope(eventType, data)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	token, err := p.cfg.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: token: %w", eventType, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.IngressURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &PublishError{Type: eventType, Status: resp.StatusCode, Body: string(text)}
	}

	p.cfg.Logger.Debug().Str("type", eventType).Str("id", ev.ID).Msg("event published")
	return nil
}
