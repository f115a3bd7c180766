// Package forms validates incoming form submissions before they are
// published to the journal.
//
// Every payload is {"formId": string, "data": object}. The checks run in a
// fixed order and the first failure wins: shape, formId pattern, allow-list,
// size, markup, nesting, then the form's schema when a catalog is set.
package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/match"
)

// DefaultMaxPayloadBytes caps the serialized {formId, data} payload.
const DefaultMaxPayloadBytes = 16000

// Reasons reported to the client.
const (
	ReasonFormID        = "missing or invalid formId"
	ReasonData          = "missing or invalid data"
	ReasonFormIDPattern = "invalid formId"
	ReasonNotAllowed    = "form not allowed"
	ReasonTooLarge      = "payload too large"
	ReasonInvalidChars  = "payload contains invalid characters"
	ReasonNested        = "payload contains nested data"
	ReasonSchema        = "payload does not match form schema"
	ReasonMalformed     = "malformed JSON"
)

// Alphanumeric, underscores, hyphens and slashes, with no leading or
// trailing slash, hyphen or underscore.
var formIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]+[/a-zA-Z0-9_-]*[a-zA-Z0-9]+$`)

// ValidationError is a rejected submission.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return e.Reason + ": " + e.Detail
	}
	return e.Reason
}

func invalid(reason string) error { return &ValidationError{Reason: reason} }

// Submission is an accepted payload.
type Submission struct {
	FormID string          `json:"formId"`
	Data   json.RawMessage `json:"data"`
}

// Validator checks submissions. The zero value applies the default size
// cap, accepts every well-formed formId and skips schema checks.
type Validator struct {
	// MaxPayloadBytes defaults to DefaultMaxPayloadBytes.
	MaxPayloadBytes int
	// Allowed holds glob patterns (* and ?) a formId must match. Empty
	// allows all.
	Allowed []string
	// Schemas is optional.
	Schemas *Catalog
}

// ValidFormID reports whether id has the accepted shape.
func ValidFormID(id string) bool {
	return formIDPattern.MatchString(id)
}

// Validate checks body and returns the submission it carries. Every
// rejection is a *ValidationError.
func (v *Validator) Validate(body []byte) (Submission, error) {
	if !gjson.ValidBytes(body) {
		return Submission{}, invalid(ReasonMalformed)
	}
	root := gjson.ParseBytes(body)
	formID := root.Get("formId")
	if formID.Type != gjson.String || formID.Str == "" {
		return Submission{}, invalid(ReasonFormID)
	}
	data := root.Get("data")
	if !data.IsObject() {
		return Submission{}, invalid(ReasonData)
	}

	if !ValidFormID(formID.Str) {
		return Submission{}, invalid(ReasonFormIDPattern)
	}
	if !v.allowed(formID.Str) {
		return Submission{}, invalid(ReasonNotAllowed)
	}

	sub := Submission{FormID: formID.Str, Data: json.RawMessage(data.Raw)}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sub); err != nil {
		return Submission{}, fmt.Errorf("encode submission: %w", err)
	}
	encoded := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(encoded) > v.maxBytes() {
		return Submission{}, invalid(ReasonTooLarge)
	}
	if hasMarkup(encoded) {
		return Submission{}, invalid(ReasonInvalidChars)
	}

	nested := false
	data.ForEach(func(_, val gjson.Result) bool {
		nested = val.IsObject() || val.IsArray()
		return !nested
	})
	if nested {
		return Submission{}, invalid(ReasonNested)
	}

	if v.Schemas != nil {
		if err := v.Schemas.Check(sub.FormID, sub.Data); err != nil {
			return Submission{}, err
		}
	}
	return sub, nil
}

func (v *Validator) maxBytes() int {
	if v.MaxPayloadBytes > 0 {
		return v.MaxPayloadBytes
	}
	return DefaultMaxPayloadBytes
}

func (v *Validator) allowed(formID string) bool {
	if len(v.Allowed) == 0 {
		return true
	}
	for _, pattern := range v.Allowed {
		if match.Match(formID, pattern) {
			return true
		}
	}
	return false
}

// hasMarkup reports a '<' in the payload, literal or escaped.
func hasMarkup(b []byte) bool {
	return bytes.IndexByte(b, '<') >= 0 || bytes.Contains(bytes.ToLower(b), []byte(`\u003c`))
}
