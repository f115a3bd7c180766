// Package processor consumes form.grouped notifications: it resolves the
// destination sheet for a form, merges every submission into it and writes
// the sheet back in one request.
//
// Destinations live under an incoming root (default /incoming). A form with
// no folder there is routed to <root>/deadletter/<formId> so that
// submissions are kept instead of lost. Each folder holds one sheet per UTC
// year, <YYYY>.json.
//
// The fetch-modify-write cycle is not atomic against the store. Two
// processors merging into the same sheet concurrently lose one update; use a
// single Worker per process and a single process per deployment.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/roach88/formsheet/internal/canon"
	"github.com/roach88/formsheet/internal/da"
	"github.com/roach88/formsheet/internal/emails"
	"github.com/roach88/formsheet/internal/events"
	"github.com/roach88/formsheet/internal/sheet"
)

const (
	// DefaultIncomingRoot is the folder holding one subfolder per form.
	DefaultIncomingRoot = "/incoming"

	deadletterFolder = "deadletter"
	emailTemplate    = "email-template.html"
	timestampLayout  = "2006-01-02T15:04:05.000Z"
)

// ErrInvalidNotification reports a payload without a formId or a
// submissions array.
var ErrInvalidNotification = errors.New("invalid event payload")

// SheetStore is the document store the processor reads and writes.
// *da.Client implements it.
type SheetStore interface {
	Fetch(ctx context.Context, path string) (sheet.Document, error)
	Write(ctx context.Context, path string, doc sheet.Document) error
	List(ctx context.Context, path string) ([]da.Entry, error)
	emails.HTMLFetcher
}

// Ledger remembers which submissions were written into which sheet.
// *store.Store implements it.
type Ledger interface {
	MergedSet(ctx context.Context, sheetPath string, ids []string) (map[string]bool, error)
	RecordMerged(ctx context.Context, sheetPath, formID string, ids []string) error
}

// Config wires a Processor. Ledger and Mailer are optional.
type Config struct {
	Sheets SheetStore
	Ledger Ledger
	Mailer emails.Sender

	// IncomingRoot defaults to DefaultIncomingRoot.
	IncomingRoot string
	// Now defaults to time.Now.
	Now func() time.Time

	Logger zerolog.Logger
}

// Processor merges grouped notifications into sheets.
type Processor struct {
	cfg    Config
	logger zerolog.Logger
}

// New returns a processor for cfg.
func New(cfg Config) *Processor {
	if cfg.IncomingRoot == "" {
		cfg.IncomingRoot = DefaultIncomingRoot
	}
	cfg.IncomingRoot = "/" + strings.Trim(cfg.IncomingRoot, "/")
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{cfg: cfg, logger: cfg.Logger}
}

// Outcome describes one processed notification.
type Outcome struct {
	FormID     string `json:"formId"`
	Path       string `json:"path"`
	Deadletter bool   `json:"deadletter"`
	Appended   int    `json:"appended"`
	Skipped    int    `json:"skipped"`
	Total      int    `json:"total"`
	Emailed    bool   `json:"emailed"`
}

// ParseNotification decodes a form.grouped payload, accepted bare or
// wrapped in a CloudEvent's data field.
func ParseNotification(raw []byte) (events.Grouped, error) {
	if !gjson.ValidBytes(raw) {
		return events.Grouped{}, fmt.Errorf("%w: malformed JSON", ErrInvalidNotification)
	}
	body := gjson.ParseBytes(raw)
	if d := body.Get("data"); d.IsObject() {
		body = d
	}

	formID := body.Get("formId")
	subs := body.Get("submissions")
	if formID.Type != gjson.String || formID.Str == "" || !subs.IsArray() {
		return events.Grouped{}, ErrInvalidNotification
	}

	n := events.Grouped{FormID: formID.Str, Submissions: []json.RawMessage{}}
	subs.ForEach(func(_, v gjson.Result) bool {
		n.Submissions = append(n.Submissions, json.RawMessage(v.Raw))
		return true
	})
	return n, nil
}

// Process merges n into its destination sheet and writes it. An error
// means the sheet was not written, except for ledger and email failures
// after the write, which are logged.
func (p *Processor) Process(ctx context.Context, n events.Grouped) (Outcome, error) {
	if n.FormID == "" {
		return Outcome{}, ErrInvalidNotification
	}
	out := Outcome{FormID: n.FormID}
	p.logger.Info().Str("formId", n.FormID).Int("count", len(n.Submissions)).Msg("processing submissions")

	folder, listing, deadletter, err := p.destination(ctx, n.FormID)
	if err != nil {
		return out, err
	}
	now := p.cfg.Now().UTC()
	out.Path = folder + "/" + strconv.Itoa(now.Year()) + ".json"
	out.Deadletter = deadletter
	p.logger.Info().Str("path", out.Path).Bool("deadletter", deadletter).Msg("resolved destination")

	doc := sheet.NewDocument()
	if hasEntry(listing, path.Base(out.Path)) {
		doc, err = p.cfg.Sheets.Fetch(ctx, out.Path)
		if err != nil {
			return out, fmt.Errorf("process %s: %w", n.FormID, err)
		}
	}

	subs, ids, skipped, err := p.filterMerged(ctx, out.Path, n)
	if err != nil {
		return out, err
	}
	out.Skipped = skipped
	if len(subs) == 0 {
		p.logger.Info().Str("path", out.Path).Int("skipped", skipped).Msg("nothing new to append")
		return out, nil
	}

	stamp := now.Format(timestampLayout)
	var last sheet.Record
	for _, raw := range subs {
		last = Record(n.FormID, raw, stamp)
		var res sheet.Result
		doc, res = sheet.Append(doc, last, sheet.DefaultSheet)
		out.Total = res.Total
		if len(res.Added) > 0 {
			p.logger.Debug().Strs("columns", res.Added).Msg("header grew")
		}
	}
	out.Appended = len(subs)

	if err := p.cfg.Sheets.Write(ctx, out.Path, doc); err != nil {
		return out, fmt.Errorf("process %s: %w", n.FormID, err)
	}
	p.logger.Info().Str("path", out.Path).Int("appended", out.Appended).Int("total", out.Total).Msg("appended records to sheet")

	if p.cfg.Ledger != nil {
		if err := p.cfg.Ledger.RecordMerged(ctx, out.Path, n.FormID, ids); err != nil {
			p.logger.Error().Err(err).Str("path", out.Path).Msg("failed to record merged submissions")
		}
	}

	if hasEntry(listing, emailTemplate) {
		out.Emailed = p.email(ctx, folder+"/"+emailTemplate, last)
	}
	return out, nil
}

// destination lists the form's folder, falling back to its deadletter
// folder when the listing is empty.
func (p *Processor) destination(ctx context.Context, formID string) (string, []da.Entry, bool, error) {
	folder := p.cfg.IncomingRoot + "/" + formID
	listing, err := p.cfg.Sheets.List(ctx, folder)
	if err != nil {
		return "", nil, false, fmt.Errorf("process %s: %w", formID, err)
	}
	if len(listing) > 0 {
		return folder, listing, false, nil
	}

	p.logger.Warn().Str("formId", formID).Msg("no destination folder, using deadletter")
	folder = p.cfg.IncomingRoot + "/" + deadletterFolder + "/" + formID
	listing, err = p.cfg.Sheets.List(ctx, folder)
	if err != nil {
		return "", nil, false, fmt.Errorf("process %s: %w", formID, err)
	}
	return folder, listing, true, nil
}

// filterMerged drops submissions already recorded for sheetPath and
// repeats within the batch. Without a ledger every submission is kept.
func (p *Processor) filterMerged(ctx context.Context, sheetPath string, n events.Grouped) ([]json.RawMessage, []string, int, error) {
	if p.cfg.Ledger == nil {
		return n.Submissions, nil, 0, nil
	}

	ids := make([]string, len(n.Submissions))
	for i, raw := range n.Submissions {
		id, err := canon.SubmissionID(n.FormID, raw)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("process %s: submission %d: %w", n.FormID, i, err)
		}
		ids[i] = id
	}
	seen, err := p.cfg.Ledger.MergedSet(ctx, sheetPath, ids)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("process %s: %w", n.FormID, err)
	}
	if seen == nil {
		seen = make(map[string]bool)
	}

	var keep []json.RawMessage
	var keepIDs []string
	for i, raw := range n.Submissions {
		if seen[ids[i]] {
			continue
		}
		seen[ids[i]] = true
		keep = append(keep, raw)
		keepIDs = append(keepIDs, ids[i])
	}
	return keep, keepIDs, len(n.Submissions) - len(keep), nil
}

func (p *Processor) email(ctx context.Context, templatePath string, vars sheet.Record) bool {
	if p.cfg.Mailer == nil {
		p.logger.Debug().Str("template", templatePath).Msg("email template present but no mailer configured")
		return false
	}
	msg, ok, err := emails.Resolve(ctx, p.cfg.Sheets, templatePath, vars)
	if err != nil {
		p.logger.Error().Err(err).Str("template", templatePath).Msg("failed to resolve email template")
		return false
	}
	if !ok {
		return false
	}
	if err := p.cfg.Mailer.Send(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("template", templatePath).Msg("failed to send email")
		return false
	}
	p.logger.Info().Strs("to", msg.ToEmail).Msg("email sent")
	return true
}

// Record converts one submission into a sheet row: every field as a
// string under its NFC-normalized name, then formId, and timestamp set to
// stamp when missing or empty.
// Strings are taken as-is, null becomes "", and numbers, booleans and
// nested values keep their JSON text.
func Record(formID string, raw json.RawMessage, stamp string) sheet.Record {
	var rec sheet.Record
	if v := gjson.ParseBytes(raw); v.IsObject() {
		v.ForEach(func(k, v gjson.Result) bool {
			rec.Set(sheet.NormalizeKey(k.String()), cell(v))
			return true
		})
	}
	rec.Set("formId", formID)
	if rec.Value(sheet.ColTimestamp) == "" {
		rec.Set(sheet.ColTimestamp, stamp)
	}
	return rec
}

func cell(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}

func hasEntry(listing []da.Entry, name string) bool {
	for _, e := range listing {
		if e.Name == name {
			return true
		}
	}
	return false
}
