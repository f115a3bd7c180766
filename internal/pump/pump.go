// Package pump drains the submission journal, groups events by form and
// publishes one form.grouped notification per form.
//
// One run is LoadCursor, Drain, Group, Publish, Commit. The cursor is
// written only after every group was published, so a failed run leaves
// it untouched and the next run redrains the same window. Downstream
// consumers therefore see at-least-once delivery.
//
// Runs are not serialised internally: callers must not start two runs
// against the same cursor key at once.
package pump

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/roach88/formsheet/internal/checkpoint"
	"github.com/roach88/formsheet/internal/events"
	"github.com/roach88/formsheet/internal/journal"
)

// Status distinguishes a run that did work from one that found nothing.
type Status string

const (
	StatusIdle Status = "idle"
	StatusOK   Status = "ok"
)

// Result summarises a successful run.
type Result struct {
	Status          Status `json:"status"`
	EventsRead      int    `json:"eventsRead"`
	GroupsPublished int    `json:"groupsPublished"`
	Dropped         int    `json:"dropped"`
	// Since is the cursor the run started from, empty for "beginning".
	Since string `json:"since,omitempty"`
	// Position is the cursor after the run.
	Position string `json:"position,omitempty"`
}

// Config wires a Pipeline.
type Config struct {
	Journal    journal.Reader
	Checkpoint checkpoint.PositionStore
	Publisher  events.Publisher

	// Key is the checkpoint key; checkpoint.DefaultKey when empty.
	Key string
	// MaxPages caps one drain; journal.DefaultMaxPages when zero.
	MaxPages int

	Logger zerolog.Logger
}

// Pipeline runs drain cycles.
type Pipeline struct {
	cfg    Config
	logger zerolog.Logger
}

// New returns a pipeline for cfg.
func New(cfg Config) *Pipeline {
	if cfg.Key == "" {
		cfg.Key = checkpoint.DefaultKey
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// Run performs one drain cycle. Every failure is a *RunError; a nil error
// with StatusIdle means the journal had nothing new.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	since, _, err := p.cfg.Checkpoint.Get(ctx, p.cfg.Key)
	if err != nil {
		return Result{}, &RunError{Code: ErrCodeCheckpointFailed, Message: "load cursor", Err: err}
	}

	start := since
	if start == "" {
		start = "beginning"
	}
	p.logger.Info().Str("since", start).Msg("reading journal")

	drained, err := journal.Drain(ctx, p.cfg.Journal, since, p.cfg.MaxPages)
	if err != nil {
		return Result{}, drainError(since, err)
	}

	res := Result{Status: StatusIdle, Since: since, Position: since}
	if len(drained.Events) == 0 {
		p.logger.Info().Msg("no new journal events")
		return res, nil
	}
	res.Status = StatusOK
	res.EventsRead = len(drained.Events)
	p.logger.Info().Int("events", res.EventsRead).Int("pages", drained.Pages).Msg("read journal events")

	groups, dropped := GroupEvents(drained.Events)
	res.Dropped = len(dropped)
	for _, d := range dropped {
		p.logger.Warn().Str("position", d.Position).Str("reason", d.Reason).Msg("dropping journal event")
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return Result{}, &RunError{Code: ErrCodePublishFailed, Message: "run cancelled before publish", Since: since, FormID: g.FormID, Err: err}
		}
		p.logger.Info().Str("formId", g.FormID).Int("count", len(g.Submissions)).Msg("publishing form.grouped")
		err := p.cfg.Publisher.Publish(ctx, events.TypeGrouped, events.Grouped{
			FormID:      g.FormID,
			Submissions: g.Submissions,
		})
		if err != nil {
			return Result{}, &RunError{Code: ErrCodePublishFailed, Message: "publish grouped notification", Since: since, FormID: g.FormID, Err: err}
		}
		res.GroupsPublished++
	}

	if err := p.cfg.Checkpoint.Put(ctx, p.cfg.Key, drained.LastPosition); err != nil {
		return Result{}, &RunError{Code: ErrCodeCommitFailed, Message: "commit cursor", Since: since, Err: err}
	}
	res.Position = drained.LastPosition
	p.logger.Info().Str("position", res.Position).Msg("cursor committed")
	return res, nil
}

func drainError(since string, err error) *RunError {
	switch {
	case errors.Is(err, journal.ErrRetentionGap):
		return &RunError{Code: ErrCodeRetentionGap, Message: "cursor expired from journal retention", Since: since, Err: err}
	case errors.Is(err, journal.ErrBacklogTooLarge):
		return &RunError{Code: ErrCodeBacklogTooLarge, Message: "journal backlog too large; raise journal.maxPages", Since: since, Err: err}
	default:
		return &RunError{Code: ErrCodeJournalFailed, Message: "drain journal", Since: since, Err: err}
	}
}

// Cursor returns the stored position. ok is false when none is stored.
func (p *Pipeline) Cursor(ctx context.Context) (position string, ok bool, err error) {
	return p.cfg.Checkpoint.Get(ctx, p.cfg.Key)
}

// ResetCursor overwrites the stored position, or deletes it when position
// is empty so the next run starts from the journal's retention start.
func (p *Pipeline) ResetCursor(ctx context.Context, position string) error {
	if position == "" {
		p.logger.Warn().Msg("cursor deleted")
		return p.cfg.Checkpoint.Delete(ctx, p.cfg.Key)
	}
	p.logger.Warn().Str("position", position).Msg("cursor reset")
	return p.cfg.Checkpoint.Put(ctx, p.cfg.Key, position)
}

// Key returns the checkpoint key the pipeline commits under.
func (p *Pipeline) Key() string {
	return p.cfg.Key
}
