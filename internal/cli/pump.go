package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/formsheet/internal/pump"
)

// PumpOptions holds flags for the pump command.
type PumpOptions struct {
	*RootOptions
	Watch    bool
	Interval time.Duration
}

// pumpOutput renders a run result.
type pumpOutput struct {
	pump.Result
}

func (o pumpOutput) String() string {
	if o.Status == pump.StatusIdle {
		return fmt.Sprintf("idle: no new journal events (position %s)", positionOrBeginning(o.Position))
	}
	return fmt.Sprintf("ok: %d events, %d groups published, %d dropped, position %s",
		o.EventsRead, o.GroupsPublished, o.Dropped, o.Position)
}

func positionOrBeginning(p string) string {
	if p == "" {
		return "<beginning>"
	}
	return p
}

// NewPumpCommand creates the pump command.
func NewPumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pump",
		Short: "Drain the journal and publish one form.grouped event per form",
		Long: `Read every journal event after the stored position, group the
submissions by form, publish one form.grouped event per form and then
store the new position.

A failed run leaves the stored position unchanged, so the next run reads
the same events again.

One run reads at most journal.maxPages pages (FORMSHEET_JOURNAL_MAX_PAGES).
A larger backlog fails with BACKLOG_TOO_LARGE and publishes nothing; raise
the cap and run again.

Example:
  formsheet pump --config formsheet.yaml
  formsheet pump --watch --interval 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPump(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep running, one cycle per interval")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Minute, "time between cycles with --watch")

	return cmd
}

func runPump(opts *PumpOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	pipeline, err := a.pipeline()
	if err != nil {
		return a.fail(ExitCommandError, ErrCodeWiring, "failed to build pipeline", err)
	}

	if !opts.Watch {
		return a.runCycle(cmd.Context(), pipeline)
	}
	if opts.Interval <= 0 {
		return a.fail(ExitCommandError, ErrCodeInput, "interval must be positive", nil)
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		// A failed cycle is reported and retried on the next tick.
		_ = a.runCycle(ctx, pipeline)
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("pump stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) pipeline() (*pump.Pipeline, error) {
	j, err := a.journal()
	if err != nil {
		return nil, err
	}
	pub, err := a.publisher()
	if err != nil {
		return nil, err
	}
	cp, err := a.checkpoint()
	if err != nil {
		return nil, err
	}
	return pump.New(pump.Config{
		Journal:    j,
		Checkpoint: cp,
		Publisher:  pub,
		Key:        a.cfg.Checkpoint.Key,
		MaxPages:   a.cfg.Journal.MaxPages,
		Logger:     a.logger.With().Str("component", "pump").Logger(),
	}), nil
}

func (a *app) runCycle(ctx context.Context, p *pump.Pipeline) error {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := p.Run(ctx)
	if err != nil {
		var re *pump.RunError
		if errors.As(err, &re) {
			details := ErrorDetails{"since": positionOrBeginning(re.Since)}
			if re.FormID != "" {
				details["formId"] = re.FormID
			}
			if re.Err != nil {
				details["cause"] = re.Err.Error()
			}
			_ = a.out.Error(string(re.Code), re.Message, details)
			return WrapExitError(ExitFailure, re.Message, err)
		}
		return a.fail(ExitFailure, "RUN_FAILED", "pump run failed", err)
	}
	return a.out.Success(pumpOutput{res})
}
