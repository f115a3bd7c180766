package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/formsheet/internal/auth"
	"github.com/roach88/formsheet/internal/checkpoint"
	"github.com/roach88/formsheet/internal/config"
	"github.com/roach88/formsheet/internal/da"
	"github.com/roach88/formsheet/internal/emails"
	"github.com/roach88/formsheet/internal/events"
	"github.com/roach88/formsheet/internal/journal"
	"github.com/roach88/formsheet/internal/logging"
	"github.com/roach88/formsheet/internal/processor"
	"github.com/roach88/formsheet/internal/store"
)

// Error codes reported by the output formatter.
const (
	ErrCodeConfig  = "CONFIG_INVALID"
	ErrCodeWiring  = "WIRING_FAILED"
	ErrCodeInput   = "INPUT_INVALID"
	ErrCodeProcess = "PROCESS_FAILED"
	ErrCodeCursor  = "CURSOR_FAILED"
	ErrCodeServe   = "SERVE_FAILED"
)

// app is the configuration and logger shared by one command invocation.
type app struct {
	opts   *RootOptions
	cfg    config.Config
	logger zerolog.Logger
	out    *OutputFormatter
	tokens auth.TokenSource

	closers []io.Closer
}

// newApp loads configuration (defaults, file, environment), validates it
// and builds the logger. --verbose forces debug logging.
func newApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	a := &app{
		opts: opts,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, a.fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if err := config.FromEnv(&cfg); err != nil {
		return nil, a.fail(ExitCommandError, ErrCodeConfig, "invalid environment", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, a.fail(ExitCommandError, ErrCodeConfig, "invalid config", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: cmd.ErrOrStderr()})
	if err != nil {
		return nil, a.fail(ExitCommandError, ErrCodeConfig, "invalid log settings", err)
	}
	a.cfg = cfg
	a.logger = logger
	a.tokens = cfg.Auth.TokenSource()
	return a, nil
}

// fail reports an error through the formatter and returns it as an
// ExitError.
func (a *app) fail(exit int, code, message string, err error) error {
	var details ErrorDetails
	if err != nil {
		details = ErrorDetails{"cause": err.Error()}
	}
	_ = a.out.Error(code, message, details)
	return WrapExitError(exit, message, err)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error().Err(err).Msg("close resource")
		}
	}
	a.closers = nil
}

func (a *app) journal() (*journal.Client, error) {
	return journal.NewClient(journal.Config{
		URL:    a.cfg.Journal.URL,
		APIKey: a.cfg.Journal.APIKey,
		OrgID:  a.cfg.Journal.OrgID,
		Limit:  a.cfg.Journal.PageLimit,
		Tokens: a.tokens,
		Logger: a.logger.With().Str("component", "journal").Logger(),
	})
}

func (a *app) publisher() (*events.HTTPPublisher, error) {
	return events.NewHTTPPublisher(events.Config{
		IngressURL: a.cfg.Events.IngressURL,
		APIKey:     a.cfg.Events.APIKey,
		ProviderID: a.cfg.Events.ProviderID,
		Tokens:     a.tokens,
		Logger:     a.logger.With().Str("component", "events").Logger(),
	})
}

func (a *app) checkpoint() (checkpoint.PositionStore, error) {
	cs, closer, err := checkpoint.Open(checkpoint.Config{
		Backend:       a.cfg.Checkpoint.Backend,
		Path:          a.cfg.Checkpoint.Path,
		RedisAddr:     a.cfg.Checkpoint.RedisAddr,
		RedisPassword: a.cfg.Checkpoint.RedisPassword,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closer)
	return cs, nil
}

func (a *app) sheets() (*da.Client, error) {
	tokens := a.tokens
	if a.cfg.DA.Token != "" {
		tokens = auth.Static(a.cfg.DA.Token)
	}
	return da.NewClient(da.Config{
		BaseURL: a.cfg.DA.BaseURL,
		Org:     a.cfg.DA.Org,
		Site:    a.cfg.DA.Site,
		Tokens:  tokens,
		Logger:  a.logger.With().Str("component", "da").Logger(),
	})
}

// processor builds the grouped consumer. The ledger and the mailer are
// wired only when configured.
func (a *app) processor() (*processor.Processor, error) {
	sheets, err := a.sheets()
	if err != nil {
		return nil, err
	}
	cfg := processor.Config{
		Sheets:       sheets,
		IncomingRoot: a.cfg.Processor.IncomingRoot,
		Logger:       a.logger.With().Str("component", "processor").Logger(),
	}
	if a.cfg.Processor.LedgerPath != "" {
		ledger, err := store.Open(a.cfg.Processor.LedgerPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ledger)
		cfg.Ledger = ledger
	}
	if a.cfg.Emails.Token != "" {
		mailer, err := emails.NewClient(emails.Config{
			APIURL: a.cfg.Emails.APIURL,
			Org:    a.cfg.DA.Org,
			Site:   a.cfg.DA.Site,
			Token:  a.cfg.Emails.Token,
			Logger: a.logger.With().Str("component", "emails").Logger(),
		})
		if err != nil {
			return nil, err
		}
		cfg.Mailer = mailer
	}
	return processor.New(cfg), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
