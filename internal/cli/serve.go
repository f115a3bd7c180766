package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/formsheet/internal/forms"
	"github.com/roach88/formsheet/internal/processor"
	"github.com/roach88/formsheet/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept submissions and grouped notifications over HTTP",
		Long: `Serve the HTTP endpoints:

  POST /submit    validate a submission and publish form.submitted
  POST /grouped   merge a form.grouped notification into its sheet
  GET  /healthz   liveness

/grouped answers after the sheet is written: 200 with the outcome, or 500
with an x-error header so the sender redelivers. It is enabled only when
the document store (da.org, da.site) is configured. The server runs until
interrupted; in-flight notifications finish before exit.

Example:
  formsheet serve --config formsheet.yaml --addr :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	validator := &forms.Validator{
		MaxPayloadBytes: a.cfg.Server.MaxPayloadBytes,
		Allowed:         a.cfg.Server.AllowedForms,
	}
	if a.cfg.Server.Schemas != "" {
		catalog, err := forms.LoadCatalog(a.cfg.Server.Schemas)
		if err != nil {
			return a.fail(ExitCommandError, ErrCodeConfig, "failed to load form schemas", err)
		}
		validator.Schemas = catalog
		a.logger.Info().Strs("forms", catalog.FormIDs()).Msg("form schemas loaded")
	}

	pub, err := a.publisher()
	if err != nil {
		return a.fail(ExitCommandError, ErrCodeWiring, "failed to build publisher", err)
	}

	srvCfg := server.Config{
		Validator: validator,
		Publisher: pub,
		Logger:    a.logger.With().Str("component", "server").Logger(),
	}

	var worker *processor.Worker
	workerDone := make(chan error, 1)
	if a.cfg.DA.Org != "" && a.cfg.DA.Site != "" {
		p, err := a.processor()
		if err != nil {
			return a.fail(ExitCommandError, ErrCodeWiring, "failed to build processor", err)
		}
		worker = processor.NewWorker(p, processor.WithLogger(a.logger.With().Str("component", "worker").Logger()))
		srvCfg.Worker = worker
		// The worker outlives the signal so queued notifications drain.
		go func() { workerDone <- worker.Run(context.Background()) }()
	} else {
		a.logger.Warn().Msg("document store not configured, /grouped disabled")
	}

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()
	serveErr := server.New(srvCfg).ListenAndServe(ctx, addr)

	if worker != nil {
		worker.Stop()
		if n := worker.Pending(); n > 0 {
			a.logger.Info().Int("pending", n).Msg("draining queued notifications")
		}
		<-workerDone
	}
	if serveErr != nil {
		return a.fail(ExitFailure, ErrCodeServe, "server failed", serveErr)
	}
	return nil
}
