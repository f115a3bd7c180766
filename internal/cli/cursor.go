package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/formsheet/internal/pump"
)

type cursorOutput struct {
	Key      string `json:"key"`
	Position string `json:"position"`
	Set      bool   `json:"set"`
}

func (o cursorOutput) String() string {
	if !o.Set {
		return fmt.Sprintf("%s: <beginning>", o.Key)
	}
	return fmt.Sprintf("%s: %s", o.Key, o.Position)
}

// NewCursorCommand creates the cursor command group.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset the stored journal position",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored journal position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursor(rootOpts, cmd, nil)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset [position]",
		Short: "Set the stored journal position",
		Long: `Set the stored journal position. Without a position the cursor is
cleared and the next pump run reads the journal from the beginning.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos := ""
			if len(args) == 1 {
				pos = args[0]
			}
			return runCursor(rootOpts, cmd, &pos)
		},
	})
	return cmd
}

// runCursor shows the cursor, after setting it to *reset when reset is
// non-nil.
func runCursor(opts *RootOptions, cmd *cobra.Command, reset *string) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	cp, err := a.checkpoint()
	if err != nil {
		return a.fail(ExitCommandError, ErrCodeWiring, "failed to open checkpoint", err)
	}
	p := pump.New(pump.Config{
		Checkpoint: cp,
		Key:        a.cfg.Checkpoint.Key,
		Logger:     a.logger.With().Str("component", "cursor").Logger(),
	})
	ctx := cmd.Context()
	if reset != nil {
		if err := p.ResetCursor(ctx, *reset); err != nil {
			return a.fail(ExitFailure, ErrCodeCursor, "failed to reset cursor", err)
		}
	}
	pos, ok, err := p.Cursor(ctx)
	if err != nil {
		return a.fail(ExitFailure, ErrCodeCursor, "failed to read cursor", err)
	}
	return a.out.Success(cursorOutput{Key: p.Key(), Position: pos, Set: ok})
}
