package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/formsheet/internal/processor"
)

type processOutput struct {
	processor.Outcome
}

func (o processOutput) String() string {
	if o.Appended == 0 {
		return fmt.Sprintf("%s: nothing new (%d already merged) in %s", o.FormID, o.Skipped, o.Path)
	}
	s := fmt.Sprintf("%s: appended %d to %s (total %d", o.FormID, o.Appended, o.Path, o.Total)
	if o.Skipped > 0 {
		s += fmt.Sprintf(", %d skipped", o.Skipped)
	}
	s += ")"
	if o.Deadletter {
		s += " [deadletter]"
	}
	if o.Emailed {
		s += " [emailed]"
	}
	return s
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process [file|-]",
		Short: "Merge one form.grouped notification into its sheet",
		Long: `Read a form.grouped notification (bare or wrapped in a CloudEvent)
from a file or stdin and merge its submissions into the form's sheet for
the current year.

Example:
  formsheet process notification.json
  cat notification.json | formsheet process -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			return runProcess(rootOpts, cmd, src)
		},
	}
}

func runProcess(opts *RootOptions, cmd *cobra.Command, src string) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	raw, err := readInput(cmd, src)
	if err != nil {
		return a.fail(ExitCommandError, ErrCodeInput, "failed to read notification", err)
	}
	n, err := processor.ParseNotification(raw)
	if err != nil {
		return a.fail(ExitCommandError, ErrCodeInput, "invalid notification", err)
	}

	p, err := a.processor()
	if err != nil {
		return a.fail(ExitCommandError, ErrCodeWiring, "failed to build processor", err)
	}
	out, err := p.Process(cmd.Context(), n)
	if err != nil {
		return a.fail(ExitFailure, ErrCodeProcess, "failed to process notification", err)
	}
	return a.out.Success(processOutput{out})
}

func readInput(cmd *cobra.Command, src string) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(src)
}
