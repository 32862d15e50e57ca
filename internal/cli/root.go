// Package cli wires the vidgrab commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// Exit codes returned to the shell.
const (
	ExitOK       = 0
	ExitCLIError = 1
	ExitServe    = 2
	ExitFetch    = 3
)

// ExitError carries an error together with the process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vidgrab",
		Short:         "Media download orchestrator",
		Long:          "vidgrab downloads media from the web, with quality fallback,\nlive progress streaming and duplicate suppression.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().Int("port", 8000, "HTTP listen port")
	root.PersistentFlags().StringP("download-dir", "o", "./downloads", "directory for completed downloads")
	root.PersistentFlags().String("data-dir", "./data", "directory for the info cache and staging files")

	root.AddCommand(newServeCmd())
	root.AddCommand(newFetchCmd())
	return root
}

// Execute runs the CLI until completion or ctx cancellation.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
