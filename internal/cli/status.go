package cli

import (
	"github.com/spf13/cobra"

	"github.com/shaiso/Foldflow/internal/orchestrator"
)

// NewStatusCmd создаёт команду status: итог существующего run.
func NewStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status RUN_DIR",
		Short: "Show the status of a run directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := app.output()

			run, rm, err := orchestrator.LoadRun(args[0])
			if err != nil {
				return &ExitError{Code: orchestrator.ExitFatal, Err: err}
			}

			if rm != nil {
				out.Manifest(rm)
				return nil
			}

			// Run ещё не завершён: manifest.json нет.
			started := "-"
			if run.StartedAt != nil {
				started = run.StartedAt.Format("2006-01-02 15:04:05")
			}
			out.Print(
				[]string{"ID", "SEQUENCE", "MODE", "STATUS", "STARTED"},
				[][]string{{run.ID, run.SequenceID, string(run.Mode), string(run.Status), started}},
				run,
			)
			return nil
		},
	}
}
