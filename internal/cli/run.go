package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/orchestrator"
	"github.com/shaiso/Foldflow/internal/telemetry"
)

// NewRunCmd создаёт команду run: pipeline для одной последовательности.
func NewRunCmd(app *App) *cobra.Command {
	var mode string
	var runID string

	cmd := &cobra.Command{
		Use:   "run SEQUENCE.fasta",
		Short: "Run the pipeline for one sequence",
		Long: `Run the pipeline for a single-record FASTA file.

Exit codes: 0 success (placeholders included), 2 degraded, 1 fatal.
Re-running with --run-id resumes the run and skips stages whose
artifacts already exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.output()

			m, err := domain.ParseMode(mode)
			if err != nil {
				return &ExitError{Code: orchestrator.ExitFatal, Err: &domain.ConfigurationError{Key: "mode", Message: err.Error()}}
			}

			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return err
			}
			logger := app.logger(cfg)
			metrics := telemetry.NewMetrics()

			o, cleanup, err := app.newOrchestrator(ctx, cfg, m, logger, metrics)
			if err != nil {
				return err
			}
			defer cleanup()

			outcome, runErr := o.Run(ctx, orchestrator.Request{InputPath: args[0], Mode: m, RunID: runID})
			app.writeMetrics(metrics, logger)

			if outcome != nil {
				out.Manifest(outcome.Manifest)
				out.Success(fmt.Sprintf("Manifest: %s", outcome.ManifestPath))
			}

			code := orchestrator.ExitCode(outcome, runErr)
			if code != orchestrator.ExitOK {
				return &ExitError{Code: code, Err: runErr}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeAccurate), "Pipeline mode (fast, accurate)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Resume an existing run")

	return cmd
}
