package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/fold"
	"github.com/shaiso/Foldflow/internal/orchestrator"
	"github.com/shaiso/Foldflow/internal/scheduler"
	"github.com/shaiso/Foldflow/internal/telemetry"
)

// inputPatterns — расширения входных FASTA файлов.
var inputPatterns = []string{"*.fasta", "*.fa", "*.fas"}

// ErrNoInputs — в директории нет FASTA файлов.
var ErrNoInputs = errors.New("no FASTA files found")

// ErrDuplicateSequence — два файла с одним ID последовательности.
var ErrDuplicateSequence = errors.New("duplicate sequence id")

// BatchResult — итог run одного входа batch.
type BatchResult struct {
	Input    string           `json:"input"`
	RunID    string           `json:"run_id,omitempty"`
	Status   domain.RunStatus `json:"status"`
	ExitCode int              `json:"exit_code"`
	Manifest string           `json:"manifest,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Runner выполняет один run. Реализуется orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Outcome, error)
}

// NewBatchCmd создаёт команду batch: run для каждого FASTA в директории.
func NewBatchCmd(app *App) *cobra.Command {
	var (
		inputDir string
		mode     string
		runID    string
		maxRuns  int
		schedule string
		timezone string
	)

	cmd := &cobra.Command{
		Use:   "batch --input-dir DIR",
		Short: "Run the pipeline for every FASTA file in a directory",
		Long: `Run the pipeline for every *.fasta, *.fa and *.fas file in DIR,
at most --max-runs at a time. All runs of one invocation share a run ID.

With --schedule the batch is repeated on a cron schedule with the same
run ID, so finished stages are skipped and only new inputs do work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.output()

			m, err := domain.ParseMode(mode)
			if err != nil {
				return &ExitError{Code: orchestrator.ExitFatal, Err: &domain.ConfigurationError{Key: "mode", Message: err.Error()}}
			}
			if maxRuns < 1 {
				return &ExitError{Code: orchestrator.ExitFatal, Err: &domain.ConfigurationError{Key: "max-runs", Message: "must be at least 1"}}
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

			if runID == "" {
				runID = domain.NewRunID(time.Now())
			}

			once := func(ctx context.Context) ([]BatchResult, error) {
				inputs, err := FindInputs(inputDir)
				if err != nil {
					return nil, err
				}
				logger.Info("batch started", "inputs", len(inputs), "run_id", runID, "max_runs", maxRuns)
				results := RunBatch(ctx, o, inputs, m, runID, maxRuns, logger)
				app.writeMetrics(metrics, logger)
				printBatch(out, results)
				return results, nil
			}

			if schedule == "" {
				results, err := once(ctx)
				if err != nil {
					return &ExitError{Code: orchestrator.ExitFatal, Err: err}
				}
				if code := BatchExitCode(results); code != orchestrator.ExitOK {
					return &ExitError{Code: code, Err: batchError(results)}
				}
				return nil
			}

			sched, err := scheduler.New(scheduler.Config{
				Expr:           schedule,
				Timezone:       timezone,
				RunImmediately: true,
				Logger:         logger,
				Job: func(ctx context.Context, tick int) error {
					results, err := once(ctx)
					if errors.Is(err, ErrNoInputs) {
						logger.Info("no inputs yet", "dir", inputDir, "tick", tick)
						return nil
					}
					if err != nil {
						return err
					}
					return batchError(results)
				},
			})
			if err != nil {
				return &ExitError{Code: orchestrator.ExitFatal, Err: &domain.ConfigurationError{Key: "schedule", Message: err.Error()}}
			}
			return sched.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&inputDir, "input-dir", "", "Directory with FASTA files")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeAccurate), "Pipeline mode (fast, accurate)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Shared run ID (resume a previous batch)")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 4, "Maximum concurrent runs")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Repeat on a cron schedule (\"*/30 * * * *\", \"@hourly\")")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "Timezone of --schedule")
	cmd.MarkFlagRequired("input-dir")

	return cmd
}

// FindInputs возвращает отсортированные FASTA файлы директории.
func FindInputs(dir string) ([]string, error) {
	seen := make(map[string]bool)
	var inputs []string
	for _, pattern := range inputPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				inputs = append(inputs, m)
			}
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInputs, dir)
	}
	sort.Strings(inputs)
	return inputs, nil
}

// RunBatch выполняет runs для всех входов, не больше limit одновременно.
// Входы с повторяющимся ID последовательности не запускаются: они
// попали бы в одну директорию run.
func RunBatch(ctx context.Context, r Runner, inputs []string, mode domain.Mode, runID string, limit int, logger *slog.Logger) []BatchResult {
	results := make([]BatchResult, len(inputs))

	owners := make(map[string]string)
	var g errgroup.Group
	g.SetLimit(limit)

	for i, input := range inputs {
		if seq, err := fold.ReadSequence(input); err == nil {
			if owner, dup := owners[seq.ID]; dup {
				results[i] = BatchResult{
					Input:    input,
					Status:   domain.RunStatusFailed,
					ExitCode: orchestrator.ExitFatal,
					Error:    fmt.Sprintf("%v %s (also in %s)", ErrDuplicateSequence, seq.ID, owner),
				}
				logger.Warn("input skipped", "input", input, "error", results[i].Error)
				continue
			}
			owners[seq.ID] = input
		}

		g.Go(func() error {
			outcome, err := r.Run(ctx, orchestrator.Request{InputPath: input, Mode: mode, RunID: runID})
			results[i] = newBatchResult(input, outcome, err)
			return nil
		})
	}
	g.Wait()
	return results
}

func newBatchResult(input string, outcome *orchestrator.Outcome, err error) BatchResult {
	res := BatchResult{
		Input:    input,
		Status:   domain.RunStatusFailed,
		ExitCode: orchestrator.ExitCode(outcome, err),
	}
	if outcome != nil {
		res.RunID = outcome.Run.ID
		res.Status = outcome.Run.Status
		res.Manifest = outcome.ManifestPath
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// BatchExitCode — худший код выхода среди runs.
func BatchExitCode(results []BatchResult) int {
	code := orchestrator.ExitOK
	for _, r := range results {
		switch r.ExitCode {
		case orchestrator.ExitFatal:
			return orchestrator.ExitFatal
		case orchestrator.ExitDegraded:
			code = orchestrator.ExitDegraded
		}
	}
	return code
}

func batchError(results []BatchResult) error {
	failed := 0
	for _, r := range results {
		if r.ExitCode == orchestrator.ExitFatal {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d runs failed", failed, len(results))
}

func printBatch(out *Output, results []BatchResult) {
	headers := []string{"INPUT", "RUN", "STATUS", "EXIT", "DETAIL"}
	rows := make([][]string, len(results))
	for i, r := range results {
		detail := r.Manifest
		if r.Error != "" {
			detail = r.Error
		}
		rows[i] = []string{filepath.Base(r.Input), r.RunID, string(r.Status), strconv.Itoa(r.ExitCode), detail}
	}
	out.Print(headers, rows, results)
}
