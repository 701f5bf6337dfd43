package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/Foldflow/internal/aggregate"
	"github.com/shaiso/Foldflow/internal/artifact"
	"github.com/shaiso/Foldflow/internal/batch"
	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/engine"
	"github.com/shaiso/Foldflow/internal/fold"
	"github.com/shaiso/Foldflow/internal/gate"
	"github.com/shaiso/Foldflow/internal/stage"
	"github.com/shaiso/Foldflow/internal/telemetry"
	"github.com/shaiso/Foldflow/internal/worker"
)

// Файлы в корне директории run.
const (
	RunFile      = "run.json"
	ManifestFile = "manifest.json"
	LogFile      = "pipeline.log"
	InputFile    = "input.fasta"
)

// Коды выхода CLI.
const (
	ExitOK       = 0
	ExitFatal    = 1
	ExitDegraded = 2
)

// SpecBuilder строит PipelineSpec режима.
type SpecBuilder func(mode domain.Mode, cfg *config.Config) (*domain.PipelineSpec, error)

// Orchestrator выполняет pipeline runs.
//
// Orchestrator — центральный компонент, который:
//   - Проверяет инструменты до создания директорий
//   - Создаёт или продолжает директорию run
//   - Обходит DAG стадий
//   - Ожидает входные артефакты через Gate
//   - Собирает manifests fan-out стадий
//   - Финализирует run (SUCCEEDED/DEGRADED/FAILED)
type Orchestrator struct {
	cfg       *config.Config
	specs     SpecBuilder
	runner    *stage.Runner
	gate      *gate.Gate
	submitter batch.Submitter
	metrics   *telemetry.Metrics
	console   io.Writer
	logger    *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Config — разобранная конфигурация Foldflow.
	Config *config.Config

	// Submitter для batch стадий (default: по PIPELINE_SUBMITTER, local или slurm).
	Submitter batch.Submitter

	// Executor для local стадий (default: ProcessExecutor).
	Executor worker.Executor

	// Specs строит стадии режима (default: engine.BuildSpec).
	Specs SpecBuilder

	Metrics *telemetry.Metrics

	// Console — куда дублировать журнал run (может быть nil).
	Console io.Writer

	Logger *slog.Logger
}

// New создаёт Orchestrator.
// Backend queue требует явного Submitter: его зависимости создаёт CLI.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Config == nil {
		return nil, &domain.ConfigurationError{Message: "configuration is required"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executor := cfg.Executor
	if executor == nil {
		executor = worker.NewProcessExecutor()
	}

	submitter := cfg.Submitter
	if submitter == nil {
		switch cfg.Config.Pipeline.Submitter {
		case config.SubmitterLocal:
			submitter = batch.NewLocalSubmitter(executor, logger)
		case config.SubmitterSlurm:
			submitter = batch.NewSlurmSubmitter(cfg.Config.Slurm, nil, logger)
		default:
			return nil, &domain.ConfigurationError{
				Key:     "PIPELINE_SUBMITTER",
				Message: fmt.Sprintf("%v: %s", ErrUnknownSubmitter, cfg.Config.Pipeline.Submitter),
			}
		}
	}

	specs := cfg.Specs
	if specs == nil {
		specs = engine.BuildSpec
	}

	p := cfg.Config.Pipeline
	return &Orchestrator{
		cfg:   cfg.Config,
		specs: specs,
		runner: stage.New(stage.Config{
			Executor:     executor,
			Submitter:    submitter,
			PollInterval: p.PollInterval,
			JobTimeout:   p.JobTimeout,
			Logger:       logger,
			Metrics:      cfg.Metrics,
		}),
		gate:      gate.New(p.GateInterval, logger),
		submitter: submitter,
		metrics:   cfg.Metrics,
		console:   cfg.Console,
		logger:    logger,
	}, nil
}

// Submitter возвращает backend batch стадий.
func (o *Orchestrator) Submitter() batch.Submitter {
	return o.submitter
}

// Request — параметры одного run.
type Request struct {
	// InputPath — FASTA с одной последовательностью.
	InputPath string

	// Mode — режим pipeline.
	Mode domain.Mode

	// RunID — ID существующего run для продолжения (пусто — новый run).
	RunID string
}

// Outcome — итог run.
type Outcome struct {
	Run          *domain.PipelineRun
	Manifest     *domain.RunManifest
	ManifestPath string
	Stats        RunStats
}

// ExitCode возвращает код выхода CLI для итога run.
func ExitCode(out *Outcome, err error) int {
	if err != nil || out == nil {
		return ExitFatal
	}
	switch out.Run.Status {
	case domain.RunStatusSucceeded:
		return ExitOK
	case domain.RunStatusDegraded:
		return ExitDegraded
	default:
		return ExitFatal
	}
}

// Preflight строит стадии режима и проверяет инструменты.
// Ничего не создаёт на диске.
func (o *Orchestrator) Preflight(mode domain.Mode) (*domain.PipelineSpec, config.Toolset, error) {
	spec, err := o.specs(mode, o.cfg)
	if err != nil {
		return nil, nil, &domain.ConfigurationError{Key: "mode", Message: err.Error()}
	}
	tools, err := config.Resolve(o.cfg, spec)
	if err != nil {
		return nil, nil, err
	}
	return spec, tools, nil
}

// Run выполняет pipeline для одной последовательности.
//
// Ошибки конфигурации возвращаются до создания директории run.
// После старта стадий Outcome возвращается и при фатальной ошибке:
// manifest.json пишется в любом случае.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	// 1. Pre-flight: стадии и инструменты
	spec, tools, err := o.Preflight(req.Mode)
	if err != nil {
		return nil, err
	}

	// 2. Входная последовательность
	inputPath, err := filepath.Abs(req.InputPath)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: "input", Message: err.Error()}
	}
	seq, err := fold.ReadSequence(inputPath)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: "input", Message: fmt.Sprintf("%s: %v", inputPath, err)}
	}

	// 3. Директория run
	runID := req.RunID
	if runID == "" {
		runID = domain.NewRunID(time.Now())
	}
	workDir, err := filepath.Abs(o.cfg.Pipeline.WorkDir)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: "PIPELINE_WORK_DIR", Message: err.Error()}
	}
	run, err := o.prepareRun(domain.NewPipelineRun(runID, workDir, seq.ID, seq.Residues, inputPath, req.Mode), seq)
	if err != nil {
		return nil, err
	}

	// 4. Журнал run
	runLog, err := telemetry.OpenRunLog(filepath.Join(run.WorkDir, LogFile), o.cfg.Log.Level, o.cfg.Log.Format, o.console)
	if err != nil {
		return nil, err
	}
	defer runLog.Close()

	logger := telemetry.WithRunID(runLog.Logger, run.ID)
	ctx = telemetry.WithLogger(ctx, logger)

	// 5. RunState
	state := NewRunState(run, spec, tools)
	if err := state.Initialize(map[string]any{
		engine.InputSequence:     run.Sequence,
		engine.InputSequenceID:   run.SequenceID,
		engine.InputFasta:        filepath.Join(run.WorkDir, InputFile),
		engine.InputModelsPerJob: o.cfg.Pipeline.ModelsPerJob,
	}); err != nil {
		return nil, &domain.ConfigurationError{Key: "mode", Message: err.Error()}
	}

	run.MarkRunning()
	if err := aggregate.WriteManifest(filepath.Join(run.WorkDir, RunFile), run); err != nil {
		return nil, fmt.Errorf("write run: %w", err)
	}

	logger.Info("run started",
		"sequence_id", run.SequenceID,
		"length", len(run.Sequence),
		"mode", run.Mode,
		"stages", state.DAG.Size(),
		"submitter", o.submitter.Name(),
		"work_dir", run.WorkDir,
	)

	// 6. Стадии в топологическом порядке
	runErr := o.executeStages(ctx, state)

	// 7. Финализация
	out, err := o.completeRun(ctx, state, runErr)
	if err != nil {
		return out, err
	}
	return out, runErr
}

// prepareRun создаёт директорию нового run или проверяет существующую.
func (o *Orchestrator) prepareRun(run *domain.PipelineRun, seq *fold.Sequence) (*domain.PipelineRun, error) {
	runFile := filepath.Join(run.WorkDir, RunFile)

	data, err := os.ReadFile(runFile)
	switch {
	case err == nil:
		var prev domain.PipelineRun
		if err := json.Unmarshal(data, &prev); err != nil {
			return nil, &domain.ConfigurationError{Key: "run_id", Message: fmt.Sprintf("read %s: %v", runFile, err)}
		}
		if !prev.SameInput(run) {
			return nil, &domain.ConfigurationError{
				Key:     "run_id",
				Message: fmt.Sprintf("%v: %s (mode %s, sequence %s)", ErrRunMismatch, run.ID, prev.Mode, prev.SequenceID),
			}
		}
		prev.WorkDir = run.WorkDir
		prev.InputPath = run.InputPath
		run = &prev

	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(run.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create run directory: %w", err)
		}

	default:
		return nil, fmt.Errorf("read run: %w", err)
	}

	fasta := filepath.Join(run.WorkDir, InputFile)
	if !artifact.Ready(fasta) {
		var buf bytes.Buffer
		if err := fold.WriteFasta(&buf, seq); err != nil {
			return nil, err
		}
		if err := artifact.WriteFileAtomic(fasta, buf.Bytes()); err != nil {
			return nil, fmt.Errorf("write input: %w", err)
		}
	}
	return run, nil
}

// executeStages запускает стадии по порядку DAG.
// Первая фатальная ошибка останавливает run: downstream стадии не стартуют.
func (o *Orchestrator) executeStages(ctx context.Context, state *RunState) error {
	for _, node := range state.DAG.Order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.executeStage(ctx, state, node); err != nil {
			return err
		}
	}
	return nil
}

// completeRun выставляет финальный статус и пишет manifest.json и run.json.
func (o *Orchestrator) completeRun(ctx context.Context, state *RunState, runErr error) (*Outcome, error) {
	run := state.Run
	logger := telemetry.FromContext(ctx)

	switch {
	case runErr != nil:
		run.MarkFailed(runErr.Error())
		logger.Error("run failed", "error", runErr, "duration", run.Duration())
	case state.IsDegraded():
		reasons := state.DegradedReasons()
		run.MarkDegraded(strings.Join(reasons, "; "))
		logger.Warn("run degraded", "reasons", reasons, "duration", run.Duration())
	default:
		run.MarkSucceeded()
		logger.Info("run succeeded", "duration", run.Duration())
	}

	rm := state.BuildManifest()
	rm.GeneratedAt = time.Now().UTC()

	out := &Outcome{
		Run:          run,
		Manifest:     rm,
		ManifestPath: filepath.Join(run.WorkDir, ManifestFile),
		Stats:        state.Stats(),
	}
	o.metrics.CountRun(string(run.Mode), string(run.Status))

	if err := aggregate.WriteManifest(out.ManifestPath, rm); err != nil {
		return out, fmt.Errorf("write manifest: %w", err)
	}
	if err := aggregate.WriteManifest(filepath.Join(run.WorkDir, RunFile), run); err != nil {
		return out, fmt.Errorf("write run: %w", err)
	}

	logger.Info("manifest written",
		"path", out.ManifestPath,
		"entries", len(rm.Entries),
		"failed_branches", rm.FailedBranches,
		"placeholders", rm.Placeholders,
	)
	return out, nil
}

// LoadRun читает run.json и manifest.json директории run.
// manifest отсутствует у незавершённого run.
func LoadRun(dir string) (*domain.PipelineRun, *domain.RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, RunFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read run: %w", err)
	}
	var run domain.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, nil, fmt.Errorf("decode run: %w", err)
	}

	data, err = os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return &run, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	var rm domain.RunManifest
	if err := json.Unmarshal(data, &rm); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &run, &rm, nil
}
