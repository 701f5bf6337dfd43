package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/Foldflow/internal/artifact"
	"github.com/shaiso/Foldflow/internal/batch"
	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/engine"
	"github.com/shaiso/Foldflow/internal/telemetry"
	"github.com/shaiso/Foldflow/internal/worker"
)

// Ошибки Runner.
var (
	// ErrOutputMissing — инструмент завершился успешно, но артефакта нет.
	ErrOutputMissing = errors.New("output artifact missing or empty")

	// ErrNoSubmitter — batch стадия без JobSubmitter.
	ErrNoSubmitter = errors.New("batch stage requires a job submitter")
)

// Runner выполняет стадии.
type Runner struct {
	executor   worker.Executor
	submitter  batch.Submitter
	waiter     *batch.Waiter
	jobTimeout time.Duration
	metrics    *telemetry.Metrics
}

// Config — конфигурация Runner.
type Config struct {
	// Executor для local стадий и post tool (default: ProcessExecutor).
	Executor worker.Executor

	// Submitter для batch стадий.
	Submitter batch.Submitter

	// PollInterval — интервал опроса jobs.
	PollInterval time.Duration

	// JobTimeout — общий лимит ожидания группы jobs.
	JobTimeout time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	executor := cfg.Executor
	if executor == nil {
		executor = worker.NewProcessExecutor()
	}

	r := &Runner{
		executor:   executor,
		submitter:  cfg.Submitter,
		jobTimeout: cfg.JobTimeout,
		metrics:    cfg.Metrics,
	}
	if cfg.Submitter != nil {
		r.waiter = batch.NewWaiter(cfg.Submitter, cfg.PollInterval, cfg.Logger, cfg.Metrics)
	}
	return r
}

// Invocation — всё, что нужно для запуска стадии.
type Invocation struct {
	// RunID — ID run (префикс имён jobs).
	RunID string

	// Stage — определение стадии.
	Stage *domain.StageDef

	// Dir — директория стадии.
	Dir string

	// Tool и Post — разрешённые инструменты.
	Tool config.ToolSpec
	Post config.ToolSpec

	// Context — контекст шаблонов run.
	Context *engine.Context

	// Sequence — последовательность для placeholder.
	Sequence string

	// Seed — seed первой ветки; ветка i получает Seed+i.
	Seed int64

	// Inputs — входные артефакты веток для стадий с FanOutFrom.
	Inputs []string

	// Groups — варианты для стадий с VariantsFrom.
	Groups []Group
}

// Group — вариант upstream стадии, для которого повторяются ветки.
type Group struct {
	// Name — имя варианта, префикс имён веток.
	Name string

	// Constraint — файл ограничения варианта.
	Constraint string
}

func (inv *Invocation) output() string {
	return filepath.Join(inv.Dir, inv.Stage.Output)
}

func (inv *Invocation) logPath() string {
	return filepath.Join(inv.Dir, inv.Stage.ID+".log")
}

func (inv *Invocation) stageContext(output string) *engine.Context {
	return inv.Context.ForStage(
		engine.StageInfo{ID: inv.Stage.ID, Dir: inv.Dir, Output: output},
		toolContext(inv.Tool),
		toolContext(inv.Post),
	)
}

func toolContext(t config.ToolSpec) engine.ToolContext {
	return engine.ToolContext{Path: t.Path, Args: t.Args, Threads: t.Resources.Threads}
}

// Run выполняет одиночную стадию.
// Для FAILED возвращает результат и StageFailure (или ConfigurationError).
func (r *Runner) Run(ctx context.Context, inv *Invocation) (*domain.StageResult, error) {
	st := inv.Stage
	logger := telemetry.WithStage(telemetry.FromContext(ctx), st.ID)
	start := time.Now()

	res := &domain.StageResult{
		Stage:    st.ID,
		Output:   inv.output(),
		LogPath:  inv.logPath(),
		ExitCode: -1,
	}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.ObserveStage(st.ID, string(res.Status), res.Duration)
	}()

	if err := os.MkdirAll(inv.Dir, 0o755); err != nil {
		return r.fail(res, &domain.StageFailure{Stage: st.ID, ExitCode: -1, Err: err})
	}

	// 1. Артефакт уже есть
	if complete(res.Output, inv.Tool) {
		logger.Info("output exists, skipping stage", "output", res.Output)
		res.Status = domain.StageStatusSkipped
		res.Reason = "output exists"
		return res, nil
	}

	// 2. Инструмент недоступен
	if !inv.Tool.Available {
		if !st.Optional {
			err := &domain.ConfigurationError{Tool: st.Tool, Message: "required tool unavailable: " + inv.Tool.Reason}
			return r.fail(res, err)
		}
		if err := r.placeholder(res.Output, inv, ""); err != nil {
			return r.fail(res, &domain.StageFailure{Stage: st.ID, ExitCode: -1, Err: err})
		}
		logger.Warn("tool unavailable, placeholder written", "tool", st.Tool, "reason", inv.Tool.Reason, "output", res.Output)
		res.Status = domain.StageStatusPlaceholder
		res.Reason = inv.Tool.Reason
		return res, nil
	}

	// 3. Выполнение
	tctx := inv.stageContext(res.Output)
	line, err := engine.Render(st.Command, tctx)
	if err != nil {
		return r.fail(res, &domain.StageFailure{Stage: st.ID, ExitCode: -1, Err: err})
	}

	logger.Info("stage started", "execution", st.Execution, "tool", inv.Tool.Path)

	switch st.Execution {
	case domain.ExecutionBatch:
		err = r.runBatch(ctx, inv, line, res)
	default:
		err = r.runLocal(ctx, inv, tctx, line, res)
	}
	if err != nil {
		logger.Error("stage failed", "error", err, "log", res.LogPath)
		return r.fail(res, err)
	}

	if !artifact.Ready(res.Output) {
		return r.fail(res, &domain.StageFailure{
			Stage:      st.ID,
			ExitCode:   res.ExitCode,
			StderrTail: res.StderrTail,
			LogPath:    res.LogPath,
			Err:        fmt.Errorf("%w: %s", ErrOutputMissing, res.Output),
		})
	}

	res.Status = domain.StageStatusSucceeded
	logger.Info("stage succeeded", "output", res.Output, "duration", time.Since(start))
	return res, nil
}

// runLocal запускает инструмент одиночной стадии синхронно.
func (r *Runner) runLocal(ctx context.Context, inv *Invocation, tctx *engine.Context, line string, res *domain.StageResult) error {
	st := inv.Stage

	result, err := r.execLocal(ctx, inv, tctx, line, localCommand{
		name:    st.ID,
		dir:     inv.Dir,
		output:  res.Output,
		logPath: res.LogPath,
	})
	if result != nil {
		res.ExitCode = result.ExitCode
		res.StderrTail = result.StderrTail
	}
	if err != nil {
		return &domain.StageFailure{Stage: st.ID, ExitCode: res.ExitCode, LogPath: res.LogPath, Err: err}
	}
	if res.ExitCode != 0 {
		return &domain.StageFailure{
			Stage:      st.ID,
			ExitCode:   res.ExitCode,
			StderrTail: res.StderrTail,
			LogPath:    res.LogPath,
		}
	}
	return nil
}

// localCommand — куда пишет один local запуск.
type localCommand struct {
	name    string
	dir     string
	output  string
	logPath string
}

// execLocal рендерит stdin и запускает инструмент через Executor.
// Захваченный stdout пишется во временный файл и переименовывается
// только при нулевом коде выхода, чтобы незавершённый вывод не считался
// артефактом.
func (r *Runner) execLocal(ctx context.Context, inv *Invocation, tctx *engine.Context, line string, lc localCommand) (*worker.ExecutionResult, error) {
	st := inv.Stage

	var stdin string
	if st.Stdin != "" {
		var err error
		if stdin, err = engine.Render(st.Stdin, tctx); err != nil {
			return nil, err
		}
	}

	var partial string
	if st.CaptureStdout {
		partial = lc.output + ".partial"
	}

	if wt := inv.Tool.Resources.WallTime; wt > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wt)
		defer cancel()
	}

	result, err := r.executor.Execute(ctx, &worker.Command{
		Name:       lc.name,
		Line:       line,
		Dir:        lc.dir,
		Env:        inv.Tool.Env,
		Stdin:      stdin,
		LogPath:    lc.logPath,
		StdoutPath: partial,
	})
	if err != nil {
		removeQuietly(partial)
		return nil, err
	}
	if result.ExitCode != 0 {
		removeQuietly(partial)
		return result, nil
	}

	if partial != "" {
		if err := os.Rename(partial, lc.output); err != nil {
			return result, err
		}
	}
	return result, nil
}

// runBatch отправляет одиночную стадию одним job.
func (r *Runner) runBatch(ctx context.Context, inv *Invocation, line string, res *domain.StageResult) error {
	st := inv.Stage
	if r.submitter == nil {
		return &domain.StageFailure{Stage: st.ID, ExitCode: -1, Err: ErrNoSubmitter}
	}

	h, err := r.submitter.Submit(ctx, r.jobSpec(inv, inv.RunID+"/"+st.ID, line, inv.Dir, res.LogPath))
	if err != nil {
		return &domain.StageFailure{Stage: st.ID, ExitCode: -1, LogPath: res.LogPath, Err: err}
	}

	timeout := r.timeout(inv)
	state := r.waiter.WaitAll(ctx, []*batch.JobHandle{h}, timeout)[0]
	if state == domain.JobStateTimedOut {
		removeQuietly(res.Output)
		return &domain.TimeoutError{Stage: st.ID, JobID: h.ID(), Timeout: timeout}
	}
	if state != domain.JobStateSucceeded {
		removeQuietly(res.Output)
		res.StderrTail = worker.FileTail(res.LogPath, worker.TailLines)
		return &domain.StageFailure{
			Stage:      st.ID,
			ExitCode:   -1,
			StderrTail: res.StderrTail,
			LogPath:    res.LogPath,
			Err:        fmt.Errorf("job %s finished in state %s", h.ID(), state),
		}
	}
	res.ExitCode = 0
	return nil
}

func (r *Runner) jobSpec(inv *Invocation, name, line, dir, logPath string) batch.JobSpec {
	return batch.JobSpec{
		Name:      name,
		Command:   line,
		Dir:       dir,
		LogPath:   logPath,
		Env:       inv.Tool.Env,
		Resources: inv.Tool.Resources,
	}
}

// timeout — лимит ожидания jobs стадии.
func (r *Runner) timeout(inv *Invocation) time.Duration {
	if r.jobTimeout > 0 {
		return r.jobTimeout
	}
	return inv.Tool.Resources.WallTime
}

func (r *Runner) placeholder(path string, inv *Invocation, variant string) error {
	err := artifact.WritePlaceholder(path, inv.Stage.Placeholder, artifact.Meta{
		Stage:    inv.Stage.ID,
		Variant:  variant,
		Tool:     inv.Stage.Tool,
		Sequence: inv.Sequence,
		Reason:   inv.Tool.Reason,
	})
	if err != nil {
		return fmt.Errorf("write placeholder: %w", err)
	}
	r.metrics.CountPlaceholder(inv.Stage.ID)
	return nil
}

func (r *Runner) fail(res *domain.StageResult, err error) (*domain.StageResult, error) {
	res.Status = domain.StageStatusFailed
	res.Err = err
	return res, err
}

// complete проверяет, что артефакт готов. Placeholder не считается
// готовым, если инструмент стал доступен.
func complete(path string, tool config.ToolSpec) bool {
	if !artifact.Ready(path) {
		return false
	}
	return !(tool.Available && artifact.IsPlaceholder(path))
}

func removeQuietly(path string) {
	if path != "" {
		os.Remove(path)
	}
}
