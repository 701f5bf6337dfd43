package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/Foldflow/internal/artifact"
	"github.com/shaiso/Foldflow/internal/batch"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/engine"
	"github.com/shaiso/Foldflow/internal/telemetry"
	"github.com/shaiso/Foldflow/internal/worker"
)

// branchTailLines — строк журнала в сообщении о падении ветки.
const branchTailLines = 5

// BranchInputFile — файл в директории ветки с её входом.
// Ветка с изменившимся входом выполняется заново.
const BranchInputFile = "branch.input"

// Variant возвращает имя ветки i.
func Variant(i int) string {
	return fmt.Sprintf("b%02d", i)
}

// branch — ветка fan-out в процессе выполнения.
type branch struct {
	info    engine.BranchInfo
	result  *domain.BranchResult
	logPath string
	handle  *batch.JobHandle
}

// RunFanOut выполняет стадию с ветками.
//
// Каждая ветка пишет в <stage>/<variant>/ и пропускается отдельно, если её
// артефакты уже есть и вход не изменился. Batch jobs отправляются до одного
// WaitAll, local ветки выполняются по очереди.
// Упавшие ветки не возвращаются ошибкой: они записаны в Branches.
func (r *Runner) RunFanOut(ctx context.Context, inv *Invocation) (*domain.StageResult, error) {
	st := inv.Stage
	logger := telemetry.WithStage(telemetry.FromContext(ctx), st.ID)
	start := time.Now()

	res := &domain.StageResult{Stage: st.ID, ExitCode: -1}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.ObserveStage(st.ID, string(res.Status), res.Duration)
		r.metrics.CountBranchFailures(st.ID, res.Failed())
	}()

	branches, err := r.plan(inv)
	if err != nil {
		return r.fail(res, &domain.StageFailure{Stage: st.ID, ExitCode: -1, Err: err})
	}
	if len(branches) == 0 {
		logger.Warn("no inputs for fan-out stage")
		res.Status = domain.StageStatusSkipped
		res.Reason = "no inputs"
		return res, nil
	}

	var (
		submit   []*branch
		postOnly []*branch
	)
	for _, b := range branches {
		changed, err := r.refreshInput(inv, b)
		if err != nil {
			r.failBranch(ctx, inv, b, err.Error())
			continue
		}
		if changed {
			logger.Info("branch input changed, rerunning", "variant", b.info.Variant, "input", b.info.Input)
		}

		switch {
		case complete(b.info.Output, inv.Tool) && r.postDone(inv, b):
			b.result.Status = domain.StageStatusSkipped
			logger.Info("branch output exists, skipping", "variant", b.info.Variant)

		case !inv.Tool.Available:
			if err := r.placeholder(b.info.Output, inv, b.info.Variant); err != nil {
				r.failBranch(ctx, inv, b, err.Error())
				continue
			}
			b.result.Status = domain.StageStatusPlaceholder

		case complete(b.info.Output, inv.Tool):
			postOnly = append(postOnly, b)

		default:
			submit = append(submit, b)
		}
	}

	if !inv.Tool.Available {
		logger.Warn("tool unavailable, placeholders written", "tool", st.Tool, "reason", inv.Tool.Reason)
		res.Reason = inv.Tool.Reason
	}

	switch {
	case len(submit) == 0:
	case st.Execution == domain.ExecutionLocal:
		r.runLocalBranches(ctx, inv, submit)
	default:
		r.submitAll(ctx, inv, submit)
	}
	for _, b := range postOnly {
		r.finishBranch(ctx, inv, b)
	}

	for _, b := range branches {
		res.Branches = append(res.Branches, *b.result)
	}
	res.Status = fanOutStatus(res.Branches)
	if res.Status == domain.StageStatusSucceeded {
		res.ExitCode = 0
	}

	logger.Info("fan-out stage finished",
		"status", res.Status,
		"branches", len(res.Branches),
		"failed", res.Failed(),
		"duration", time.Since(start),
	)
	return res, nil
}

// plan создаёт директории и описания веток.
//
// Ветки Sweep названы по наборам параметров. Ветки FanOutFrom получают
// входы по порядку. Остальные стадии дают FanOut веток на каждую группу
// вариантов: "<group>-b00" или "b00" без групп.
func (r *Runner) plan(inv *Invocation) ([]*branch, error) {
	st := inv.Stage

	var infos []engine.BranchInfo
	switch {
	case len(st.Sweep) > 0:
		for i, set := range st.Sweep {
			infos = append(infos, engine.BranchInfo{Variant: set.Name, Index: i, Seed: inv.Seed, Args: set.Args})
		}

	case st.FanOutFrom != "":
		n := len(inv.Inputs)
		if st.FanOutLimit > 0 && n > st.FanOutLimit {
			n = st.FanOutLimit
		}
		for i := 0; i < n; i++ {
			infos = append(infos, engine.BranchInfo{Variant: Variant(i), Index: i, Seed: inv.Seed + int64(i), Input: inv.Inputs[i]})
		}

	default:
		groups := inv.Groups
		if len(groups) == 0 {
			groups = []Group{{}}
		}
		n := max(st.FanOut, 1)
		for _, g := range groups {
			for i := 0; i < n; i++ {
				variant := Variant(i)
				if g.Name != "" {
					variant = g.Name + "-" + variant
				}
				infos = append(infos, engine.BranchInfo{
					Variant:    variant,
					Index:      len(infos),
					Seed:       inv.Seed + int64(i),
					Constraint: g.Constraint,
				})
			}
		}
	}

	branches := make([]*branch, 0, len(infos))
	for _, info := range infos {
		info.Dir = filepath.Join(inv.Dir, info.Variant)
		info.Output = filepath.Join(info.Dir, st.Output)
		if err := os.MkdirAll(info.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create branch dir: %w", err)
		}

		branches = append(branches, &branch{
			info:    info,
			logPath: filepath.Join(info.Dir, "job.log"),
			result: &domain.BranchResult{
				Variant: info.Variant,
				Seed:    info.Seed,
				Input:   info.Input,
				Dir:     info.Dir,
				Output:  info.Output,
			},
		})
	}
	return branches, nil
}

// inputKey — содержимое BranchInputFile ветки. Пусто, если у ветки нет входа.
func (b *branch) inputKey() string {
	if b.info.Input == "" && b.info.Constraint == "" && len(b.info.Args) == 0 {
		return ""
	}
	return fmt.Sprintf("input %s\nconstraint %s\nargs %s\n",
		b.info.Input, b.info.Constraint, strings.Join(b.info.Args, " "))
}

// refreshInput сверяет вход ветки с записанным при прошлом запуске.
// При расхождении удаляет артефакты ветки и возвращает true.
func (r *Runner) refreshInput(inv *Invocation, b *branch) (bool, error) {
	key := b.inputKey()
	if key == "" {
		return false, nil
	}

	path := filepath.Join(b.info.Dir, BranchInputFile)
	prev, err := os.ReadFile(path)
	if err == nil && string(prev) == key {
		return false, nil
	}
	changed := err == nil

	if changed {
		removeQuietly(b.info.Output)
		if inv.Stage.Collect != "" {
			stale, _ := artifact.Glob(b.info.Dir, inv.Stage.Collect)
			for _, p := range stale {
				removeQuietly(p)
			}
		}
	}
	if err := artifact.WriteFileAtomic(path, []byte(key)); err != nil {
		return false, fmt.Errorf("record branch input: %w", err)
	}
	return changed, nil
}

// runLocalBranches выполняет ветки local стадии по очереди.
func (r *Runner) runLocalBranches(ctx context.Context, inv *Invocation, branches []*branch) {
	for _, b := range branches {
		bctx := inv.stageContext(b.info.Output).ForBranch(b.info)
		line, err := engine.Render(inv.Stage.Command, bctx)
		if err != nil {
			r.failBranch(ctx, inv, b, err.Error())
			continue
		}

		result, err := r.execLocal(ctx, inv, bctx, line, localCommand{
			name:    inv.Stage.ID + "/" + b.info.Variant,
			dir:     b.info.Dir,
			output:  b.info.Output,
			logPath: b.logPath,
		})
		switch {
		case err != nil:
			r.failBranch(ctx, inv, b, err.Error())
		case result.ExitCode != 0:
			r.failBranch(ctx, inv, b, fmt.Sprintf("exit code %d: %s", result.ExitCode, result.StderrTail))
		default:
			r.finishBranch(ctx, inv, b)
		}
	}
}

// submitAll отправляет ветки и ждёт их одним WaitAll.
func (r *Runner) submitAll(ctx context.Context, inv *Invocation, branches []*branch) {
	st := inv.Stage
	logger := telemetry.WithStage(telemetry.FromContext(ctx), st.ID)

	if r.submitter == nil {
		for _, b := range branches {
			r.failBranch(ctx, inv, b, ErrNoSubmitter.Error())
		}
		return
	}

	var (
		handles   []*batch.JobHandle
		submitted []*branch
	)
	for _, b := range branches {
		bctx := inv.stageContext(b.info.Output).ForBranch(b.info)
		line, err := engine.Render(st.Command, bctx)
		if err != nil {
			r.failBranch(ctx, inv, b, err.Error())
			continue
		}

		name := fmt.Sprintf("%s/%s/%s", inv.RunID, st.ID, b.info.Variant)
		h, err := r.submitter.Submit(ctx, r.jobSpec(inv, name, line, b.info.Dir, b.logPath))
		if err != nil {
			r.failBranch(ctx, inv, b, err.Error())
			continue
		}
		b.handle = h
		b.result.JobID = h.ID()
		handles = append(handles, h)
		submitted = append(submitted, b)
	}

	if len(handles) == 0 {
		return
	}
	logger.Info("jobs submitted", "count", len(handles), "backend", r.submitter.Name())

	states := r.waiter.WaitAll(ctx, handles, r.timeout(inv))
	for i, b := range submitted {
		b.result.State = states[i]
		if states[i] != domain.JobStateSucceeded {
			removeQuietly(b.info.Output)
			r.failBranch(ctx, inv, b, worker.FileTail(b.logPath, branchTailLines))
			continue
		}
		r.finishBranch(ctx, inv, b)
	}
}

// finishBranch проверяет артефакт ветки и запускает post tool.
func (r *Runner) finishBranch(ctx context.Context, inv *Invocation, b *branch) {
	if !artifact.Ready(b.info.Output) {
		r.failBranch(ctx, inv, b, fmt.Sprintf("%s: %s", ErrOutputMissing, b.info.Output))
		return
	}

	if inv.Stage.PostTool != "" {
		if msg := r.runPost(ctx, inv, b); msg != "" {
			r.failBranch(ctx, inv, b, msg)
			return
		}
	}
	b.result.Status = domain.StageStatusSucceeded
}

// runPost запускает post tool в директории ветки.
// Возвращает описание ошибки или пустую строку.
func (r *Runner) runPost(ctx context.Context, inv *Invocation, b *branch) string {
	if !inv.Post.Available {
		return "post tool unavailable: " + inv.Post.Reason
	}

	bctx := inv.stageContext(b.info.Output).ForBranch(b.info)
	line, err := engine.Render(inv.Stage.PostCommand, bctx)
	if err != nil {
		return err.Error()
	}

	if wt := inv.Post.Resources.WallTime; wt > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wt)
		defer cancel()
	}

	result, err := r.executor.Execute(ctx, &worker.Command{
		Name:    inv.Stage.ID + "/" + b.info.Variant + "/" + inv.Stage.PostTool,
		Line:    line,
		Dir:     b.info.Dir,
		Env:     inv.Post.Env,
		LogPath: b.logPath,
	})
	switch {
	case err != nil:
		return fmt.Sprintf("%s: %v", inv.Stage.PostTool, err)
	case result.ExitCode != 0:
		return fmt.Sprintf("%s exit code %d: %s", inv.Stage.PostTool, result.ExitCode, result.StderrTail)
	case !r.postDone(inv, b):
		return fmt.Sprintf("%s produced no %s", inv.Stage.PostTool, inv.Stage.Collect)
	}
	return ""
}

// postDone проверяет, что post tool ветки уже отработал.
func (r *Runner) postDone(inv *Invocation, b *branch) bool {
	if inv.Stage.PostTool == "" {
		return true
	}
	matches, err := artifact.Glob(b.info.Dir, inv.Stage.Collect)
	return err == nil && len(matches) > 0
}

func (r *Runner) failBranch(ctx context.Context, inv *Invocation, b *branch, msg string) {
	failure := &domain.BranchFailure{
		Stage:   inv.Stage.ID,
		Variant: b.info.Variant,
		JobID:   b.result.JobID,
		State:   b.result.State,
		Message: msg,
	}
	b.result.Status = domain.StageStatusFailed
	b.result.Error = failure.Error()

	telemetry.WithStage(telemetry.FromContext(ctx), inv.Stage.ID).
		Warn("branch failed", "variant", b.info.Variant, "job_id", b.result.JobID, "state", b.result.State)
}

// fanOutStatus сводит статусы веток в статус стадии.
func fanOutStatus(branches []domain.BranchResult) domain.StageStatus {
	var succeeded, skipped, placeholders int
	for _, b := range branches {
		switch b.Status {
		case domain.StageStatusSucceeded:
			succeeded++
		case domain.StageStatusSkipped:
			skipped++
		case domain.StageStatusPlaceholder:
			placeholders++
		}
	}

	switch {
	case skipped == len(branches):
		return domain.StageStatusSkipped
	case succeeded+skipped > 0:
		return domain.StageStatusSucceeded
	case placeholders > 0:
		return domain.StageStatusPlaceholder
	default:
		return domain.StageStatusFailed
	}
}
