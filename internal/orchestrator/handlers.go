package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shaiso/Foldflow/internal/aggregate"
	"github.com/shaiso/Foldflow/internal/artifact"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/engine"
	"github.com/shaiso/Foldflow/internal/fold"
	"github.com/shaiso/Foldflow/internal/stage"
	"github.com/shaiso/Foldflow/internal/telemetry"
)

// Имена файлов, которые orchestrator пишет в директории стадий.
const (
	StageManifestFile = "manifest.json"
	ConstraintFile    = "constraint.secstruct"
)

// rankCeilingReason — причина пропуска ранжирования.
const rankCeilingReason = "model count above rank batch ceiling"

// executeStage выполняет одну стадию DAG.
//
// Порядок:
//  1. Ожидание объявленного входа (Gate)
//  2. Проверка потребляемых upstream артефактов
//  3. Входы ранжирования и веток FanOutFrom
//  4. StageRunner
//  5. Агрегация fan-out и ранжирование
func (o *Orchestrator) executeStage(ctx context.Context, state *RunState, node *engine.Node) error {
	st := node.Stage
	if st == nil {
		return fmt.Errorf("%w: %s", ErrStageNotFound, node.ID)
	}
	logger := telemetry.WithStage(telemetry.FromContext(ctx), st.ID)

	// 1. Gate
	input, err := o.awaitInput(ctx, state, st)
	if err != nil {
		return err
	}

	// 2. Constraint
	for _, c := range st.Consumes {
		if c == domain.ConsumesConstraint {
			if err := o.prepareConstraint(ctx, state, st, input); err != nil {
				return err
			}
		}
	}

	// 3. Входы
	var inputs []string
	switch {
	case st.Ranks != "":
		m, ok := state.Manifest(st.Ranks)
		if !ok {
			state.Record(&domain.StageResult{Stage: st.ID, Status: domain.StageStatusSkipped, ExitCode: -1, Reason: "nothing to rank"}, "")
			return nil
		}
		if !aggregate.ShouldRank(m, o.cfg.Pipeline.RankBatchCeiling) {
			logger.Warn("ranking skipped, models pass through unranked",
				"models", m.Size(),
				"ceiling", o.cfg.Pipeline.RankBatchCeiling,
			)
			state.Record(&domain.StageResult{Stage: st.ID, Status: domain.StageStatusSkipped, ExitCode: -1, Reason: rankCeilingReason}, "")
			return nil
		}
		state.SetInput(engine.InputModels, aggregate.Top(m, 0))

	case st.FanOutFrom != "":
		if m, ok := state.Manifest(st.FanOutFrom); ok {
			inputs = aggregate.Top(m, st.FanOutLimit)
		}
	}

	// 4. Запуск
	tool, _ := state.Tools.Get(st.Tool)
	post, _ := state.Tools.Get(st.PostTool)
	inv := &stage.Invocation{
		RunID:    state.Run.ID,
		Stage:    st,
		Dir:      state.Run.StageDir(st.ID),
		Tool:     tool,
		Post:     post,
		Context:  state.Context,
		Sequence: state.Run.Sequence,
		Seed:     o.cfg.Pipeline.Seed,
		Inputs:   inputs,
	}
	if st.VariantsFrom != "" {
		inv.Groups = state.Constraints
	}

	var res *domain.StageResult
	if st.IsFanOut() {
		res, err = o.runner.RunFanOut(ctx, inv)
	} else {
		res, err = o.runner.Run(ctx, inv)
	}
	if err != nil {
		state.Record(res, "")
		if st.Optional && !errors.Is(err, domain.ErrConfiguration) {
			logger.Warn("optional stage failed, continuing", "error", err)
			state.Degrade(fmt.Sprintf("optional stage %s failed", st.ID))
			return nil
		}
		return err
	}

	// 5. Fan-out и ранжирование
	if st.IsFanOut() {
		return o.aggregateStage(ctx, state, st, res)
	}
	if st.Ranks != "" {
		o.applyRanking(ctx, state, st, res)
	}
	state.Record(res, "")
	return nil
}

// awaitInput рендерит объявленный вход стадии и ждёт его появления.
func (o *Orchestrator) awaitInput(ctx context.Context, state *RunState, st *domain.StageDef) (string, error) {
	if st.Input == "" {
		return "", nil
	}
	input, err := engine.Render(st.Input, state.Context)
	if err != nil {
		return "", &domain.StageFailure{Stage: st.ID, ExitCode: -1, Err: fmt.Errorf("render input: %w", err)}
	}

	timeout := o.cfg.Pipeline.GateTimeout
	if !o.gate.Await(ctx, input, timeout) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", &domain.TimeoutError{Stage: st.ID, Path: input, Timeout: timeout}
	}
	return input, nil
}

// prepareConstraint разбирает вторичную структуру и пишет файл ограничения
// рядом с ней. Пустая или некорректная структура фатальна.
//
// Если secondary выполнялась по вариантам, ограничение пишется для каждого
// варианта. Некорректный вариант отбрасывается с деградацией run, фатален
// только случай, когда не осталось ни одного.
func (o *Orchestrator) prepareConstraint(ctx context.Context, state *RunState, st *domain.StageDef, source string) error {
	if state.Secondary != nil {
		return nil
	}
	logger := telemetry.FromContext(ctx)

	m, swept := state.Manifest(engine.StageSecondary)
	if !swept {
		s, path, err := writeConstraint(state.Run.Sequence, source)
		if err != nil {
			return constraintFailure(st.ID, source, err)
		}
		state.SetInput(engine.InputConstraint, path)
		state.Secondary = s

		logger.Info("secondary structure constraint ready",
			"structure", s.Structure,
			"energy", s.Energy,
			"base_pairs", s.BasePairs,
		)
		return nil
	}

	for _, e := range m.Available() {
		s, path, err := writeConstraint(state.Run.Sequence, e.Path)
		if err != nil {
			logger.Warn("secondary variant rejected", "variant", e.Variant, "error", err)
			state.Degrade(fmt.Sprintf("secondary variant %s: %v", e.Variant, err))
			continue
		}
		s.Variant = e.Variant
		state.Variants = append(state.Variants, *s)
		state.Constraints = append(state.Constraints, stage.Group{Name: e.Variant, Constraint: path})

		logger.Info("secondary structure constraint ready",
			"variant", e.Variant,
			"structure", s.Structure,
			"energy", s.Energy,
			"base_pairs", s.BasePairs,
		)
	}
	if len(state.Constraints) == 0 {
		return constraintFailure(st.ID, source, errors.New("no secondary variant produced a valid structure"))
	}

	primary := state.Variants[0]
	state.Secondary = &primary
	state.SetInput(engine.InputConstraint, state.Constraints[0].Constraint)
	return nil
}

func constraintFailure(stageID, source string, err error) error {
	return &domain.StageFailure{
		Stage:    stageID,
		ExitCode: -1,
		Err:      fmt.Errorf("%w: %s: %w", ErrInvalidConstraint, source, err),
	}
}

// writeConstraint проверяет вывод RNAfold source и пишет ConstraintFile
// в ту же директорию.
func writeConstraint(sequence, source string) (*domain.SecondaryStructure, string, error) {
	if artifact.IsPlaceholder(source) {
		return nil, "", errors.New("upstream artifact is a placeholder")
	}
	s, err := fold.ReadRNAfold(source)
	if err != nil {
		return nil, "", err
	}
	if err := fold.Validate(sequence, s.DotBracket); err != nil {
		return nil, "", err
	}
	pairs, err := fold.BasePairs(s.DotBracket)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := fold.WriteConstraint(&buf, s); err != nil {
		return nil, "", err
	}
	path := filepath.Join(filepath.Dir(source), ConstraintFile)
	if err := artifact.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return nil, "", err
	}

	return &domain.SecondaryStructure{
		Structure: s.DotBracket,
		Energy:    s.Energy,
		BasePairs: len(pairs),
	}, path, nil
}

// aggregateStage собирает manifest fan-out стадии и пишет <stage>/manifest.json.
func (o *Orchestrator) aggregateStage(ctx context.Context, state *RunState, st *domain.StageDef, res *domain.StageResult) error {
	logger := telemetry.WithStage(telemetry.FromContext(ctx), st.ID)

	if len(res.Branches) == 0 {
		state.Record(res, "")
		return nil
	}

	minimum := max(st.MinArtifacts, 1)
	opts := aggregate.Options{
		Stage:     st.ID,
		Pattern:   st.Collect,
		Requested: len(res.Branches),
		Minimum:   minimum,
		Branches:  res.Branches,
	}
	if st.PostTool != "" {
		opts.ScoreFile = st.Output
	}

	m, collectErr := aggregate.Collect(opts)
	if m == nil {
		state.Record(res, "")
		return &domain.StageFailure{Stage: st.ID, ExitCode: -1, Err: collectErr}
	}

	path := filepath.Join(state.Run.StageDir(st.ID), StageManifestFile)
	if err := aggregate.WriteManifest(path, m); err != nil {
		state.Record(res, "")
		return &domain.StageFailure{Stage: st.ID, ExitCode: -1, Err: err}
	}
	state.SetManifest(st.ID, m)
	state.Record(res, path)

	if failed := res.Failed(); failed > 0 {
		logger.Warn("fan-out branches failed", "failed", failed, "available", m.Size())
		state.Degrade(fmt.Sprintf("stage %s: %d of %d branches failed", st.ID, failed, len(res.Branches)))
	}

	if collectErr != nil {
		if st.Optional {
			logger.Warn("optional stage produced too few artifacts", "error", collectErr)
			state.Degrade(collectErr.Error())
			return nil
		}
		return collectErr
	}

	logger.Info("stage manifest written", "path", path, "entries", len(m.Entries), "available", m.Size())
	return nil
}

// applyRanking упорядочивает manifest ранжируемой стадии по выводу ранжирования.
// Некорректный вывод ранжирования только деградирует run.
func (o *Orchestrator) applyRanking(ctx context.Context, state *RunState, st *domain.StageDef, res *domain.StageResult) {
	logger := telemetry.WithStage(telemetry.FromContext(ctx), st.ID)

	if res.Status != domain.StageStatusSucceeded && res.Status != domain.StageStatusSkipped {
		return
	}
	if artifact.IsPlaceholder(res.Output) {
		return
	}
	m, ok := state.Manifest(st.Ranks)
	if !ok {
		return
	}

	f, err := os.Open(res.Output)
	if err != nil {
		logger.Warn("cannot read ranking", "error", err)
		state.Degrade(fmt.Sprintf("stage %s: ranking unreadable", st.ID))
		return
	}
	defer f.Close()

	ranked, err := fold.ParseRanking(f)
	if err != nil {
		logger.Warn("cannot parse ranking", "error", err)
		state.Degrade(fmt.Sprintf("stage %s: ranking malformed", st.ID))
		return
	}

	aggregate.ApplyRanking(m, ranked)
	path := filepath.Join(state.Run.StageDir(st.Ranks), StageManifestFile)
	if err := aggregate.WriteManifest(path, m); err != nil {
		logger.Warn("cannot rewrite ranked manifest", "error", err)
		state.Degrade(fmt.Sprintf("stage %s: ranked manifest not written", st.ID))
		return
	}
	logger.Info("models ranked", "ranked", len(ranked), "manifest", path)
}
