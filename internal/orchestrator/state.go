package orchestrator

import (
	"fmt"
	"sync"

	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/engine"
	"github.com/shaiso/Foldflow/internal/stage"
)

// RunState — состояние выполнения одного run в памяти.
//
// Содержит:
//   - Run и PipelineSpec режима
//   - Построенный DAG
//   - Разрешённые инструменты
//   - Контекст для шаблонов (с артефактами завершённых стадий)
//   - Результаты и manifests стадий
type RunState struct {
	// Run — метаданные run.
	Run *domain.PipelineRun

	// Spec — стадии режима.
	Spec *domain.PipelineSpec

	// DAG — граф зависимостей стадий.
	DAG *engine.DAG

	// Tools — разрешённые инструменты.
	Tools config.Toolset

	// Context — контекст для рендеринга шаблонов.
	Context *engine.Context

	// Secondary — разобранная вторичная структура (после стадии secondary).
	// При переборе вариантов — первый корректный вариант.
	Secondary *domain.SecondaryStructure

	// Variants — корректные варианты secondary в порядке объявления.
	Variants []domain.SecondaryStructure

	// Constraints — файлы ограничений вариантов для стадий с VariantsFrom.
	Constraints []stage.Group

	results   map[string]*domain.StageResult
	manifests map[string]*domain.Manifest
	order     []string
	degraded  []string

	mu sync.RWMutex
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.PipelineRun, spec *domain.PipelineSpec, tools config.Toolset) *RunState {
	return &RunState{
		Run:       run,
		Spec:      spec,
		Tools:     tools,
		results:   make(map[string]*domain.StageResult),
		manifests: make(map[string]*domain.Manifest),
	}
}

// Initialize строит DAG и создаёт Context с входными данными run.
func (s *RunState) Initialize(inputs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dag, err := engine.BuildDAG(s.Spec)
	if err != nil {
		return fmt.Errorf("build DAG: %w", err)
	}
	s.DAG = dag
	s.Context = engine.NewContext(inputs)
	return nil
}

// Record сохраняет результат стадии и добавляет его в Context.
func (s *RunState) Record(res *domain.StageResult, manifestPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[res.Stage]; !ok {
		s.order = append(s.order, res.Stage)
	}
	s.results[res.Stage] = res

	s.Context.AddStageResult(res.Stage, &engine.StageContext{
		Dir:      s.Run.StageDir(res.Stage),
		Output:   res.Output,
		Manifest: manifestPath,
		Status:   string(res.Status),
	})
}

// SetInput добавляет значение в Inputs контекста шаблонов.
func (s *RunState) SetInput(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Context.Inputs[key] = value
}

// Result возвращает результат стадии.
func (s *RunState) Result(stageID string) (*domain.StageResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[stageID]
	return res, ok
}

// SetManifest сохраняет manifest fan-out стадии.
func (s *RunState) SetManifest(stageID string, m *domain.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[stageID] = m
}

// Manifest возвращает manifest стадии.
func (s *RunState) Manifest(stageID string) (*domain.Manifest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[stageID]
	return m, ok
}

// Degrade отмечает потерю результатов, не прерывающую run.
func (s *RunState) Degrade(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = append(s.degraded, reason)
}

// DegradedReasons возвращает причины деградации.
func (s *RunState) DegradedReasons() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.degraded...)
}

// IsDegraded проверяет, были ли потери.
func (s *RunState) IsDegraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.degraded) > 0
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalStages: s.DAG.Size()}
	for _, res := range s.results {
		switch res.Status {
		case domain.StageStatusSucceeded:
			stats.Succeeded++
		case domain.StageStatusSkipped:
			stats.Skipped++
		case domain.StageStatusPlaceholder:
			stats.Placeholders++
		case domain.StageStatusFailed:
			stats.Failed++
		}
		stats.FailedBranches += res.Failed()
	}
	stats.Pending = stats.TotalStages - len(s.results)
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalStages    int
	Succeeded      int
	Skipped        int
	Placeholders   int
	Failed         int
	Pending        int
	FailedBranches int
}

// BuildManifest собирает финальный manifest run.
func (s *RunState) BuildManifest() *domain.RunManifest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm := &domain.RunManifest{
		Run:       s.Run,
		Status:    s.Run.Status,
		Secondary: s.Secondary,
		Variants:  s.Variants,
		Stages:    []domain.StageSummary{},
		Entries:   []domain.ManifestEntry{},
	}

	for _, id := range s.order {
		res := s.results[id]
		summary := domain.StageSummary{
			Stage:      res.Stage,
			Status:     res.Status,
			Output:     res.Output,
			LogPath:    res.LogPath,
			Branches:   len(res.Branches),
			Failed:     res.Failed(),
			Reason:     res.Reason,
			DurationMs: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			summary.Error = res.Err.Error()
		}
		rm.Stages = append(rm.Stages, summary)
		rm.FailedBranches += res.Failed()

		if m, ok := s.manifests[id]; ok {
			rm.Entries = append(rm.Entries, m.Entries...)
			continue
		}
		if entry, ok := singleEntry(res); ok {
			rm.Entries = append(rm.Entries, entry)
		}
	}

	for _, e := range rm.Entries {
		if e.Status == domain.ArtifactPlaceholder {
			rm.Placeholders++
		}
	}
	return rm
}

// singleEntry — запись manifest для одиночной стадии.
func singleEntry(res *domain.StageResult) (domain.ManifestEntry, bool) {
	if res.Output == "" {
		return domain.ManifestEntry{}, false
	}
	entry := domain.ManifestEntry{Path: res.Output, Stage: res.Stage}
	switch res.Status {
	case domain.StageStatusPlaceholder:
		entry.Status = domain.ArtifactPlaceholder
	case domain.StageStatusFailed:
		entry.Status = domain.ArtifactFailed
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
	default:
		entry.Status = domain.ArtifactSuccess
	}
	return entry, true
}
