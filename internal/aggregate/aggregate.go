// Package aggregate собирает артефакты веток fan-out в manifest.
//
// Aggregator толерантен к частичным отказам: упавшие ветки попадают в
// manifest как FAILED и не прерывают сборку. Ошибка возникает, только
// если доступных артефактов меньше минимума.
package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/Foldflow/internal/artifact"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/fold"
)

// Options — параметры сборки manifest стадии.
type Options struct {
	// Stage — ID стадии.
	Stage string

	// Pattern — glob моделей внутри директории ветки (опционально).
	// Совпавшие файлы становятся Models записи ветки.
	Pattern string

	// Requested — запрошенная ширина fan-out.
	Requested int

	// Minimum — минимальное число не упавших веток.
	Minimum int

	// Branches — результаты веток от StageRunner.
	Branches []domain.BranchResult

	// ScoreFile — silent файл ветки с оценками (опционально).
	// Оценка сопоставляется модели по имени: <tag>.pdb.
	ScoreFile string
}

// Collect собирает manifest стадии: одна запись на ветку.
//
// Артефакт записи — выход ветки, извлечённые модели перечислены в Models
// по возрастанию оценки. FAILED записи идут в конце. Возвращает manifest и
// IncompleteManifestError, если доступных веток меньше Minimum.
func Collect(opts Options) (*domain.Manifest, error) {
	m := &domain.Manifest{
		Stage:       opts.Stage,
		Requested:   opts.Requested,
		GeneratedAt: time.Now().UTC(),
	}

	var failed []domain.ManifestEntry
	for _, b := range opts.Branches {
		entry := domain.ManifestEntry{
			Path:    b.Output,
			Stage:   opts.Stage,
			Variant: b.Variant,
			Status:  domain.ArtifactSuccess,
		}

		switch {
		case b.Status == domain.StageStatusFailed:
			entry.Status = domain.ArtifactFailed
			entry.Error = b.Error
			failed = append(failed, entry)
			continue

		case artifact.IsPlaceholder(b.Output):
			entry.Status = domain.ArtifactPlaceholder

		default:
			if err := collectModels(&entry, b, opts); err != nil {
				return nil, err
			}
		}
		m.Entries = append(m.Entries, entry)
	}

	m.Failed = len(failed)
	m.Entries = append(m.Entries, failed...)

	if m.Size() < opts.Minimum {
		return m, &domain.IncompleteManifestError{
			Stage:   opts.Stage,
			Found:   m.Size(),
			Minimum: opts.Minimum,
			Failed:  m.Failed,
		}
	}
	return m, nil
}

// collectModels заполняет Models и Score записи ветки.
func collectModels(entry *domain.ManifestEntry, b domain.BranchResult, opts Options) error {
	var scores map[string]float64
	if opts.ScoreFile != "" {
		var err error
		scores, err = fold.ReadSilentScores(filepath.Join(b.Dir, opts.ScoreFile))
		if err != nil {
			return err
		}
	}

	if opts.Pattern == "" {
		return nil
	}
	paths, err := artifact.Glob(b.Dir, opts.Pattern)
	if err != nil {
		return err
	}

	models := make([]domain.ManifestEntry, 0, len(paths))
	for _, p := range paths {
		if filepath.Clean(p) == filepath.Clean(b.Output) || artifact.IsPlaceholder(p) {
			continue
		}
		model := domain.ManifestEntry{Path: p}
		if v, ok := scores[strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))]; ok {
			model.Score = &v
		}
		models = append(models, model)
	}
	sortByScore(models)

	for _, model := range models {
		entry.Models = append(entry.Models, model.Path)
	}
	if len(models) > 0 {
		entry.Score = models[0].Score
	}
	return nil
}

// ShouldRank возвращает false, если веток больше потолка ранжирования.
// ceiling <= 0 — потолка нет.
func ShouldRank(m *domain.Manifest, ceiling int) bool {
	return ceiling <= 0 || m.Size() <= ceiling
}

// ApplyRanking упорядочивает доступные записи по оценке ранжирования
// (меньше — лучше). Запись сопоставляется по лучшей модели или по самому
// артефакту. Записи, которых нет в ранжировании, сохраняют порядок и идут после.
func ApplyRanking(m *domain.Manifest, ranked []fold.RankedModel) {
	scores := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		scores[filepath.Clean(r.Path)] = r.Score
	}

	available := m.Available()
	var failed []domain.ManifestEntry
	for _, e := range m.Entries {
		if e.Status == domain.ArtifactFailed {
			failed = append(failed, e)
		}
	}

	var inRanking, rest []domain.ManifestEntry
	for _, e := range available {
		v, ok := scores[filepath.Clean(e.Best())]
		if !ok {
			v, ok = scores[filepath.Clean(e.Path)]
		}
		if ok && e.Status != domain.ArtifactPlaceholder {
			e.Score = &v
			inRanking = append(inRanking, e)
		} else {
			rest = append(rest, e)
		}
	}
	sortByScore(inRanking)

	m.Entries = append(append(inRanking, rest...), failed...)
	m.Ranked = true
}

// Top возвращает лучшие модели k лучших веток: по порядку ранжирования,
// иначе по оценке. Placeholder не выбираются.
func Top(m *domain.Manifest, k int) []string {
	var picked []domain.ManifestEntry
	for _, e := range m.Entries {
		if e.Status == domain.ArtifactSuccess {
			picked = append(picked, e)
		}
	}
	if !m.Ranked {
		sortByScore(picked)
	}

	if k > 0 && len(picked) > k {
		picked = picked[:k]
	}
	paths := make([]string, 0, len(picked))
	for _, e := range picked {
		paths = append(paths, e.Best())
	}
	return paths
}

// sortByScore сортирует по возрастанию оценки, записи без оценки в конце.
func sortByScore(entries []domain.ManifestEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Score, entries[j].Score
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

// WriteManifest сохраняет manifest в JSON атомарно.
func WriteManifest(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := artifact.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// ReadManifest читает manifest стадии.
func ReadManifest(path string) (*domain.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}
