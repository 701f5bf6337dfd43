package domain

import (
	"os"
	"time"
)

// Artifact — файл, созданный стадией.
type Artifact struct {
	Path string `json:"path"`
}

// Ready проверяет, что артефакт существует, это обычный файл и он не пуст.
func (a Artifact) Ready() bool {
	info, err := os.Stat(a.Path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// ManifestEntry — одна запись manifest.
type ManifestEntry struct {
	// Path — артефакт ветки (silent файл, PDB, вывод RNAfold).
	Path string `json:"path"`

	// Stage — стадия, создавшая артефакт.
	Stage string `json:"stage"`

	// Variant — ветка fan-out (пусто для одиночных стадий).
	Variant string `json:"variant,omitempty"`

	// Status — SUCCESS, PLACEHOLDER или FAILED.
	Status ArtifactStatus `json:"status"`

	// Score — лучшая оценка (energy) ветки, если известна.
	// Для placeholder всегда nil.
	Score *float64 `json:"score,omitempty"`

	// Models — модели, извлечённые из артефакта, лучшая первой.
	Models []string `json:"models,omitempty"`

	// Error — причина падения для FAILED.
	Error string `json:"error,omitempty"`
}

// Manifest — упорядоченный список артефактов стадии.
type Manifest struct {
	// Stage — стадия.
	Stage string `json:"stage"`

	// Requested — запрошенная ширина fan-out.
	Requested int `json:"requested"`

	// Failed — число упавших веток.
	Failed int `json:"failed"`

	// Ranked — порядок записей определён ранжированием.
	Ranked bool `json:"ranked"`

	// Entries — записи в порядке: SUCCESS/PLACEHOLDER, затем FAILED.
	Entries []ManifestEntry `json:"entries"`

	// GeneratedAt — время сборки manifest.
	GeneratedAt time.Time `json:"generated_at"`
}

// Available возвращает записи, не являющиеся FAILED.
func (m *Manifest) Available() []ManifestEntry {
	var out []ManifestEntry
	for _, e := range m.Entries {
		if e.Status != ArtifactFailed {
			out = append(out, e)
		}
	}
	return out
}

// Size возвращает число не упавших записей.
func (m *Manifest) Size() int {
	return len(m.Available())
}

// Best возвращает лучшую модель записи, а без моделей сам артефакт.
func (e ManifestEntry) Best() string {
	if len(e.Models) > 0 {
		return e.Models[0]
	}
	return e.Path
}

// StageSummary — краткий итог стадии в финальном manifest.
type StageSummary struct {
	Stage      string      `json:"stage"`
	Status     StageStatus `json:"status"`
	Output     string      `json:"output,omitempty"`
	LogPath    string      `json:"log_path,omitempty"`
	Branches   int         `json:"branches,omitempty"`
	Failed     int         `json:"failed,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// SecondaryStructure — итог стадии вторичной структуры.
type SecondaryStructure struct {
	Variant   string  `json:"variant,omitempty"`
	Structure string  `json:"structure"`
	Energy    float64 `json:"energy"`
	BasePairs int     `json:"base_pairs"`
}

// RunManifest — финальный manifest run (manifest.json в корне run).
type RunManifest struct {
	Run            *PipelineRun         `json:"run"`
	Status         RunStatus            `json:"status"`
	Secondary      *SecondaryStructure  `json:"secondary,omitempty"`
	Variants       []SecondaryStructure `json:"secondary_variants,omitempty"`
	Stages         []StageSummary       `json:"stages"`
	Entries        []ManifestEntry      `json:"entries"`
	FailedBranches int                  `json:"failed_branches"`
	Placeholders   int                  `json:"placeholders"`
	GeneratedAt    time.Time            `json:"generated_at"`
}
