package domain

import "time"

// StageResult — итог выполнения стадии StageRunner'ом.
type StageResult struct {
	// Stage — ID стадии.
	Stage string `json:"stage"`

	// Status — итог стадии.
	Status StageStatus `json:"status"`

	// Output — путь выходного артефакта (для одиночной стадии).
	Output string `json:"output,omitempty"`

	// LogPath — журнал stdout/stderr стадии.
	LogPath string `json:"log_path,omitempty"`

	// ExitCode — код выхода инструмента (-1, если не запускался).
	ExitCode int `json:"exit_code"`

	// StderrTail — последние строки stderr при падении.
	StderrTail string `json:"stderr_tail,omitempty"`

	// Branches — результаты веток fan-out.
	Branches []BranchResult `json:"branches,omitempty"`

	// Reason — пояснение для SKIPPED/PLACEHOLDER.
	Reason string `json:"reason,omitempty"`

	// Err — ошибка для FAILED.
	Err error `json:"-"`

	// Duration — длительность стадии.
	Duration time.Duration `json:"duration"`
}

// Failed возвращает число упавших веток.
func (r *StageResult) Failed() int {
	n := 0
	for _, b := range r.Branches {
		if b.Status == StageStatusFailed {
			n++
		}
	}
	return n
}

// Succeeded возвращает число не упавших веток.
func (r *StageResult) Succeeded() int {
	return len(r.Branches) - r.Failed()
}

// BranchResult — итог одной ветки fan-out.
type BranchResult struct {
	// Variant — имя ветки ("b00", "b01", ...), она же поддиректория.
	Variant string `json:"variant"`

	// Seed — seed ветки.
	Seed int64 `json:"seed,omitempty"`

	// Input — входной артефакт ветки (для FanOutFrom).
	Input string `json:"input,omitempty"`

	// Dir — директория ветки.
	Dir string `json:"dir"`

	// Output — путь выходного артефакта ветки.
	Output string `json:"output"`

	// JobID — ID job в планировщике.
	JobID string `json:"job_id,omitempty"`

	// State — финальное состояние job.
	State JobState `json:"state,omitempty"`

	// Status — итог ветки.
	Status StageStatus `json:"status"`

	// Error — описание падения.
	Error string `json:"error,omitempty"`
}
