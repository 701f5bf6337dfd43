package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job — batch job в очереди (backend "queue").
//
// Job создаётся JobSubmitter'ом и выполняется foldflow-worker.
// Состояние хранится в Postgres и меняется только воркером.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// Name — имя job (<run>/<stage>/<variant>).
	Name string `json:"name"`

	// Command — командная строка для /bin/sh -c.
	Command string `json:"command"`

	// Dir — рабочая директория.
	Dir string `json:"dir"`

	// LogPath — файл для stdout/stderr.
	LogPath string `json:"log_path"`

	// Env — окружение процесса (KEY=VALUE).
	Env []string `json:"env,omitempty"`

	// Resources — запрошенные ресурсы.
	Resources Resources `json:"resources"`

	// State — текущее состояние.
	State JobState `json:"state"`

	// ExitCode — код выхода (nil, пока не завершён).
	ExitCode *int `json:"exit_code,omitempty"`

	// WorkerID — воркер, взявший job.
	WorkerID string `json:"worker_id,omitempty"`

	// Error — описание ошибки.
	Error string `json:"error,omitempty"`

	// SubmittedAt — время отправки.
	SubmittedAt time.Time `json:"submitted_at"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration возвращает продолжительность выполнения.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// MarkRunning переводит job в RUNNING.
func (j *Job) MarkRunning(workerID string) {
	now := time.Now().UTC()
	j.State = JobStateRunning
	j.WorkerID = workerID
	j.StartedAt = &now
}

// MarkFinished фиксирует финальное состояние и код выхода.
func (j *Job) MarkFinished(state JobState, exitCode int, errMsg string) {
	now := time.Now().UTC()
	j.State = state
	j.ExitCode = &exitCode
	j.FinishedAt = &now
	j.Error = errMsg
}
