package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode — режим pipeline, определяет набор стадий.
type Mode string

const (
	// ModeFast — вторичная структура и быстрый однократный 3D прогноз.
	ModeFast Mode = "fast"

	// ModeAccurate — полный pipeline с fan-out моделированием и уточнением.
	ModeAccurate Mode = "accurate"
)

// ParseMode парсит строку в Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFast:
		return ModeFast, nil
	case ModeAccurate:
		return ModeAccurate, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected fast or accurate)", s)
	}
}

// String возвращает строковое представление Mode.
func (m Mode) String() string {
	return string(m)
}

// runIDLayout — формат временной части ID run.
const runIDLayout = "20060102T150405Z"

// NewRunID генерирует ID run из времени запуска.
// Суффикс из UUIDv7 различает запуски в одну секунду.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
	return now.UTC().Format(runIDLayout) + "-" + suffix[len(suffix)-8:]
}

// PipelineRun — один запуск pipeline для одной входной последовательности.
//
// Поля SequenceID, Sequence, Mode и WorkDir неизменны после старта стадий.
// Меняются только статус и временные метки.
type PipelineRun struct {
	// ID — идентификатор run (временная метка + суффикс).
	ID string `json:"id"`

	// SequenceID — имя записи во входном FASTA.
	SequenceID string `json:"sequence_id"`

	// Sequence — нуклеотидная последовательность.
	Sequence string `json:"sequence"`

	// InputPath — путь к исходному файлу последовательности.
	InputPath string `json:"input_path"`

	// Mode — режим pipeline.
	Mode Mode `json:"mode"`

	// WorkDir — рабочая директория run.
	WorkDir string `json:"work_dir"`

	// Status — текущий статус.
	Status RunStatus `json:"status"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст фатальной ошибки.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewPipelineRun создаёт run в статусе PENDING.
// Рабочая директория: <root>/<sequence id>/<run id>.
func NewPipelineRun(id, root, sequenceID, sequence, inputPath string, mode Mode) *PipelineRun {
	return &PipelineRun{
		ID:         id,
		SequenceID: sequenceID,
		Sequence:   sequence,
		InputPath:  inputPath,
		Mode:       mode,
		WorkDir:    filepath.Join(root, SafeName(sequenceID), id),
		Status:     RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// StageDir возвращает директорию стадии внутри run.
func (r *PipelineRun) StageDir(stage string) string {
	return filepath.Join(r.WorkDir, stage)
}

// SameInput проверяет, что другой run описывает тот же вход.
// Используется при продолжении run с существующим ID.
func (r *PipelineRun) SameInput(other *PipelineRun) bool {
	return r.Mode == other.Mode && r.Sequence == other.Sequence && r.SequenceID == other.SequenceID
}

// Duration возвращает продолжительность выполнения.
func (r *PipelineRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён.
func (r *PipelineRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *PipelineRun) MarkRunning() {
	now := time.Now().UTC()
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.FinishedAt = nil
	r.Error = ""
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *PipelineRun) MarkSucceeded() {
	r.finish(RunStatusSucceeded, "")
}

// MarkDegraded переводит run в статус DEGRADED.
func (r *PipelineRun) MarkDegraded(reason string) {
	r.finish(RunStatusDegraded, reason)
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *PipelineRun) MarkFailed(err string) {
	r.finish(RunStatusFailed, err)
}

func (r *PipelineRun) finish(status RunStatus, msg string) {
	now := time.Now().UTC()
	r.Status = status
	r.FinishedAt = &now
	r.Error = msg
}

// SafeName превращает произвольный идентификатор в имя директории.
func SafeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "sequence"
	}
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
