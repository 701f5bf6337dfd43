package batch

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Foldflow/internal/domain"
)

// Ошибки JobSubmitter.
var (
	// ErrEmptyCommand — job без командной строки.
	ErrEmptyCommand = errors.New("job has empty command")

	// ErrUnknownJob — планировщик не знает job.
	ErrUnknownJob = errors.New("unknown job")

	// ErrSubmit — планировщик отклонил job.
	ErrSubmit = errors.New("submit failed")
)

// JobSpec — описание одного batch job.
type JobSpec struct {
	// Name — имя job (<run>/<stage>/<variant>).
	Name string

	// Command — командная строка для /bin/sh -c.
	Command string

	// Dir — рабочая директория (должна существовать).
	Dir string

	// LogPath — журнал stdout/stderr.
	LogPath string

	// Env — полное окружение процесса.
	Env []string

	// Resources — запрашиваемые ресурсы.
	Resources domain.Resources
}

// JobHandle — непрозрачная ссылка на отправленный job.
// Состояние меняет только Waiter по результатам опроса.
type JobHandle struct {
	id          string
	name        string
	logPath     string
	submittedAt time.Time
	state       domain.JobState
}

// NewHandle создаёт handle в состоянии PENDING.
func NewHandle(id, name, logPath string) *JobHandle {
	return &JobHandle{
		id:          id,
		name:        name,
		logPath:     logPath,
		submittedAt: time.Now().UTC(),
		state:       domain.JobStatePending,
	}
}

// ID возвращает идентификатор job в планировщике.
func (h *JobHandle) ID() string { return h.id }

// Name возвращает имя job.
func (h *JobHandle) Name() string { return h.name }

// LogPath возвращает журнал job.
func (h *JobHandle) LogPath() string { return h.logPath }

// SubmittedAt возвращает время отправки.
func (h *JobHandle) SubmittedAt() time.Time { return h.submittedAt }

// State возвращает последнее наблюдённое состояние.
func (h *JobHandle) State() domain.JobState { return h.state }

// observe применяет наблюдённое состояние, если переход допустим.
func (h *JobHandle) observe(next domain.JobState) bool {
	if next == h.state || !h.state.CanTransition(next) {
		return false
	}
	h.state = next
	return true
}

// Submitter — backend batch планировщика.
type Submitter interface {
	// Name возвращает имя backend'а (local, slurm, queue).
	Name() string

	// Submit отправляет job и сразу возвращает handle.
	Submit(ctx context.Context, spec JobSpec) (*JobHandle, error)

	// Poll возвращает текущее состояние job без ожидания.
	Poll(ctx context.Context, h *JobHandle) (domain.JobState, error)
}
