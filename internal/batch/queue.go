package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Foldflow/internal/domain"
)

// JobStore — хранилище jobs backend'а queue. Реализуется repo.JobRepo.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// JobPublisher уведомляет воркеров о новом job. Реализуется mq.Publisher.
type JobPublisher interface {
	PublishJobReady(ctx context.Context, jobID uuid.UUID, name string) error
}

// QueueSubmitter сохраняет jobs в Postgres и публикует job.ready.
//
// Если публикация не удалась, job остаётся PENDING и будет подобран
// воркером при очередном polling.
type QueueSubmitter struct {
	jobs      JobStore
	publisher JobPublisher
	logger    *slog.Logger
}

// NewQueueSubmitter создаёт QueueSubmitter. publisher может быть nil.
func NewQueueSubmitter(jobs JobStore, publisher JobPublisher, logger *slog.Logger) *QueueSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSubmitter{jobs: jobs, publisher: publisher, logger: logger}
}

// Name возвращает имя backend'а.
func (s *QueueSubmitter) Name() string { return "queue" }

// Submit создаёт job в статусе PENDING.
func (s *QueueSubmitter) Submit(ctx context.Context, spec JobSpec) (*JobHandle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCommand, spec.Name)
	}

	job := &domain.Job{
		ID:          uuid.New(),
		Name:        spec.Name,
		Command:     spec.Command,
		Dir:         spec.Dir,
		LogPath:     spec.LogPath,
		Env:         spec.Env,
		Resources:   spec.Resources,
		State:       domain.JobStatePending,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSubmit, spec.Name, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishJobReady(ctx, job.ID, job.Name); err != nil {
			s.logger.Warn("failed to publish job.ready, worker polling will pick it up",
				"job_id", job.ID,
				"error", err,
			)
		}
	}

	return NewHandle(job.ID.String(), job.Name, job.LogPath), nil
}

// Poll читает состояние job из БД.
func (s *QueueSubmitter) Poll(ctx context.Context, h *JobHandle) (domain.JobState, error) {
	id, err := uuid.Parse(h.ID())
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, h.ID())
	}
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get job %s: %w", id, err)
	}
	return job.State, nil
}
