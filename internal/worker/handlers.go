package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/mq"
	"github.com/shaiso/Foldflow/internal/repo"
)

// handleJobReady обрабатывает job.ready из очереди jobs.ready.
func (w *Worker) handleJobReady(ctx context.Context, msg mq.JobReady) error {
	w.logger.Debug("received job.ready", "job_id", msg.JobID, "name", msg.Name)

	if err := w.processJob(ctx, msg.JobID); err != nil {
		// Job уже взят или удалён: сообщение подтверждается.
		if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobNotPending) {
			w.logger.Debug("job not processed", "job_id", msg.JobID, "reason", err)
			return nil
		}
		return err
	}
	return nil
}

// processJob захватывает job, выполняет и записывает результат.
func (w *Worker) processJob(ctx context.Context, jobID uuid.UUID) error {
	// 1. Загружаем job из БД
	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("get job: %w", err)
	}

	// 2. Захватываем
	if job.State != domain.JobStatePending {
		return ErrJobNotPending
	}
	job.MarkRunning(w.id)
	if err := w.jobs.Claim(ctx, job); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return ErrJobNotPending
		}
		return fmt.Errorf("claim job: %w", err)
	}

	logger := w.logger.With("job_id", job.ID, "name", job.Name)
	logger.Info("job started")

	// 3. Выполняем с лимитом времени
	state, exitCode, errMsg := w.execute(ctx, job)

	// 4. Записываем результат. Контекст воркера может быть уже отменён,
	// финальное состояние всё равно должно попасть в БД.
	job.MarkFinished(state, exitCode, errMsg)
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.jobs.Finish(finishCtx, job); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	w.metrics.CountJob("queue", string(state))
	logger.Info("job finished", "state", state, "exit_code", exitCode, "duration", job.Duration())
	return nil
}

// execute запускает команду job и переводит результат в JobState.
func (w *Worker) execute(ctx context.Context, job *domain.Job) (domain.JobState, int, string) {
	limit := job.Resources.WallTime
	if limit <= 0 {
		limit = w.maxWallTime
	}
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	result, err := w.executor.Execute(ctx, &Command{
		Name:    job.Name,
		Line:    job.Command,
		Dir:     job.Dir,
		Env:     job.Env,
		LogPath: job.LogPath,
	})
	switch {
	case errors.Is(err, ErrExecutionTimeout):
		return domain.JobStateTimedOut, -1, err.Error()
	case err != nil:
		return domain.JobStateFailed, -1, err.Error()
	case result.ExitCode != 0:
		return domain.JobStateFailed, result.ExitCode, result.StderrTail
	default:
		return domain.JobStateSucceeded, 0, ""
	}
}
