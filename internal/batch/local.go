package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/worker"
)

// LocalSubmitter запускает jobs фоновыми процессами на текущем узле.
//
// Job выполняется до конца даже после отмены ctx вызывающего,
// ограничение — только Resources.WallTime.
type LocalSubmitter struct {
	executor worker.Executor
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]domain.JobState
	wg   sync.WaitGroup
}

// NewLocalSubmitter создаёт LocalSubmitter.
// executor == nil — используется worker.ProcessExecutor.
func NewLocalSubmitter(executor worker.Executor, logger *slog.Logger) *LocalSubmitter {
	if executor == nil {
		executor = worker.NewProcessExecutor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSubmitter{
		executor: executor,
		logger:   logger,
		jobs:     make(map[string]domain.JobState),
	}
}

// Name возвращает имя backend'а.
func (s *LocalSubmitter) Name() string { return "local" }

// Submit запускает процесс в фоне.
func (s *LocalSubmitter) Submit(_ context.Context, spec JobSpec) (*JobHandle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCommand, spec.Name)
	}

	id := uuid.NewString()
	s.set(id, domain.JobStatePending)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(id, spec)
	}()

	s.logger.Debug("local job submitted", "job_id", id, "name", spec.Name)
	return NewHandle(id, spec.Name, spec.LogPath), nil
}

func (s *LocalSubmitter) run(id string, spec JobSpec) {
	ctx := context.Background()
	if spec.Resources.WallTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Resources.WallTime)
		defer cancel()
	}

	s.set(id, domain.JobStateRunning)
	result, err := s.executor.Execute(ctx, &worker.Command{
		Name:    spec.Name,
		Line:    spec.Command,
		Dir:     spec.Dir,
		Env:     spec.Env,
		LogPath: spec.LogPath,
	})

	state := domain.JobStateSucceeded
	switch {
	case ctx.Err() != nil:
		state = domain.JobStateTimedOut
	case err != nil:
		s.logger.Warn("local job error", "job_id", id, "name", spec.Name, "error", err)
		state = domain.JobStateFailed
	case result.ExitCode != 0:
		state = domain.JobStateFailed
	}
	s.set(id, state)
}

// Poll возвращает состояние процесса.
func (s *LocalSubmitter) Poll(_ context.Context, h *JobHandle) (domain.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[h.ID()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, h.ID())
	}
	return state, nil
}

// Wait блокируется до завершения всех запущенных процессов.
func (s *LocalSubmitter) Wait() {
	s.wg.Wait()
}

func (s *LocalSubmitter) set(id string, state domain.JobState) {
	s.mu.Lock()
	s.jobs[id] = state
	s.mu.Unlock()
}
