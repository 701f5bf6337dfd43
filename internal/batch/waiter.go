package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/telemetry"
)

const defaultPollInterval = 30 * time.Second

// Waiter ожидает завершения группы jobs.
type Waiter struct {
	submitter Submitter
	interval  time.Duration
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NewWaiter создаёт Waiter.
func NewWaiter(s Submitter, interval time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Waiter {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{
		submitter: s,
		interval:  interval,
		logger:    logger,
		metrics:   metrics,
	}
}

// WaitAll опрашивает handles, пока все не станут финальными.
//
// Возвращает ровно len(handles) состояний в порядке handles.
// Jobs, не завершившиеся к дедлайну (timeout > 0) или к отмене ctx,
// получают TIMED_OUT. Ошибка опроса не меняет состояние job.
func (w *Waiter) WaitAll(ctx context.Context, handles []*JobHandle, timeout time.Duration) []domain.JobState {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for !w.pollAll(ctx, handles) {
		select {
		case <-ctx.Done():
			w.logger.Warn("wait cancelled", "error", ctx.Err())
			return w.expire(handles)
		case <-deadline:
			w.logger.Warn("wait deadline exceeded", "timeout", timeout)
			return w.expire(handles)
		case <-ticker.C:
		}
	}
	return states(handles)
}

// pollAll опрашивает незавершённые handles. true — все финальные.
func (w *Waiter) pollAll(ctx context.Context, handles []*JobHandle) bool {
	done := true
	for _, h := range handles {
		if h.State().IsTerminal() {
			continue
		}
		logger := telemetry.WithJobID(w.logger, h.ID()).With("name", h.Name())
		state, err := w.submitter.Poll(ctx, h)
		if err != nil {
			logger.Warn("poll job failed", "error", err)
			done = false
			continue
		}
		if h.observe(state) {
			logger.Debug("job state changed", "state", state)
			if state.IsTerminal() {
				logger.Info("job finished", "state", state, "elapsed", time.Since(h.SubmittedAt()).Round(time.Second), "log", h.LogPath())
				w.metrics.CountJob(w.submitter.Name(), string(state))
			}
		}
		if !h.State().IsTerminal() {
			done = false
		}
	}
	return done
}

// expire переводит незавершённые handles в TIMED_OUT.
// Сами jobs не отменяются: их снимает оператор средствами планировщика.
func (w *Waiter) expire(handles []*JobHandle) []domain.JobState {
	for _, h := range handles {
		if h.State().IsTerminal() {
			continue
		}
		telemetry.WithJobID(w.logger, h.ID()).Warn("job abandoned",
			"backend", w.submitter.Name(),
			"name", h.Name(),
			"waited", time.Since(h.SubmittedAt()).Round(time.Second),
			"log", h.LogPath())
		h.observe(domain.JobStateTimedOut)
		w.metrics.CountJob(w.submitter.Name(), string(domain.JobStateTimedOut))
	}
	return states(handles)
}

func states(handles []*JobHandle) []domain.JobState {
	out := make([]domain.JobState, len(handles))
	for i, h := range handles {
		out[i] = h.State()
	}
	return out
}
