package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Ошибки Scheduler.
var (
	// ErrInvalidCron — cron-выражение не разбирается.
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrNoJob — не задана функция тика.
	ErrNoJob = errors.New("scheduler job is required")
)

// Job — работа одного тика. tick начинается с 1.
type Job func(ctx context.Context, tick int) error

// Scheduler вызывает Job по cron-расписанию.
type Scheduler struct {
	expr      string
	tz        string
	schedule  cron.Schedule
	job       Job
	immediate bool
	maxTicks  int
	logger    *slog.Logger
	now       func() time.Time

	ticks   int
	failed  int
	nextDue time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	// Expr — cron-выражение или дескриптор (@every 1h).
	Expr string

	// Timezone — timezone расписания (default: UTC).
	Timezone string

	// Job — работа тика.
	Job Job

	// RunImmediately — первый тик сразу при старте.
	RunImmediately bool

	// MaxTicks — остановка после N тиков (0 — без ограничения).
	MaxTicks int

	Logger *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) (*Scheduler, error) {
	schedule, err := ParseCron(cfg.Expr)
	if err != nil {
		return nil, err
	}
	if cfg.Job == nil {
		return nil, ErrNoJob
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		expr:      cfg.Expr,
		tz:        cfg.Timezone,
		schedule:  schedule,
		job:       cfg.Job,
		immediate: cfg.RunImmediately,
		maxTicks:  cfg.MaxTicks,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run выполняет тики до отмены ctx или MaxTicks.
// Ошибка тика логируется и не останавливает расписание.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "cron", s.expr, "timezone", s.tz, "immediate", s.immediate)

	if s.immediate {
		s.Tick(ctx)
	}

	for !s.done() {
		s.nextDue = s.schedule.Next(s.now().In(location(s.tz)))
		wait := time.Until(s.nextDue)
		s.logger.Debug("waiting for next tick", "next_due", s.nextDue.UTC(), "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped", "ticks", s.ticks, "failed", s.failed)
			return nil
		case <-timer.C:
		}
		s.Tick(ctx)
	}

	s.logger.Info("scheduler finished", "ticks", s.ticks, "failed", s.failed)
	return nil
}

// Tick выполняет один тик.
func (s *Scheduler) Tick(ctx context.Context) {
	s.ticks++
	start := s.now()

	s.logger.Info("scheduler tick started", "tick", s.ticks)
	if err := s.job(ctx, s.ticks); err != nil {
		s.failed++
		s.logger.Error("scheduler tick failed", "tick", s.ticks, "error", err)
		return
	}
	s.logger.Info("scheduler tick completed", "tick", s.ticks, "duration", s.now().Sub(start))
}

// Ticks возвращает число выполненных тиков.
func (s *Scheduler) Ticks() int {
	return s.ticks
}

// NextDueAt возвращает время следующего тика (нулевое до первого ожидания).
func (s *Scheduler) NextDueAt() time.Time {
	return s.nextDue
}

func (s *Scheduler) done() bool {
	return s.maxTicks > 0 && s.ticks >= s.maxTicks
}
