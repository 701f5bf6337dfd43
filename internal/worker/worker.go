package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/mq"
	"github.com/shaiso/Foldflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 10
	defaultPrefetch     = 1
)

// JobStore — хранилище jobs. Реализуется repo.JobRepo.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Claim(ctx context.Context, job *domain.Job) error
	Finish(ctx context.Context, job *domain.Job) error
	ListPending(ctx context.Context, limit int) ([]domain.Job, error)
}

// Worker выполняет batch jobs backend'а "queue".
//
// Worker:
//   - Получает job.ready из RabbitMQ (event-driven)
//   - Периодически проверяет PENDING jobs в БД (polling fallback)
//   - Захватывает job атомарным переходом PENDING → RUNNING
//   - Запускает команду через Executor и записывает код выхода
//
// Повторных попыток нет: упавший job остаётся FAILED, решение принимает
// orchestrator. Несколько воркеров могут потреблять одну очередь.
type Worker struct {
	id       string
	jobs     JobStore
	conn     *mq.Connection
	executor Executor
	metrics  *telemetry.Metrics

	pollInterval time.Duration
	batchSize    int
	maxWallTime  time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// ID — идентификатор воркера (по умолчанию hostname-pid).
	ID string

	// Jobs — хранилище jobs.
	Jobs JobStore

	// Conn — соединение RabbitMQ. nil — только polling.
	Conn *mq.Connection

	// Executor (опционально; если nil — используется ProcessExecutor).
	Executor Executor

	// Metrics (опционально).
	Metrics *telemetry.Metrics

	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество jobs за один poll (default: 10)

	// MaxWallTime — лимит времени job без собственного WallTime.
	MaxWallTime time.Duration

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executor := cfg.Executor
	if executor == nil {
		executor = NewProcessExecutor()
	}

	id := cfg.ID
	if id == "" {
		host, _ := os.Hostname()
		id = host + "-" + uuid.NewString()[:8]
	}

	return &Worker{
		id:           id,
		jobs:         cfg.Jobs,
		conn:         cfg.Conn,
		executor:     executor,
		metrics:      cfg.Metrics,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxWallTime:  cfg.MaxWallTime,
		logger:       logger.With("worker_id", id),
	}
}

// ID возвращает идентификатор воркера.
func (w *Worker) ID() string {
	return w.id
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для jobs.ready (если есть соединение)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
	)

	if w.conn != nil {
		consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueJobsReady,
			Handler:  w.handleJobReady,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("job consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
// Выполняющийся job прерывается, его состояние записывается как FAILED.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем jobs, созданные пока воркер был выключен)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	jobs, err := w.jobs.ListPending(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list pending jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	w.logger.Debug("poll found pending jobs", "count", len(jobs))

	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := w.processJob(ctx, jobs[i].ID); err != nil && !errors.Is(err, ErrJobNotPending) {
			w.logger.Error("failed to process job from poll",
				"job_id", jobs[i].ID,
				"error", err,
			)
		}
	}
}
