package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/shaiso/Foldflow/internal/batch"
	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/mq"
	"github.com/shaiso/Foldflow/internal/orchestrator"
	"github.com/shaiso/Foldflow/internal/repo"
	"github.com/shaiso/Foldflow/internal/telemetry"
)

// ExitError — ошибка с кодом выхода процесса.
// Err == nil означает код без сообщения (например, DEGRADED run).
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// App — общие флаги и зависимости команд.
type App struct {
	ConfigPath  string
	JSON        bool
	MetricsFile string

	// Stdout и Stderr (default: os.Stdout, os.Stderr).
	Stdout io.Writer
	Stderr io.Writer

	// Overrides — переопределения конфигурации (default: FOLDFLOW_* окружения).
	Overrides envconfig.Lookuper
}

// NewRootCmd создаёт корневую команду foldflow.
func NewRootCmd(app *App, version string) *cobra.Command {
	if app.Stdout == nil {
		app.Stdout = os.Stdout
	}
	if app.Stderr == nil {
		app.Stderr = os.Stderr
	}

	rootCmd := &cobra.Command{
		Use:           "foldflow",
		Short:         "Foldflow — RNA structure pipeline orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(app.Stdout)
	rootCmd.SetErr(app.Stderr)

	rootCmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Flat KEY=VALUE configuration file")
	rootCmd.PersistentFlags().BoolVar(&app.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&app.MetricsFile, "metrics-file", "", "Write Prometheus textfile metrics to FILE")

	rootCmd.AddCommand(
		NewRunCmd(app),
		NewBatchCmd(app),
		NewStatusCmd(app),
		NewCheckCmd(app),
	)
	return rootCmd
}

// Execute выполняет CLI и возвращает код выхода.
func Execute(version string, args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &App{}
	rootCmd := NewRootCmd(app, version)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return orchestrator.ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(app.Stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(app.Stderr, "Error:", err)
	return orchestrator.ExitFatal
}

// output создаёт Output по флагам.
func (a *App) output() *Output {
	return NewOutputTo(a.JSON, a.Stdout, a.Stderr)
}

// loadConfig читает файл конфигурации и переопределения.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	overrides := a.Overrides
	if overrides == nil {
		overrides = config.EnvOverrides()
	}
	cfg, err := config.Load(ctx, a.ConfigPath, overrides)
	if err != nil {
		return nil, &ExitError{Code: orchestrator.ExitFatal, Err: err}
	}
	return cfg, nil
}

// logger создаёт логгер CLI в stderr.
func (a *App) logger(cfg *config.Config) *slog.Logger {
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format, a.Stderr)
	slog.SetDefault(logger)
	return logger
}

// writeMetrics сохраняет метрики, если задан --metrics-file.
func (a *App) writeMetrics(m *telemetry.Metrics, logger *slog.Logger) {
	if a.MetricsFile == "" {
		return
	}
	if err := m.WriteTextfile(a.MetricsFile); err != nil {
		logger.Warn("failed to write metrics", "path", a.MetricsFile, "error", err)
	}
}

// newOrchestrator создаёт Orchestrator и backend batch стадий.
// Инструменты режима проверяются до подключения к backend.
// Возвращённую функцию нужно вызвать после завершения runs.
func (a *App) newOrchestrator(ctx context.Context, cfg *config.Config, mode domain.Mode, logger *slog.Logger, metrics *telemetry.Metrics) (*orchestrator.Orchestrator, func(), error) {
	if _, err := CheckTools(cfg, mode); err != nil {
		return nil, nil, &ExitError{Code: orchestrator.ExitFatal, Err: err}
	}

	submitter, cleanup, err := newSubmitter(ctx, cfg, logger)
	if err != nil {
		return nil, nil, &ExitError{Code: orchestrator.ExitFatal, Err: err}
	}

	o, err := orchestrator.New(orchestrator.Config{
		Config:    cfg,
		Submitter: submitter,
		Metrics:   metrics,
		Console:   a.Stderr,
		Logger:    logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, &ExitError{Code: orchestrator.ExitFatal, Err: err}
	}
	return o, cleanup, nil
}

// newSubmitter создаёт backend queue: jobs в Postgres, уведомления в RabbitMQ.
// Для local и slurm возвращает nil: их создаёт orchestrator.
func newSubmitter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (batch.Submitter, func(), error) {
	if cfg.Pipeline.Submitter != config.SubmitterQueue {
		return nil, func() {}, nil
	}

	pool, err := repo.NewPool(ctx, cfg.Queue.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	cleanup := pool.Close

	var publisher batch.JobPublisher
	if cfg.Queue.AMQPURL != "" {
		conn, err := mq.NewConnection(cfg.Queue.AMQPURL, "foldflow-cli", logger, mq.WithConfirms())
		if err != nil {
			logger.Warn("RabbitMQ not available, workers will pick jobs by polling", "error", err)
		} else {
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(conn, logger)
			cleanup = func() {
				conn.Close()
				pool.Close()
			}
		}
	}

	return batch.NewQueueSubmitter(repo.NewJobRepo(pool), publisher, logger), cleanup, nil
}
