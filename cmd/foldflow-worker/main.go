// Foldflow Worker — выполняет batch jobs из очереди.
//
// Worker:
//   - Получает job IDs из RabbitMQ (или опрашивает PostgreSQL)
//   - Запускает команду job с лимитом walltime
//   - Записывает итоговое состояние job в БД
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/mq"
	"github.com/shaiso/Foldflow/internal/repo"
	"github.com/shaiso/Foldflow/internal/telemetry"
	"github.com/shaiso/Foldflow/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("FOLDFLOW_CONFIG"), "Flat KEY=VALUE configuration file")
	flag.Parse()

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx, *configPath, config.EnvOverrides())
	if err != nil {
		telemetry.SetupLogger("ERROR", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting foldflow-worker")

	if cfg.Queue.DBURL == "" {
		logger.Error("QUEUE_DB_URL is required")
		os.Exit(1)
	}

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Queue.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// RabbitMQ
	var mqConn *mq.Connection
	if cfg.Queue.AMQPURL != "" {
		mqConn, err = mq.NewConnection(cfg.Queue.AMQPURL, "foldflow-worker", logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
		}
	}

	metrics := telemetry.NewMetrics()

	w := worker.New(worker.Config{
		ID:           cfg.Worker.ID,
		Jobs:         repo.NewJobRepo(pool),
		Conn:         mqConn,
		Metrics:      metrics,
		PollInterval: cfg.Pipeline.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		MaxWallTime:  cfg.Worker.MaxWallTime,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	go func() {
		logger.Info("listening", "addr", cfg.Worker.Addr)
		if err := http.ListenAndServe(cfg.Worker.Addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()
	logger.Info("foldflow-worker stopped", "worker_id", w.ID())
}
