// Package telemetry обеспечивает наблюдаемость pipeline.
//
// Включает:
//   - logging.go — structured logging через slog, журнал run (pipeline.log)
//   - metrics.go — Prometheus метрики стадий, jobs и run
//
// CLI пишет метрики в textfile (--metrics-file),
// foldflow-worker экспортирует их на /metrics endpoint.
package telemetry
