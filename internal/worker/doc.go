// Package worker запускает внешние инструменты.
//
// Включает:
//   - executor.go — ProcessExecutor: синхронный запуск команды через /bin/sh,
//     журнал stdout/stderr, хвост stderr
//   - worker.go   — Worker для backend'а "queue": jobs из RabbitMQ и Postgres
//   - handlers.go — захват и выполнение одного job
//
// ProcessExecutor используется StageRunner'ом для local стадий,
// локальным JobSubmitter'ом и Worker'ом.
package worker
