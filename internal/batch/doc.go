// Package batch реализует JobSubmitter: отправку batch jobs и ожидание их
// завершения.
//
// Backend'ы:
//   - local — фоновые процессы /bin/sh на текущем узле
//   - slurm — sbatch скрипт, опрос sacct/squeue
//   - queue — строка в Postgres и событие job.ready в RabbitMQ,
//     выполняется foldflow-worker
//
// Waiter.WaitAll опрашивает все handles с фиксированным интервалом и
// всегда возвращает по одному финальному состоянию на handle.
package batch
