// Package scheduler повторно запускает batch по cron-расписанию (watch mode).
//
// Структура:
//   - scheduler.go — Scheduler (Run, Tick)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Expr:   "*/30 * * * *",
//	    Job:    func(ctx context.Context, tick int) error { return runBatch(ctx) },
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return sched.Run(ctx)
//
// Тики не перекрываются: следующий тик ждёт завершения предыдущего.
// Уже готовые артефакты пропускаются стадиями, поэтому повторный
// запуск обрабатывает только новые и незавершённые входы.
package scheduler
