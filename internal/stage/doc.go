// Package stage выполняет одну стадию pipeline.
//
// Runner решает, что делать со стадией:
//   - артефакт уже есть — SKIPPED, инструмент не вызывается
//   - инструмент недоступен, стадия optional — PLACEHOLDER
//   - local стадия — синхронный запуск через worker.Executor
//   - batch стадия — отправка всех веток и один batch.Waiter.WaitAll
//
// Падение обязательной одиночной стадии возвращается как StageFailure.
// Падения веток fan-out записываются в BranchResult и не являются ошибкой:
// решение принимает aggregate.Collect.
package stage
