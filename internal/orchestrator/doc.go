// Package orchestrator выполняет pipeline run от начала до конца.
//
// Orchestrator отвечает за:
//   - Резолвинг инструментов до создания директорий и jobs
//   - Создание или продолжение директории run (run.json)
//   - Обход DAG стадий в топологическом порядке
//   - Ожидание входных артефактов через DependencyGate
//   - Запуск стадий через StageRunner и агрегацию fan-out
//   - Финальный manifest.json и статус run
//
// Один run выполняется последовательно, параллелизм отдан планировщику jobs.
package orchestrator
