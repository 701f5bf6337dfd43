package worker

import "errors"

// Ошибки воркера.
var (
	// ErrJobNotFound — job не найден в БД.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotPending — job уже взят другим воркером или завершён.
	ErrJobNotPending = errors.New("job is not in PENDING state")

	// ErrEmptyCommand — пустая командная строка.
	ErrEmptyCommand = errors.New("empty command")

	// ErrExecutionTimeout — выполнение превысило таймаут.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrExecutionFailed — выполнение завершилось ошибкой.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
