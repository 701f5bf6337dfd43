package domain

// RunStatus — статус выполнения pipeline run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ DEGRADED (есть упавшие ветки или optional стадии)
//	                  ↘ FAILED
type RunStatus string

const (
	// RunStatusPending — run создан, стадии ещё не запускались.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все стадии завершены без потерь.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusDegraded — run завершён, но часть веток fan-out упала.
	RunStatusDegraded RunStatus = "DEGRADED"

	// RunStatusFailed — run прерван фатальной ошибкой.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusDegraded, RunStatusFailed:
		return true
	default:
		return false
	}
}

// StageStatus — итог выполнения одной стадии.
type StageStatus string

const (
	// StageStatusSucceeded — инструмент отработал, артефакт создан.
	StageStatusSucceeded StageStatus = "SUCCEEDED"

	// StageStatusSkipped — артефакт уже существовал, инструмент не вызывался.
	StageStatusSkipped StageStatus = "SKIPPED"

	// StageStatusPlaceholder — инструмент недоступен, записан placeholder.
	StageStatusPlaceholder StageStatus = "PLACEHOLDER"

	// StageStatusFailed — инструмент упал или не создал артефакт.
	StageStatusFailed StageStatus = "FAILED"
)

// IsFailed возвращает true для упавшей стадии.
func (s StageStatus) IsFailed() bool {
	return s == StageStatusFailed
}

// JobState — состояние batch job во внешнем планировщике.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	                  ↘ TIMED_OUT
//
// Переходы происходят только по результатам опроса планировщика.
type JobState string

const (
	// JobStatePending — job в очереди планировщика.
	JobStatePending JobState = "PENDING"

	// JobStateRunning — job выполняется.
	JobStateRunning JobState = "RUNNING"

	// JobStateSucceeded — job завершился с кодом 0.
	JobStateSucceeded JobState = "SUCCEEDED"

	// JobStateFailed — job завершился с ошибкой.
	JobStateFailed JobState = "FAILED"

	// JobStateTimedOut — job не завершился за отведённое время.
	JobStateTimedOut JobState = "TIMED_OUT"
)

// IsTerminal возвращает true, если состояние финальное.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateTimedOut:
		return true
	default:
		return false
	}
}

// rank — порядок состояний; переход назад запрещён.
func (s JobState) rank() int {
	switch s {
	case JobStatePending:
		return 0
	case JobStateRunning:
		return 1
	case JobStateSucceeded, JobStateFailed, JobStateTimedOut:
		return 2
	default:
		return -1
	}
}

// CanTransition проверяет, допустим ли переход из s в next.
// Терминальные состояния не меняются.
func (s JobState) CanTransition(next JobState) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// ParseJobState парсит строку в JobState.
func ParseJobState(s string) JobState {
	switch s {
	case "RUNNING":
		return JobStateRunning
	case "SUCCEEDED":
		return JobStateSucceeded
	case "FAILED":
		return JobStateFailed
	case "TIMED_OUT":
		return JobStateTimedOut
	default:
		return JobStatePending
	}
}

// ArtifactStatus — статус записи в manifest.
type ArtifactStatus string

const (
	// ArtifactSuccess — реальный результат инструмента.
	ArtifactSuccess ArtifactStatus = "SUCCESS"

	// ArtifactPlaceholder — детерминированная заглушка.
	ArtifactPlaceholder ArtifactStatus = "PLACEHOLDER"

	// ArtifactFailed — ветка упала, артефакта нет.
	ArtifactFailed ArtifactStatus = "FAILED"
)
