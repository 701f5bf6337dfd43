package domain

import (
	"errors"
	"fmt"
	"time"
)

// Категории ошибок pipeline. Типизированные ошибки ниже разворачиваются
// в эти значения, поэтому проверка делается через errors.Is.
var (
	// ErrConfiguration — инструмент или параметр сконфигурирован неверно.
	ErrConfiguration = errors.New("configuration error")

	// ErrStageFailure — обязательная стадия упала.
	ErrStageFailure = errors.New("stage failure")

	// ErrBranchFailure — ветка fan-out упала.
	ErrBranchFailure = errors.New("branch failure")

	// ErrIncompleteManifest — успешных артефактов меньше минимума.
	ErrIncompleteManifest = errors.New("incomplete manifest")

	// ErrTimeout — артефакт не появился за отведённое время.
	ErrTimeout = errors.New("timeout")
)

// ConfigurationError — ошибка конфигурации инструмента или параметра.
type ConfigurationError struct {
	Tool    string // логическое имя инструмента (может быть пустым)
	Key     string // ключ конфигурации
	Message string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Tool != "" && e.Key != "":
		return fmt.Sprintf("configuration error: tool %s (%s): %s", e.Tool, e.Key, e.Message)
	case e.Key != "":
		return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Message)
	default:
		return "configuration error: " + e.Message
	}
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// StageFailure — стадия упала: ненулевой код выхода, отсутствие артефакта
// или некорректный upstream артефакт.
type StageFailure struct {
	Stage      string
	ExitCode   int
	StderrTail string
	LogPath    string
	Err        error
}

func (e *StageFailure) Error() string {
	msg := fmt.Sprintf("stage %s failed", e.Stage)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.LogPath != "" {
		msg += "; log: " + e.LogPath
	}
	return msg
}

// Is позволяет errors.Is(err, ErrStageFailure) и проверку причины.
func (e *StageFailure) Is(target error) bool {
	return target == ErrStageFailure
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}

// BranchFailure — падение одной ветки fan-out.
// Не прерывает pipeline, учитывается агрегатором.
type BranchFailure struct {
	Stage   string
	Variant string
	JobID   string
	State   JobState
	Message string
}

func (e *BranchFailure) Error() string {
	msg := fmt.Sprintf("branch %s/%s failed", e.Stage, e.Variant)
	if e.JobID != "" {
		msg += fmt.Sprintf(" (job %s, %s)", e.JobID, e.State)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *BranchFailure) Unwrap() error {
	return ErrBranchFailure
}

// IncompleteManifestError — агрегатор собрал меньше артефактов, чем минимум.
type IncompleteManifestError struct {
	Stage   string
	Found   int
	Minimum int
	Failed  int
}

func (e *IncompleteManifestError) Error() string {
	return fmt.Sprintf("incomplete manifest for stage %s: %d artifacts (minimum %d, %d branches failed)",
		e.Stage, e.Found, e.Minimum, e.Failed)
}

func (e *IncompleteManifestError) Unwrap() error {
	return ErrIncompleteManifest
}

// TimeoutError — ожидание артефакта или job превысило таймаут.
type TimeoutError struct {
	Stage   string
	Path    string
	JobID   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("stage %s: job %s did not finish within %s", e.Stage, e.JobID, e.Timeout)
	}
	return fmt.Sprintf("stage %s: artifact %s did not appear within %s", e.Stage, e.Path, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
