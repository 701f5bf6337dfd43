package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunMismatch — существующая директория run описывает другой вход.
	ErrRunMismatch = errors.New("run directory belongs to a different input")

	// ErrInvalidConstraint — вторичная структура пуста или некорректна.
	ErrInvalidConstraint = errors.New("invalid secondary structure constraint")

	// ErrStageNotFound — стадия не найдена в DAG.
	ErrStageNotFound = errors.New("stage not found in DAG")

	// ErrUnknownSubmitter — backend JobSubmitter нельзя создать без внешних зависимостей.
	ErrUnknownSubmitter = errors.New("submitter must be provided")
)
