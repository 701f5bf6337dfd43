package engine

import (
	"fmt"

	"github.com/shaiso/Foldflow/internal/domain"
)

// Validate выполняет полную валидацию PipelineSpec.
//
// Проверяет:
// - Наличие стадий и уникальность ID
// - Инструмент, команду и выходной артефакт каждой стадии
// - Параметры fan-out и ранжирования
// - Зависимости и отсутствие циклов (делегируется DAG)
func Validate(spec *domain.PipelineSpec) error {
	if spec == nil || len(spec.Stages) == 0 {
		return ErrEmptyStages
	}

	ids := make(map[string]bool, len(spec.Stages))
	for i := range spec.Stages {
		stage := &spec.Stages[i]
		if stage.ID == "" {
			return NewValidationError("", "id", "stage has empty ID", ErrEmptyStageID)
		}
		if ids[stage.ID] {
			return NewValidationError(stage.ID, "id", "duplicate stage ID", ErrDuplicateStageID)
		}
		ids[stage.ID] = true
	}

	for i := range spec.Stages {
		if err := ValidateStage(&spec.Stages[i], ids); err != nil {
			return err
		}
	}

	if _, err := BuildDAG(spec); err != nil {
		return err
	}
	return nil
}

// ValidateStage валидирует одну стадию.
// ids — ID всех стадий pipeline.
func ValidateStage(stage *domain.StageDef, ids map[string]bool) error {
	if stage.Tool == "" {
		return NewValidationError(stage.ID, "tool", "stage has no tool", ErrMissingTool)
	}

	switch stage.Execution {
	case domain.ExecutionLocal, domain.ExecutionBatch:
	default:
		return NewValidationError(stage.ID, "execution",
			fmt.Sprintf("unknown execution %q", stage.Execution), ErrUnknownExecution)
	}

	if stage.Command == "" {
		return NewValidationError(stage.ID, "command", "command is required", ErrMissingField)
	}
	if stage.Output == "" {
		return NewValidationError(stage.ID, "output", "output is required", ErrMissingField)
	}
	if stage.PostTool != "" && stage.PostCommand == "" {
		return NewValidationError(stage.ID, "post_command", "post tool requires post command", ErrMissingField)
	}

	if stage.Optional {
		if stage.PostTool != "" {
			return NewValidationError(stage.ID, "post_tool", "optional stage cannot have a post tool", ErrOptionalPostTool)
		}
		if stage.Placeholder == "" {
			return NewValidationError(stage.ID, "placeholder", "optional stage needs a placeholder format", ErrMissingField)
		}
	}

	if stage.FanOut < 0 {
		return NewValidationError(stage.ID, "fan_out", "fan-out must not be negative", ErrInvalidFanOut)
	}
	if stage.FanOutFrom != "" {
		if stage.FanOut > 1 {
			return NewValidationError(stage.ID, "fan_out", "fan_out and fan_out_from are exclusive", ErrInvalidFanOut)
		}
		if !dependsOn(stage, stage.FanOutFrom) {
			return NewValidationError(stage.ID, "fan_out_from",
				fmt.Sprintf("fan-out source %s must be a dependency", stage.FanOutFrom), ErrInvalidFanOut)
		}
		if stage.FanOutLimit < 1 {
			return NewValidationError(stage.ID, "fan_out_limit", "fan-out limit must be at least 1", ErrInvalidFanOut)
		}
	}
	if len(stage.Sweep) > 0 && (stage.FanOut > 1 || stage.FanOutFrom != "" || stage.VariantsFrom != "") {
		return NewValidationError(stage.ID, "sweep", "sweep excludes other fan-out kinds", ErrInvalidFanOut)
	}
	if stage.VariantsFrom != "" && !dependsOn(stage, stage.VariantsFrom) {
		return NewValidationError(stage.ID, "variants_from",
			fmt.Sprintf("variant source %s must be a dependency", stage.VariantsFrom), ErrInvalidFanOut)
	}
	if stage.IsFanOut() && len(stage.Sweep) == 0 {
		if stage.Execution != domain.ExecutionBatch {
			return NewValidationError(stage.ID, "execution", "fan-out stages must use batch execution", ErrInvalidFanOut)
		}
		if stage.Collect == "" {
			return NewValidationError(stage.ID, "collect", "fan-out stage needs a collect pattern", ErrMissingField)
		}
	}
	if stage.CaptureStdout && stage.Execution == domain.ExecutionBatch {
		return NewValidationError(stage.ID, "capture_stdout", "batch stages cannot capture stdout", ErrInvalidFanOut)
	}

	if stage.Ranks != "" && !dependsOn(stage, stage.Ranks) {
		return NewValidationError(stage.ID, "ranks",
			fmt.Sprintf("ranked stage %s must be a dependency", stage.Ranks), ErrMissingDependency)
	}

	for _, dep := range stage.DependsOn {
		if dep == stage.ID {
			return NewValidationError(stage.ID, "depends_on", "stage depends on itself", ErrSelfDependency)
		}
		if !ids[dep] {
			return NewValidationError(stage.ID, "depends_on",
				fmt.Sprintf("depends on unknown stage: %s", dep), ErrMissingDependency)
		}
	}
	return nil
}

func dependsOn(stage *domain.StageDef, id string) bool {
	for _, dep := range stage.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}
