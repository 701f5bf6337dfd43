package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Foldflow/internal/domain"
)

func TestValidate_Errors(t *testing.T) {
	fanout := func(mut func(*domain.StageDef)) []domain.StageDef {
		s := stage("models", "secondary")
		s.Execution = domain.ExecutionBatch
		s.FanOut = 4
		s.Collect = "*.pdb"
		mut(&s)
		return []domain.StageDef{stage("secondary"), s}
	}

	tests := []struct {
		name   string
		stages []domain.StageDef
		want   error
	}{
		{"empty", nil, ErrEmptyStages},
		{"empty id", []domain.StageDef{stage("")}, ErrEmptyStageID},
		{"no tool", fanout(func(s *domain.StageDef) { s.Tool = "" }), ErrMissingTool},
		{"bad execution", fanout(func(s *domain.StageDef) { s.Execution = "cloud" }), ErrUnknownExecution},
		{"no command", fanout(func(s *domain.StageDef) { s.Command = "" }), ErrMissingField},
		{"no output", fanout(func(s *domain.StageDef) { s.Output = "" }), ErrMissingField},
		{"no collect", fanout(func(s *domain.StageDef) { s.Collect = "" }), ErrMissingField},
		{"local fan-out", fanout(func(s *domain.StageDef) { s.Execution = domain.ExecutionLocal }), ErrInvalidFanOut},
		{"optional with post tool", fanout(func(s *domain.StageDef) {
			s.Optional = true
			s.Placeholder = domain.FormatPDB
			s.PostTool = "extract"
			s.PostCommand = "extract"
		}), ErrOptionalPostTool},
		{"optional without placeholder", fanout(func(s *domain.StageDef) { s.Optional = true }), ErrMissingField},
		{"fan_out_from not a dependency", fanout(func(s *domain.StageDef) {
			s.FanOut = 0
			s.FanOutFrom = "other"
			s.FanOutLimit = 3
		}), ErrInvalidFanOut},
		{"sweep with fan-out", fanout(func(s *domain.StageDef) {
			s.Sweep = []domain.ParamSet{{Name: "t25", Args: []string{"-T", "25"}}}
		}), ErrInvalidFanOut},
		{"variants_from not a dependency", fanout(func(s *domain.StageDef) { s.VariantsFrom = "other" }), ErrInvalidFanOut},
		{"batch capture stdout", fanout(func(s *domain.StageDef) { s.CaptureStdout = true }), ErrInvalidFanOut},
		{"ranks not a dependency", fanout(func(s *domain.StageDef) { s.Ranks = "other" }), ErrMissingDependency},
		{"unknown dependency", []domain.StageDef{stage("a", "ghost")}, ErrMissingDependency},
		{"cycle", []domain.StageDef{stage("a", "b"), stage("b", "a")}, ErrCyclicDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&domain.PipelineSpec{Stages: tt.stages})
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidate_LocalSweep(t *testing.T) {
	sweep := stage("secondary")
	sweep.CaptureStdout = true
	sweep.Sweep = []domain.ParamSet{{Name: "default"}, {Name: "nogu", Args: []string{"--noGU"}}}

	models := stage("models", "secondary")
	models.Execution = domain.ExecutionBatch
	models.VariantsFrom = "secondary"
	models.Collect = "*.pdb"

	if err := Validate(&domain.PipelineSpec{Stages: []domain.StageDef{sweep, models}}); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if !sweep.IsFanOut() || !models.IsFanOut() {
		t.Error("sweep and per-variant stages should fan out")
	}
}

func TestValidate_ValidationErrorContext(t *testing.T) {
	s := stage("models")
	s.Command = ""

	err := Validate(&domain.PipelineSpec{Stages: []domain.StageDef{s}})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.StageID != "models" || verr.Field != "command" {
		t.Errorf("StageID = %q, Field = %q", verr.StageID, verr.Field)
	}
}
