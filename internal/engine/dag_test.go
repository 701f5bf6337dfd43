package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Foldflow/internal/domain"
)

func stage(id string, deps ...string) domain.StageDef {
	return domain.StageDef{
		ID:        id,
		Tool:      "tool",
		Execution: domain.ExecutionLocal,
		Command:   "run",
		Output:    "out",
		DependsOn: deps,
	}
}

func orderIDs(d *DAG) []string {
	ids := make([]string, 0, len(d.Order))
	for _, n := range d.Order {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestBuildDAG_Linear(t *testing.T) {
	spec := &domain.PipelineSpec{Stages: []domain.StageDef{
		stage("secondary"),
		stage("models", "secondary"),
		stage("rank", "models"),
		stage("refine", "models", "rank"),
	}}

	dag, err := BuildDAG(spec)
	if err != nil {
		t.Fatalf("BuildDAG() error = %v", err)
	}

	want := []string{"secondary", "models", "rank", "refine"}
	got := orderIDs(dag)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Order = %v, want %v", got, want)
		}
	}

	if len(dag.RootNodes) != 1 || dag.RootNodes[0].ID != "secondary" {
		t.Errorf("RootNodes = %v", dag.RootNodes)
	}
	if dag.GetNode("refine").InDegree != 2 {
		t.Errorf("refine InDegree = %d, want 2", dag.GetNode("refine").InDegree)
	}
}

func TestBuildDAG_DeclarationOrderIsStable(t *testing.T) {
	// Независимые стадии идут в порядке объявления
	spec := &domain.PipelineSpec{Stages: []domain.StageDef{
		stage("c"),
		stage("a"),
		stage("b"),
		stage("join", "a", "b", "c"),
	}}

	for i := 0; i < 20; i++ {
		dag, err := BuildDAG(spec)
		if err != nil {
			t.Fatal(err)
		}
		got := orderIDs(dag)
		want := []string{"c", "a", "b", "join"}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("Order = %v, want %v", got, want)
			}
		}
	}
}

func TestBuildDAG_Errors(t *testing.T) {
	tests := []struct {
		name   string
		stages []domain.StageDef
		want   error
	}{
		{"cycle", []domain.StageDef{stage("a", "b"), stage("b", "a")}, ErrCyclicDependency},
		{"missing dep", []domain.StageDef{stage("a", "ghost")}, ErrMissingDependency},
		{"self dep", []domain.StageDef{stage("a", "a")}, ErrSelfDependency},
		{"duplicate", []domain.StageDef{stage("a"), stage("a")}, ErrDuplicateStageID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDAG(&domain.PipelineSpec{Stages: tt.stages})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDAG_Downstream(t *testing.T) {
	spec := &domain.PipelineSpec{Stages: []domain.StageDef{
		stage("secondary"),
		stage("models", "secondary"),
		stage("rank", "models"),
		stage("refine", "models", "rank"),
	}}
	dag, err := BuildDAG(spec)
	if err != nil {
		t.Fatal(err)
	}

	down := dag.Downstream("models")
	if len(down) != 2 {
		t.Fatalf("Downstream(models) = %v, want [rank refine]", down)
	}
	if got := dag.Downstream("refine"); len(got) != 0 {
		t.Errorf("Downstream(refine) = %v, want empty", got)
	}
}
