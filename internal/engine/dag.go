package engine

import (
	"fmt"

	"github.com/shaiso/Foldflow/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Stage — определение стадии.
	Stage *domain.StageDef

	// ID — идентификатор узла (совпадает со Stage.ID).
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф стадий pipeline.
type DAG struct {
	// Nodes — все узлы графа (stageID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей в порядке объявления.
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	// При равенстве сохраняется порядок объявления стадий.
	Order []*Node

	declared []*Node
}

// BuildDAG строит DAG из PipelineSpec.
func BuildDAG(spec *domain.PipelineSpec) (*DAG, error) {
	dag := &DAG{
		Nodes: make(map[string]*Node, len(spec.Stages)),
	}

	// Первый проход: создаём все узлы
	for i := range spec.Stages {
		stage := &spec.Stages[i]
		if _, exists := dag.Nodes[stage.ID]; exists {
			return nil, NewValidationError(stage.ID, "id", "duplicate stage ID", ErrDuplicateStageID)
		}
		node := &Node{Stage: stage, ID: stage.ID}
		dag.Nodes[stage.ID] = node
		dag.declared = append(dag.declared, node)
	}

	// Второй проход: связываем узлы по зависимостям
	for _, node := range dag.declared {
		for _, depID := range node.Stage.DependsOn {
			if depID == node.ID {
				return nil, NewValidationError(node.ID, "depends_on", "stage depends on itself", ErrSelfDependency)
			}
			dep, exists := dag.Nodes[depID]
			if !exists {
				return nil, NewValidationError(node.ID, "depends_on",
					fmt.Sprintf("depends on unknown stage: %s", depID), ErrMissingDependency)
			}
			dag.addEdge(dep, node)
		}
	}

	for _, node := range dag.declared {
		if node.InDegree == 0 {
			dag.RootNodes = append(dag.RootNodes, node)
		}
	}

	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	done := make(map[string]bool, len(d.Nodes))
	order := make([]*Node, 0, len(d.Nodes))

	// Каждый проход берёт первый по порядку объявления узел без зависимостей.
	// Стадий немного, квадратичная сложность не важна.
	for len(order) < len(d.declared) {
		var next *Node
		for _, node := range d.declared {
			if !done[node.ID] && inDegree[node.ID] == 0 {
				next = node
				break
			}
		}
		if next == nil {
			return nil, ErrCyclicDependency
		}

		done[next.ID] = true
		order = append(order, next)
		for _, dependent := range next.Dependents {
			inDegree[dependent.ID]--
		}
	}

	return order, nil
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// Downstream возвращает все стадии, транзитивно зависящие от id.
func (d *DAG) Downstream(id string) []string {
	node, ok := d.Nodes[id]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, dep := range n.Dependents {
			if seen[dep.ID] {
				continue
			}
			seen[dep.ID] = true
			out = append(out, dep.ID)
			walk(dep)
		}
	}
	walk(node)
	return out
}
