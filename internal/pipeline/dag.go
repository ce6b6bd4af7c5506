// Package pipeline loads pipeline manifests, normalizes their short-form
// sugar into the canonical domain.PipelineDefinition shape, and validates
// the induced module dependency graph.
package pipeline

import (
	"fmt"

	"github.com/eidolon/eidolon/internal/domain"
)

// ValidateDAG checks that a pipeline's modules form a valid DAG:
//   - every depends_on id resolves to a defined module id
//   - no cycles
//
// Returns a topological order of module ids (Kahn's algorithm).
func ValidateDAG(def *domain.PipelineDefinition) ([]string, error) {
	idSet := make(map[string]bool, len(def.Modules))
	for _, m := range def.Modules {
		if m.ID == "" {
			return nil, fmt.Errorf("pipeline module %q: id cannot be empty", m.Name)
		}
		if idSet[m.ID] {
			return nil, fmt.Errorf("duplicate module id: %q", m.ID)
		}
		idSet[m.ID] = true
	}

	inDegree := make(map[string]int, len(def.Modules))
	successors := make(map[string][]string)
	for _, m := range def.Modules {
		inDegree[m.ID] = 0
	}
	for _, m := range def.Modules {
		for _, dep := range m.DependsOn {
			if !idSet[dep] {
				return nil, fmt.Errorf("module %q depends_on unknown id %q", m.ID, dep)
			}
			inDegree[m.ID]++
			successors[dep] = append(successors[dep], m.ID)
		}
	}

	var queue []string
	for _, m := range def.Modules {
		if inDegree[m.ID] == 0 {
			queue = append(queue, m.ID)
		}
	}

	var order []string
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		order = append(order, curr)

		for _, succ := range successors[curr] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) != len(def.Modules) {
		return nil, fmt.Errorf("pipeline %q contains a dependency cycle", def.Name)
	}
	return order, nil
}
