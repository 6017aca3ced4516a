// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
)

// ErrCyclicFlow is returned when a flow definition's edges form a cycle.
var ErrCyclicFlow = errors.New("flow contains cycles; the DAG must be acyclic")

// ValidateDefinition checks the structural invariants of a flow definition:
// at least one step, unique step ids, every edge endpoint declared, and an
// acyclic dependency graph.
func ValidateDefinition(def *FlowDefinition) error {
	if def == nil || len(def.Steps) == 0 {
		return errors.New("flow definition must contain at least one step")
	}

	stepIDs := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" {
			return errors.New("flow step is missing an id")
		}
		if stepIDs[step.ID] {
			return fmt.Errorf("duplicate step id: %s", step.ID)
		}
		stepIDs[step.ID] = true
	}

	deps := make(map[string][]string, len(def.Steps))
	for _, edge := range def.Edges {
		if !stepIDs[edge.Source] || !stepIDs[edge.Target] {
			return fmt.Errorf("edge references undeclared step: source=%s, target=%s", edge.Source, edge.Target)
		}
		deps[edge.Target] = append(deps[edge.Target], edge.Source)
	}

	// DFS with a recursion stack to detect cycles.
	visited := make(map[string]bool, len(def.Steps))
	var walk func(id string, stack map[string]bool) bool
	walk = func(id string, stack map[string]bool) bool {
		visited[id] = true
		stack[id] = true
		for _, dep := range deps[id] {
			if !visited[dep] {
				if walk(dep, stack) {
					return true
				}
			} else if stack[dep] {
				return true
			}
		}
		delete(stack, id)
		return false
	}

	for id := range stepIDs {
		if !visited[id] {
			if walk(id, map[string]bool{}) {
				return ErrCyclicFlow
			}
		}
	}
	return nil
}
