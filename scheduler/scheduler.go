// Package scheduler validates an agent graph and computes its
// topological levels, grounded on the Kahn's-algorithm, in-degree-map
// style of
// other_examples/74d804f5_88lin-divinesense__ai-agents-orchestrator-dag_scheduler.go.go
// and the step/dependency validation shape of config.WorkflowStep
// (config/types.go).
package scheduler

import (
	"fmt"
	"log/slog"
)

// Node is one unit of work in the graph, carrying only the identity and
// dependency data the scheduler needs; the richer AgentNode fields
// (type, name, desc, steps) live in the workflow package and are not the
// scheduler's concern.
type Node struct {
	ID           string
	Dependencies []string
}

// Level is a set of node IDs safe to run concurrently, all of whose
// dependencies were satisfied by strictly earlier levels.
type Level []string

// Error reports a workflow graph that failed validation, carrying a
// single-line reason.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "invalid-workflow: " + e.Reason }

// Validate checks graph well-formedness independent of leveling: no
// duplicate or self- or unknown-referencing node IDs, and at least one
// root with zero dependencies. Schedule calls this internally, but
// callers may invoke it on its own (e.g. to validate without paying for
// leveling).
func Validate(nodes []Node) error {
	if len(nodes) == 0 {
		return &Error{Reason: "Agent graph is empty"}
	}

	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ID] {
			return &Error{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = true
	}

	hasRoot := false
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				return &Error{Reason: fmt.Sprintf("node %q depends on itself", n.ID)}
			}
			if !seen[dep] {
				return &Error{Reason: fmt.Sprintf("node %q depends on unknown node %q", n.ID, dep)}
			}
		}
		if len(n.Dependencies) == 0 {
			hasRoot = true
		}
	}
	if !hasRoot {
		return &Error{Reason: "no node has zero dependencies; graph has no entry point"}
	}

	return nil
}

// Schedule validates nodes and, on success, returns the ordered levels a
// Kahn's-algorithm topological sort produces: level i contains every node
// whose dependencies all appear in levels <i. Insertion order is
// preserved within a level for reproducibility, though within-level order
// is observationally irrelevant since the executor runs a whole level
// concurrently.
func Schedule(nodes []Node) ([]Level, error) {
	if err := Validate(nodes); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	order := make(map[string]int, len(nodes))
	for i, n := range nodes {
		inDegree[n.ID] = len(n.Dependencies)
		order[n.ID] = i
	}
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var queue []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	sortByInputOrder(queue, order)

	var levels []Level
	emitted := 0

	for len(queue) > 0 {
		level := Level(queue)
		levels = append(levels, level)
		emitted += len(level)

		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sortByInputOrder(next, order)
		queue = next
	}

	if emitted < len(nodes) {
		slog.Warn("scheduler: cycle or unreachable node detected", "emitted", emitted, "total", len(nodes))
		return nil, &Error{Reason: "cycle-or-unreachable: graph contains a circular dependency or an unreachable node"}
	}

	slog.Debug("scheduler: leveled graph", "levels", len(levels), "nodes", len(nodes))
	return levels, nil
}

// sortByInputOrder performs a stable insertion-order sort of ids using
// the original node order, so repeated Schedule calls on the same graph
// produce identical level contents.
func sortByInputOrder(ids []string, order map[string]int) {
	for i := 1; i < len(ids); i++ {
		j := i
		for j > 0 && order[ids[j-1]] > order[ids[j]] {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			j--
		}
	}
}
