package orchestrator

import (
	"sort"
)

// DAGBuilder materializes a level-partitioned execution graph from a set of
// task assignments, rejecting cyclic graphs. Dependencies on task ids outside
// the assignment set are dropped rather than rejected.
type DAGBuilder struct{}

// NewDAGBuilder creates a DAGBuilder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{}
}

// Build turns assignments into an ExecutionDAG per §4.3: nodes in insertion
// order, dependents inverted, dangling dependencies dropped, cycles rejected,
// then Kahn's-algorithm level partitioning with insertion-index tie-break.
func (b *DAGBuilder) Build(assignments []Assignment) *ExecutionDAG {
	nodes := make(map[string]*DAGNode, len(assignments))
	order := make([]string, 0, len(assignments))

	for i, a := range assignments {
		nodes[a.Task.ID] = &DAGNode{
			TaskID:         a.Task.ID,
			Task:           a.Task,
			Role:           a.Role,
			Dependencies:   append([]string{}, a.Task.Dependencies...),
			Dependents:     []string{},
			Status:         NodePending,
			insertionIndex: i,
		}
		order = append(order, a.Task.ID)
	}

	if len(nodes) == 0 {
		return &ExecutionDAG{Nodes: nodes, Levels: [][]string{}, TotalLevels: 0, IsValid: true}
	}

	// Drop dangling dependencies and invert into dependents.
	for _, id := range order {
		node := nodes[id]
		kept := node.Dependencies[:0:0]
		for _, dep := range node.Dependencies {
			if depNode, ok := nodes[dep]; ok {
				kept = append(kept, dep)
				depNode.Dependents = append(depNode.Dependents, id)
			}
		}
		node.Dependencies = kept
	}

	if cyclePath, ok := detectNodeCycle(nodes, order); ok {
		msg := "Circular dependency detected: "
		for i, id := range cyclePath {
			if i > 0 {
				msg += " -> "
			}
			msg += id
		}
		return &ExecutionDAG{Nodes: nodes, IsValid: false, ValidationError: msg}
	}

	levels := levelPartition(nodes, order)
	for levelIdx, ids := range levels {
		for _, id := range ids {
			nodes[id].Level = levelIdx
		}
	}

	return &ExecutionDAG{
		Nodes:       nodes,
		Levels:      levels,
		TotalLevels: len(levels),
		IsValid:     true,
	}
}

// detectNodeCycle runs a three-color DFS over the node graph in insertion
// order, returning the cycle path (task ids) if one exists.
func detectNodeCycle(nodes map[string]*DAGNode, order []string) ([]string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = gray
		path = append(path, id)
		for _, dep := range nodes[id].Dependencies {
			switch color[dep] {
			case gray:
				cycleStart := 0
				for i, p := range path {
					if p == dep {
						cycleStart = i
						break
					}
				}
				cycle := append(append([]string{}, path[cycleStart:]...), dep)
				return cycle, true
			case white:
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil, false
	}

	for _, id := range order {
		if color[id] == white {
			if cyc, found := visit(id); found {
				return cyc, true
			}
		}
	}
	return nil, false
}

// levelPartition runs Kahn's algorithm over nodes, sorting each level by
// original insertion index for deterministic ordering.
func levelPartition(nodes map[string]*DAGNode, order []string) [][]string {
	inDegree := make(map[string]int, len(nodes))
	for _, id := range order {
		inDegree[id] = len(nodes[id].Dependencies)
	}

	var current []string
	for _, id := range order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		sort.Slice(current, func(i, j int) bool {
			return nodes[current[i]].insertionIndex < nodes[current[j]].insertionIndex
		})
		levelCopy := append([]string{}, current...)
		levels = append(levels, levelCopy)

		var next []string
		for _, id := range current {
			for _, dependent := range nodes[id].Dependents {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	return levels
}
