package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flowmesh/orchestrator/errors"
	"github.com/flowmesh/orchestrator/observability"
)

// DecompositionResult is the Task Decomposer's contract return value. A
// failure is always returned as Success=false with Error set, never thrown.
type DecompositionResult struct {
	Tasks           []Task
	Reasoning       string
	OriginalRequest string
	Success         bool
	Error           error
}

const decomposerPrompt = `You are a task decomposition engine. Break the user's request into a ` +
	`dependency graph of smaller tasks. Respond with a JSON object of the shape ` +
	`{"tasks": [{"id": "t1", "description": "...", "type": "research|implement|review|design|document|test|analyze", ` +
	`"dependencies": ["t0"], "estimatedComplexity": "low|medium|high", "priority": 1}], "reasoning": "..."}.`

var validTaskTypes = map[TaskType]bool{
	TaskResearch: true, TaskImplement: true, TaskReview: true, TaskDesign: true,
	TaskDocument: true, TaskTest: true, TaskAnalyze: true,
}

// Decomposer turns a free-text request into a validated task list by
// prompting the Model Router under the architect role.
type Decomposer struct {
	router  *Router
	logger  observability.Logger
	metrics *observability.MetricsCollector
}

// NewDecomposer creates a Decomposer over router.
func NewDecomposer(router *Router, logger observability.Logger, metrics *observability.MetricsCollector) *Decomposer {
	return &Decomposer{router: router, logger: logger, metrics: metrics}
}

// rawTask is the wire shape the decomposer prompt asks the model to emit.
type rawTask struct {
	ID                  string   `json:"id"`
	Description         string   `json:"description"`
	Type                string   `json:"type"`
	Dependencies        []string `json:"dependencies"`
	EstimatedComplexity string   `json:"estimatedComplexity"`
	Priority            int      `json:"priority"`
}

type rawDecomposition struct {
	Tasks     []rawTask `json:"tasks"`
	Reasoning string    `json:"reasoning"`
}

// Decompose produces a validated task list for request.
func (d *Decomposer) Decompose(ctx context.Context, request string) DecompositionResult {
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.RecordDecompositionDuration(time.Since(start))
		}
	}()

	resp, err := d.router.Route(ctx, RoleArchitect, ModelRequest{
		SystemPrompt: decomposerPrompt,
		UserPrompt:   request,
		Temperature:  0.3,
		MaxTokens:    2000,
	})
	if err != nil {
		return d.fail(request, errors.NewDecompositionError(fmt.Sprintf("model router call failed: %v", err)))
	}

	objText, ok := firstBalancedJSONObject(resp.Content)
	if !ok {
		return d.fail(request, errors.NewDecompositionError("no JSON object found in model response"))
	}

	var raw rawDecomposition
	if err := json.Unmarshal([]byte(objText), &raw); err != nil {
		return d.fail(request, errors.NewDecompositionError(fmt.Sprintf("tasks field missing or not an array: %v", err)))
	}
	if len(raw.Tasks) == 0 {
		return d.fail(request, errors.NewDecompositionError("empty task list"))
	}

	tasks := make([]Task, 0, len(raw.Tasks))
	seen := make(map[string]bool, len(raw.Tasks))
	for i, rt := range raw.Tasks {
		id := rt.ID
		if id == "" {
			id = fmt.Sprintf("t%d", i+1)
		}
		if seen[id] {
			id = id + "-" + randomSuffix(8)
		}
		seen[id] = true

		taskType := TaskType(strings.ToLower(rt.Type))
		if !validTaskTypes[taskType] {
			if d.logger != nil {
				d.logger.Warn("unknown task type, defaulting to implement", observability.String("task_id", id), observability.String("type", rt.Type))
			}
			taskType = TaskImplement
		}

		complexity := Complexity(strings.ToLower(rt.EstimatedComplexity))
		if complexity != ComplexityLow && complexity != ComplexityMedium && complexity != ComplexityHigh {
			complexity = ComplexityMedium
		}

		priority := rt.Priority
		if priority == 0 {
			priority = 1
		}

		deps := rt.Dependencies
		if deps == nil {
			deps = []string{}
		}

		tasks = append(tasks, Task{
			ID:                  id,
			Description:         rt.Description,
			Type:                taskType,
			Dependencies:        deps,
			EstimatedComplexity: complexity,
			Priority:            priority,
		})
	}

	// Drop dependencies pointing outside the task set, warning as we go.
	idSet := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		idSet[t.ID] = true
	}
	for i := range tasks {
		filtered := tasks[i].Dependencies[:0:0]
		for _, dep := range tasks[i].Dependencies {
			if idSet[dep] {
				filtered = append(filtered, dep)
			} else if d.logger != nil {
				d.logger.Warn("dropping dangling dependency", observability.String("task_id", tasks[i].ID), observability.String("dependency", dep))
			}
		}
		tasks[i].Dependencies = filtered
	}

	if cyclePath, ok := detectCycle(tasks); ok {
		return d.fail(request, errors.NewDecompositionError("cyclic dependency graph", cyclePath...))
	}

	return DecompositionResult{
		Tasks:           tasks,
		Reasoning:       raw.Reasoning,
		OriginalRequest: request,
		Success:         true,
	}
}

func (d *Decomposer) fail(request string, err error) DecompositionResult {
	if d.metrics != nil {
		d.metrics.RecordOrchestrationError("decomposer", "decomposition_failed")
	}
	return DecompositionResult{OriginalRequest: request, Success: false, Error: err}
}

// firstBalancedJSONObject scans text for the first `{...}` span whose
// braces balance, returning it and true, or false if none is found.
func firstBalancedJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// detectCycle runs a three-color DFS over the task dependency graph,
// returning the cycle path (as task ids) if one exists.
func detectCycle(tasks []Task) ([]string, bool) {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = gray
		path = append(path, id)
		for _, dep := range byID[id].Dependencies {
			switch color[dep] {
			case gray:
				// Found the back edge; trim path to the cycle itself.
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

	for _, t := range tasks {
		if color[t.ID] == white {
			if cyc, found := visit(t.ID); found {
				return cyc, true
			}
		}
	}
	return nil, false
}

// randomSuffix generates a short lowercase alphanumeric suffix for deduplicating
// task ids the decomposer's model produced more than once.
func randomSuffix(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for i := range b {
		b[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(b)
}
