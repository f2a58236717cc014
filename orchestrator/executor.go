package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/flowmesh/orchestrator/errors"
	"github.com/flowmesh/orchestrator/observability"
	"github.com/flowmesh/orchestrator/retry"
)

// DefaultMaxParallelTasks, DefaultTaskTimeout, and DefaultMaxRetries are the
// §6 configuration defaults applied when RunConfig leaves a field zero.
const (
	DefaultMaxParallelTasks = 5
	DefaultTaskTimeout      = 300 * time.Second
	DefaultMaxRetries       = 3
)

func withRunConfigDefaults(cfg RunConfig) RunConfig {
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = DefaultMaxParallelTasks
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return cfg
}

// Executor drives a built ExecutionDAG level by level, bounding per-level
// concurrency, retrying individual tasks, and honoring fail-fast/skip
// semantics, per §4.4.
type Executor struct {
	agents  *AgentManager
	logger  observability.Logger
	metrics *observability.MetricsCollector
}

// NewExecutor creates an Executor driving agents through manager.
func NewExecutor(manager *AgentManager, logger observability.Logger, metrics *observability.MetricsCollector) *Executor {
	return &Executor{agents: manager, logger: logger, metrics: metrics}
}

// Execute runs dag to completion under occtx, returning one ExecutionResult
// per task. Returns a typed DAG-validation error instead of running if the
// graph is invalid; task-level failures are never thrown, only recorded.
func (e *Executor) Execute(ctx context.Context, dag *ExecutionDAG, occtx *OrchestrationContext) ([]ExecutionResult, error) {
	if !dag.IsValid {
		return nil, errors.NewDAGValidationError(dag.ValidationError)
	}

	cfg := withRunConfigDefaults(occtx.Config)
	shared := occtx.SharedContext
	if shared == nil {
		shared = NewSharedContext()
	}

	results := make(map[string]ExecutionResult, len(dag.Nodes))
	var resultsMu sync.Mutex

	for _, levelIDs := range dag.Levels {
		var runnable, skippedIDs []string
		skipReasons := make(map[string]string)

		for _, id := range levelIDs {
			node := dag.Nodes[id]
			var failedDeps []string
			for _, dep := range node.Dependencies {
				resultsMu.Lock()
				depResult, ok := results[dep]
				resultsMu.Unlock()
				if ok && depResult.Status != NodeSuccess {
					failedDeps = append(failedDeps, dep)
				}
			}
			if len(failedDeps) > 0 {
				skippedIDs = append(skippedIDs, id)
				skipReasons[id] = fmt.Sprintf("Skipped: dependency failure in %v", failedDeps)
				continue
			}
			runnable = append(runnable, id)
		}

		for _, id := range skippedIDs {
			node := dag.Nodes[id]
			node.Status = NodeSkipped
			resultsMu.Lock()
			results[id] = ExecutionResult{
				TaskID:      id,
				Description: node.Task.Description,
				Role:        node.Role,
				Status:      NodeSkipped,
				Error:       &ExecutionError{Message: skipReasons[id]},
			}
			resultsMu.Unlock()
		}

		failFastTriggered := false
		for batchStart := 0; batchStart < len(runnable); batchStart += cfg.MaxParallelTasks {
			if failFastTriggered {
				break
			}
			batchEnd := batchStart + cfg.MaxParallelTasks
			if batchEnd > len(runnable) {
				batchEnd = len(runnable)
			}
			batch := runnable[batchStart:batchEnd]

			p := pool.New().WithMaxGoroutines(cfg.MaxParallelTasks)
			for _, id := range batch {
				id := id
				node := dag.Nodes[id]
				p.Go(func() {
					result := e.executeTaskWithRetry(ctx, node, occtx, shared, cfg)
					resultsMu.Lock()
					results[id] = result
					resultsMu.Unlock()
				})
			}
			p.Wait()

			batchFailed := false
			for _, id := range batch {
				resultsMu.Lock()
				r := results[id]
				resultsMu.Unlock()
				if r.Status == NodeSuccess {
					shared.Set(id, r.Result)
				} else if r.Status == NodeFailure {
					batchFailed = true
				}
			}

			if batchFailed && cfg.FailFast {
				failFastTriggered = true
			}
		}

		if failFastTriggered {
			for _, remainingIDs := range dag.Levels {
				for _, id := range remainingIDs {
					resultsMu.Lock()
					_, done := results[id]
					resultsMu.Unlock()
					if !done {
						dag.Nodes[id].Status = NodeSkipped
						resultsMu.Lock()
						results[id] = ExecutionResult{
							TaskID:      id,
							Description: dag.Nodes[id].Task.Description,
							Role:        dag.Nodes[id].Role,
							Status:      NodeSkipped,
							Error:       &ExecutionError{Message: "Skipped due to fail-fast after task failure."},
						}
						resultsMu.Unlock()
					}
				}
			}
			break
		}
	}

	out := make([]ExecutionResult, 0, len(dag.Nodes))
	for _, levelIDs := range dag.Levels {
		for _, id := range levelIDs {
			resultsMu.Lock()
			out = append(out, results[id])
			resultsMu.Unlock()
		}
	}
	return out, nil
}

// executeTaskWithRetry runs one DAG node's agent to completion, making at
// most cfg.MaxRetries attempts and retrying only classified-retryable
// errors, per §4.4.
func (e *Executor) executeTaskWithRetry(ctx context.Context, node *DAGNode, occtx *OrchestrationContext, shared *SharedContext, cfg RunConfig) ExecutionResult {
	node.Status = NodeInProgress
	start := time.Now()
	attempts := 0

	priority := derivePriority(node.Task)
	depResults := make(map[string]any, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		if v, ok := shared.Get(dep); ok {
			depResults[dep] = v
		}
	}

	inputContext := map[string]any{
		"sessionId":         occtx.SessionID,
		"request":           occtx.Request,
		"taskId":            node.TaskID,
		"dependencies":      node.Dependencies,
		"dependencyResults": depResults,
		"taskContext":       node.Task.Context,
		"sharedContext":     shared.Snapshot(),
	}

	content, lastErr := retry.Do[string](ctx, func() (string, error) {
		attempts++
		agent := e.agents.CreateAgent(ctx, CreateAgentParams{
			Role:         node.Role,
			Task:         node.Task.Description,
			InputContext: inputContext,
			SessionID:    occtx.SessionID,
			Priority:     priority,
		})

		completed, err := e.agents.WaitForCompletion(ctx, agent.ID, cfg.TaskTimeout)
		if err != nil {
			return "", err
		}
		if completed.Status != AgentCompleted {
			msg := "agent did not complete"
			retryable := true
			if completed.Err != nil {
				msg = completed.Err.Message
				retryable = completed.Err.Retryable
			}
			return "", &AgentError{Message: msg, Retryable: retryable}
		}
		if s, ok := completed.Result.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", completed.Result), nil
	}, retry.WithMaxRetries(cfg.MaxRetries-1), retry.WithRetryIf(isRetryableTaskError))

	end := time.Now()
	durationMS := end.Sub(start).Milliseconds()

	if lastErr != nil {
		node.Status = NodeFailure
		if e.metrics != nil {
			e.metrics.RecordTaskFailed(string(node.Role), end.Sub(start))
		}
		return ExecutionResult{
			TaskID:      node.TaskID,
			Description: node.Task.Description,
			Role:        node.Role,
			Status:      NodeFailure,
			Error:       &ExecutionError{Message: lastErr.Error()},
			DurationMS:  durationMS,
			RetryCount:  attempts - 1,
			StartedAt:   start,
			EndedAt:     end,
		}
	}

	node.Status = NodeSuccess
	if e.metrics != nil {
		e.metrics.RecordTaskCompleted(string(node.Role), end.Sub(start))
	}
	return ExecutionResult{
		TaskID:      node.TaskID,
		Description: node.Task.Description,
		Role:        node.Role,
		Status:      NodeSuccess,
		Result:      content,
		DurationMS:  durationMS,
		RetryCount:  attempts - 1,
		StartedAt:   start,
		EndedAt:     end,
	}
}

// isRetryableTaskError obeys an explicit AgentError.Retryable flag when
// present, otherwise falls back to the default classification: retry on
// rate-limit, timeout, or 5xx; never retry on validation, auth, or config
// errors.
func isRetryableTaskError(err error) bool {
	if agentErr, ok := err.(*AgentError); ok {
		return agentErr.Retryable
	}
	return errors.IsRetryable(err) || errors.IsRateLimited(err) || errors.IsTimeout(err)
}

// derivePriority resolves a task's execution priority from its explicit
// numeric priority if set, otherwise from its estimated complexity.
func derivePriority(task Task) Priority {
	if task.Priority > 0 {
		switch {
		case task.Priority >= 3:
			return PriorityHigh
		case task.Priority == 2:
			return PriorityMedium
		default:
			return PriorityLow
		}
	}
	switch task.EstimatedComplexity {
	case ComplexityHigh:
		return PriorityHigh
	case ComplexityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}
