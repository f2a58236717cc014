package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/orchestrator/observability"
)

// Orchestrator wires the Decomposer, Selector, DAG Builder, Executor, and
// Aggregator into the single `request → report` operation described by the
// data flow in §2.
type Orchestrator struct {
	decomposer  *Decomposer
	selector    *Selector
	dagBuilder  *DAGBuilder
	executor    *Executor
	aggregator  *Aggregator
	logger      observability.Logger
	metrics     *observability.MetricsCollector

	minConfidence float64
}

// New creates an Orchestrator from its constituent components.
func New(decomposer *Decomposer, selector *Selector, dagBuilder *DAGBuilder, executor *Executor, aggregator *Aggregator, minConfidence float64, logger observability.Logger, metrics *observability.MetricsCollector) *Orchestrator {
	return &Orchestrator{
		decomposer:    decomposer,
		selector:      selector,
		dagBuilder:    dagBuilder,
		executor:      executor,
		aggregator:    aggregator,
		minConfidence: minConfidence,
		logger:        logger,
		metrics:       metrics,
	}
}

// RunReport is what one Run call returns: the full decomposition,
// assignment, DAG, and final aggregated result, so a caller or test can
// inspect every stage rather than only the terminal summary.
type RunReport struct {
	SessionID    string
	Tasks        []Task
	Assignments  []Assignment
	DAG          *ExecutionDAG
	Results      []ExecutionResult
	Aggregated   AggregatedResult
}

// Run drives one full orchestration: decompose the request, select a role
// per task, build the DAG, execute it, and aggregate the results.
func (o *Orchestrator) Run(ctx context.Context, request string, cfg RunConfig) (*RunReport, error) {
	sessionID := uuid.NewString()

	decomposition := o.decomposer.Decompose(ctx, request)
	if !decomposition.Success {
		return nil, decomposition.Error
	}
	if o.metrics != nil {
		for range decomposition.Tasks {
			o.metrics.RecordTaskDecomposed()
		}
	}

	assignments := make([]Assignment, 0, len(decomposition.Tasks))
	for _, task := range decomposition.Tasks {
		assignment := o.selector.Select(task)
		if assignment.Confidence < o.minConfidence && o.logger != nil {
			o.logger.Warn("assignment confidence below threshold, proceeding anyway",
				observability.String("task_id", task.ID),
				observability.String("role", string(assignment.Role)),
				observability.Float64("confidence", assignment.Confidence),
			)
		}
		assignments = append(assignments, assignment)
	}

	dag := o.dagBuilder.Build(assignments)
	if o.metrics != nil {
		o.metrics.RecordDAGLevels(dag.TotalLevels)
	}

	occtx := &OrchestrationContext{
		SessionID:     sessionID,
		Request:       request,
		StartedAt:     time.Now(),
		SharedContext: NewSharedContext(),
		Config:        cfg,
	}

	results, err := o.executor.Execute(ctx, dag, occtx)
	if err != nil {
		return nil, err
	}

	aggregated := o.aggregator.Aggregate(ctx, results, occtx)

	return &RunReport{
		SessionID:   sessionID,
		Tasks:       decomposition.Tasks,
		Assignments: assignments,
		DAG:         dag,
		Results:     results,
		Aggregated:  aggregated,
	}, nil
}
