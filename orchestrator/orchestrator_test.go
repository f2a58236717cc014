package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/llm"
	"github.com/flowmesh/orchestrator/observability"
)

// TestOrchestratorRunEndToEnd wires every component together with a scripted
// provider and drives one full request through decomposition, selection,
// DAG construction, execution, and aggregation.
func TestOrchestratorRunEndToEnd(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{text: `{"tasks": [
			{"id": "t1", "description": "research the existing auth flow", "type": "research"},
			{"id": "t2", "description": "implement the new login endpoint", "type": "implement", "dependencies": ["t1"]},
			{"id": "t3", "description": "document the new login endpoint", "type": "document", "dependencies": ["t2"]}
		], "reasoning": "three sequential steps"}`},
		{text: "researched the auth flow"},
		{text: "implemented the login endpoint"},
		{text: "documented the login endpoint"},
		{text: `{"summary": "Shipped the new login endpoint end to end.", "nextSteps": ["roll out behind a flag"]}`},
	}}

	providers := map[string]llm.Provider{"openai": openai}
	logger := observability.NewNoOpLogger()
	health := NewProviderHealthManager(providerNames(providers), logger, nil, 0)
	router := NewRouter(providers, health, logger, nil)

	decomposer := NewDecomposer(router, logger, nil)
	selector := NewSelector()
	dagBuilder := NewDAGBuilder()
	idemp := NewIdempotencyCache(NewInMemoryIdempotencyBackend(), 0)
	agents := NewAgentManager(router, idemp, 5, logger, nil)
	executor := NewExecutor(agents, logger, nil)
	aggregator := NewAggregator(router, nil)

	orch := New(decomposer, selector, dagBuilder, executor, aggregator, 0.5, logger, nil)

	report, err := orch.Run(context.Background(), "add a new login endpoint", RunConfig{
		MaxParallelTasks: 5,
		TaskTimeout:       time.Second,
		MaxRetries:        3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Tasks) != 3 {
		t.Fatalf("expected 3 decomposed tasks, got %d", len(report.Tasks))
	}
	if !report.DAG.IsValid || report.DAG.TotalLevels != 3 {
		t.Fatalf("expected a valid 3-level dag, got %+v", report.DAG)
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		if resultFor(report.Results, id).Status != NodeSuccess {
			t.Fatalf("task %s: expected success, got %+v", id, resultFor(report.Results, id))
		}
	}
	if report.Aggregated.Statistics.Successful != 3 {
		t.Fatalf("expected 3 successful tasks in aggregate, got %+v", report.Aggregated.Statistics)
	}
	if report.Aggregated.Summary != "Shipped the new login endpoint end to end." {
		t.Fatalf("expected model-produced summary, got %q", report.Aggregated.Summary)
	}
}

// TestOrchestratorRunDecompositionFailurePropagates confirms a decomposer
// failure short-circuits the whole run before any agent executes.
func TestOrchestratorRunDecompositionFailurePropagates(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{{text: "not json at all"}}}
	providers := map[string]llm.Provider{"openai": openai}
	logger := observability.NewNoOpLogger()
	health := NewProviderHealthManager(providerNames(providers), logger, nil, 0)
	router := NewRouter(providers, health, logger, nil)

	decomposer := NewDecomposer(router, logger, nil)
	selector := NewSelector()
	dagBuilder := NewDAGBuilder()
	idemp := NewIdempotencyCache(NewInMemoryIdempotencyBackend(), 0)
	agents := NewAgentManager(router, idemp, 5, logger, nil)
	executor := NewExecutor(agents, logger, nil)
	aggregator := NewAggregator(router, nil)

	orch := New(decomposer, selector, dagBuilder, executor, aggregator, 0.5, logger, nil)

	_, err := orch.Run(context.Background(), "request", RunConfig{})
	if err == nil {
		t.Fatal("expected decomposition failure to propagate")
	}
}
