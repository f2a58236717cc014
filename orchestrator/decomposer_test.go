package orchestrator

import (
	"context"
	"testing"

	"github.com/flowmesh/orchestrator/llm"
	"github.com/flowmesh/orchestrator/observability"
)

func newTestRouter(providers map[string]llm.Provider) *Router {
	health := NewProviderHealthManager(providerNames(providers), observability.NewNoOpLogger(), nil, 0)
	return NewRouter(providers, health, observability.NewNoOpLogger(), nil)
}

func providerNames(providers map[string]llm.Provider) []string {
	names := make([]string, 0, len(providers))
	for n := range providers {
		names = append(names, n)
	}
	return names
}

func TestDecomposerHappyPath(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{text: `Here is the plan: {"tasks": [{"id": "t1", "description": "research X", "type": "research"}, {"id": "t2", "description": "build X", "type": "implement", "dependencies": ["t1"]}], "reasoning": "two steps"}`},
	}}
	router := newTestRouter(map[string]llm.Provider{"openai": openai})
	d := NewDecomposer(router, observability.NewNoOpLogger(), nil)

	result := d.Decompose(context.Background(), "build feature X")
	if !result.Success {
		t.Fatalf("expected success, got error: %v", result.Error)
	}
	if len(result.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(result.Tasks))
	}
	if result.Tasks[0].ID != "t1" || result.Tasks[1].Dependencies[0] != "t1" {
		t.Fatalf("unexpected tasks: %+v", result.Tasks)
	}
}

func TestDecomposerNormalizesDefaults(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{text: `{"tasks": [{"description": "do a thing", "type": "bogus"}]}`},
	}}
	router := newTestRouter(map[string]llm.Provider{"openai": openai})
	d := NewDecomposer(router, observability.NewNoOpLogger(), nil)

	result := d.Decompose(context.Background(), "request")
	if !result.Success {
		t.Fatalf("expected success, got error: %v", result.Error)
	}
	task := result.Tasks[0]
	if task.ID != "t1" {
		t.Fatalf("expected default id t1, got %q", task.ID)
	}
	if task.Type != TaskImplement {
		t.Fatalf("expected unknown type to default to implement, got %q", task.Type)
	}
	if task.EstimatedComplexity != ComplexityMedium {
		t.Fatalf("expected default complexity medium, got %q", task.EstimatedComplexity)
	}
	if task.Priority != 1 {
		t.Fatalf("expected default priority 1, got %d", task.Priority)
	}
	if task.Dependencies == nil || len(task.Dependencies) != 0 {
		t.Fatalf("expected empty dependency slice, got %v", task.Dependencies)
	}
}

func TestDecomposerDropsDanglingDependency(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{text: `{"tasks": [{"id": "t1", "description": "a", "type": "implement", "dependencies": ["ghost"]}]}`},
	}}
	router := newTestRouter(map[string]llm.Provider{"openai": openai})
	d := NewDecomposer(router, observability.NewNoOpLogger(), nil)

	result := d.Decompose(context.Background(), "request")
	if !result.Success {
		t.Fatalf("expected success, got error: %v", result.Error)
	}
	if len(result.Tasks[0].Dependencies) != 0 {
		t.Fatalf("expected dangling dependency dropped, got %v", result.Tasks[0].Dependencies)
	}
}

func TestDecomposerCycleRejected(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{text: `{"tasks": [{"id": "t1", "description": "a", "type": "implement", "dependencies": ["t2"]}, {"id": "t2", "description": "b", "type": "implement", "dependencies": ["t1"]}]}`},
	}}
	router := newTestRouter(map[string]llm.Provider{"openai": openai})
	d := NewDecomposer(router, observability.NewNoOpLogger(), nil)

	result := d.Decompose(context.Background(), "request")
	if result.Success {
		t.Fatal("expected failure for cyclic task graph")
	}
	if result.Error == nil {
		t.Fatal("expected a decomposition error")
	}
}

func TestDecomposerNoJSONObject(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{{text: "sorry, I can't help with that"}}}
	router := newTestRouter(map[string]llm.Provider{"openai": openai})
	d := NewDecomposer(router, observability.NewNoOpLogger(), nil)

	result := d.Decompose(context.Background(), "request")
	if result.Success {
		t.Fatal("expected failure when no JSON object is present")
	}
}

func TestDecomposerEmptyTaskList(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{{text: `{"tasks": []}`}}}
	router := newTestRouter(map[string]llm.Provider{"openai": openai})
	d := NewDecomposer(router, observability.NewNoOpLogger(), nil)

	result := d.Decompose(context.Background(), "request")
	if result.Success {
		t.Fatal("expected failure for empty task list")
	}
}

func TestFirstBalancedJSONObject(t *testing.T) {
	text := `some preamble {"a": {"b": 1}} trailing`
	obj, ok := firstBalancedJSONObject(text)
	if !ok {
		t.Fatal("expected to find a balanced object")
	}
	if obj != `{"a": {"b": 1}}` {
		t.Fatalf("got %q", obj)
	}
}

func TestDetectCycleOnAcyclicGraph(t *testing.T) {
	tasks := []Task{
		{ID: "t1", Dependencies: nil},
		{ID: "t2", Dependencies: []string{"t1"}},
	}
	if _, found := detectCycle(tasks); found {
		t.Fatal("did not expect a cycle")
	}
}
