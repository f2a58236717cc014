package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/llm"
	"github.com/flowmesh/orchestrator/observability"
)

func newTestExecutor(providers map[string]llm.Provider, maxParallelAgents int) (*Executor, *AgentManager) {
	router := newTestRouter(providers)
	idemp := NewIdempotencyCache(NewInMemoryIdempotencyBackend(), 0)
	manager := NewAgentManager(router, idemp, maxParallelAgents, observability.NewNoOpLogger(), nil)
	return NewExecutor(manager, observability.NewNoOpLogger(), nil), manager
}

func occtxFor(sessionID, request string) *OrchestrationContext {
	return &OrchestrationContext{
		SessionID:     sessionID,
		Request:       request,
		StartedAt:     time.Now(),
		SharedContext: NewSharedContext(),
		Config:        RunConfig{MaxParallelTasks: 5, TaskTimeout: time.Second, MaxRetries: 3},
	}
}

func resultFor(results []ExecutionResult, taskID string) ExecutionResult {
	for _, r := range results {
		if r.TaskID == taskID {
			return r
		}
	}
	return ExecutionResult{}
}

// TestExecutorLinearChain exercises §8 scenario 1: a 3-task linear chain
// runs each level in turn and every task succeeds.
func TestExecutorLinearChain(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{text: "r1"}, {text: "r2"}, {text: "r3"},
	}}
	exec, _ := newTestExecutor(map[string]llm.Provider{"openai": p}, 5)

	dag := NewDAGBuilder().Build([]Assignment{
		assignment("t1", TaskResearch, nil, RoleArchitect),
		assignment("t2", TaskImplement, []string{"t1"}, RoleArchitect),
		assignment("t3", TaskDocument, []string{"t2"}, RoleArchitect),
	})

	results, err := exec.Execute(context.Background(), dag, occtxFor("s1", "req"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		r := resultFor(results, id)
		if r.Status != NodeSuccess {
			t.Fatalf("task %s: expected success, got %+v", id, r)
		}
	}
}

// TestExecutorDiamondParallelLevel exercises §8 scenario 2: two independent
// tasks at the same level both run and succeed.
func TestExecutorDiamondParallelLevel(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{text: "base"}, {text: "left"}, {text: "right"}, {text: "merge"},
	}}
	exec, _ := newTestExecutor(map[string]llm.Provider{"openai": p}, 5)

	dag := NewDAGBuilder().Build([]Assignment{
		assignment("t1", TaskResearch, nil, RoleArchitect),
		assignment("t2a", TaskImplement, []string{"t1"}, RoleArchitect),
		assignment("t2b", TaskDesign, []string{"t1"}, RoleArchitect),
		assignment("t3", TaskReview, []string{"t2a", "t2b"}, RoleArchitect),
	})

	results, err := exec.Execute(context.Background(), dag, occtxFor("s2", "req"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []string{"t1", "t2a", "t2b", "t3"} {
		if resultFor(results, id).Status != NodeSuccess {
			t.Fatalf("task %s: expected success", id)
		}
	}
}

// TestExecutorDependencyFailureCascadesToSkip exercises §8 scenario 4: a
// dependent task is skipped, not attempted, when its dependency fails.
func TestExecutorDependencyFailureCascadesToSkip(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{err: &testValidationError{}}, {err: &testValidationError{}},
	}}
	exec, _ := newTestExecutor(map[string]llm.Provider{"openai": p}, 5)

	dag := NewDAGBuilder().Build([]Assignment{
		assignment("t1", TaskResearch, nil, RoleArchitect),
		assignment("t2", TaskImplement, []string{"t1"}, RoleArchitect),
	})

	results, err := exec.Execute(context.Background(), dag, occtxFor("s3", "req"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultFor(results, "t1").Status != NodeFailure {
		t.Fatalf("expected t1 to fail, got %+v", resultFor(results, "t1"))
	}
	skipped := resultFor(results, "t2")
	if skipped.Status != NodeSkipped {
		t.Fatalf("expected t2 to be skipped, got %+v", skipped)
	}
}

// TestExecutorFailFastSkipsLaterLevels exercises §8 scenario 5: with
// FailFast set, a level-0 failure skips every task in later levels.
func TestExecutorFailFastSkipsLaterLevels(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{err: &testValidationError{}}, {err: &testValidationError{}},
		{err: &testValidationError{}}, {err: &testValidationError{}},
	}}
	exec, _ := newTestExecutor(map[string]llm.Provider{"openai": p}, 5)

	dag := NewDAGBuilder().Build([]Assignment{
		assignment("t1", TaskResearch, nil, RoleArchitect),
		assignment("t2", TaskImplement, nil, RoleArchitect),
		assignment("t3", TaskDocument, []string{"t2"}, RoleArchitect),
	})

	occtx := occtxFor("s4", "req")
	occtx.Config.FailFast = true

	results, err := exec.Execute(context.Background(), dag, occtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultFor(results, "t3").Status != NodeSkipped {
		t.Fatalf("expected t3 skipped by fail-fast, got %+v", resultFor(results, "t3"))
	}
	if resultFor(results, "t3").Error == nil || resultFor(results, "t3").Error.Message != "Skipped due to fail-fast after task failure." {
		t.Fatalf("unexpected skip message: %+v", resultFor(results, "t3").Error)
	}
}

// TestExecutorInvalidDAGRejected exercises §8 scenario 3: an invalid DAG is
// refused before any agent is created.
func TestExecutorInvalidDAGRejected(t *testing.T) {
	exec, _ := newTestExecutor(map[string]llm.Provider{}, 5)
	dag := NewDAGBuilder().Build([]Assignment{
		assignment("t1", TaskImplement, []string{"t2"}, RoleArchitect),
		assignment("t2", TaskImplement, []string{"t1"}, RoleArchitect),
	})

	_, err := exec.Execute(context.Background(), dag, occtxFor("s5", "req"))
	if err == nil {
		t.Fatal("expected an error for an invalid dag")
	}
}

// TestExecutorRetriesRetryableFailure confirms a retryable error is retried
// up to cfg.MaxRetries total attempts before succeeding.
func TestExecutorRetriesRetryableFailure(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{err: &testServerError{}}, {err: &testServerError{}},
		{err: &testServerError{}}, {err: &testServerError{}},
		{text: "finally"},
	}}
	exec, _ := newTestExecutor(map[string]llm.Provider{"openai": p}, 5)

	dag := NewDAGBuilder().Build([]Assignment{
		assignment("t1", TaskImplement, nil, RoleArchitect),
	})

	occtx := occtxFor("s6", "req")
	occtx.Config.MaxRetries = 3

	results, err := exec.Execute(context.Background(), dag, occtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := resultFor(results, "t1")
	if r.Status != NodeSuccess {
		t.Fatalf("expected eventual success, got %+v", r)
	}
	// callProvider itself retries a server-error classified call once before
	// giving up, so each of openai's two models in the fallback chain costs
	// two scripted failures. The first executor-level attempt exhausts both
	// models (4 failures), then the second attempt succeeds on the very
	// first call: one executor-level retry.
	if r.RetryCount != 1 {
		t.Fatalf("expected 1 retry before success, got %d", r.RetryCount)
	}
}

type testValidationError struct{}

func (testValidationError) Error() string { return "400 invalid request: missing field" }
