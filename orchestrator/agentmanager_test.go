package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/llm"
	"github.com/flowmesh/orchestrator/observability"
)

func newTestAgentManager(providers map[string]llm.Provider, maxParallelAgents int) *AgentManager {
	router := newTestRouter(providers)
	idemp := NewIdempotencyCache(NewInMemoryIdempotencyBackend(), 0)
	return NewAgentManager(router, idemp, maxParallelAgents, observability.NewNoOpLogger(), nil)
}

func TestAgentManagerCreateAndWaitForCompletion(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{{text: "done"}}}
	m := newTestAgentManager(map[string]llm.Provider{"openai": p}, 5)

	agent := m.CreateAgent(context.Background(), CreateAgentParams{Role: RoleArchitect, Task: "do a thing", SessionID: "s1"})
	completed, err := m.WaitForCompletion(context.Background(), agent.ID, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.Status != AgentCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}
	if completed.Result != "done" {
		t.Fatalf("expected result %q, got %v", "done", completed.Result)
	}
}

// TestAgentManagerIdempotentCreateReturnsOriginal exercises §8's repeated
// createAgent(params) with the same idempotency key rule: the second call
// must return the same agent rather than creating a new one.
func TestAgentManagerIdempotentCreateReturnsOriginal(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{{text: "once"}}}
	m := newTestAgentManager(map[string]llm.Provider{"openai": p}, 5)

	params := CreateAgentParams{Role: RoleArchitect, Task: "idempotent task", SessionID: "s1", IdempotencyKey: "key-1"}
	first := m.CreateAgent(context.Background(), params)
	second := m.CreateAgent(context.Background(), params)

	if first.ID != second.ID {
		t.Fatalf("expected the same agent for a repeated idempotency key, got %s and %s", first.ID, second.ID)
	}

	if _, err := m.WaitForCompletion(context.Background(), first.ID, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.ListAgents(func(a *Agent) bool { return a.SessionID == "s1" })) != 1 {
		t.Fatal("expected exactly one agent to have been created")
	}
}

// blockingProvider never returns until its context is cancelled, letting
// WaitForCompletion's timeout branch be exercised deterministically.
type blockingProvider struct{ name string }

func (p *blockingProvider) Name() string { return p.name }

func (p *blockingProvider) GenerateCompletion(ctx context.Context, _ *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) GenerateChat(ctx context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAgentManagerWaitForCompletionTimeout(t *testing.T) {
	p := &blockingProvider{name: "openai"}
	m := newTestAgentManager(map[string]llm.Provider{"openai": p}, 5)

	agent := m.CreateAgent(context.Background(), CreateAgentParams{Role: RoleArchitect, Task: "slow task", SessionID: "s2"})
	completed, err := m.WaitForCompletion(context.Background(), agent.ID, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if completed.Status != AgentTimeout {
		t.Fatalf("expected timeout status, got %s", completed.Status)
	}
}

// TestAgentManagerCancelAgent confirms CancelAgent transitions a non-terminal
// agent to cancelled. Since run() completes almost instantly against a
// fakeProvider, a lucky race to completion before the cancel lands is
// tolerated rather than treated as a failure.
func TestAgentManagerCancelAgent(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{{text: "never read"}}}
	m := newTestAgentManager(map[string]llm.Provider{"openai": p}, 5)

	agent := m.CreateAgent(context.Background(), CreateAgentParams{Role: RoleArchitect, Task: "cancel me", SessionID: "s3"})
	if err := m.CancelAgent(agent.ID); err != nil {
		t.Fatalf("unexpected error cancelling: %v", err)
	}

	got, _ := m.GetAgent(agent.ID)
	if got.Status != AgentCancelled && got.Status != AgentCompleted {
		t.Fatalf("expected cancelled (or a lucky race to completion), got %s", got.Status)
	}

	// Cancelling an already-terminal agent must be a no-op, not an error.
	if err := m.CancelAgent(agent.ID); err != nil {
		t.Fatalf("unexpected error on repeated cancel: %v", err)
	}
}

func TestAgentManagerCleanupSessionRemovesAgents(t *testing.T) {
	p := &fakeProvider{name: "openai", responses: []fakeProviderCall{{text: "a"}, {text: "b"}}}
	m := newTestAgentManager(map[string]llm.Provider{"openai": p}, 5)

	a1 := m.CreateAgent(context.Background(), CreateAgentParams{Role: RoleArchitect, Task: "t1", SessionID: "cleanup-session"})
	a2 := m.CreateAgent(context.Background(), CreateAgentParams{Role: RoleArchitect, Task: "t2", SessionID: "cleanup-session"})
	m.WaitForCompletion(context.Background(), a1.ID, time.Second)
	m.WaitForCompletion(context.Background(), a2.ID, time.Second)

	m.CleanupSession(context.Background(), "cleanup-session")

	if _, ok := m.GetAgent(a1.ID); ok {
		t.Fatal("expected agent a1 to be removed after cleanup")
	}
	if _, ok := m.GetAgent(a2.ID); ok {
		t.Fatal("expected agent a2 to be removed after cleanup")
	}
}
