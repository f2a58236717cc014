package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/llm"
	"github.com/flowmesh/orchestrator/observability"
)

func TestRouterFallsBackOnRateLimit(t *testing.T) {
	p1 := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		// callProvider retries a rate-limit classified error once internally
		// before the router's own fallback chain moves on, so both attempts
		// need to fail here for the cooldown assertion below to see a
		// rate-limit classified error as the provider's last outcome.
		{err: &testRateLimitError{}}, {err: &testRateLimitError{}},
	}}
	p2 := &fakeProvider{name: "anthropic", responses: []fakeProviderCall{
		{text: "fallback response"},
	}}

	providers := map[string]llm.Provider{"openai": p1, "anthropic": p2}
	health := NewProviderHealthManager(providerNames(providers), observability.NewNoOpLogger(), nil, 0)
	router := NewRouter(providers, health, observability.NewNoOpLogger(), nil)

	resp, err := router.Route(context.Background(), RoleArchitect, ModelRequest{UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("expected successful fallback, got error: %v", err)
	}
	if resp.Content != "fallback response" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.Fallback == nil || resp.Fallback.OriginalProvider != "openai" || resp.Fallback.UsedProvider != "anthropic" {
		t.Fatalf("expected fallback info naming openai->anthropic, got %+v", resp.Fallback)
	}

	state := health.State("openai")
	if state.CooldownUntil == nil {
		t.Fatal("expected openai to have a cooldown set after a rate-limit error")
	}
	if state.CooldownUntil.Before(time.Now()) {
		t.Fatal("expected cooldown to be in the future")
	}
}

func TestRouterAllAttemptsFail(t *testing.T) {
	p1 := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{err: &testServerError{}}, {err: &testServerError{}},
	}}
	providers := map[string]llm.Provider{"openai": p1}
	health := NewProviderHealthManager(providerNames(providers), observability.NewNoOpLogger(), nil, 0)
	router := NewRouter(providers, health, observability.NewNoOpLogger(), nil)

	_, err := router.Route(context.Background(), RoleArchitect, ModelRequest{UserPrompt: "hello"})
	if err == nil {
		t.Fatal("expected an error when every attempt fails")
	}
}

func TestRouterUnknownRole(t *testing.T) {
	router := NewRouter(nil, NewProviderHealthManager(nil, observability.NewNoOpLogger(), nil, 0), observability.NewNoOpLogger(), nil)
	_, err := router.Route(context.Background(), Role("not-a-role"), ModelRequest{})
	if err == nil {
		t.Fatal("expected an error for an unmapped role")
	}
}

type testRateLimitError struct{}

func (testRateLimitError) Error() string { return "429 too many requests, retry-after: 2" }

type testServerError struct{}

func (testServerError) Error() string { return "500 internal server error" }
