package orchestrator

import (
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/observability"
)

func TestProviderHealthOpensCircuitAfterThreeErrors(t *testing.T) {
	m := NewProviderHealthManager([]string{"openai"}, observability.NewNoOpLogger(), nil, 50*time.Millisecond)

	for i := 0; i < MaxConsecutiveErrors; i++ {
		m.MarkError("openai", &testServerError{})
	}

	if m.CheckHealth("openai") {
		t.Fatal("expected provider to be unhealthy once the circuit opens")
	}
	if !m.IsCircuitOpen("openai") {
		t.Fatal("expected circuit to be open")
	}

	time.Sleep(60 * time.Millisecond)

	if !m.CheckHealth("openai") {
		t.Fatal("expected one half-open probe to be allowed after the reset timer elapses")
	}
}

func TestProviderHealthMarkSuccessResets(t *testing.T) {
	m := NewProviderHealthManager([]string{"openai"}, observability.NewNoOpLogger(), nil, 0)

	m.MarkError("openai", &testServerError{})
	m.MarkError("openai", &testServerError{})
	m.MarkSuccess("openai")

	state := m.State("openai")
	if state.ConsecutiveErrors != 0 || state.CircuitOpen {
		t.Fatalf("expected clean state after success, got %+v", state)
	}
	if !m.CheckHealth("openai") {
		t.Fatal("expected provider to be healthy after a success")
	}
}

func TestParseRetryAfterDefaultsWhenUnparsable(t *testing.T) {
	d := parseRetryAfter(&testServerError{})
	if d != DefaultCooldown {
		t.Fatalf("expected default cooldown, got %s", d)
	}
}

func TestParseRetryAfterExtractsSeconds(t *testing.T) {
	d := parseRetryAfter(&testRateLimitError{})
	if d != 2*time.Second {
		t.Fatalf("expected 2s cooldown, got %s", d)
	}
}
