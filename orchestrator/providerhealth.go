package orchestrator

import (
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/flowmesh/orchestrator/errors"
	"github.com/flowmesh/orchestrator/observability"
	"github.com/flowmesh/orchestrator/resilience"
)

// MaxConsecutiveErrors is the consecutive-error count at which a provider's
// circuit opens (§4.8).
const MaxConsecutiveErrors = 3

// DefaultCooldown is the rate-limit cooldown applied when a provider's
// error carries no parseable retry-after hint.
const DefaultCooldown = 60 * time.Second

// DefaultCircuitResetTimeout is how long a provider's circuit stays open
// before a single half-open probe is allowed.
const DefaultCircuitResetTimeout = 300 * time.Second

var retryAfterPattern = regexp.MustCompile(`retry-after:\s*(\d+)`)

// providerRecord is one provider's health bookkeeping plus the circuit
// breaker guarding it.
type providerRecord struct {
	mu            sync.Mutex
	state         ProviderState
	breaker       *resilience.CircuitBreaker
	probeInFlight bool
}

// ProviderHealthManager tracks per-provider error/success history, rate-limit
// cooldowns, and circuit-breaker state, and decides whether a provider may
// be attempted for the next call.
type ProviderHealthManager struct {
	mu       sync.RWMutex
	records  map[string]*providerRecord
	logger   observability.Logger
	metrics  *observability.MetricsCollector
	resetTTL time.Duration
}

// NewProviderHealthManager creates a health manager with all configured
// provider names pre-registered in a healthy state.
func NewProviderHealthManager(providerNames []string, logger observability.Logger, metrics *observability.MetricsCollector, resetTimeout time.Duration) *ProviderHealthManager {
	if resetTimeout <= 0 {
		resetTimeout = DefaultCircuitResetTimeout
	}
	m := &ProviderHealthManager{
		records:  make(map[string]*providerRecord),
		logger:   logger,
		metrics:  metrics,
		resetTTL: resetTimeout,
	}
	for _, name := range providerNames {
		m.records[name] = m.newRecord(name)
	}
	return m
}

func (m *ProviderHealthManager) newRecord(name string) *providerRecord {
	return &providerRecord{
		state: ProviderState{Available: true},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: MaxConsecutiveErrors,
			SuccessThreshold: 1,
			Timeout:          m.resetTTLOrDefault(),
			OnStateChange: func(n string, from, to resilience.CircuitState) {
				if m.metrics != nil {
					m.metrics.RecordCircuitStateTransition(n, from.String(), to.String())
				}
			},
		}),
	}
}

func (m *ProviderHealthManager) resetTTLOrDefault() time.Duration {
	if m.resetTTL <= 0 {
		return DefaultCircuitResetTimeout
	}
	return m.resetTTL
}

func (m *ProviderHealthManager) recordFor(provider string) *providerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[provider]
	if !ok {
		rec = m.newRecord(provider)
		m.records[provider] = rec
	}
	return rec
}

// MarkSuccess resets a provider's consecutive error count and clears any
// cooldown/circuit-open state.
func (m *ProviderHealthManager) MarkSuccess(provider string) {
	rec := m.recordFor(provider)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now()
	rec.state.ConsecutiveErrors = 0
	rec.state.CircuitOpen = false
	rec.state.CooldownUntil = nil
	rec.state.LastSuccess = &now
	rec.state.Available = true
	rec.probeInFlight = false
	rec.breaker.Record(nil)
}

// MarkError increments a provider's consecutive error count, classifies the
// error, and opens the circuit or sets a cooldown as appropriate.
func (m *ProviderHealthManager) MarkError(provider string, err error) {
	rec := m.recordFor(provider)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now()
	rec.state.ConsecutiveErrors++
	rec.state.LastError = &now
	rec.probeInFlight = false

	kind := errors.ClassifyModelAPIError(err)
	if kind == errors.ModelAPIRateLimit {
		cooldown := parseRetryAfter(err)
		until := now.Add(cooldown)
		rec.state.CooldownUntil = &until
	}

	rec.breaker.Record(err)
	rec.state.CircuitOpen = rec.breaker.State() == resilience.StateOpen

	if m.logger != nil {
		m.logger.Warn("provider marked error",
			observability.String("provider", provider),
			observability.String("classification", string(kind)),
			observability.Int("consecutive_errors", rec.state.ConsecutiveErrors),
			observability.Err(err),
		)
	}
}

// CheckHealth reports whether provider may be attempted right now: it must
// not be in an active rate-limit cooldown and its circuit breaker must
// allow the call (closed, or half-open with a probe slot free).
func (m *ProviderHealthManager) CheckHealth(provider string) bool {
	rec := m.recordFor(provider)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now()
	if rec.state.CooldownUntil != nil {
		if now.Before(*rec.state.CooldownUntil) {
			return false
		}
		rec.state.CooldownUntil = nil
	}

	if err := rec.breaker.Allow(); err != nil {
		return false
	}
	return true
}

// State returns a snapshot of provider's current ProviderState.
func (m *ProviderHealthManager) State(provider string) ProviderState {
	rec := m.recordFor(provider)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// IsCircuitOpen reports whether provider's circuit is currently open, used
// by the health/readiness surface (§4.9) to register a per-provider check.
func (m *ProviderHealthManager) IsCircuitOpen(provider string) bool {
	rec := m.recordFor(provider)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.breaker.State() == resilience.StateOpen
}

// parseRetryAfter extracts a "retry-after: N" second hint from an error
// message; absent a match it falls back to DefaultCooldown.
func parseRetryAfter(err error) time.Duration {
	if err == nil {
		return DefaultCooldown
	}
	match := retryAfterPattern.FindStringSubmatch(err.Error())
	if len(match) != 2 {
		return DefaultCooldown
	}
	seconds, convErr := strconv.Atoi(match[1])
	if convErr != nil || seconds <= 0 {
		return DefaultCooldown
	}
	return time.Duration(seconds) * time.Second
}
