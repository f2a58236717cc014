package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/orchestrator/errors"
	"github.com/flowmesh/orchestrator/observability"
)

// agentEntry bundles a live Agent with its completion signal. done is
// closed exactly once, when the agent reaches a terminal status.
type agentEntry struct {
	agent  *Agent
	done   chan struct{}
	cancel context.CancelFunc
}

// AgentManager owns the lifecycle of every Agent: creation, idempotent
// dedup, async execution via the Model Router, wait-for-completion with
// timeout, cancellation, and session cleanup. It enforces MAX_PARALLEL_AGENTS
// as a global counting semaphore independent of the Parallel Executor's own
// per-level batch size.
type AgentManager struct {
	mu       sync.RWMutex
	agents   map[string]*agentEntry
	router   *Router
	idemp    *IdempotencyCache
	sem      chan struct{}
	logger   observability.Logger
	metrics  *observability.MetricsCollector
}

// NewAgentManager creates an AgentManager bounding global in-flight model
// calls to maxParallelAgents.
func NewAgentManager(router *Router, idemp *IdempotencyCache, maxParallelAgents int, logger observability.Logger, metrics *observability.MetricsCollector) *AgentManager {
	if maxParallelAgents <= 0 {
		maxParallelAgents = 5
	}
	return &AgentManager{
		agents:  make(map[string]*agentEntry),
		router:  router,
		idemp:   idemp,
		sem:     make(chan struct{}, maxParallelAgents),
		logger:  logger,
		metrics: metrics,
	}
}

// CreateAgentParams is the input to CreateAgent.
type CreateAgentParams struct {
	Role           Role
	Task           string
	InputContext   map[string]any
	SessionID      string
	Priority       Priority
	IdempotencyKey string
}

// CreateAgent places a new agent in the queued state and begins its
// execution asynchronously, returning immediately. A repeated create with
// the same idempotency key returns the original agent instead of creating
// a new one.
func (m *AgentManager) CreateAgent(ctx context.Context, params CreateAgentParams) *Agent {
	if params.IdempotencyKey != "" && m.idemp != nil {
		if existingID, ok := m.idemp.Lookup(ctx, params.IdempotencyKey); ok {
			m.mu.RLock()
			entry, found := m.agents[existingID]
			m.mu.RUnlock()
			if found {
				return entry.agent
			}
		}
	}

	now := time.Now()
	agent := &Agent{
		ID:             uuid.NewString(),
		Role:           params.Role,
		Task:           params.Task,
		Status:         AgentQueued,
		InputContext:   params.InputContext,
		CreatedAt:      now,
		SessionID:      params.SessionID,
		Priority:       params.Priority,
		IdempotencyKey: params.IdempotencyKey,
	}

	agentCtx, cancel := context.WithCancel(context.Background())
	entry := &agentEntry{agent: agent, done: make(chan struct{}), cancel: cancel}

	m.mu.Lock()
	m.agents[agent.ID] = entry
	m.mu.Unlock()

	if params.IdempotencyKey != "" && m.idemp != nil {
		m.idemp.Bind(ctx, params.IdempotencyKey, agent.ID)
	}

	go m.run(agentCtx, entry)
	return agent
}

// run drives one agent from queued through to a terminal status.
func (m *AgentManager) run(ctx context.Context, entry *agentEntry) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.transition(entry, AgentCancelled, nil, nil)
		return
	}
	defer func() { <-m.sem }()

	m.updateStatus(entry, AgentRunning)
	start := time.Now()
	entry.agent.StartedAt = start

	resp, err := m.router.Route(ctx, entry.agent.Role, ModelRequest{
		UserPrompt: formatAgentPrompt(entry.agent.Task, entry.agent.InputContext),
	})

	if err != nil {
		retryable := errors.IsRetryable(err)
		m.transition(entry, AgentFailed, nil, &AgentError{Message: err.Error(), Retryable: retryable})
		return
	}

	entry.agent.Model = resp.Model
	entry.agent.Tokens = resp.TokensUsed
	entry.agent.Fallback = resp.Fallback
	m.transition(entry, AgentCompleted, resp.Content, nil)
}

func (m *AgentManager) updateStatus(entry *agentEntry, status AgentStatus) {
	m.mu.Lock()
	entry.agent.Status = status
	m.mu.Unlock()
}

// transition moves an agent into a terminal status, recording duration and
// closing its completion channel exactly once.
func (m *AgentManager) transition(entry *agentEntry, status AgentStatus, result any, agentErr *AgentError) {
	m.mu.Lock()
	if entry.agent.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	entry.agent.Status = status
	entry.agent.CompletedAt = time.Now()
	if !entry.agent.StartedAt.IsZero() {
		entry.agent.DurationMS = entry.agent.CompletedAt.Sub(entry.agent.StartedAt).Milliseconds()
	}
	entry.agent.Result = result
	entry.agent.Err = agentErr
	m.mu.Unlock()
	close(entry.done)
}

// GetAgent returns the agent with the given id.
func (m *AgentManager) GetAgent(id string) (*Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.agents[id]
	if !ok {
		return nil, false
	}
	return entry.agent, true
}

// ListAgents returns every agent for which filter returns true.
func (m *AgentManager) ListAgents(filter func(*Agent) bool) []*Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Agent, 0, len(m.agents))
	for _, entry := range m.agents {
		if filter == nil || filter(entry.agent) {
			out = append(out, entry.agent)
		}
	}
	return out
}

// WaitForCompletion races the agent's in-flight execution against timeout.
// On timeout the agent is transitioned to AgentTimeout and a timeout error
// is returned.
func (m *AgentManager) WaitForCompletion(ctx context.Context, id string, timeout time.Duration) (*Agent, error) {
	m.mu.RLock()
	entry, ok := m.agents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NewValidationError("id", id, "agent not found")
	}

	select {
	case <-entry.done:
		return entry.agent, nil
	case <-time.After(timeout):
		m.transition(entry, AgentTimeout, nil, &AgentError{Message: fmt.Sprintf("agent %s exceeded timeout %s", id, timeout), Retryable: true})
		entry.cancel()
		return entry.agent, errors.Wrap(errors.ErrTimeout, fmt.Sprintf("agent %s timed out after %s", id, timeout))
	case <-ctx.Done():
		return entry.agent, ctx.Err()
	}
}

// CancelAgent transitions a non-terminal agent to cancelled by cancelling
// its execution context. Terminal agents are left untouched with a warning.
func (m *AgentManager) CancelAgent(id string) error {
	m.mu.RLock()
	entry, ok := m.agents[id]
	m.mu.RUnlock()
	if !ok {
		return errors.NewValidationError("id", id, "agent not found")
	}

	m.mu.RLock()
	terminal := entry.agent.Status.IsTerminal()
	m.mu.RUnlock()
	if terminal {
		if m.logger != nil {
			m.logger.Warn("cancel requested on terminal agent, ignoring", observability.String("agent_id", id), observability.String("status", string(entry.agent.Status)))
		}
		return nil
	}

	entry.cancel()
	m.transition(entry, AgentCancelled, nil, nil)
	return nil
}

// UpdateAgentStatus allows the executor to reflect external status changes
// (used sparingly; the normal path is run()'s own transitions).
func (m *AgentManager) UpdateAgentStatus(id string, status AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.agents[id]
	if !ok {
		return errors.NewValidationError("id", id, "agent not found")
	}
	entry.agent.Status = status
	return nil
}

// CleanupSession cancels every non-terminal agent for sessionID, removes
// all of that session's agents, and purges idempotency entries bound to
// them.
func (m *AgentManager) CleanupSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	var toRemove []*agentEntry
	for id, entry := range m.agents {
		if entry.agent.SessionID != sessionID {
			continue
		}
		if !entry.agent.Status.IsTerminal() {
			entry.cancel()
		}
		toRemove = append(toRemove, entry)
		delete(m.agents, id)
	}
	m.mu.Unlock()

	if m.idemp == nil {
		return
	}
	for _, entry := range toRemove {
		if entry.agent.IdempotencyKey != "" {
			m.idemp.Purge(ctx, entry.agent.IdempotencyKey)
		}
	}
}

// formatAgentPrompt folds a task's context bag into the user prompt sent to
// the model, since ModelRequest itself carries no opaque context field.
func formatAgentPrompt(task string, inputContext map[string]any) string {
	if len(inputContext) == 0 {
		return task
	}
	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\nContext:\n")
	for k, v := range inputContext {
		fmt.Fprintf(&b, "- %s: %v\n", k, v)
	}
	return b.String()
}
