// Package orchestrator implements the agent orchestration engine: it turns
// a free-text request into a dependency graph of tasks, assigns each task
// to a specialized agent role, executes the graph with bounded parallelism,
// and aggregates the per-task outputs into one report.
package orchestrator

import (
	"time"
)

// TaskType is the kind of work a decomposed task represents.
type TaskType string

const (
	TaskResearch  TaskType = "research"
	TaskImplement TaskType = "implement"
	TaskReview    TaskType = "review"
	TaskDesign    TaskType = "design"
	TaskDocument  TaskType = "document"
	TaskTest      TaskType = "test"
	TaskAnalyze   TaskType = "analyze"
)

// Complexity is the decomposer's coarse estimate of a task's difficulty.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Task is one decomposed unit of work, stable within a single run.
type Task struct {
	ID                  string
	Description         string
	Type                TaskType
	Dependencies        []string
	EstimatedComplexity Complexity
	Priority            int
	Context             map[string]any
}

// Assignment binds a Task to a chosen agent Role with a selector confidence.
type Assignment struct {
	Task       Task
	Role       Role
	Confidence float64
	Reasoning  string
}

// NodeStatus is the mutable execution status of a DAG node.
type NodeStatus string

const (
	NodePending    NodeStatus = "pending"
	NodeInProgress NodeStatus = "in_progress"
	NodeSuccess    NodeStatus = "success"
	NodeFailure    NodeStatus = "failure"
	NodeSkipped    NodeStatus = "skipped"
)

// IsTerminal reports whether a node status is final.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeSuccess || s == NodeFailure || s == NodeSkipped
}

// DAGNode is one task placed in the execution graph.
type DAGNode struct {
	TaskID       string
	Task         Task
	Role         Role
	Dependencies []string
	Dependents   []string
	Level        int
	Status       NodeStatus

	insertionIndex int
}

// ExecutionDAG is the level-partitioned execution graph produced by the DAG
// Builder. Levels[k] holds the task ids runnable at depth k.
type ExecutionDAG struct {
	Nodes           map[string]*DAGNode
	Levels          [][]string
	TotalLevels     int
	IsValid         bool
	ValidationError string
}

// ExecutionError is the structured error carried inside a failed
// ExecutionResult.
type ExecutionError struct {
	Message string
	Code    string
	Stack   string
}

// ExecutionResult is the outcome of running one DAG node.
type ExecutionResult struct {
	TaskID      string
	Description string
	Role        Role
	Status      NodeStatus
	Result      any
	Error       *ExecutionError
	DurationMS  int64
	RetryCount  int
	StartedAt   time.Time
	EndedAt     time.Time
	Artifacts   []string
}

// RunConfig is the per-run tuning knobs carried in an OrchestrationContext.
type RunConfig struct {
	MaxParallelTasks int
	TaskTimeout      time.Duration
	MaxRetries       int
	FailFast         bool
	MinConfidence    float64
}

// OrchestrationContext is the state threaded through one orchestration run.
type OrchestrationContext struct {
	SessionID       string
	Request         string
	StartedAt       time.Time
	SharedContext   *SharedContext
	Config          RunConfig
}

// AgentStatus is the lifecycle status of one Agent (one model call).
type AgentStatus string

const (
	AgentQueued    AgentStatus = "queued"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentCancelled AgentStatus = "cancelled"
	AgentTimeout   AgentStatus = "timeout"
)

// IsTerminal reports whether an agent status is final.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentCompleted || s == AgentFailed || s == AgentCancelled || s == AgentTimeout
}

// TokenUsage records input/output token counts for one model call.
type TokenUsage struct {
	Input  int
	Output int
}

// FallbackInfo records that a call served a role from its fallback chain
// rather than the role's primary provider.
type FallbackInfo struct {
	OriginalProvider string
	UsedProvider     string
	Reason           string
}

// AgentError is the structured error attached to a failed Agent, carrying
// whether the failure is worth retrying.
type AgentError struct {
	Message   string
	Retryable bool
}

func (e *AgentError) Error() string {
	return e.Message
}

// Agent is the execution shell for exactly one model call.
type Agent struct {
	ID             string
	Role           Role
	Task           string
	Status         AgentStatus
	InputContext   map[string]any
	Result         any
	Err            *AgentError
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
	DurationMS     int64
	Model          string
	Tokens         TokenUsage
	SessionID      string
	Priority       Priority
	Fallback       *FallbackInfo
	IdempotencyKey string
}

// Priority is the scheduling priority attached to an agent creation request.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// ProviderState is the Provider Health Manager's per-vendor bookkeeping.
type ProviderState struct {
	Available         bool
	ConsecutiveErrors int
	LastError         *time.Time
	LastSuccess       *time.Time
	CooldownUntil     *time.Time
	CircuitOpen       bool
}

// ModelResponse is the Provider Adapter's normalized call result.
type ModelResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Model        string
	TokensUsed   TokenUsage
	Fallback     *FallbackInfo
}

// ToolCall is a normalized tool invocation requested by a model response.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// ModelRequest is the normalized request passed to a Provider Adapter.
type ModelRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Messages     []ChatMessage
	Temperature  float64
	MaxTokens    int
}

// ChatMessage is one turn in a multi-turn model request.
type ChatMessage struct {
	Role    string
	Content string
}
