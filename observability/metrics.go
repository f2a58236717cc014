package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled           bool
	Port              int
	Path              string
	PrometheusEnabled bool
}

// MetricsCollector manages Prometheus metrics
type MetricsCollector struct {
	// Agent execution metrics
	agentExecutionsTotal *prometheus.CounterVec
	agentDurationSeconds *prometheus.HistogramVec
	agentErrorsTotal     *prometheus.CounterVec
	activeAgents         prometheus.Gauge

	// Session metrics
	sessionsActive *prometheus.GaugeVec
	sessionsTotal  *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec

	// Tool execution metrics
	toolCallsTotal    *prometheus.CounterVec
	toolDurationSeconds *prometheus.HistogramVec
	toolErrorsTotal   *prometheus.CounterVec

	// LLM metrics
	llmRequestsTotal      *prometheus.CounterVec
	llmLatencySeconds     *prometheus.HistogramVec
	llmTokensTotal        *prometheus.CounterVec
	llmCostTotal          *prometheus.CounterVec
	llmErrorsTotal        *prometheus.CounterVec

	// Storage metrics
	storageOperationsTotal *prometheus.CounterVec
	storageDurationSeconds *prometheus.HistogramVec
	storageErrorsTotal     *prometheus.CounterVec

	// Memory metrics
	memoriesTotal       *prometheus.GaugeVec
	memoryOperationsTotal *prometheus.CounterVec

	// System metrics
	healthStatus prometheus.Gauge

	// Multi-agent system metrics
	orchestrationTasksTotal        *prometheus.CounterVec
	orchestrationTaskDuration      *prometheus.HistogramVec
	orchestrationDecompositionTime prometheus.Histogram
	orchestrationAggregationTime   prometheus.Histogram
	orchestrationDAGLevels         prometheus.Histogram
	orchestrationActiveRuns        prometheus.Gauge
	orchestrationPendingTasks      prometheus.Gauge
	orchestrationAgentQueueDepth   *prometheus.GaugeVec
	circuitStateTransitionsTotal   *prometheus.CounterVec
	providerFallbacksTotal         *prometheus.CounterVec
	orchestrationErrorsTotal       *prometheus.CounterVec

	config MetricsConfig
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig, registry *prometheus.Registry) *MetricsCollector {
	if !config.Enabled {
		return &MetricsCollector{config: config}
	}

	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	factory := promauto.With(registry)

	collector := &MetricsCollector{
		// Agent metrics
		agentExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_agent_executions_total",
				Help: "Total number of agent executions",
			},
			[]string{"agent_id", "agent_name", "status"},
		),
		agentDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minion_agent_duration_seconds",
				Help:    "Agent execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
			},
			[]string{"agent_id", "agent_name"},
		),
		agentErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_agent_errors_total",
				Help: "Total number of agent errors",
			},
			[]string{"agent_id", "error_type"},
		),
		activeAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minion_active_agents",
				Help: "Number of currently active agents",
			},
		),

		// Session metrics
		sessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "minion_sessions_active",
				Help: "Number of active sessions",
			},
			[]string{"agent_id"},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_sessions_total",
				Help: "Total number of sessions",
			},
			[]string{"agent_id", "status"},
		),
		sessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minion_session_duration_seconds",
				Help:    "Session duration in seconds",
				Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10s to ~40000s
			},
			[]string{"agent_id"},
		),

		// Tool metrics
		toolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_tool_calls_total",
				Help: "Total number of tool calls",
			},
			[]string{"tool_name", "status"},
		),
		toolDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minion_tool_duration_seconds",
				Help:    "Tool execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
			},
			[]string{"tool_name"},
		),
		toolErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_tool_errors_total",
				Help: "Total number of tool errors",
			},
			[]string{"tool_name", "error_type"},
		),

		// LLM metrics
		llmRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_llm_requests_total",
				Help: "Total number of LLM API requests",
			},
			[]string{"provider", "model", "status"},
		),
		llmLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minion_llm_latency_seconds",
				Help:    "LLM API latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"provider", "model"},
		),
		llmTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"provider", "model", "type"}, // type: prompt, completion
		),
		llmCostTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_llm_cost_total",
				Help: "Total LLM cost in USD",
			},
			[]string{"provider", "model"},
		),
		llmErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_llm_errors_total",
				Help: "Total number of LLM errors",
			},
			[]string{"provider", "model", "error_type"},
		),

		// Storage metrics
		storageOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "table", "status"},
		),
		storageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minion_storage_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
			},
			[]string{"operation", "table"},
		),
		storageErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "error_type"},
		),

		// Memory metrics
		memoriesTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "minion_memories_total",
				Help: "Total number of memories",
			},
			[]string{"agent_id", "type"},
		),
		memoryOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minion_memory_operations_total",
				Help: "Total number of memory operations",
			},
			[]string{"operation", "type"},
		),

		// System metrics
		healthStatus: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minion_health_status",
				Help: "Health status (1 = healthy, 0 = unhealthy)",
			},
		),

		// Orchestration engine metrics
		orchestrationTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tasks_total",
				Help: "Total number of orchestrated tasks by terminal status",
			},
			[]string{"status"}, // decomposed, completed, failed, skipped
		),
		orchestrationTaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_task_duration_seconds",
				Help:    "Task execution duration in seconds, from assignment to terminal state",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"role", "status"}, // role: canonical agent role, status: completed/failed
		),
		orchestrationDecompositionTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_decomposition_duration_seconds",
				Help:    "Time taken by the task decomposer to produce a task list",
				Buckets: prometheus.DefBuckets,
			},
		),
		orchestrationAggregationTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_aggregation_duration_seconds",
				Help:    "Time taken by the result aggregator to merge task outputs",
				Buckets: prometheus.DefBuckets,
			},
		),
		orchestrationDAGLevels: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_dag_levels",
				Help:    "Number of parallel execution levels in a built DAG",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
			},
		),
		orchestrationActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_runs",
				Help: "Number of orchestration runs currently executing",
			},
		),
		orchestrationPendingTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_pending_tasks",
				Help: "Number of tasks awaiting execution across all active runs",
			},
		),
		orchestrationAgentQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orchestrator_agent_queue_depth",
				Help: "Agent manager in-flight model-call count by role",
			},
			[]string{"role"},
		),
		circuitStateTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_circuit_state_transitions_total",
				Help: "Total number of provider circuit breaker state transitions",
			},
			[]string{"provider", "from", "to"},
		),
		providerFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_provider_fallbacks_total",
				Help: "Total number of times the model router fell back to a secondary provider",
			},
			[]string{"from_provider", "to_provider"},
		),
		orchestrationErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_errors_total",
				Help: "Total number of orchestration errors by component and type",
			},
			[]string{"component", "error_type"}, // component: decomposer/selector/dag/executor/aggregator/router
		),

		config: config,
	}

	// Set initial health status
	collector.healthStatus.Set(1)

	return collector
}

// RecordAgentExecution records an agent execution
func (m *MetricsCollector) RecordAgentExecution(agentID, agentName string, duration time.Duration, err error) {
	if !m.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		m.agentErrorsTotal.WithLabelValues(agentID, "execution_error").Inc()
	}

	m.agentExecutionsTotal.WithLabelValues(agentID, agentName, status).Inc()
	m.agentDurationSeconds.WithLabelValues(agentID, agentName).Observe(duration.Seconds())
}

// RecordToolCall records a tool call
func (m *MetricsCollector) RecordToolCall(toolName string, duration time.Duration, err error) {
	if !m.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		m.toolErrorsTotal.WithLabelValues(toolName, "execution_error").Inc()
	}

	m.toolCallsTotal.WithLabelValues(toolName, status).Inc()
	m.toolDurationSeconds.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordLLMRequest records an LLM API request
func (m *MetricsCollector) RecordLLMRequest(provider, model string, duration time.Duration, promptTokens, completionTokens int, cost float64, err error) {
	if !m.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		m.llmErrorsTotal.WithLabelValues(provider, model, "api_error").Inc()
	}

	m.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.llmLatencySeconds.WithLabelValues(provider, model).Observe(duration.Seconds())

	if status == "success" {
		m.llmTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
		m.llmTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
		m.llmCostTotal.WithLabelValues(provider, model).Add(cost)
	}
}

// RecordStorageOperation records a storage operation
func (m *MetricsCollector) RecordStorageOperation(operation, table string, duration time.Duration, err error) {
	if !m.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		m.storageErrorsTotal.WithLabelValues(operation, "query_error").Inc()
	}

	m.storageOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.storageDurationSeconds.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordSessionCreated records a new session
func (m *MetricsCollector) RecordSessionCreated(agentID string) {
	if !m.config.Enabled {
		return
	}

	m.sessionsTotal.WithLabelValues(agentID, "created").Inc()
	m.sessionsActive.WithLabelValues(agentID).Inc()
}

// RecordSessionClosed records a closed session
func (m *MetricsCollector) RecordSessionClosed(agentID string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}

	m.sessionsTotal.WithLabelValues(agentID, "closed").Inc()
	m.sessionsActive.WithLabelValues(agentID).Dec()
	m.sessionDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordMemoryOperation records a memory operation
func (m *MetricsCollector) RecordMemoryOperation(operation, memoryType string, count int) {
	if !m.config.Enabled {
		return
	}

	m.memoryOperationsTotal.WithLabelValues(operation, memoryType).Add(float64(count))
}

// SetMemoriesCount sets the current number of memories
func (m *MetricsCollector) SetMemoriesCount(agentID, memoryType string, count int) {
	if !m.config.Enabled {
		return
	}

	m.memoriesTotal.WithLabelValues(agentID, memoryType).Set(float64(count))
}

// SetActiveAgents sets the number of active agents
func (m *MetricsCollector) SetActiveAgents(count int) {
	if !m.config.Enabled {
		return
	}

	m.activeAgents.Set(float64(count))
}

// SetHealthStatus sets the health status
func (m *MetricsCollector) SetHealthStatus(healthy bool) {
	if !m.config.Enabled {
		return
	}

	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// GetHandler returns the HTTP handler for Prometheus metrics
func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the metrics HTTP server
func (m *MetricsCollector) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	http.Handle(m.config.Path, m.GetHandler())

	addr := fmt.Sprintf(":%d", m.config.Port)
	fmt.Printf("Starting metrics server on %s%s\n", addr, m.config.Path)

	return http.ListenAndServe(addr, nil)
}

// Global metrics collector
var globalMetrics *MetricsCollector

// InitGlobalMetrics initializes the global metrics collector
func InitGlobalMetrics(config MetricsConfig) error {
	globalMetrics = NewMetricsCollector(config, prometheus.DefaultRegisterer.(*prometheus.Registry))
	return nil
}

// GetMetrics returns the global metrics collector
func GetMetrics() *MetricsCollector {
	if globalMetrics == nil {
		_ = InitGlobalMetrics(MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		})
	}
	return globalMetrics
}

// Convenience functions using global metrics

// RecordAgentExecution records an agent execution using global metrics
func RecordAgentExecution(agentID, agentName string, duration time.Duration, err error) {
	GetMetrics().RecordAgentExecution(agentID, agentName, duration, err)
}

// RecordToolCall records a tool call using global metrics
func RecordToolCall(toolName string, duration time.Duration, err error) {
	GetMetrics().RecordToolCall(toolName, duration, err)
}

// RecordLLMRequest records an LLM request using global metrics
func RecordLLMRequest(provider, model string, duration time.Duration, promptTokens, completionTokens int, cost float64, err error) {
	GetMetrics().RecordLLMRequest(provider, model, duration, promptTokens, completionTokens, cost, err)
}

// RecordStorageOperation records a storage operation using global metrics
func RecordStorageOperation(operation, table string, duration time.Duration, err error) {
	GetMetrics().RecordStorageOperation(operation, table, duration, err)
}

// Orchestration engine metrics methods

// RecordTaskDecomposed records when the decomposer adds a task to a run
func (m *MetricsCollector) RecordTaskDecomposed() {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationTasksTotal != nil {
		m.orchestrationTasksTotal.WithLabelValues("decomposed").Inc()
	}
	if m.orchestrationPendingTasks != nil {
		m.orchestrationPendingTasks.Inc()
	}
}

// RecordTaskCompleted records a task that reached its completed terminal state
func (m *MetricsCollector) RecordTaskCompleted(role string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationTasksTotal != nil {
		m.orchestrationTasksTotal.WithLabelValues("completed").Inc()
	}
	if m.orchestrationTaskDuration != nil {
		m.orchestrationTaskDuration.WithLabelValues(role, "completed").Observe(duration.Seconds())
	}
	if m.orchestrationPendingTasks != nil {
		m.orchestrationPendingTasks.Dec()
	}
}

// RecordTaskFailed records a task that reached its failed terminal state
func (m *MetricsCollector) RecordTaskFailed(role string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationTasksTotal != nil {
		m.orchestrationTasksTotal.WithLabelValues("failed").Inc()
	}
	if m.orchestrationTaskDuration != nil {
		m.orchestrationTaskDuration.WithLabelValues(role, "failed").Observe(duration.Seconds())
	}
	if m.orchestrationPendingTasks != nil {
		m.orchestrationPendingTasks.Dec()
	}
}

// RecordTaskSkipped records a task skipped because a dependency failed
func (m *MetricsCollector) RecordTaskSkipped(role string) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationTasksTotal != nil {
		m.orchestrationTasksTotal.WithLabelValues("skipped").Inc()
	}
	if m.orchestrationPendingTasks != nil {
		m.orchestrationPendingTasks.Dec()
	}
}

// RecordDecompositionDuration records how long the decomposer took to produce a task list
func (m *MetricsCollector) RecordDecompositionDuration(duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationDecompositionTime != nil {
		m.orchestrationDecompositionTime.Observe(duration.Seconds())
	}
}

// RecordAggregationDuration records how long the aggregator took to merge task outputs
func (m *MetricsCollector) RecordAggregationDuration(duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationAggregationTime != nil {
		m.orchestrationAggregationTime.Observe(duration.Seconds())
	}
}

// RecordDAGLevels records the number of parallel execution levels in a built DAG
func (m *MetricsCollector) RecordDAGLevels(levels int) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationDAGLevels != nil {
		m.orchestrationDAGLevels.Observe(float64(levels))
	}
}

// RecordCircuitStateTransition records a provider circuit breaker state change
func (m *MetricsCollector) RecordCircuitStateTransition(provider, from, to string) {
	if !m.config.Enabled {
		return
	}
	if m.circuitStateTransitionsTotal != nil {
		m.circuitStateTransitionsTotal.WithLabelValues(provider, from, to).Inc()
	}
}

// RecordProviderFallback records the model router falling back to a secondary provider
func (m *MetricsCollector) RecordProviderFallback(fromProvider, toProvider string) {
	if !m.config.Enabled {
		return
	}
	if m.providerFallbacksTotal != nil {
		m.providerFallbacksTotal.WithLabelValues(fromProvider, toProvider).Inc()
	}
}

// RecordOrchestrationError records an error raised by an orchestration component
func (m *MetricsCollector) RecordOrchestrationError(component, errorType string) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationErrorsTotal != nil {
		m.orchestrationErrorsTotal.WithLabelValues(component, errorType).Inc()
	}
}

// SetActiveRuns sets the number of orchestration runs currently executing
func (m *MetricsCollector) SetActiveRuns(count int) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationActiveRuns != nil {
		m.orchestrationActiveRuns.Set(float64(count))
	}
}

// SetAgentQueueDepth sets the agent manager's in-flight model-call count for a role
func (m *MetricsCollector) SetAgentQueueDepth(role string, depth int) {
	if !m.config.Enabled {
		return
	}
	if m.orchestrationAgentQueueDepth != nil {
		m.orchestrationAgentQueueDepth.WithLabelValues(role).Set(float64(depth))
	}
}

// Convenience functions for orchestration metrics using global metrics

// RecordTaskDecomposed records a decomposed task using global metrics
func RecordTaskDecomposed() {
	GetMetrics().RecordTaskDecomposed()
}

// RecordTaskCompleted records a completed task using global metrics
func RecordTaskCompleted(role string, duration time.Duration) {
	GetMetrics().RecordTaskCompleted(role, duration)
}

// RecordTaskFailed records a failed task using global metrics
func RecordTaskFailed(role string, duration time.Duration) {
	GetMetrics().RecordTaskFailed(role, duration)
}

// RecordTaskSkipped records a skipped task using global metrics
func RecordTaskSkipped(role string) {
	GetMetrics().RecordTaskSkipped(role)
}

// RecordProviderFallback records a provider fallback using global metrics
func RecordProviderFallback(fromProvider, toProvider string) {
	GetMetrics().RecordProviderFallback(fromProvider, toProvider)
}
