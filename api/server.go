// Package api provides the HTTP server exposing the orchestrator's
// request → report operation alongside health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowmesh/orchestrator/audit"
	"github.com/flowmesh/orchestrator/events"
	"github.com/flowmesh/orchestrator/health"
	"github.com/flowmesh/orchestrator/observability"
	"github.com/flowmesh/orchestrator/orchestrator"
)

// Server is the HTTP server fronting one Orchestrator.
type Server struct {
	orch      *orchestrator.Orchestrator
	checker   *health.Checker
	metrics   *observability.MetricsCollector
	publisher *events.Publisher
	auditSink *audit.Sink
	logger    observability.Logger
	config    ServerConfig
	server    *http.Server
	startTime time.Time
	defaults  orchestrator.RunConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
	EnableCORS     bool
	CORSOrigins    []string
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		EnableCORS:     true,
		CORSOrigins:    []string{"*"},
	}
}

// NewServer wires the orchestrator, health checker, and optional outward
// sinks (events/audit, either of which may be nil) into one HTTP surface.
func NewServer(
	orch *orchestrator.Orchestrator,
	checker *health.Checker,
	metrics *observability.MetricsCollector,
	publisher *events.Publisher,
	auditSink *audit.Sink,
	logger observability.Logger,
	defaults orchestrator.RunConfig,
	config ServerConfig,
) *Server {
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}

	s := &Server{
		orch:      orch,
		checker:   checker,
		metrics:   metrics,
		publisher: publisher,
		auditSink: auditSink,
		logger:    logger,
		config:    config,
		startTime: time.Now(),
		defaults:  defaults,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orchestrate", s.handleOrchestrate)
	mux.Handle("/healthz", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	mux.Handle("/health", checker.Handler())
	if metrics != nil {
		mux.Handle("/metrics", metrics.GetHandler())
	}

	handler := http.Handler(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	s.server = &http.Server{
		Addr:           config.Addr,
		Handler:        handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("api: listening", observability.String("addr", s.config.Addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Middleware

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.CORSOrigins) > 0 && s.config.CORSOrigins[0] != "*" {
			origin = s.config.CORSOrigins[0]
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api: request handled",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("api: panic recovered", observability.String("error", fmt.Sprintf("%v", err)))
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Request/response shapes

// OrchestrateRequest is the body of a POST /v1/orchestrate call.
type OrchestrateRequest struct {
	Request          string `json:"request"`
	MaxParallelTasks int    `json:"maxParallelTasks,omitempty"`
	TaskTimeoutMS    int64  `json:"taskTimeoutMs,omitempty"`
	MaxRetries       int    `json:"maxRetries,omitempty"`
	FailFast         bool   `json:"failFast,omitempty"`
}

// OrchestrateResponse is the body returned by a successful orchestration.
type OrchestrateResponse struct {
	SessionID  string                         `json:"sessionId"`
	Tasks      []orchestrator.Task            `json:"tasks"`
	DAG        *orchestrator.ExecutionDAG     `json:"dag"`
	Results    []orchestrator.ExecutionResult `json:"results"`
	Aggregated orchestrator.AggregatedResult  `json:"aggregated"`
}

// ErrorResponse is the body returned on any handler failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req OrchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Request == "" {
		s.writeError(w, http.StatusBadRequest, "request is required")
		return
	}

	cfg := s.defaults
	if req.MaxParallelTasks > 0 {
		cfg.MaxParallelTasks = req.MaxParallelTasks
	}
	if req.TaskTimeoutMS > 0 {
		cfg.TaskTimeout = time.Duration(req.TaskTimeoutMS) * time.Millisecond
	}
	if req.MaxRetries > 0 {
		cfg.MaxRetries = req.MaxRetries
	}
	if req.FailFast {
		cfg.FailFast = true
	}

	report, err := s.orch.Run(r.Context(), req.Request, cfg)
	if err != nil {
		s.logger.Error("api: orchestration failed", observability.String("error", err.Error()))
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.recordSideEffects(r.Context(), report)

	s.writeJSON(w, http.StatusOK, OrchestrateResponse{
		SessionID:  report.SessionID,
		Tasks:      report.Tasks,
		DAG:        report.DAG,
		Results:    report.Results,
		Aggregated: report.Aggregated,
	})
}

// recordSideEffects publishes lifecycle events and audit rows for a
// completed run. Both sinks are best-effort observers: a nil publisher or
// sink (the common case when no broker/database is configured) makes every
// call here a no-op.
func (s *Server) recordSideEffects(ctx context.Context, report *orchestrator.RunReport) {
	for _, res := range report.Results {
		status := "failure"
		message := ""
		switch res.Status {
		case orchestrator.NodeSuccess:
			status = "success"
		case orchestrator.NodeSkipped:
			status = "skipped"
		}
		if res.Error != nil {
			message = res.Error.Message
		}

		s.publisher.TaskFinished(ctx, report.SessionID, res.TaskID, string(res.Role), status, message, res.DurationMS)

		resultJSON, _ := json.Marshal(res.Result)
		s.auditSink.Record(ctx, audit.Record{
			SessionID:  report.SessionID,
			TaskID:     res.TaskID,
			Role:       string(res.Role),
			Status:     string(res.Status),
			ResultJSON: resultJSON,
			ErrMessage: message,
			DurationMS: res.DurationMS,
			StartedAt:  res.StartedAt,
			EndedAt:    res.EndedAt,
		})
	}

	s.publisher.RunCompleted(ctx, report.SessionID, report.Aggregated.Summary, report.Aggregated.Statistics.TotalDuration.Milliseconds())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
