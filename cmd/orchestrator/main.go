// Command orchestrator runs the agent orchestration service: it decomposes
// a natural-language request into a task DAG, fans the DAG out across
// role-specialized agents, and aggregates the results into one report.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/orchestrator/api"
	"github.com/flowmesh/orchestrator/audit"
	"github.com/flowmesh/orchestrator/config"
	"github.com/flowmesh/orchestrator/events"
	"github.com/flowmesh/orchestrator/health"
	"github.com/flowmesh/orchestrator/llm"
	"github.com/flowmesh/orchestrator/observability"
	"github.com/flowmesh/orchestrator/orchestrator"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	obs, err := observability.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		obs.Close(ctx)
	}()
	logger := obs.Logger

	providers := buildProviders(cfg)
	if len(providers) == 0 {
		logger.Warn("no LLM providers configured; every orchestration run will fail")
	}
	providerNames := make([]string, 0, len(providers))
	for name := range providers {
		providerNames = append(providerNames, name)
	}

	providerHealth := orchestrator.NewProviderHealthManager(providerNames, logger, obs.Metrics, cfg.Orchestration.CircuitResetTimeout)
	router := orchestrator.NewRouter(providers, providerHealth, logger, obs.Metrics)

	idempBackend, err := buildIdempotencyBackend(cfg)
	if err != nil {
		return err
	}
	idemp := orchestrator.NewIdempotencyCache(idempBackend, 100_000)

	decomposer := orchestrator.NewDecomposer(router, logger, obs.Metrics)
	selector := orchestrator.NewSelector()
	dagBuilder := orchestrator.NewDAGBuilder()
	maxParallelAgents := cfg.Orchestration.MaxParallelAgents
	agents := orchestrator.NewAgentManager(router, idemp, maxParallelAgents, logger, obs.Metrics)
	executor := orchestrator.NewExecutor(agents, logger, obs.Metrics)
	aggregator := orchestrator.NewAggregator(router, obs.Metrics)

	orch := orchestrator.New(decomposer, selector, dagBuilder, executor, aggregator, cfg.Orchestration.MinSelectorConfidence, logger, obs.Metrics)

	publisher, err := events.NewPublisherFromEnv(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
		logger.Info("events: publisher enabled", observability.String("topic", cfg.Events.KafkaTopic))
	}

	auditSink, err := audit.New(audit.SinkConfig{DatabaseURL: cfg.Audit.DatabaseURL}, logger)
	if err != nil {
		return err
	}
	if auditSink != nil {
		defer auditSink.Close()
		logger.Info("audit: sink enabled")
	}

	checker := buildHealthChecker(cfg, providerHealth, providerNames)
	checker.StartBackground(cfg.Health.Interval)
	defer checker.StopBackground()

	defaults := orchestrator.RunConfig{
		MaxParallelTasks: cfg.Orchestration.MaxParallelTasks,
		TaskTimeout:      cfg.Orchestration.TaskTimeout,
		MaxRetries:       cfg.Orchestration.MaxRetries,
		MinConfidence:    cfg.Orchestration.MinSelectorConfidence,
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = serverAddr(cfg.App.Port)
	serverCfg.EnableCORS = cfg.API.CORSEnabled
	if origins := splitCSV(cfg.API.CORSOrigins); len(origins) > 0 {
		serverCfg.CORSOrigins = origins
	}
	if cfg.API.Timeout > 0 {
		serverCfg.ReadTimeout = cfg.API.Timeout
		serverCfg.WriteTimeout = cfg.API.Timeout
	}

	server := api.NewServer(orch, checker, obs.Metrics, publisher, auditSink, logger, defaults, serverCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("orchestrator: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}

// buildProviders constructs the provider registry from config-held API
// keys. Providers with no credentials configured are simply omitted; the
// Router and health manager operate fine with a partial registry.
func buildProviders(cfg *config.Config) map[string]llm.Provider {
	providers := make(map[string]llm.Provider)

	if cfg.LLM.OpenAI.APIKey != "" {
		providers["openai"] = llm.NewOpenAI(cfg.LLM.OpenAI.APIKey)
	}
	if cfg.LLM.Anthropic.APIKey != "" {
		providers["anthropic"] = llm.NewAnthropic(cfg.LLM.Anthropic.APIKey)
	}

	// TupleLeap and Ollama aren't modeled in config.LLMConfig (it only
	// carries OpenAI, Anthropic and Gemini settings), so fall
	// back to their own env vars the way llm.CreateDefaultProviders does.
	if apiKey := os.Getenv("TUPLELEAP_API_KEY"); apiKey != "" {
		if baseURL := os.Getenv("TUPLELEAP_BASE_URL"); baseURL != "" {
			providers["tupleleap"] = llm.NewTupleLeapWithBaseURL(apiKey, baseURL)
		} else {
			providers["tupleleap"] = llm.NewTupleLeap(apiKey)
		}
	}
	if os.Getenv("OLLAMA_BASE_URL") != "" || os.Getenv("OLLAMA_ENABLED") == "true" {
		providers["ollama"] = llm.NewOllama(os.Getenv("OLLAMA_BASE_URL"))
	}

	return providers
}

// buildIdempotencyBackend uses Redis when a URL is configured and falls back
// to an in-process map otherwise. Either way the cache's bloom filter lives
// in process memory, so bindings made before an orchestrator restart are not
// found after it.
func buildIdempotencyBackend(cfg *config.Config) (orchestrator.IdempotencyBackend, error) {
	if cfg.Orchestration.IdempotencyRedisURL == "" {
		return orchestrator.NewInMemoryIdempotencyBackend(), nil
	}

	opts, err := redis.ParseURL(cfg.Orchestration.IdempotencyRedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	return orchestrator.NewRedisIdempotencyBackend(client, 24*time.Hour), nil
}

// buildHealthChecker registers one CircuitBreakerCheck per configured
// provider (§4.9) alongside a baseline liveness ping.
func buildHealthChecker(cfg *config.Config, healthMgr *orchestrator.ProviderHealthManager, providerNames []string) *health.Checker {
	checker := health.NewChecker()
	checker.RegisterFunc("service", health.PingCheck(), true)

	for _, name := range providerNames {
		providerName := name
		checker.Register(health.CheckConfig{
			Name: "provider:" + providerName,
			Check: health.CircuitBreakerCheck(providerName, func() string {
				if healthMgr.IsCircuitOpen(providerName) {
					return "open"
				}
				return "closed"
			}),
			Critical: false,
		})
	}

	return checker
}

func serverAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}

func splitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
