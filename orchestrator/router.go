package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmesh/orchestrator/errors"
	"github.com/flowmesh/orchestrator/llm"
	"github.com/flowmesh/orchestrator/observability"
	"github.com/flowmesh/orchestrator/resilience"
)

// httpRetryPolicy governs the per-attempt HTTP retry applied to a single
// provider call (§4.7), ahead of and distinct from the router's own
// fallback-chain loop and the executor's task-level retry. Only errors the
// Provider Health Manager's classification marks retryable (rate_limit,
// timeout, server_error) are retried; everything else fails the attempt
// immediately so the fallback chain can move on without delay.
func httpRetryPolicy() *resilience.RetryPolicy {
	return &resilience.RetryPolicy{
		MaxAttempts:  2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: func(err error) bool {
			return errors.ClassifyModelAPIError(err).Retryable()
		},
	}
}

// ProviderFallback is one entry in a role's secondary fallback chain, tried
// in order after the role's primary provider and its own fallback model are
// exhausted.
type ProviderFallback struct {
	Provider string
	Model    string
	Fallback string
}

// RoleModelMapping is the static (provider, model, fallbackModel,
// providerFallbacks) assignment for one Role.
type RoleModelMapping struct {
	Provider          string
	Model             string
	FallbackModel     string
	ProviderFallbacks []ProviderFallback
}

// attempt is one (provider, model) pair in a role's resolved attempt order.
type attempt struct {
	provider string
	model    string
}

// attemptOrder expands a RoleModelMapping into the ordered list of
// (provider, model) pairs the Model Router tries for a request: the
// primary provider's model, the primary provider's fallback model, then
// each providerFallbacks entry's model and its own fallback, in order.
func (m RoleModelMapping) attemptOrder() []attempt {
	attempts := []attempt{{m.Provider, m.Model}}
	if m.FallbackModel != "" {
		attempts = append(attempts, attempt{m.Provider, m.FallbackModel})
	}
	for _, pf := range m.ProviderFallbacks {
		attempts = append(attempts, attempt{pf.Provider, pf.Model})
		if pf.Fallback != "" {
			attempts = append(attempts, attempt{pf.Provider, pf.Fallback})
		}
	}
	return attempts
}

// DefaultRoleMappings is the teacher-grounded default role→model mapping:
// architecture/frontend/writer roles default to OpenAI with an Anthropic
// fallback; roles favoring long-context reading default to Anthropic with
// an OpenAI fallback.
func DefaultRoleMappings() map[Role]RoleModelMapping {
	return map[Role]RoleModelMapping{
		RoleArchitect: {
			Provider: "openai", Model: "gpt-4-turbo-preview", FallbackModel: "gpt-4",
			ProviderFallbacks: []ProviderFallback{{Provider: "anthropic", Model: "claude-3-opus-20240229"}},
		},
		RoleFrontend: {
			Provider: "openai", Model: "gpt-4-turbo-preview", FallbackModel: "gpt-4",
			ProviderFallbacks: []ProviderFallback{{Provider: "anthropic", Model: "claude-3-sonnet-20240229"}},
		},
		RoleTechnicalWriter: {
			Provider: "openai", Model: "gpt-4-turbo-preview", FallbackModel: "gpt-3.5-turbo",
			ProviderFallbacks: []ProviderFallback{{Provider: "anthropic", Model: "claude-3-haiku-20240307"}},
		},
		RoleCodeExplorer: {
			Provider: "anthropic", Model: "claude-3-opus-20240229", FallbackModel: "claude-3-sonnet-20240229",
			ProviderFallbacks: []ProviderFallback{{Provider: "openai", Model: "gpt-4-turbo-preview"}},
		},
		RoleDocumentationLibrary: {
			Provider: "anthropic", Model: "claude-3-sonnet-20240229", FallbackModel: "claude-3-haiku-20240307",
			ProviderFallbacks: []ProviderFallback{{Provider: "openai", Model: "gpt-3.5-turbo"}},
		},
		RoleMultimodalAnalyzer: {
			Provider: "openai", Model: "gpt-4-turbo-preview", FallbackModel: "gpt-4",
			ProviderFallbacks: []ProviderFallback{{Provider: "anthropic", Model: "claude-3-opus-20240229"}},
		},
	}
}

// Router is the Model Router: it resolves a role to its attempt order and
// drives provider adapters through the per-provider rate limiter, the
// Provider Health Manager, and the generic circuit breaker, falling back
// along the chain until one attempt succeeds or all are exhausted.
type Router struct {
	providers   map[string]llm.Provider
	mappings    map[Role]RoleModelMapping
	health      *ProviderHealthManager
	limiters    *resilience.ProviderLimiters
	retryPolicy *resilience.RetryPolicy
	logger      observability.Logger
	metrics     *observability.MetricsCollector
}

// RouterOption configures a Router at construction.
type RouterOption func(*Router)

// WithRoleMappings overrides the default role→model mapping.
func WithRoleMappings(mappings map[Role]RoleModelMapping) RouterOption {
	return func(r *Router) { r.mappings = mappings }
}

// NewRouter creates a Router over the given credentialled providers. health
// is consulted before every attempt and updated after every outcome.
func NewRouter(providers map[string]llm.Provider, health *ProviderHealthManager, logger observability.Logger, metrics *observability.MetricsCollector, opts ...RouterOption) *Router {
	r := &Router{
		providers:   providers,
		mappings:    DefaultRoleMappings(),
		health:      health,
		limiters:    resilience.NewDefaultProviderLimiters(),
		retryPolicy: httpRetryPolicy(),
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route executes req under role's fallback chain, returning the first
// successful normalized ModelResponse or the last error if every attempt in
// the chain fails.
func (r *Router) Route(ctx context.Context, role Role, req ModelRequest) (*ModelResponse, error) {
	mapping, ok := r.mappings[role]
	if !ok {
		return nil, errors.NewValidationError("role", role, "no model mapping configured for role")
	}

	primaryProvider := mapping.Provider
	var lastErr error
	for _, a := range mapping.attemptOrder() {
		provider, ok := r.providers[a.provider]
		if !ok {
			continue // credentials for this provider were never loaded at init
		}
		if !r.health.CheckHealth(a.provider) {
			continue
		}
		if err := r.limiters.Wait(ctx, a.provider); err != nil {
			lastErr = err
			continue
		}

		attemptReq := req
		attemptReq.Model = a.model
		resp, err := r.callProvider(ctx, provider, attemptReq)
		if err != nil {
			lastErr = err
			r.health.MarkError(a.provider, err)
			r.logger.Warn("provider attempt failed", observability.String("provider", a.provider), observability.String("model", a.model), observability.Err(err))
			continue
		}

		r.health.MarkSuccess(a.provider)
		if a.provider != primaryProvider {
			resp.Fallback = &FallbackInfo{
				OriginalProvider: primaryProvider,
				UsedProvider:     a.provider,
				Reason:           string(errors.ClassifyModelAPIError(lastErr)),
			}
			if r.metrics != nil {
				r.metrics.RecordProviderFallback(primaryProvider, a.provider)
			}
		}
		return resp, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no healthy, credentialled provider available for role %q", role)
	}
	return nil, lastErr
}

// callProvider adapts the llm.Provider interface (CompletionRequest/
// ChatRequest) to the router's normalized ModelRequest/ModelResponse shape.
func (r *Router) callProvider(ctx context.Context, provider llm.Provider, req ModelRequest) (*ModelResponse, error) {
	if len(req.Messages) == 0 {
		completionReq := &llm.CompletionRequest{
			SystemPrompt: req.SystemPrompt,
			UserPrompt:   req.UserPrompt,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
			Model:        req.Model,
		}
		resp, err := resilience.RetryWithResult(ctx, r.retryPolicy, func() (*llm.CompletionResponse, error) {
			return provider.GenerateCompletion(ctx, completionReq)
		})
		if err != nil {
			return nil, err
		}
		return &ModelResponse{
			Content:      resp.Text,
			FinishReason: resp.FinishReason,
			Model:        resp.Model,
			TokensUsed:   TokenUsage{Output: resp.TokensUsed},
		}, nil
	}

	messages := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	chatReq := &llm.ChatRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Model:       req.Model,
	}
	resp, err := resilience.RetryWithResult(ctx, r.retryPolicy, func() (*llm.ChatResponse, error) {
		return provider.GenerateChat(ctx, chatReq)
	})
	if err != nil {
		return nil, err
	}
	return &ModelResponse{
		Content:      resp.Message.Content,
		FinishReason: resp.FinishReason,
		Model:        resp.Model,
		TokensUsed:   TokenUsage{Output: resp.TokensUsed},
	}, nil
}
