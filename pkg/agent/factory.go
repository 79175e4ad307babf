package agent

import (
	"fmt"
	"sync"

	"promptsmith/pkg/agent/internal/llmimpl/anthropic"
	"promptsmith/pkg/agent/internal/llmimpl/google"
	"promptsmith/pkg/agent/internal/llmimpl/ollama"
	"promptsmith/pkg/agent/internal/llmimpl/openai"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/middleware/metrics"
	"promptsmith/pkg/agent/middleware/resilience/circuit"
	"promptsmith/pkg/agent/middleware/resilience/ratelimit"
	"promptsmith/pkg/agent/middleware/resilience/retry"
	"promptsmith/pkg/agent/middleware/resilience/timeout"
	"promptsmith/pkg/config"
	"promptsmith/pkg/logx"
)

// RawClientFunc builds an unwrapped provider client. Tests replace it to avoid network calls.
type RawClientFunc func(provider, credential, model string) (llm.LLMClient, error)

// DefaultRawClient dispatches on provider to the llmimpl constructors.
func DefaultRawClient(provider, credential, model string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(credential, model), nil
	case config.ProviderOpenAI:
		return openai.NewOfficialClientWithModel(credential, model), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(credential, model), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(credential, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// GeneratorFactory creates generators with properly configured middleware chains.
// Circuit breakers and rate limiters are per provider and shared by every session.
type GeneratorFactory struct {
	config   config.LLMConfig
	recorder metrics.Recorder
	rawFn    RawClientFunc
	logger   *logx.Logger

	mu       sync.Mutex
	breakers map[string]circuit.Breaker
	limiters map[string]*ratelimit.TokenBucketLimiter
}

// NewGeneratorFactory creates a factory. A nil recorder disables request metrics.
func NewGeneratorFactory(cfg config.LLMConfig, recorder metrics.Recorder) *GeneratorFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &GeneratorFactory{
		config:   cfg,
		recorder: recorder,
		rawFn:    DefaultRawClient,
		logger:   logx.NewLogger("llm-factory"),
		breakers: make(map[string]circuit.Breaker),
		limiters: make(map[string]*ratelimit.TokenBucketLimiter),
	}
}

// WithRawClient swaps the provider constructor.
func (f *GeneratorFactory) WithRawClient(fn RawClientFunc) *GeneratorFactory {
	f.rawFn = fn
	return f
}

// CreateClient creates a client for model with the full middleware chain.
func (f *GeneratorFactory) CreateClient(model string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", model, err)
	}
	credential, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}
	rawClient, err := f.rawFn(provider, credential, model)
	if err != nil {
		return nil, err
	}

	res := f.config.Resilience
	breaker, limiter := f.providerGuards(provider)
	policy := retry.NewPolicy(retry.FromConfig(res.Retry), nil)

	// Metrics -> CircuitBreaker -> Retry -> RateLimit -> Timeout -> RawClient
	client := llm.Chain(rawClient,
		metrics.Middleware(f.recorder, nil, f.logger),
		circuit.Middleware(breaker),
		retry.Middleware(policy, f.logger),
		ratelimit.Middleware(limiter, nil, f.recorder),
		timeout.Middleware(res.Timeout),
	)
	return client, nil
}

// CreateGenerator returns a Generator for the configured model. When generation is disabled an
// Offline generator is returned with a nil error.
func (f *GeneratorFactory) CreateGenerator() (llm.Generator, error) {
	if !f.config.Enabled {
		return llm.Offline("generation disabled in config"), nil
	}
	client, err := f.CreateClient(f.config.Model)
	if err != nil {
		return nil, err
	}
	return llm.NewClientGenerator(client, f.config.Resilience.Timeout), nil
}

// GeneratorOrOffline is CreateGenerator that degrades to Offline on error.
func (f *GeneratorFactory) GeneratorOrOffline() llm.Generator {
	gen, err := f.CreateGenerator()
	if err != nil {
		f.logger.Warn("⚠️  Generation unavailable, using template and simulated paths: %v", err)
		return llm.Offline(err.Error())
	}
	return gen
}

// BreakerState reports the circuit state for a provider, or Closed if none exists yet.
func (f *GeneratorFactory) BreakerState(provider string) circuit.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[provider]; ok {
		return b.GetState()
	}
	return circuit.Closed
}

func (f *GeneratorFactory) providerGuards(provider string) (circuit.Breaker, *ratelimit.TokenBucketLimiter) {
	f.mu.Lock()
	defer f.mu.Unlock()

	breaker, ok := f.breakers[provider]
	if !ok {
		cb := f.config.Resilience.CircuitBreaker
		breaker = circuit.NewWithObserver(circuit.Config{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cb.Timeout,
		}, func(from, to circuit.State) {
			f.logger.Warn("⚡ Circuit breaker for %s: %s → %s", provider, from, to)
		})
		f.breakers[provider] = breaker
	}

	limiter, ok := f.limiters[provider]
	if !ok {
		rl := f.config.Resilience.RateLimit
		limiter = ratelimit.NewTokenBucketLimiter(ratelimit.Config{
			TokensPerMinute: rl.TokensPerMinute,
			MaxConcurrency:  rl.MaxConcurrency,
		})
		f.limiters[provider] = limiter
	}
	return breaker, limiter
}
