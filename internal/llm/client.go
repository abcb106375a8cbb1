package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/util"
)

// Common errors.
var (
	ErrNoAPIKey        = errors.New("no API key configured")
	ErrRateLimited     = errors.New("rate limited")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrContextTooLong  = errors.New("context too long")
	ErrInvalidResponse = errors.New("invalid response from LLM")

	// ErrConfiguration marks missing or invalid routing configuration. It is
	// never retried and never triggers a fallback.
	ErrConfiguration = errors.New("llm configuration error")
	// ErrProvider marks a network or API failure of a provider call.
	ErrProvider = errors.New("llm provider error")
	// ErrUnsupportedProvider marks a selection naming a provider with no client.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// ProviderClient is the interface for a single LLM provider.
type ProviderClient interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Provider returns the provider identifier.
	Provider() Provider

	// IsAvailable returns true if the provider is configured.
	IsAvailable() bool
}

// CompletionRequest is a request to the LLM.
type CompletionRequest struct {
	Model          string
	SystemPrompt   string
	UserPrompt     string
	MaxTokens      int
	Temperature    float64
	ResponseFormat string // "json" or "text"
}

// CompletionResponse is a response from the LLM.
type CompletionResponse struct {
	Content    string
	Usage      Usage
	StopReason string
	RequestID  string
	LatencyMS  int64
	CacheHit   bool
}

// providerError wraps a transport or API failure so callers can match it
// with errors.Is(err, ErrProvider) while keeping the specific cause.
func providerError(p Provider, err error) error {
	if err == nil || errors.Is(err, ErrProvider) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, p, err)
}

// modelName strips the provider prefix from an aggregator model id, so
// "ollama/llama3.2:3b" is sent as "llama3.2:3b".
func modelName(model string) string {
	if _, name, ok := strings.Cut(model, "/"); ok {
		return name
	}
	return model
}

// ============================================================================
// Retry decorator
// ============================================================================

// RetryingClient retries a provider with exponential backoff.
type RetryingClient struct {
	inner       ProviderClient
	maxAttempts int
	baseBackoff time.Duration
}

// WithRetry wraps a provider client. maxAttempts below one means a single
// attempt.
func WithRetry(inner ProviderClient, maxAttempts int, baseBackoff time.Duration) *RetryingClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	return &RetryingClient{inner: inner, maxAttempts: maxAttempts, baseBackoff: baseBackoff}
}

// Provider implements ProviderClient.
func (c *RetryingClient) Provider() Provider {
	return c.inner.Provider()
}

// IsAvailable implements ProviderClient.
func (c *RetryingClient) IsAvailable() bool {
	return c.inner.IsAvailable()
}

// Complete implements ProviderClient.
func (c *RetryingClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	log := util.Log(ctx)
	var lastErr error

	for attempt := range c.maxAttempts {
		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Don't retry certain errors
		if !retryable(err) || attempt == c.maxAttempts-1 {
			break
		}

		// Exponential backoff
		backoff := c.baseBackoff * time.Duration(1<<attempt)
		log.Debug("retrying after error",
			"provider", c.inner.Provider(),
			"model", req.Model,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrContextTooLong), errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrNoAPIKey):
		return false
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrUnsupportedProvider):
		return false
	default:
		return true
	}
}

// ============================================================================
// Client set
// ============================================================================

// Clients resolves the provider client serving a model selection.
type Clients struct {
	byProvider map[Provider]ProviderClient
	aggregator ProviderClient
}

// NewClients builds the provider clients described by cfg. Anthropic and
// OpenAI models go through the aggregator unless a direct key is configured.
func NewClients(cfg ClientConfig) *Clients {
	attempts := cfg.MaxRetries + 1
	c := &Clients{byProvider: map[Provider]ProviderClient{}}

	if cfg.OpenRouterAPIKey != "" {
		c.aggregator = WithRetry(NewOpenRouterClient(cfg.OpenRouterAPIKey, cfg), attempts, time.Second)
		c.byProvider[ProviderOpenRouter] = c.aggregator
	}
	if cfg.AnthropicAPIKey != "" {
		c.byProvider[ProviderAnthropic] = WithRetry(NewAnthropicClient(cfg.AnthropicAPIKey, cfg), attempts, time.Second)
	}
	if cfg.OpenAIAPIKey != "" {
		c.byProvider[ProviderOpenAI] = WithRetry(NewOpenAIClient(cfg.OpenAIAPIKey, cfg), attempts, time.Second)
	}
	c.byProvider[ProviderOllama] = NewOllamaClient(cfg)

	return c
}

// NewClientSet builds a client set from explicit clients, keyed by the
// provider each one reports. The openrouter client, when present, also
// serves anthropic and openai models.
func NewClientSet(clients ...ProviderClient) *Clients {
	c := &Clients{byProvider: map[Provider]ProviderClient{}}
	for _, client := range clients {
		c.byProvider[client.Provider()] = client
		if client.Provider() == ProviderOpenRouter {
			c.aggregator = client
		}
	}
	return c
}

// For returns the client serving provider p.
func (c *Clients) For(p Provider) (ProviderClient, error) {
	if client, ok := c.byProvider[p]; ok && client.IsAvailable() {
		return client, nil
	}

	switch p {
	case ProviderOpenRouter, ProviderAnthropic, ProviderOpenAI:
		if c.aggregator != nil && c.aggregator.IsAvailable() {
			return c.aggregator, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrProvider, p, ErrNoAPIKey)
	case ProviderOllama:
		return nil, fmt.Errorf("%w: %s not available", ErrProvider, p)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, p)
	}
}

// LocalRuntime is a locally hosted model runtime that can be probed.
type LocalRuntime interface {
	IsReachable(ctx context.Context) bool
}

// Local returns the local runtime, if one is configured.
func (c *Clients) Local() (LocalRuntime, bool) {
	client, ok := c.byProvider[ProviderOllama]
	if !ok {
		return nil, false
	}
	local, ok := client.(LocalRuntime)
	return local, ok
}
