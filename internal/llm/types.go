// Package llm provides provider clients and the model router used by the
// review passes.
package llm

import (
	"strings"
	"time"
)

// Provider identifies an LLM provider.
type Provider string

// LLM provider constants.
const (
	ProviderOpenRouter  Provider = "openrouter"
	ProviderAnthropic   Provider = "anthropic"
	ProviderOpenAI      Provider = "openai"
	ProviderOllama      Provider = "ollama"
	ProviderBedrock     Provider = "bedrock"
	ProviderAzureOpenAI Provider = "azure_openai"
)

// ParseProvider maps a configuration value to a provider. Unknown values
// are returned as-is so invocation can reject them explicitly.
func ParseProvider(s string) Provider {
	return Provider(strings.ToLower(strings.TrimSpace(s)))
}

// IsLocal reports whether the provider runs on local infrastructure.
func (p Provider) IsLocal() bool {
	return p == ProviderOllama
}

// Usage contains token usage statistics.
type Usage struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int     `json:"cache_write_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// Default configuration constants.
const (
	defaultTimeoutSeconds  = 120
	defaultMaxRetries      = 2
	defaultMaxOutputTokens = 4096
	defaultOllamaURL       = "http://localhost:11434"
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenAIURL       = "https://api.openai.com/v1"
	defaultAnthropicURL    = "https://api.anthropic.com/v1"
)

// ClientConfig contains provider client configuration.
type ClientConfig struct {
	// Provider settings
	OpenRouterAPIKey string
	OpenRouterURL    string
	AnthropicAPIKey  string
	AnthropicURL     string
	OpenAIAPIKey     string
	OpenAIURL        string
	OllamaURL        string

	// Timeouts and retries
	TimeoutSeconds int
	MaxRetries     int

	// Token limits
	MaxOutputTokens int
	Temperature     float64
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		OpenRouterURL:   defaultOpenRouterURL,
		AnthropicURL:    defaultAnthropicURL,
		OpenAIURL:       defaultOpenAIURL,
		OllamaURL:       defaultOllamaURL,
		TimeoutSeconds:  defaultTimeoutSeconds,
		MaxRetries:      defaultMaxRetries,
		MaxOutputTokens: defaultMaxOutputTokens,
		Temperature:     0.0,
	}
}

func (c ClientConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ClientConfig) maxOutputTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	if c.MaxOutputTokens > 0 {
		return c.MaxOutputTokens
	}
	return defaultMaxOutputTokens
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}
