package config

import (
	"strings"
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/antinvestor/codereview/internal/llm"
)

// ReviewerConfig defines configuration for the reviewer service.
// The reviewer runs the multi-pass review pipeline over parsed pull requests
// and publishes findings, progress and results.
type ReviewerConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Queue Configuration
	// ==========================================================================

	// Review request queue (incoming from webhook/sync)
	QueueReviewRequestName string `envDefault:"review.requests" env:"QUEUE_REVIEW_REQUEST_NAME"`
	QueueReviewRequestURI  string `envDefault:"mem://review.requests" env:"QUEUE_REVIEW_REQUEST_URI"`

	// Review result queue (outgoing)
	QueueReviewResultName string `envDefault:"review.results" env:"QUEUE_REVIEW_RESULT_NAME"`
	QueueReviewResultURI  string `envDefault:"mem://review.results" env:"QUEUE_REVIEW_RESULT_URI"`

	// Notification queue (progress, issue-detected, plugin status)
	QueueNotificationName string `envDefault:"review.notifications" env:"QUEUE_NOTIFICATION_NAME"`
	QueueNotificationURI  string `envDefault:"mem://review.notifications" env:"QUEUE_NOTIFICATION_URI"`

	// ==========================================================================
	// LLM Providers
	// ==========================================================================

	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `envDefault:"https://openrouter.ai/api/v1" env:"OPENROUTER_BASE_URL"`
	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL  string `envDefault:"https://api.anthropic.com/v1" env:"ANTHROPIC_BASE_URL"`
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `envDefault:"https://api.openai.com/v1" env:"OPENAI_BASE_URL"`
	OllamaBaseURL     string `envDefault:"http://localhost:11434" env:"OLLAMA_BASE_URL"`

	// LLMTimeoutSeconds bounds a single provider HTTP call.
	LLMTimeoutSeconds int `envDefault:"120" env:"LLM_TIMEOUT_SECONDS"`

	// LLMMaxRetries is how often a failed provider call is retried.
	LLMMaxRetries int `envDefault:"3" env:"LLM_MAX_RETRIES"`

	// LLMMaxOutputTokens caps generated tokens per call.
	LLMMaxOutputTokens int `envDefault:"4096" env:"LLM_MAX_OUTPUT_TOKENS"`

	// ==========================================================================
	// Model Routing
	// ==========================================================================

	// RouterStrategy is one of cost_optimized, quality_first, balanced.
	// Empty keeps the catalog's strategy.
	RouterStrategy string `env:"LLM_ROUTER_STRATEGY"`

	// DefaultModel and FallbackModel override the catalog when set.
	DefaultModel  string `env:"LLM_DEFAULT_MODEL"`
	FallbackModel string `env:"LLM_FALLBACK_MODEL"`

	// ModelCatalogFile is an optional YAML model catalog.
	ModelCatalogFile string `env:"LLM_MODEL_CATALOG_FILE"`

	// ProviderRequestsPerMinute limits calls per provider (0 = unlimited).
	ProviderRequestsPerMinute int `envDefault:"60" env:"LLM_PROVIDER_RPM"`
	ProviderBurst             int `envDefault:"5" env:"LLM_PROVIDER_BURST"`

	// Daily spend tracking.
	DailyBudgetUSD       float64 `envDefault:"0" env:"LLM_DAILY_BUDGET_USD"`
	BudgetAlertThreshold float64 `envDefault:"0" env:"LLM_BUDGET_ALERT_THRESHOLD"`

	// ==========================================================================
	// Cache
	// ==========================================================================

	// RedisURL enables Redis backed spend tracking and request de-duplication.
	RedisURL string `env:"REDIS_URL"`

	// ==========================================================================
	// Plugins
	// ==========================================================================

	PluginWorkers        int      `envDefault:"8" env:"PLUGIN_WORKERS"`
	PluginTimeoutSeconds int      `envDefault:"60" env:"PLUGIN_TIMEOUT_SECONDS"`
	EnabledPlugins       []string `envDefault:"style-linter,pattern-security,architecture-lint" env:"ENABLED_PLUGINS" envSeparator:","`
	MaxFunctionLength    string   `envDefault:"50" env:"PLUGIN_MAX_FUNCTION_LENGTH"`

	// ==========================================================================
	// Pipeline
	// ==========================================================================

	LLMPassTimeoutSeconds      int `envDefault:"300" env:"LLM_PASS_TIMEOUT_SECONDS"`
	SecurityPassTimeoutSeconds int `envDefault:"180" env:"SECURITY_PASS_TIMEOUT_SECONDS"`
	ImpactPassTimeoutSeconds   int `envDefault:"120" env:"IMPACT_PASS_TIMEOUT_SECONDS"`

	// DuplicateLineTolerance is how far apart duplicate findings may be.
	DuplicateLineTolerance int `envDefault:"2" env:"DUPLICATE_LINE_TOLERANCE"`

	// MaxDiffChars truncates the diff placed into prompts.
	MaxDiffChars int `envDefault:"60000" env:"LLM_MAX_DIFF_CHARS"`

	// ==========================================================================
	// HTTP API
	// ==========================================================================

	// APIAuthRequired protects /api/ with OAuth2 bearer tokens.
	APIAuthRequired bool `envDefault:"false" env:"API_AUTH_REQUIRED"`

	// MaxReviewRequestSize caps the body of a submitted review request.
	MaxReviewRequestSize int `envDefault:"5242880" env:"MAX_REVIEW_REQUEST_SIZE"` // 5MB

	// RateLimitRequestsPerMinute limits API calls per client.
	RateLimitRequestsPerMinute int `envDefault:"60" env:"RATE_LIMIT_REQUESTS_PER_MINUTE"`

	// RateLimitBurstSize is the burst size for API rate limiting.
	RateLimitBurstSize int `envDefault:"10" env:"RATE_LIMIT_BURST_SIZE"`
}

// ClientConfig returns the provider client settings.
func (c *ReviewerConfig) ClientConfig() llm.ClientConfig {
	cc := llm.DefaultClientConfig()
	cc.OpenRouterAPIKey = c.OpenRouterAPIKey
	cc.OpenRouterURL = c.OpenRouterBaseURL
	cc.AnthropicAPIKey = c.AnthropicAPIKey
	cc.AnthropicURL = c.AnthropicBaseURL
	cc.OpenAIAPIKey = c.OpenAIAPIKey
	cc.OpenAIURL = c.OpenAIBaseURL
	cc.OllamaURL = c.OllamaBaseURL
	if c.LLMTimeoutSeconds > 0 {
		cc.TimeoutSeconds = c.LLMTimeoutSeconds
	}
	if c.LLMMaxRetries > 0 {
		cc.MaxRetries = c.LLMMaxRetries
	}
	if c.LLMMaxOutputTokens > 0 {
		cc.MaxOutputTokens = c.LLMMaxOutputTokens
	}
	return cc
}

// ApplyCatalogOverrides applies env level routing overrides to a catalog.
func (c *ReviewerConfig) ApplyCatalogOverrides(catalog *llm.Catalog) {
	if s := strings.TrimSpace(c.RouterStrategy); s != "" {
		catalog.Strategy = s
	}
	if c.DefaultModel != "" {
		catalog.DefaultModel = c.DefaultModel
	}
	if c.FallbackModel != "" {
		catalog.FallbackModel = c.FallbackModel
	}
	if c.DailyBudgetUSD > 0 {
		catalog.CostTracking.DailyBudgetUSD = c.DailyBudgetUSD
	}
	if c.BudgetAlertThreshold > 0 && c.BudgetAlertThreshold <= 1 {
		catalog.CostTracking.AlertThreshold = c.BudgetAlertThreshold
	}
}

// PluginConfig returns initialization settings keyed by plugin ID.
func (c *ReviewerConfig) PluginConfig() map[string]map[string]string {
	return map[string]map[string]string{
		"style-linter": {"max_function_length": c.MaxFunctionLength},
	}
}

// PluginTimeout returns the default per-plugin deadline.
func (c *ReviewerConfig) PluginTimeout() time.Duration {
	return seconds(c.PluginTimeoutSeconds, 60)
}

// LLMPassTimeout returns the deadline of the primary LLM pass.
func (c *ReviewerConfig) LLMPassTimeout() time.Duration {
	return seconds(c.LLMPassTimeoutSeconds, 300)
}

// SecurityPassTimeout returns the deadline of the security pass.
func (c *ReviewerConfig) SecurityPassTimeout() time.Duration {
	return seconds(c.SecurityPassTimeoutSeconds, 180)
}

// ImpactPassTimeout returns the deadline of the impact pass.
func (c *ReviewerConfig) ImpactPassTimeout() time.Duration {
	return seconds(c.ImpactPassTimeoutSeconds, 120)
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
