package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	config     ClientConfig
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, cfg ClientConfig) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    orDefault(cfg.AnthropicURL, defaultAnthropicURL),
		httpClient: &http.Client{Timeout: cfg.timeout()},
		config:     cfg,
	}
}

// Provider implements ProviderClient.
func (c *AnthropicClient) Provider() Provider { return ProviderAnthropic }

// IsAvailable implements ProviderClient.
func (c *AnthropicClient) IsAvailable() bool { return c.apiKey != "" }

type anthropicTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []anthropicTurn `json:"messages"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

// text joins the text blocks of the reply, skipping tool and thinking blocks.
func (r *anthropicResponse) text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// Complete implements ProviderClient.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if !c.IsAvailable() {
		return nil, providerError(ProviderAnthropic, ErrNoAPIKey)
	}
	start := time.Now()

	payload := anthropicRequest{
		Model:       modelName(req.Model),
		MaxTokens:   c.config.maxOutputTokens(req.MaxTokens),
		Temperature: req.Temperature,
		System:      req.SystemPrompt,
		Messages:    []anthropicTurn{{Role: "user", Content: req.UserPrompt}},
	}
	headers := map[string]string{
		"X-Api-Key":         c.apiKey,
		"Anthropic-Version": anthropicAPIVersion,
	}

	status, body, err := postJSON(ctx, c.httpClient, c.baseURL+"/messages", headers, payload)
	if err != nil {
		return nil, providerError(ProviderAnthropic, err)
	}
	if status != http.StatusOK {
		return nil, providerError(ProviderAnthropic, classifyFailure(status, body))
	}

	var reply anthropicResponse
	if err = json.Unmarshal(body, &reply); err != nil {
		return nil, providerError(ProviderAnthropic, fmt.Errorf("%w: %w", ErrInvalidResponse, err))
	}

	u := reply.Usage
	return &CompletionResponse{
		Content: reply.text(),
		Usage: Usage{
			InputTokens:      u.InputTokens,
			OutputTokens:     u.OutputTokens,
			TotalTokens:      u.InputTokens + u.OutputTokens,
			CacheReadTokens:  u.CacheReadInputTokens,
			CacheWriteTokens: u.CacheCreationInputTokens,
		},
		StopReason: reply.StopReason,
		RequestID:  reply.ID,
		LatencyMS:  time.Since(start).Milliseconds(),
		CacheHit:   u.CacheReadInputTokens > 0,
	}, nil
}
