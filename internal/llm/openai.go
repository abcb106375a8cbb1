package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	openRouterReferer = "https://github.com/antinvestor/codereview"
	openRouterTitle   = "codereview"
)

// OpenAIClient implements ProviderClient for OpenAI-compatible chat
// completion APIs. It serves both OpenAI and the OpenRouter aggregator.
type OpenAIClient struct {
	provider   Provider
	apiKey     string
	baseURL    string
	fullModel  bool
	headers    map[string]string
	httpClient *http.Client
	config     ClientConfig
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(apiKey string, cfg ClientConfig) *OpenAIClient {
	return &OpenAIClient{
		provider:   ProviderOpenAI,
		apiKey:     apiKey,
		baseURL:    orDefault(cfg.OpenAIURL, defaultOpenAIURL),
		httpClient: &http.Client{Timeout: cfg.timeout()},
		config:     cfg,
	}
}

// NewOpenRouterClient creates a client for the OpenRouter aggregator. Model
// ids are sent unchanged since OpenRouter expects the vendor prefix.
func NewOpenRouterClient(apiKey string, cfg ClientConfig) *OpenAIClient {
	return &OpenAIClient{
		provider:  ProviderOpenRouter,
		apiKey:    apiKey,
		baseURL:   orDefault(cfg.OpenRouterURL, defaultOpenRouterURL),
		fullModel: true,
		headers: map[string]string{
			"HTTP-Referer": openRouterReferer,
			"X-Title":      openRouterTitle,
		},
		httpClient: &http.Client{Timeout: cfg.timeout()},
		config:     cfg,
	}
}

// Provider implements ProviderClient.
func (c *OpenAIClient) Provider() Provider { return c.provider }

// IsAvailable implements ProviderClient.
func (c *OpenAIClient) IsAvailable() bool { return c.apiKey != "" }

type openaiFormat struct {
	Type string `json:"type"`
}

// openaiMessage is shared with the Ollama chat API, which uses the same shape.
type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *openaiFormat   `json:"response_format,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

// chatMessages builds the system and user turns for a request.
func chatMessages(req *CompletionRequest) []openaiMessage {
	messages := make([]openaiMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	return append(messages, openaiMessage{Role: "user", Content: req.UserPrompt})
}

// Complete implements ProviderClient.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if !c.IsAvailable() {
		return nil, providerError(c.provider, ErrNoAPIKey)
	}
	start := time.Now()

	payload := openaiRequest{
		Model:       req.Model,
		Messages:    chatMessages(req),
		MaxTokens:   c.config.maxOutputTokens(req.MaxTokens),
		Temperature: req.Temperature,
	}
	if !c.fullModel {
		payload.Model = modelName(req.Model)
	}
	if req.ResponseFormat == "json" {
		payload.ResponseFormat = &openaiFormat{Type: "json_object"}
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	for k, v := range c.headers {
		headers[k] = v
	}

	status, body, err := postJSON(ctx, c.httpClient, c.baseURL+"/chat/completions", headers, payload)
	if err != nil {
		return nil, providerError(c.provider, err)
	}
	if status != http.StatusOK {
		return nil, providerError(c.provider, classifyFailure(status, body))
	}

	var reply openaiResponse
	if err = json.Unmarshal(body, &reply); err != nil {
		return nil, providerError(c.provider, fmt.Errorf("%w: %w", ErrInvalidResponse, err))
	}
	if len(reply.Choices) == 0 {
		return nil, providerError(c.provider, fmt.Errorf("%w: no choices", ErrInvalidResponse))
	}

	choice := reply.Choices[0]
	return &CompletionResponse{
		Content: choice.Message.Content,
		Usage: Usage{
			InputTokens:  reply.Usage.PromptTokens,
			OutputTokens: reply.Usage.CompletionTokens,
			TotalTokens:  reply.Usage.TotalTokens,
		},
		StopReason: choice.FinishReason,
		RequestID:  reply.ID,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
