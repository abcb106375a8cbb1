package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/sync/singleflight"
)

const (
	ollamaProbeTimeout = 5 * time.Second
	ollamaProbeTTL     = 30 * time.Second
)

// OllamaClient implements ProviderClient for a local Ollama runtime.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	config     ClientConfig

	probes    singleflight.Group
	mu        sync.Mutex
	reachable bool
	checkedAt time.Time
}

// NewOllamaClient creates a client for the Ollama runtime at cfg.OllamaURL.
func NewOllamaClient(cfg ClientConfig) *OllamaClient {
	return &OllamaClient{
		baseURL:    orDefault(cfg.OllamaURL, defaultOllamaURL),
		httpClient: &http.Client{Timeout: cfg.timeout()},
		config:     cfg,
	}
}

// Provider implements ProviderClient.
func (c *OllamaClient) Provider() Provider {
	return ProviderOllama
}

// IsAvailable implements ProviderClient. Reachability is checked separately
// by IsReachable since it needs a network round trip.
func (c *OllamaClient) IsAvailable() bool {
	return c.baseURL != ""
}

// IsReachable probes /api/tags. Concurrent probes share one request and the
// outcome is cached briefly. The shared probe is detached from the caller's
// cancellation and bounded by its own timeout.
func (c *OllamaClient) IsReachable(ctx context.Context) bool {
	c.mu.Lock()
	if !c.checkedAt.IsZero() && time.Since(c.checkedAt) < ollamaProbeTTL {
		reachable := c.reachable
		c.mu.Unlock()
		return reachable
	}
	c.mu.Unlock()

	v, _, _ := c.probes.Do("tags", func() (any, error) {
		reachable := c.probe(context.WithoutCancel(ctx))

		c.mu.Lock()
		c.reachable = reachable
		c.checkedAt = time.Now()
		c.mu.Unlock()

		return reachable, nil
	})
	reachable, _ := v.(bool)
	return reachable
}

func (c *OllamaClient) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.Log(ctx).Debug("local runtime not reachable", "url", c.baseURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         openaiMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// Complete implements ProviderClient.
func (c *OllamaClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	payload := ollamaChatRequest{
		Model:    modelName(req.Model),
		Messages: chatMessages(req),
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  c.config.maxOutputTokens(req.MaxTokens),
		},
	}
	if req.ResponseFormat == "json" {
		payload.Format = "json"
	}

	status, body, err := postJSON(ctx, c.httpClient, c.baseURL+"/api/chat", nil, payload)
	if err != nil {
		return nil, providerError(ProviderOllama, err)
	}

	// The runtime reports failures as {"error": "..."} with or without a
	// non-200 status.
	var reply ollamaChatResponse
	if err = json.Unmarshal(body, &reply); err != nil {
		if status != http.StatusOK {
			return nil, providerError(ProviderOllama, fmt.Errorf("API error (status %d): %s", status, string(body)))
		}
		return nil, providerError(ProviderOllama, fmt.Errorf("%w: %w", ErrInvalidResponse, err))
	}
	if reply.Error != "" {
		return nil, providerError(ProviderOllama, fmt.Errorf("ollama error (status %d): %s", status, reply.Error))
	}
	if status != http.StatusOK {
		return nil, providerError(ProviderOllama, fmt.Errorf("API error (status %d)", status))
	}

	return &CompletionResponse{
		Content: reply.Message.Content,
		Usage: Usage{
			InputTokens:  reply.PromptEvalCount,
			OutputTokens: reply.EvalCount,
			TotalTokens:  reply.PromptEvalCount + reply.EvalCount,
		},
		StopReason: reply.DoneReason,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
