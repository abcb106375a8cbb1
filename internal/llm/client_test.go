//nolint:testpackage // Testing internal functions requires same package
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.OpenRouterURL = url
	cfg.OpenAIURL = url
	cfg.AnthropicURL = url
	cfg.OllamaURL = url
	cfg.TimeoutSeconds = 5
	return cfg
}

func TestAnthropicClient_IsAvailable(t *testing.T) {
	client := NewAnthropicClient("test-key", ClientConfig{TimeoutSeconds: 60})
	if !client.IsAvailable() {
		t.Error("expected client to be available")
	}

	client = NewAnthropicClient("", ClientConfig{TimeoutSeconds: 60})
	if client.IsAvailable() {
		t.Error("expected client to be unavailable with empty key")
	}
}

func TestOpenAIClient_Provider(t *testing.T) {
	if p := NewOpenAIClient("k", ClientConfig{}).Provider(); p != ProviderOpenAI {
		t.Errorf("expected provider %s, got %s", ProviderOpenAI, p)
	}
	if p := NewOpenRouterClient("k", ClientConfig{}).Provider(); p != ProviderOpenRouter {
		t.Errorf("expected provider %s, got %s", ProviderOpenRouter, p)
	}
}

func TestModelName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"ollama/llama3.2:3b", "llama3.2:3b"},
		{"anthropic/claude-3.5-sonnet", "claude-3.5-sonnet"},
		{"gpt-4o", "gpt-4o"},
	}

	for _, tt := range tests {
		if result := modelName(tt.input); result != tt.expected {
			t.Errorf("modelName(%s) = %s, expected %s", tt.input, result, tt.expected)
		}
	}
}

func TestIsContextLengthError(t *testing.T) {
	tests := []struct {
		msg      string
		expected bool
	}{
		{"context_length exceeded", true},
		{"Too many tokens in request", true},
		{"Maximum context length exceeded", true},
		{"Token limit reached", true},
		{"something else happened", false},
		{"", false},
	}

	for _, tt := range tests {
		if result := isContextLengthError(tt.msg); result != tt.expected {
			t.Errorf("isContextLengthError(%q) = %v, expected %v", tt.msg, result, tt.expected)
		}
	}
}

func TestOpenRouterClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Title") == "" {
			t.Error("expected X-Title header")
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != "anthropic/claude-3.5-sonnet" {
			t.Errorf("expected full model id, got %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system and user messages, got %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaiResponse{
			ID: "gen-1",
			Choices: []openaiChoice{
				{Message: openaiMessage{Role: "assistant", Content: `{"issues": []}`}, FinishReason: "stop"},
			},
			Usage: openaiUsage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
		})
	}))
	defer server.Close()

	client := NewOpenRouterClient("test-key", testConfig(server.URL))
	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Model:        "anthropic/claude-3.5-sonnet",
		SystemPrompt: "system",
		UserPrompt:   "review this",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"issues": []}` {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 30 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIClient_Complete_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrRateLimited},
		{"quota", http.StatusPaymentRequired, `{"error":{"message":"no credits","code":402}}`, ErrQuotaExceeded},
		{
			"context length", http.StatusBadRequest,
			`{"error":{"message":"too long","code":"context_length_exceeded"}}`, ErrContextTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewOpenAIClient("test-key", testConfig(server.URL))
			_, err := client.Complete(context.Background(), &CompletionRequest{Model: "gpt-4o", UserPrompt: "x"})
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
			if !errors.Is(err, ErrProvider) {
				t.Errorf("expected provider error, got %v", err)
			}
		})
	}
}

func TestAnthropicClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") == "" {
			t.Error("expected X-Api-Key header")
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Error("expected Anthropic-Version header")
		}

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			ID:         "msg_test123",
			Content:    []anthropicContent{{Type: "text", Text: `{"test": "response"}`}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 100, OutputTokens: 50},
		})
	}))
	defer server.Close()

	client := NewAnthropicClient("test-key", testConfig(server.URL))
	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Model:        "anthropic/claude-3.5-sonnet",
		SystemPrompt: "You are a test assistant.",
		UserPrompt:   "Test prompt",
		MaxTokens:    1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"test": "response"}` {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.RequestID != "msg_test123" {
		t.Errorf("unexpected request ID: %s", resp.RequestID)
	}
	if resp.Usage.TotalTokens != 150 {
		t.Errorf("unexpected total tokens: %d", resp.Usage.TotalTokens)
	}
}

func TestOllamaClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != "llama3.2:3b" {
			t.Errorf("expected prefix stripped, got %s", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message:         openaiMessage{Role: "assistant", Content: "ok"},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       3,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(testConfig(server.URL))
	resp, err := client.Complete(context.Background(), &CompletionRequest{Model: "ollama/llama3.2:3b", UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" || resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestOllamaClient_CompleteReportsRuntimeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'missing' not found"}`))
	}))
	defer server.Close()

	client := NewOllamaClient(testConfig(server.URL))
	_, err := client.Complete(context.Background(), &CompletionRequest{Model: "ollama/missing", UserPrompt: "hi"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestOllamaClient_IsReachableCachesProbe(t *testing.T) {
	var probes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			probes.Add(1)
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	client := NewOllamaClient(testConfig(server.URL))
	for range 5 {
		if !client.IsReachable(context.Background()) {
			t.Fatal("expected runtime to be reachable")
		}
	}
	if n := probes.Load(); n != 1 {
		t.Errorf("expected a single probe, got %d", n)
	}
}

func TestOllamaClient_IsReachableIgnoresCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	client := NewOllamaClient(testConfig(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan bool, 1)
	go func() { first <- client.IsReachable(ctx) }()

	// The cancelled caller owns the shared probe; a second caller joins it.
	time.Sleep(20 * time.Millisecond)
	cancel()
	second := make(chan bool, 1)
	go func() { second <- client.IsReachable(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if !<-first {
		t.Error("expected probe to finish despite the caller cancelling")
	}
	if !<-second {
		t.Error("expected the joined caller to see the runtime as reachable")
	}
	if !client.IsReachable(context.Background()) {
		t.Error("expected reachable outcome to be cached")
	}
}

func TestOllamaClient_UnreachableRuntime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewOllamaClient(testConfig(url))
	if client.IsReachable(context.Background()) {
		t.Error("expected closed server to be unreachable")
	}
}

type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (f *flakyClient) Provider() Provider { return ProviderOpenRouter }
func (f *flakyClient) IsAvailable() bool  { return true }

func (f *flakyClient) Complete(context.Context, *CompletionRequest) (*CompletionResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &CompletionResponse{Content: "done"}, nil
}

func TestRetryingClient_RetriesTransientErrors(t *testing.T) {
	inner := &flakyClient{failures: 2, err: ErrRateLimited}
	client := WithRetry(inner, 3, time.Millisecond)

	resp, err := client.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "done" || inner.calls != 3 {
		t.Errorf("expected success on third call, got %d calls", inner.calls)
	}
}

func TestRetryingClient_StopsOnPermanentErrors(t *testing.T) {
	inner := &flakyClient{failures: 5, err: ErrQuotaExceeded}
	client := WithRetry(inner, 3, time.Millisecond)

	_, err := client.Complete(context.Background(), &CompletionRequest{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected a single call, got %d", inner.calls)
	}
}

func TestClients_For(t *testing.T) {
	aggregator := NewOpenRouterClient("key", DefaultClientConfig())
	clients := NewClientSet(aggregator)

	for _, p := range []Provider{ProviderOpenRouter, ProviderAnthropic, ProviderOpenAI} {
		got, err := clients.For(p)
		if err != nil {
			t.Fatalf("For(%s): unexpected error: %v", p, err)
		}
		if got != aggregator {
			t.Errorf("For(%s): expected aggregator client", p)
		}
	}

	if _, err := clients.For(ProviderBedrock); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("expected unsupported provider error, got %v", err)
	}
	if _, err := NewClientSet().For(ProviderAnthropic); !errors.Is(err, ErrProvider) {
		t.Errorf("expected provider error without keys, got %v", err)
	}
}
