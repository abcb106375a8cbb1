package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// contextLengthMarkers are fragments providers use when a prompt exceeds
// the model window.
var contextLengthMarkers = []string{
	"context_length",
	"too many tokens",
	"maximum context length",
	"token limit",
}

// postJSON sends payload to url and returns the status and raw body.
// Transport failures are returned as errors; HTTP failures are not.
func postJSON(
	ctx context.Context,
	hc *http.Client,
	url string,
	headers map[string]string,
	payload any,
) (int, []byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return httpResp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return httpResp.StatusCode, body, nil
}

// hostedFailure is the error envelope returned by the hosted providers.
// OpenRouter reports numeric codes, OpenAI string codes and Anthropic none.
type hostedFailure struct {
	Error struct {
		Type    string          `json:"type"`
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// classifyFailure maps a non-200 reply onto the client error taxonomy.
func classifyFailure(status int, body []byte) error {
	var failure hostedFailure
	if err := json.Unmarshal(body, &failure); err != nil || failure.Error.Message == "" {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}
	msg := failure.Error.Message

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
	case http.StatusBadRequest:
		if bytes.Contains(failure.Error.Code, []byte("context_length_exceeded")) || isContextLengthError(msg) {
			return fmt.Errorf("%w: %s", ErrContextTooLong, msg)
		}
		return fmt.Errorf("bad request: %s", msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("authentication failed: %s", msg)
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("server error (status %d): %s", status, msg)
	}
	return fmt.Errorf("API error (status %d): %s", status, msg)
}

func isContextLengthError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range contextLengthMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
