package llm

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected error
		contains string
	}{
		{"anthropic overload", http.StatusTooManyRequests,
			`{"type":"error","error":{"type":"rate_limit_error","message":"slow"}}`, ErrRateLimited, "slow"},
		{"anthropic prompt too long", http.StatusBadRequest,
			`{"type":"error","error":{"type":"invalid_request_error","message":"prompt exceeds maximum context length"}}`,
			ErrContextTooLong, "maximum context length"},
		{"plain bad request", http.StatusBadRequest, `{"error":{"message":"missing model"}}`, nil, "bad request"},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"key revoked"}}`, nil, "authentication failed"},
		{"gateway timeout", http.StatusGatewayTimeout, `{"error":{"message":"upstream"}}`, nil, "server error (status 504)"},
		{"unparseable", http.StatusBadGateway, `<html>oops</html>`, nil, "<html>oops</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyFailure(tt.status, []byte(tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.expected != nil && !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, err.Error())
			}
		})
	}
}
