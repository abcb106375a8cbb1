package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/frame/security"
	"github.com/stretchr/testify/assert"

	"github.com/antinvestor/codereview/apps/reviewer/service/middleware"
)

type stubAuthenticator struct {
	valid string
	seen  string
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, token string, _ ...security.AuthOption) (context.Context, error) {
	s.seen = token
	if token != s.valid {
		return nil, errors.New("invalid token")
	}
	return ctx, nil
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		code   int
	}{
		{name: "missing", header: "", code: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", code: http.StatusUnauthorized},
		{name: "scheme only", header: "Bearer ", code: http.StatusUnauthorized},
		{name: "rejected token", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "valid", header: "Bearer good-token", code: http.StatusOK},
		{name: "case insensitive scheme", header: "bearer good-token", code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &stubAuthenticator{valid: "good-token"}
			called := false
			h := middleware.NewAuth(auth, "code-reviewer").Middleware(
				http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					called = true
					w.WriteHeader(http.StatusOK)
				}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.code, rr.Code)
			assert.Equal(t, tt.code == http.StatusOK, called)
			if tt.code == http.StatusUnauthorized {
				assert.Equal(t, `Bearer realm="code-reviewer"`, rr.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
