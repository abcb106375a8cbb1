package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pitabwire/frame/security"
	"github.com/pitabwire/util"
)

const bearerPrefix = "bearer "

// Auth requires a bearer token on every request and places the
// authenticated claims on the request context.
type Auth struct {
	authenticator security.Authenticator
	realm         string
}

// NewAuth creates a bearer token middleware.
func NewAuth(authenticator security.Authenticator, realm string) *Auth {
	return &Auth{authenticator: authenticator, realm: realm}
}

// Middleware rejects requests without a valid token with 401.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			a.reject(w, "Missing or malformed bearer token")
			return
		}

		authCtx, err := a.authenticator.Authenticate(ctx, token)
		if err != nil {
			util.Log(ctx).Debug("api token rejected", "error", err.Error(), "path", r.URL.Path)
			a.reject(w, "Invalid or expired token")
			return
		}

		if claims := security.ClaimsFromContext(authCtx); claims != nil {
			subject, _ := claims.GetSubject()
			util.Log(ctx).Debug("authenticated api request", "subject", subject, "path", r.URL.Path)
		}

		next.ServeHTTP(w, r.WithContext(authCtx))
	})
}

func bearerToken(header string) (string, bool) {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

func (a *Auth) reject(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+a.realm+`"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
