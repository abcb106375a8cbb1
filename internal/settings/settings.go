// Package settings resolves per-project review configuration. A project
// value overrides the organization value, which overrides the built-in default.
package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/pitabwire/util"
)

// Level is where a configuration value was set.
type Level string

const (
	LevelProject      Level = "PROJECT"
	LevelOrganization Level = "ORGANIZATION"
)

// Known keys.
const (
	KeySASTEnabled          = "sast.enabled"
	KeyLLMEnabled           = "llm.enabled"
	KeyLLMProvider          = "llm.provider"
	KeyLLMModel             = "llm.model"
	KeyRAGEnabled           = "rag.enabled"
	KeyReviewAutoPost       = "review.auto_post"
	KeyReviewIncludeSummary = "review.include_summary"
)

// ErrNotFound is returned by a Store when no value is set for a key.
var ErrNotFound = errors.New("setting not found")

// Defaults returns the built-in value of every known key.
func Defaults() map[string]string {
	return map[string]string{
		KeySASTEnabled:          "true",
		KeyLLMEnabled:           "true",
		KeyLLMProvider:          "openrouter",
		KeyLLMModel:             "anthropic/claude-3-haiku",
		KeyRAGEnabled:           "false",
		KeyReviewAutoPost:       "true",
		KeyReviewIncludeSummary: "true",
	}
}

// Scope identifies the project being reviewed and the organization that
// owns it. Either id may be empty.
type Scope struct {
	ProjectID      string
	OrganizationID string
}

// Store reads and writes configuration values.
type Store interface {
	// Get returns the value set at level for owner, or ErrNotFound.
	Get(ctx context.Context, level Level, ownerID, key string) (string, error)

	// Set stores a value at level for owner.
	Set(ctx context.Context, level Level, ownerID, key, value string) error
}

// Resolver looks up values through the project, organization and default
// layers in that order.
type Resolver struct {
	store    Store
	defaults map[string]string
}

// NewResolver creates a resolver over store. A nil store resolves defaults only.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, defaults: Defaults()}
}

// GetString returns the effective value of key for scope. Store errors other
// than ErrNotFound are logged and the next layer is consulted.
func (r *Resolver) GetString(ctx context.Context, scope Scope, key string) string {
	if v, ok := r.lookup(ctx, LevelProject, scope.ProjectID, key); ok {
		return v
	}
	if v, ok := r.lookup(ctx, LevelOrganization, scope.OrganizationID, key); ok {
		return v
	}
	return r.defaults[key]
}

// GetBool returns the effective boolean value of key. Unparseable values
// resolve to false.
func (r *Resolver) GetBool(ctx context.Context, scope Scope, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.GetString(ctx, scope, key)))
	if err != nil {
		return false
	}
	return v
}

// Effective returns every known key resolved for scope.
func (r *Resolver) Effective(ctx context.Context, scope Scope) map[string]string {
	out := make(map[string]string, len(r.defaults))
	for key := range r.defaults {
		out[key] = r.GetString(ctx, scope, key)
	}
	return out
}

func (r *Resolver) lookup(ctx context.Context, level Level, ownerID, key string) (string, bool) {
	if r.store == nil || ownerID == "" {
		return "", false
	}

	v, err := r.store.Get(ctx, level, ownerID, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			util.Log(ctx).WithError(err).Warn("failed to read setting",
				"level", level,
				"owner_id", ownerID,
				"key", key,
			)
		}
		return "", false
	}
	return v, true
}
