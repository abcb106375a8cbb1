package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/llm"
	"github.com/antinvestor/codereview/internal/plugin"
	"github.com/antinvestor/codereview/internal/settings"
)

const (
	maxDecisionLimit   = 500
	defaultStatsWindow = 24 * time.Hour
)

// PluginRegistry exposes the loaded plugins.
type PluginRegistry interface {
	List() []plugin.LoadedPlugin
	Statistics() plugin.Statistics
}

// RoutingReporter exposes routing history and spend.
type RoutingReporter interface {
	Decisions(ctx context.Context, limit int) ([]*llm.RoutingDecision, error)
	Stats(ctx context.Context, since time.Time) ([]llm.ModelStats, error)
	SpentToday(ctx context.Context) (float64, error)
}

// SettingsReader resolves effective configuration for a scope.
type SettingsReader interface {
	Effective(ctx context.Context, scope settings.Scope) map[string]string
}

// AdminHandler serves read-only operational endpoints.
type AdminHandler struct {
	plugins  PluginRegistry
	routing  RoutingReporter
	settings SettingsReader
	now      func() time.Time
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(plugins PluginRegistry, routing RoutingReporter, resolver SettingsReader) *AdminHandler {
	return &AdminHandler{
		plugins:  plugins,
		routing:  routing,
		settings: resolver,
		now:      time.Now,
	}
}

// RegisterRoutes registers the admin routes on mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/plugins", h.HandlePlugins)
	mux.HandleFunc("GET /api/v1/routing/decisions", h.HandleDecisions)
	mux.HandleFunc("GET /api/v1/routing/stats", h.HandleRoutingStats)
	mux.HandleFunc("GET /api/v1/settings", h.HandleSettings)
}

// HandlePlugins lists registered plugins with registry statistics.
func (h *AdminHandler) HandlePlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"plugins":    h.plugins.List(),
		"statistics": h.plugins.Statistics(),
	})
}

// HandleDecisions returns the most recent routing decisions.
func (h *AdminHandler) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxDecisionLimit)
	}

	decisions, err := h.routing.Decisions(r.Context(), limit)
	if err != nil {
		util.Log(r.Context()).WithError(err).Error("could not load routing decisions")
		writeError(w, http.StatusInternalServerError, "could not load routing decisions")
		return
	}
	if decisions == nil {
		decisions = []*llm.RoutingDecision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

// HandleRoutingStats aggregates routing per model over a window given as a
// duration, for example ?window=6h.
func (h *AdminHandler) HandleRoutingStats(w http.ResponseWriter, r *http.Request) {
	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	ctx := r.Context()
	stats, err := h.routing.Stats(ctx, h.now().Add(-window))
	if err != nil {
		util.Log(ctx).WithError(err).Error("could not aggregate routing stats")
		writeError(w, http.StatusInternalServerError, "could not aggregate routing stats")
		return
	}
	if stats == nil {
		stats = []llm.ModelStats{}
	}

	spent, err := h.routing.SpentToday(ctx)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("could not read daily spend")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"window":          window.String(),
		"models":          stats,
		"spent_today_usd": spent,
	})
}

// HandleSettings returns the effective configuration of a project.
func (h *AdminHandler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := settings.Scope{
		ProjectID:      q.Get("project_id"),
		OrganizationID: q.Get("organization_id"),
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":      scope.ProjectID,
		"organization_id": scope.OrganizationID,
		"settings":        h.settings.Effective(r.Context(), scope),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
