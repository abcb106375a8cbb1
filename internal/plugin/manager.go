package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/sync/errgroup"

	"github.com/antinvestor/codereview/internal/events"
	"github.com/antinvestor/codereview/internal/issue"
)

// Manager errors.
var (
	ErrInvalidPlugin   = errors.New("invalid plugin")
	ErrDuplicatePlugin = errors.New("plugin already registered")
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrPluginPanicked  = errors.New("plugin panicked")
)

const defaultMaxWorkers = 8

// Result error messages surfaced to callers.
const (
	msgExecutionTimeout   = "Execution timeout"
	msgExecutionCancelled = "Execution cancelled"
	msgPluginNotFound     = "Plugin not found"
	msgNotInitialized     = "Plugin not initialized"
	msgPluginDisabled     = "Plugin disabled"
)

// StatusNotifier receives plugin initialization outcomes.
type StatusNotifier interface {
	PluginStatus(ctx context.Context, payload *events.PluginStatusPayload)
}

// LoadedPlugin is a registered plugin and its initialization outcome.
type LoadedPlugin struct {
	Plugin       Plugin    `json:"-"`
	Metadata     Metadata  `json:"metadata"`
	Ready        bool      `json:"ready"`
	InitError    string    `json:"init_error,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Runnable reports whether the plugin may be executed.
func (lp *LoadedPlugin) Runnable() bool {
	return lp.Ready && lp.Metadata.Enabled
}

// Statistics summarizes the registry.
type Statistics struct {
	Total   int          `json:"total"`
	Ready   int          `json:"ready"`
	Enabled int          `json:"enabled"`
	Failed  int          `json:"failed"`
	ByType  map[Type]int `json:"by_type"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxWorkers bounds how many analyses run at once.
func WithMaxWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxWorkers = n
		}
	}
}

// WithDefaultTimeout sets the deadline used when a request sets none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// WithPluginConfig supplies initialization settings keyed by plugin ID.
func WithPluginConfig(cfg map[string]map[string]string) Option {
	return func(m *Manager) {
		m.pluginConfig = cfg
	}
}

// WithStatusNotifier publishes initialization outcomes.
func WithStatusNotifier(n StatusNotifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// Manager owns the plugin registry, its indexes and concurrent execution.
// The registry is safe for concurrent use across reviews.
type Manager struct {
	mu         sync.RWMutex
	plugins    map[string]*LoadedPlugin
	byType     map[Type]map[string]struct{}
	byLanguage map[Language]map[string]struct{}

	maxWorkers     int
	defaultTimeout time.Duration
	pluginConfig   map[string]map[string]string
	notifier       StatusNotifier
}

// NewManager creates an empty plugin manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		plugins:        make(map[string]*LoadedPlugin),
		byType:         make(map[Type]map[string]struct{}),
		byLanguage:     make(map[Language]map[string]struct{}),
		maxWorkers:     defaultMaxWorkers,
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// Registration
// =============================================================================

// Register adds a plugin, indexes it and initializes it. An initialization
// failure keeps the plugin listed but excludes it from execution.
func (m *Manager) Register(ctx context.Context, p Plugin) error {
	if p == nil {
		return ErrInvalidPlugin
	}

	meta := p.Metadata()
	if meta.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPlugin)
	}

	log := util.Log(ctx).With("plugin_id", meta.ID)

	m.mu.RLock()
	_, exists := m.plugins[meta.ID]
	m.mu.RUnlock()
	if exists {
		log.Warn("plugin already registered, skipping")
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, meta.ID)
	}

	loaded := &LoadedPlugin{
		Plugin:       p,
		Metadata:     meta,
		Ready:        true,
		RegisteredAt: time.Now(),
	}

	if err := m.initialize(ctx, p, meta.ID); err != nil {
		loaded.Ready = false
		loaded.InitError = err.Error()
		log.WithError(err).Warn("plugin initialization failed")
	}

	m.mu.Lock()
	if _, raced := m.plugins[meta.ID]; raced {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, meta.ID)
	}
	m.plugins[meta.ID] = loaded
	m.index(meta)
	m.mu.Unlock()

	status := "READY"
	if !loaded.Ready {
		status = "FAILED"
	}
	if m.notifier != nil {
		m.notifier.PluginStatus(ctx, &events.PluginStatusPayload{
			PluginID: meta.ID,
			Status:   status,
			Message:  loaded.InitError,
		})
	}

	log.Info("plugin registered",
		"type", meta.Type,
		"version", meta.Version,
		"ready", loaded.Ready,
	)
	return nil
}

func (m *Manager) initialize(ctx context.Context, p Plugin, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w during initialize: %v", ErrPluginPanicked, r)
		}
	}()
	return p.Initialize(ctx, Context{Config: m.pluginConfig[id]})
}

// index must be called with m.mu held for writing.
func (m *Manager) index(meta Metadata) {
	if m.byType[meta.Type] == nil {
		m.byType[meta.Type] = make(map[string]struct{})
	}
	m.byType[meta.Type][meta.ID] = struct{}{}

	for _, lang := range meta.Languages {
		if m.byLanguage[lang] == nil {
			m.byLanguage[lang] = make(map[string]struct{})
		}
		m.byLanguage[lang][meta.ID] = struct{}{}
	}
}

// Unregister shuts a plugin down and removes it from the registry.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	loaded, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	delete(m.plugins, id)
	delete(m.byType[loaded.Metadata.Type], id)
	for _, lang := range loaded.Metadata.Languages {
		delete(m.byLanguage[lang], id)
	}
	m.mu.Unlock()

	return loaded.Plugin.Shutdown(ctx)
}

// SetEnabled toggles whether a plugin takes part in execution.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded, ok := m.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	loaded.Metadata.Enabled = enabled
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Get returns a snapshot of a registered plugin.
func (m *Manager) Get(id string) (LoadedPlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loaded, ok := m.plugins[id]
	if !ok {
		return LoadedPlugin{}, false
	}
	return *loaded, true
}

// List returns snapshots of every registered plugin ordered by priority.
func (m *Manager) List() []LoadedPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]LoadedPlugin, 0, len(m.plugins))
	for _, loaded := range m.plugins {
		list = append(list, *loaded)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Metadata.Priority != list[j].Metadata.Priority {
			return list[i].Metadata.Priority < list[j].Metadata.Priority
		}
		return list[i].Metadata.ID < list[j].Metadata.ID
	})
	return list
}

// IDsByType returns the IDs of plugins declaring any of the given types.
func (m *Manager) IDsByType(types ...Type) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, t := range types {
		for id := range m.byType[t] {
			seen[id] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// IDsByLanguage returns the IDs of plugins supporting lang, including
// plugins registered for all languages.
func (m *Manager) IDsByLanguage(lang Language) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range m.byLanguage[lang] {
		seen[id] = struct{}{}
	}
	for id := range m.byLanguage[LanguageAll] {
		seen[id] = struct{}{}
	}
	return sortedKeys(seen)
}

// Statistics summarizes the registry.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{ByType: make(map[Type]int)}
	for _, loaded := range m.plugins {
		stats.Total++
		stats.ByType[loaded.Metadata.Type]++
		if loaded.Ready {
			stats.Ready++
		} else {
			stats.Failed++
		}
		if loaded.Metadata.Enabled {
			stats.Enabled++
		}
	}
	return stats
}

// =============================================================================
// Execution
// =============================================================================

// ExecuteByType runs every runnable plugin of the given types.
func (m *Manager) ExecuteByType(ctx context.Context, req *AnalysisRequest, types ...Type) []*AnalysisResult {
	return m.ExecutePlugins(ctx, m.IDsByType(types...), req)
}

// ExecuteByLanguage runs every runnable plugin supporting lang.
func (m *Manager) ExecuteByLanguage(ctx context.Context, lang Language, req *AnalysisRequest) []*AnalysisResult {
	return m.ExecutePlugins(ctx, m.IDsByLanguage(lang), req)
}

// ExecutePlugins runs the runnable plugins among ids concurrently on a
// bounded pool. Not-ready, disabled and unknown plugins are skipped.
// Results are returned in completion order.
func (m *Manager) ExecutePlugins(ctx context.Context, ids []string, req *AnalysisRequest) []*AnalysisResult {
	runnable := m.runnable(ids)
	if len(runnable) == 0 {
		return []*AnalysisResult{}
	}

	results := make(chan *AnalysisResult, len(runnable))

	var g errgroup.Group
	g.SetLimit(m.maxWorkers)
	for _, loaded := range runnable {
		g.Go(func() error {
			results <- m.run(ctx, loaded, req)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	collected := make([]*AnalysisResult, 0, len(runnable))
	for result := range results {
		collected = append(collected, result)
	}

	util.Log(ctx).Debug("plugin batch finished",
		"requested", len(ids),
		"executed", len(collected),
	)
	return collected
}

// ExecutePlugin runs a single plugin with the same isolation and deadline
// contract as batch execution.
func (m *Manager) ExecutePlugin(ctx context.Context, id string, req *AnalysisRequest) *AnalysisResult {
	m.mu.RLock()
	loaded, ok := m.plugins[id]
	var ready, enabled bool
	if ok {
		ready, enabled = loaded.Ready, loaded.Metadata.Enabled
	}
	m.mu.RUnlock()

	switch {
	case !ok:
		return ErrorResult(id, msgPluginNotFound)
	case !ready:
		return ErrorResult(id, msgNotInitialized)
	case !enabled:
		return ErrorResult(id, msgPluginDisabled)
	}
	return m.run(ctx, loaded, req)
}

func (m *Manager) runnable(ids []string) []*LoadedPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runnable := make([]*LoadedPlugin, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		loaded, ok := m.plugins[id]
		if !ok || !loaded.Runnable() {
			continue
		}
		runnable = append(runnable, loaded)
	}

	sort.SliceStable(runnable, func(i, j int) bool {
		return runnable[i].Metadata.Priority < runnable[j].Metadata.Priority
	})
	return runnable
}

type analysisOutcome struct {
	result *AnalysisResult
	err    error
}

// run executes one plugin under its own deadline. The plugin receives the
// deadline context, so an expired deadline also aborts its remote calls.
func (m *Manager) run(ctx context.Context, loaded *LoadedPlugin, req *AnalysisRequest) *AnalysisResult {
	id := loaded.Metadata.ID
	log := util.Log(ctx).With("plugin_id", id)

	timeout := req.EffectiveTimeout(m.defaultTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan analysisOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- analysisOutcome{err: fmt.Errorf("%w: %v", ErrPluginPanicked, r)}
			}
		}()
		result, err := loaded.Plugin.Analyze(runCtx, req)
		done <- analysisOutcome{result: result, err: err}
	}()

	var result *AnalysisResult
	select {
	case outcome := <-done:
		switch {
		case outcome.err != nil && runCtx.Err() != nil:
			result = m.interrupted(ctx, runCtx, id, timeout)
		case outcome.err != nil:
			log.WithError(outcome.err).Warn("plugin analysis failed")
			result = ErrorResult(id, outcome.err.Error())
		case outcome.result == nil:
			result = EmptyResult(id)
		default:
			result = outcome.result
		}
	case <-runCtx.Done():
		result = m.interrupted(ctx, runCtx, id, timeout)
	}

	result.PluginID = id
	result.Duration = time.Since(start)
	if result.Issues == nil {
		result.Issues = []*issue.Issue{}
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	for _, i := range result.Issues {
		if i.Tool == "" {
			i.Tool = id
		}
	}
	return result
}

func (m *Manager) interrupted(ctx, runCtx context.Context, id string, timeout time.Duration) *AnalysisResult {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		util.Log(ctx).Warn("plugin analysis timed out", "plugin_id", id, "timeout", timeout)
		return ErrorResult(id, msgExecutionTimeout)
	}
	return ErrorResult(id, msgExecutionCancelled)
}

// Shutdown shuts every plugin down and clears the registry.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	plugins := m.plugins
	m.plugins = make(map[string]*LoadedPlugin)
	m.byType = make(map[Type]map[string]struct{})
	m.byLanguage = make(map[Language]map[string]struct{})
	m.mu.Unlock()

	var errs []error
	for id, loaded := range plugins {
		if err := loaded.Plugin.Shutdown(ctx); err != nil {
			util.Log(ctx).WithError(err).Warn("plugin shutdown failed", "plugin_id", id)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
