// Package plugin defines the analysis plugin contract and the manager that
// registers, indexes and executes plugins.
package plugin

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/antinvestor/codereview/internal/issue"
)

// DefaultTimeout bounds a single plugin analysis when the request sets none.
const DefaultTimeout = 60 * time.Second

// Type identifies the capability category of a plugin.
type Type string

// Plugin type constants.
const (
	TypeSAST        Type = "SAST"
	TypeLinter      Type = "LINTER"
	TypeSecurity    Type = "SECURITY"
	TypePerformance Type = "PERFORMANCE"
	TypeCustomLLM   Type = "CUSTOM_LLM"
	TypeIntegration Type = "INTEGRATION"
)

// SASTTypes are the plugin types run by the static analysis pass.
func SASTTypes() []Type {
	return []Type{TypeSAST, TypeLinter, TypeSecurity}
}

// Language is a programming language a plugin can analyze.
type Language string

// Supported languages. LanguageAll matches every language lookup.
const (
	LanguageJava       Language = "java"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageGo         Language = "go"
	LanguageRuby       Language = "ruby"
	LanguagePHP        Language = "php"
	LanguageCSharp     Language = "csharp"
	LanguageKotlin     Language = "kotlin"
	LanguageRust       Language = "rust"
	LanguageAll        Language = "all"
	LanguageUnknown    Language = "unknown"
)

var languageExtensions = map[Language][]string{
	LanguageJava:       {".java"},
	LanguageJavaScript: {".js", ".jsx", ".mjs", ".cjs"},
	LanguageTypeScript: {".ts", ".tsx"},
	LanguagePython:     {".py", ".pyw"},
	LanguageGo:         {".go"},
	LanguageRuby:       {".rb", ".rake"},
	LanguagePHP:        {".php"},
	LanguageCSharp:     {".cs"},
	LanguageKotlin:     {".kt", ".kts"},
	LanguageRust:       {".rs"},
}

// Extensions returns the file extensions of the language.
func (l Language) Extensions() []string {
	return languageExtensions[l]
}

// Matches reports whether the language applies to a file path.
func (l Language) Matches(path string) bool {
	if l == LanguageAll {
		return true
	}
	return LanguageForPath(path) == l
}

// LanguageForPath detects the language from a file extension.
func LanguageForPath(path string) Language {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return LanguageUnknown
	}
	for lang, exts := range languageExtensions {
		for _, e := range exts {
			if e == ext {
				return lang
			}
		}
	}
	return LanguageUnknown
}

// Metadata describes a plugin.
type Metadata struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Author      string     `json:"author,omitempty"`
	Description string     `json:"description,omitempty"`
	Type        Type       `json:"type"`
	Languages   []Language `json:"languages"`
	Tags        []string   `json:"tags,omitempty"`

	// Priority is advisory; lower values suggest earlier evaluation.
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`
}

// Supports reports whether the plugin declares the language, directly or
// through LanguageAll.
func (m Metadata) Supports(lang Language) bool {
	for _, l := range m.Languages {
		if l == lang || l == LanguageAll {
			return true
		}
	}
	return false
}

// Context is handed to a plugin on initialization.
type Context struct {
	// Config holds plugin specific settings.
	Config map[string]string
}

// String returns a config value or the default.
func (c Context) String(key, def string) string {
	if v, ok := c.Config[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns a config value parsed as an int, or the default.
func (c Context) Int(key string, def int) int {
	if v, ok := c.Config[key]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns a config value parsed as a bool, or the default.
func (c Context) Bool(key string, def bool) bool {
	if v, ok := c.Config[key]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Plugin is the capability every analysis unit implements.
type Plugin interface {
	// Metadata identifies the plugin and declares its capabilities.
	Metadata() Metadata

	// Initialize prepares the plugin; an error keeps it registered but not ready.
	Initialize(ctx context.Context, pc Context) error

	// Analyze inspects a pull request. It must honor ctx cancellation.
	Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error)

	// Shutdown releases plugin resources.
	Shutdown(ctx context.Context) error
}

// AnalysisRequest is the immutable input of one analysis invocation.
type AnalysisRequest struct {
	Diff         string            `json:"diff"`
	ChangedFiles []string          `json:"changed_files"`
	FileContents map[string]string `json:"file_contents,omitempty"`

	SourceBranch string `json:"source_branch,omitempty"`
	TargetBranch string `json:"target_branch,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`

	RepositoryID  string `json:"repository_id,omitempty"`
	RepositoryURL string `json:"repository_url,omitempty"`

	// PluginConfig holds per-plugin overrides keyed by plugin ID.
	PluginConfig map[string]map[string]string `json:"plugin_config,omitempty"`

	// Timeout bounds each plugin invocation; zero means DefaultTimeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// EffectiveTimeout returns the per-plugin deadline for the request.
func (r *AnalysisRequest) EffectiveTimeout(fallback time.Duration) time.Duration {
	if r != nil && r.Timeout > 0 {
		return r.Timeout
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// ConfigFor returns the request level overrides for a plugin.
func (r *AnalysisRequest) ConfigFor(pluginID string) map[string]string {
	if r == nil || r.PluginConfig == nil {
		return nil
	}
	return r.PluginConfig[pluginID]
}

// AnalysisResult is the outcome of one plugin invocation.
// Issues is never nil.
type AnalysisResult struct {
	PluginID string         `json:"plugin_id"`
	Issues   []*issue.Issue `json:"issues"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Duration time.Duration  `json:"duration"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
}

// NewResult creates a successful result.
func NewResult(pluginID string, issues []*issue.Issue) *AnalysisResult {
	if issues == nil {
		issues = []*issue.Issue{}
	}
	return &AnalysisResult{
		PluginID: pluginID,
		Issues:   issues,
		Metadata: map[string]any{},
		Success:  true,
	}
}

// EmptyResult creates a successful result without findings.
func EmptyResult(pluginID string) *AnalysisResult {
	return NewResult(pluginID, nil)
}

// ErrorResult creates a failed result carrying an error message.
func ErrorResult(pluginID, message string) *AnalysisResult {
	return &AnalysisResult{
		PluginID: pluginID,
		Issues:   []*issue.Issue{},
		Metadata: map[string]any{},
		Success:  false,
		Error:    message,
	}
}
