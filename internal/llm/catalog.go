package llm

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog defaults.
const (
	DefaultModelID         = "anthropic/claude-3.5-sonnet"
	DefaultFallbackModelID = "google/gemma-3-4b-it:free"

	defaultModelMaxTokens  = 4096
	defaultCostPer1kTokens = 0.001
	defaultDailyBudgetUSD  = 50.0
	defaultAlertThreshold  = 0.8
)

// ModelConfig describes one routable model.
type ModelConfig struct {
	Provider        Provider   `yaml:"provider"`
	ModelID         string     `yaml:"model_id"`
	MaxTokens       int        `yaml:"max_tokens"`
	CostPer1kTokens float64    `yaml:"cost_per_1k_tokens"`
	UseCases        []TaskType `yaml:"use_cases"`
}

// SupportsTask reports whether the model declares support for the task. A
// model without use cases supports every task.
func (m ModelConfig) SupportsTask(task TaskType) bool {
	return len(m.UseCases) == 0 || slices.Contains(m.UseCases, task)
}

// UnmarshalYAML applies the per-model defaults before decoding.
func (m *ModelConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ModelConfig
	p := plain{MaxTokens: defaultModelMaxTokens, CostPer1kTokens: defaultCostPer1kTokens}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*m = ModelConfig(p)
	return nil
}

// IsLocal reports whether the model runs on a local runtime.
func (m ModelConfig) IsLocal() bool {
	return m.Provider.IsLocal()
}

// EstimateCost returns the USD cost of the given token counts.
func (m ModelConfig) EstimateCost(inputTokens, outputTokens int) float64 {
	if m.IsLocal() {
		return 0
	}
	return float64(inputTokens+outputTokens) / 1000.0 * m.CostPer1kTokens
}

// CostTracking holds the daily budget settings.
type CostTracking struct {
	Enabled        bool    `yaml:"enabled"`
	DailyBudgetUSD float64 `yaml:"daily_budget"`
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// Catalog is the routable model set plus the default and fallback models.
type Catalog struct {
	Strategy      string        `yaml:"strategy"`
	DefaultModel  string        `yaml:"default_model"`
	FallbackModel string        `yaml:"fallback_model"`
	Models        []ModelConfig `yaml:"models"`
	CostTracking  CostTracking  `yaml:"cost_tracking"`
}

// DefaultCatalog returns the built-in model catalog.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Strategy:      string(StrategyCostOptimized),
		DefaultModel:  DefaultModelID,
		FallbackModel: DefaultFallbackModelID,
		Models: []ModelConfig{
			{
				Provider:        ProviderOpenRouter,
				ModelID:         "anthropic/claude-3.5-sonnet",
				CostPer1kTokens: 0.003,
			},
			{
				Provider:        ProviderOpenRouter,
				ModelID:         "anthropic/claude-3-haiku",
				CostPer1kTokens: 0.00025,
				UseCases: []TaskType{
					TaskSummarization, TaskQA, TaskMetadataGeneration, TaskCodeExplanation, TaskStyleCheck,
				},
			},
			{
				Provider:        ProviderOpenRouter,
				ModelID:         "openai/gpt-4o",
				CostPer1kTokens: 0.005,
				UseCases: []TaskType{
					TaskComplexReasoning, TaskBugDetection, TaskArchitectureReview, TaskSecurityAnalysis, TaskRefactoring,
				},
			},
			{
				Provider:        ProviderOpenRouter,
				ModelID:         DefaultFallbackModelID,
				CostPer1kTokens: 0,
			},
			{
				Provider: ProviderOllama,
				ModelID:  "ollama/llama3.2:3b",
				UseCases: []TaskType{
					TaskFastLint, TaskStyleCheck, TaskPreFilter, TaskSummarization, TaskMetadataGeneration,
				},
			},
		},
		CostTracking: CostTracking{
			Enabled:        true,
			DailyBudgetUSD: defaultDailyBudgetUSD,
			AlertThreshold: defaultAlertThreshold,
		},
	}
	c.normalize()
	return c
}

// LoadCatalog reads a YAML catalog file. Missing scalar settings take the
// built-in defaults.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode model catalog: %w", ErrConfiguration, err)
	}
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("%w: model catalog declares no models", ErrConfiguration)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() {
	if c.Strategy == "" {
		c.Strategy = string(StrategyCostOptimized)
	}
	if c.CostTracking.DailyBudgetUSD <= 0 {
		c.CostTracking.DailyBudgetUSD = defaultDailyBudgetUSD
	}
	if c.CostTracking.AlertThreshold <= 0 || c.CostTracking.AlertThreshold > 1 {
		c.CostTracking.AlertThreshold = defaultAlertThreshold
	}
	for i := range c.Models {
		m := &c.Models[i]
		m.Provider = ParseProvider(string(m.Provider))
		if m.MaxTokens <= 0 {
			m.MaxTokens = defaultModelMaxTokens
		}
		for j, task := range m.UseCases {
			m.UseCases[j] = TaskType(strings.ToUpper(strings.TrimSpace(string(task))))
		}
	}
	// Stable order keeps selection deterministic across equal costs.
	slices.SortStableFunc(c.Models, func(a, b ModelConfig) int {
		return strings.Compare(a.ModelID, b.ModelID)
	})
}

// Validate checks model entries for obvious mistakes.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ModelID == "" {
			return fmt.Errorf("%w: model without model_id", ErrConfiguration)
		}
		if seen[m.ModelID] {
			return fmt.Errorf("%w: duplicate model %s", ErrConfiguration, m.ModelID)
		}
		seen[m.ModelID] = true
		if m.CostPer1kTokens < 0 {
			return fmt.Errorf("%w: model %s has negative cost", ErrConfiguration, m.ModelID)
		}
		for _, task := range m.UseCases {
			if _, err := ParseTaskType(string(task)); err != nil {
				return fmt.Errorf("%w: model %s: %w", ErrConfiguration, m.ModelID, err)
			}
		}
	}
	return nil
}

// Model looks up a model by id.
func (c *Catalog) Model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ModelID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// ResolveModel returns the catalog entry for id. Ids absent from the
// catalog are routed through the aggregator at the default price.
func (c *Catalog) ResolveModel(id string) ModelConfig {
	if m, ok := c.Model(id); ok {
		return m
	}
	provider := ProviderOpenRouter
	if strings.HasPrefix(id, string(ProviderOllama)+"/") {
		provider = ProviderOllama
	}
	return ModelConfig{
		Provider:        provider,
		ModelID:         id,
		MaxTokens:       defaultModelMaxTokens,
		CostPer1kTokens: defaultCostPer1kTokens,
	}
}

// supporting returns the models that support task and satisfy keep.
func (c *Catalog) supporting(task TaskType, keep func(ModelConfig) bool) []ModelConfig {
	var out []ModelConfig
	for _, m := range c.Models {
		if m.SupportsTask(task) && keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Cheapest returns the lowest-cost model supporting task. Local models are
// considered only when allowLocal is set.
func (c *Catalog) Cheapest(task TaskType, allowLocal bool) (ModelConfig, bool) {
	candidates := c.supporting(task, func(m ModelConfig) bool { return allowLocal || !m.IsLocal() })
	if len(candidates) == 0 {
		return ModelConfig{}, false
	}
	return slices.MinFunc(candidates, compareCost), true
}

// MostExpensiveRemote returns the highest-cost non-local model supporting task.
func (c *Catalog) MostExpensiveRemote(task TaskType) (ModelConfig, bool) {
	candidates := c.supporting(task, func(m ModelConfig) bool { return !m.IsLocal() })
	if len(candidates) == 0 {
		return ModelConfig{}, false
	}
	return slices.MaxFunc(candidates, compareCost), true
}

// LocalFor returns a local model supporting task.
func (c *Catalog) LocalFor(task TaskType) (ModelConfig, bool) {
	candidates := c.supporting(task, ModelConfig.IsLocal)
	if len(candidates) == 0 {
		return ModelConfig{}, false
	}
	return candidates[0], true
}

func compareCost(a, b ModelConfig) int {
	switch {
	case a.CostPer1kTokens < b.CostPer1kTokens:
		return -1
	case a.CostPer1kTokens > b.CostPer1kTokens:
		return 1
	default:
		return 0
	}
}
