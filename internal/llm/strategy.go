package llm

import (
	"context"
	"fmt"
	"strings"
)

// StrategyName names a model selection strategy.
type StrategyName string

// Strategy names.
const (
	StrategyCostOptimized StrategyName = "cost_optimized"
	StrategyQualityFirst  StrategyName = "quality_first"
	StrategyBalanced      StrategyName = "balanced"
)

// ModelSelection is the outcome of a strategy.
type ModelSelection struct {
	Model ModelConfig
	// Fallback marks a selection made after a failed attempt. Fallback
	// selections are never escalated again.
	Fallback bool
}

// ModelID returns the selected model id.
func (s ModelSelection) ModelID() string { return s.Model.ModelID }

// Provider returns the selected provider.
func (s ModelSelection) Provider() Provider { return s.Model.Provider }

// SelectionEnv is what a strategy may consult.
type SelectionEnv struct {
	Catalog *Catalog
	// Local is nil when no local runtime is configured.
	Local LocalRuntime
}

func (e SelectionEnv) localReachable(ctx context.Context) bool {
	return e.Local != nil && e.Local.IsReachable(ctx)
}

func (e SelectionEnv) defaultModel() (ModelSelection, error) {
	if e.Catalog == nil || e.Catalog.DefaultModel == "" {
		return ModelSelection{}, fmt.Errorf("%w: No default model configured", ErrConfiguration)
	}
	return ModelSelection{Model: e.Catalog.ResolveModel(e.Catalog.DefaultModel)}, nil
}

// Strategy picks a model for a task.
type Strategy interface {
	Name() StrategyName
	Select(ctx context.Context, task TaskType, env SelectionEnv) (ModelSelection, error)
}

// ParseStrategy maps a configuration value to a strategy. Both
// "cost_optimized" and "COST-OPTIMIZED" spellings are accepted.
func ParseStrategy(s string) (Strategy, error) {
	name := StrategyName(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch name {
	case StrategyCostOptimized, "":
		return CostOptimized{}, nil
	case StrategyQualityFirst:
		return QualityFirst{}, nil
	case StrategyBalanced:
		return Balanced{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown routing strategy %q", ErrConfiguration, s)
	}
}

// CostOptimized prefers a reachable local model for local-eligible tasks,
// then the cheapest supporting model, then the default model.
type CostOptimized struct{}

// Name implements Strategy.
func (CostOptimized) Name() StrategyName { return StrategyCostOptimized }

// Select implements Strategy.
func (CostOptimized) Select(ctx context.Context, task TaskType, env SelectionEnv) (ModelSelection, error) {
	if env.Catalog == nil {
		return env.defaultModel()
	}

	localOK := task.CanUseLocalModel() && env.localReachable(ctx)
	if localOK {
		if m, ok := env.Catalog.LocalFor(task); ok {
			return ModelSelection{Model: m}, nil
		}
	}
	if m, ok := env.Catalog.Cheapest(task, localOK); ok {
		return ModelSelection{Model: m}, nil
	}
	return env.defaultModel()
}

// QualityFirst picks the most expensive remote model supporting the task.
// Price stands in for capability here; it is not a capability ranking.
type QualityFirst struct{}

// Name implements Strategy.
func (QualityFirst) Name() StrategyName { return StrategyQualityFirst }

// Select implements Strategy.
func (QualityFirst) Select(_ context.Context, task TaskType, env SelectionEnv) (ModelSelection, error) {
	if env.Catalog != nil {
		if m, ok := env.Catalog.MostExpensiveRemote(task); ok {
			return ModelSelection{Model: m}, nil
		}
	}
	return env.defaultModel()
}

// Balanced uses QualityFirst for high-capability tasks, CostOptimized for
// local-eligible tasks when the local runtime is up, and the cheapest remote
// model otherwise.
type Balanced struct{}

// Name implements Strategy.
func (Balanced) Name() StrategyName { return StrategyBalanced }

// Select implements Strategy.
func (Balanced) Select(ctx context.Context, task TaskType, env SelectionEnv) (ModelSelection, error) {
	switch {
	case task.RequiresHighCapability():
		return QualityFirst{}.Select(ctx, task, env)
	case task.CanUseLocalModel() && env.localReachable(ctx):
		return CostOptimized{}.Select(ctx, task, env)
	}

	if env.Catalog != nil {
		if m, ok := env.Catalog.Cheapest(task, false); ok {
			return ModelSelection{Model: m}, nil
		}
	}
	return env.defaultModel()
}
