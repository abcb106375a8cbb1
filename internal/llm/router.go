package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/events"
)

const defaultDecisionLimit = 50

// Request is one routed LLM invocation.
type Request struct {
	Task           TaskType
	ReviewID       events.ReviewID
	SystemPrompt   string
	UserPrompt     string
	MaxTokens      int
	Temperature    float64
	ResponseFormat string
}

// Response is the routed invocation outcome.
type Response struct {
	Content  string
	Usage    Usage
	Decision *RoutingDecision
}

// Router selects a model per task, invokes it and records the decision.
type Router struct {
	catalog   *Catalog
	strategy  Strategy
	clients   *Clients
	store     DecisionStore
	estimator TokenEstimator
	costs     CostTracker
	limiter   *ProviderLimiter
	now       func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithStrategy overrides the strategy named in the catalog.
func WithStrategy(s Strategy) RouterOption {
	return func(r *Router) {
		r.strategy = s
	}
}

// WithDecisionStore sets where routing decisions are persisted.
func WithDecisionStore(s DecisionStore) RouterOption {
	return func(r *Router) {
		r.store = s
	}
}

// WithEstimator replaces the character based token estimator.
func WithEstimator(e TokenEstimator) RouterOption {
	return func(r *Router) {
		r.estimator = e
	}
}

// WithCostTracker enables daily spend tracking.
func WithCostTracker(t CostTracker) RouterOption {
	return func(r *Router) {
		r.costs = t
	}
}

// WithProviderLimiter rate limits calls per provider.
func WithProviderLimiter(l *ProviderLimiter) RouterOption {
	return func(r *Router) {
		r.limiter = l
	}
}

// NewRouter creates a router over the catalog and provider clients.
func NewRouter(catalog *Catalog, clients *Clients, opts ...RouterOption) (*Router, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: model catalog is required", ErrConfiguration)
	}
	if clients == nil {
		clients = NewClientSet()
	}

	r := &Router{
		catalog:   catalog,
		clients:   clients,
		store:     NewMemoryDecisionStore(),
		estimator: CharEstimator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.strategy == nil {
		s, err := ParseStrategy(catalog.Strategy)
		if err != nil {
			return nil, err
		}
		r.strategy = s
	}
	return r, nil
}

// Strategy returns the active strategy.
func (r *Router) Strategy() Strategy {
	return r.strategy
}

func (r *Router) env() SelectionEnv {
	env := SelectionEnv{Catalog: r.catalog}
	if local, ok := r.clients.Local(); ok {
		env.Local = local
	}
	return env
}

// Select runs the strategy for a task without invoking a model.
func (r *Router) Select(ctx context.Context, task TaskType) (ModelSelection, error) {
	if _, err := ParseTaskType(string(task)); err != nil {
		return ModelSelection{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return r.strategy.Select(ctx, task, r.env())
}

// Execute routes the request to a model, falling back at most once to the
// catalog fallback model when the provider call fails.
func (r *Router) Execute(ctx context.Context, req Request) (*Response, error) {
	log := util.Log(ctx).With("task_type", req.Task, "review_id", req.ReviewID)
	start := r.now()

	selection, err := r.Select(ctx, req.Task)
	if err != nil {
		return nil, err
	}

	decision := r.newDecision(req, selection, start)
	r.saveDecision(ctx, decision)

	log.Debug("model selected",
		"model", selection.ModelID(),
		"provider", selection.Provider(),
		"strategy", r.strategy.Name(),
	)

	resp, err := r.invoke(ctx, selection, req)
	if err != nil {
		if !r.canFallback(ctx, selection, err) {
			r.fail(ctx, decision, err, start)
			return nil, err
		}

		fallback, fbErr := r.fallbackSelection()
		if fbErr != nil {
			r.fail(ctx, decision, err, start)
			return nil, fmt.Errorf("%w: %w", fbErr, err)
		}

		log.WithError(err).Warn("model invocation failed, trying fallback",
			"model", selection.ModelID(),
			"fallback_model", fallback.ModelID(),
		)

		decision.Reasoning += "\nFALLBACK: " + err.Error()
		decision.Fallback = true
		decision.SelectedModel = fallback.ModelID()
		decision.Provider = fallback.Provider()
		selection = fallback

		resp, err = r.invoke(ctx, selection, req)
		if err != nil {
			r.fail(ctx, decision, err, start)
			return nil, fmt.Errorf("fallback also failed: %w", err)
		}
	}

	r.complete(ctx, decision, selection, req, resp, start)

	return &Response{
		Content:  resp.Content,
		Usage:    resp.Usage,
		Decision: decision,
	}, nil
}

// Decisions returns recent routing decisions, newest first.
func (r *Router) Decisions(ctx context.Context, limit int) ([]*RoutingDecision, error) {
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	return r.store.Recent(ctx, limit)
}

// Stats aggregates routing decisions per model since the given time.
func (r *Router) Stats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	return r.store.Stats(ctx, since)
}

// SpentToday returns the tracked spend for the current day.
func (r *Router) SpentToday(ctx context.Context) (float64, error) {
	if r.costs == nil {
		return 0, nil
	}
	return r.costs.Spent(ctx, r.now())
}

func (r *Router) invoke(ctx context.Context, sel ModelSelection, req Request) (*CompletionResponse, error) {
	client, err := r.clients.For(sel.Provider())
	if err != nil {
		return nil, err
	}

	if r.limiter != nil {
		if waitErr := r.limiter.Wait(ctx, sel.Provider()); waitErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, providerError(sel.Provider(), waitErr)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = sel.Model.MaxTokens
	}

	resp, err := client.Complete(ctx, &CompletionRequest{
		Model:          sel.ModelID(),
		SystemPrompt:   req.SystemPrompt,
		UserPrompt:     req.UserPrompt,
		MaxTokens:      maxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: req.ResponseFormat,
	})
	if err != nil {
		return nil, providerError(sel.Provider(), err)
	}
	return resp, nil
}

// canFallback reports whether a failed invocation may be retried on the
// fallback model. Configuration problems and cancelled requests are final.
func (r *Router) canFallback(ctx context.Context, sel ModelSelection, err error) bool {
	switch {
	case sel.Fallback:
		return false
	case ctx.Err() != nil:
		return false
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrUnsupportedProvider):
		return false
	default:
		return true
	}
}

func (r *Router) fallbackSelection() (ModelSelection, error) {
	if r.catalog.FallbackModel == "" {
		return ModelSelection{}, fmt.Errorf("%w: no fallback model configured", ErrConfiguration)
	}
	return ModelSelection{Model: r.catalog.ResolveModel(r.catalog.FallbackModel), Fallback: true}, nil
}

type selectionReasoning struct {
	TaskType        TaskType     `json:"taskType"`
	Strategy        StrategyName `json:"strategy"`
	SelectedModel   string       `json:"selectedModel"`
	Provider        Provider     `json:"provider"`
	QualityPriority int          `json:"qualityPriority"`
	CanUseLocal     bool         `json:"canUseLocal"`
}

func (r *Router) newDecision(req Request, sel ModelSelection, start time.Time) *RoutingDecision {
	reasoning, _ := json.Marshal(selectionReasoning{
		TaskType:        req.Task,
		Strategy:        r.strategy.Name(),
		SelectedModel:   sel.ModelID(),
		Provider:        sel.Provider(),
		QualityPriority: req.Task.QualityPriority(),
		CanUseLocal:     req.Task.CanUseLocalModel(),
	})

	return &RoutingDecision{
		ID:            events.NewRecordID(),
		ReviewID:      req.ReviewID,
		TaskType:      req.Task,
		Strategy:      r.strategy.Name(),
		SelectedModel: sel.ModelID(),
		Provider:      sel.Provider(),
		Reasoning:     string(reasoning),
		InputTokens:   r.estimator.Estimate(req.SystemPrompt) + r.estimator.Estimate(req.UserPrompt),
		Fallback:      sel.Fallback,
		CreatedAt:     start,
		UpdatedAt:     start,
	}
}

func (r *Router) fail(ctx context.Context, d *RoutingDecision, err error, start time.Time) {
	d.Success = false
	d.Error = err.Error()
	d.LatencyMS = r.now().Sub(start).Milliseconds()
	d.UpdatedAt = r.now()
	r.saveDecision(ctx, d)
}

func (r *Router) complete(
	ctx context.Context,
	d *RoutingDecision,
	sel ModelSelection,
	req Request,
	resp *CompletionResponse,
	start time.Time,
) {
	input := resp.Usage.InputTokens
	if input == 0 {
		input = r.estimator.Estimate(req.SystemPrompt) + r.estimator.Estimate(req.UserPrompt)
	}
	output := resp.Usage.OutputTokens
	if output == 0 {
		output = r.estimator.Estimate(resp.Content)
	}

	d.InputTokens = input
	d.OutputTokens = output
	d.CostUSD = sel.Model.EstimateCost(input, output)
	d.LatencyMS = r.now().Sub(start).Milliseconds()
	d.Success = true
	d.UpdatedAt = r.now()
	r.saveDecision(ctx, d)

	resp.Usage.InputTokens = input
	resp.Usage.OutputTokens = output
	resp.Usage.TotalTokens = input + output
	resp.Usage.CostUSD = d.CostUSD

	r.trackCost(ctx, d.CostUSD)
}

func (r *Router) trackCost(ctx context.Context, cost float64) {
	if r.costs == nil || !r.catalog.CostTracking.Enabled || cost <= 0 {
		return
	}

	total, err := r.costs.Add(ctx, r.now(), cost)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("failed to record LLM spend")
		return
	}
	if crossedThreshold(total, cost, r.catalog.CostTracking) {
		util.Log(ctx).Warn("daily LLM budget alert threshold reached",
			"spent_usd", total,
			"daily_budget_usd", r.catalog.CostTracking.DailyBudgetUSD,
			"alert_threshold", r.catalog.CostTracking.AlertThreshold,
		)
	}
}

func (r *Router) saveDecision(ctx context.Context, d *RoutingDecision) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, d); err != nil {
		util.Log(ctx).WithError(err).Warn("failed to save routing decision", "decision_id", d.ID)
	}
}
