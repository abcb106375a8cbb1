package review

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/events"
	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/settings"
	"github.com/antinvestor/codereview/internal/synthesis"
)

// Orchestrator errors.
var (
	ErrPassTimeout  = errors.New("pass timed out")
	ErrPassPanicked = errors.New("pass panicked")
	ErrNoPassResult = errors.New("pass returned no result")
)

// Default stage deadlines.
const (
	DefaultLLMPassTimeout      = 5 * time.Minute
	DefaultSecurityPassTimeout = 3 * time.Minute
	DefaultImpactPassTimeout   = 2 * time.Minute
)

// SASTRunner runs the static analysis pass.
type SASTRunner interface {
	Run(ctx context.Context, pr *PullRequest) (*PassResult, error)
}

// PassRunner runs a pass that consumes earlier pass results.
type PassRunner interface {
	Run(ctx context.Context, pr *PullRequest, prior ...*PassResult) (*PassResult, error)
}

// Timeouts bounds each wrapped stage. Zero disables the deadline.
type Timeouts struct {
	LLMPrimary time.Duration
	Security   time.Duration
	Impact     time.Duration
}

// DefaultTimeouts returns the standard stage deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		LLMPrimary: DefaultLLMPassTimeout,
		Security:   DefaultSecurityPassTimeout,
		Impact:     DefaultImpactPassTimeout,
	}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTimeouts sets the stage deadlines.
func WithTimeouts(t Timeouts) OrchestratorOption {
	return func(o *Orchestrator) {
		o.timeouts = t
	}
}

// WithNotifier sets the progress sink.
func WithNotifier(n ProgressNotifier) OrchestratorOption {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithSettings sets the per-project configuration resolver.
func WithSettings(s SettingsResolver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

// WithDetector replaces the duplicate detector.
func WithDetector(d *synthesis.Detector) OrchestratorOption {
	return func(o *Orchestrator) {
		o.detector = d
	}
}

// Orchestrator sequences the review passes of one pull request and
// synthesizes their findings. It holds no per-review state, so one instance
// serves concurrent reviews.
type Orchestrator struct {
	sast     SASTRunner
	primary  PassRunner
	security PassRunner
	impact   PassRunner

	store       IssueStore
	detector    *synthesis.Detector
	synthesizer *synthesis.Synthesizer
	notifier    ProgressNotifier
	settings    SettingsResolver
	timeouts    Timeouts
}

// NewOrchestrator creates a review orchestrator.
func NewOrchestrator(
	sast SASTRunner,
	primary PassRunner,
	security PassRunner,
	impact PassRunner,
	store IssueStore,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		sast:        sast,
		primary:     primary,
		security:    security,
		impact:      impact,
		store:       store,
		detector:    synthesis.NewDetector(),
		synthesizer: synthesis.NewSynthesizer(),
		timeouts:    DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes INIT, SAST, LLM_PRIMARY, SECURITY, IMPACT and SYNTHESIS in
// order. A failing pass degrades to a fallback result; only a synthesis
// failure ends the review as FAILED. The returned result is never nil.
func (o *Orchestrator) Run(ctx context.Context, pr *PullRequest) (result *ReviewResult) {
	start := time.Now()
	if pr.ReviewID.IsZero() {
		pr.ReviewID = events.NewReviewID()
	}

	log := util.Log(ctx).With("review_id", pr.ReviewID.String(), "repository_id", pr.RepositoryID)
	result = &ReviewResult{ReviewID: pr.ReviewID, Stage: events.StageInit}

	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, result, fmt.Errorf("%w: %v", ErrPassPanicked, r))
			log.Error("review pipeline panicked", "panic", r, "stack", string(debug.Stack()))
		}
		result.Duration = time.Since(start)
	}()

	log.Info("starting review pipeline", "changed_files", len(pr.ChangedFiles))
	o.progress(ctx, pr.ReviewID, events.StageInit, events.ProgressStarted, "Review started")

	scope := pr.Scope()
	sastEnabled := o.enabled(ctx, scope, settings.KeySASTEnabled)
	llmEnabled := o.enabled(ctx, scope, settings.KeyLLMEnabled)

	o.enter(ctx, result, events.StageSAST, "Running static analysis")
	if sastEnabled {
		result.SAST = o.runStage(ctx, PassSAST, 0, func(ctx context.Context) (*PassResult, error) {
			return o.sast.Run(ctx, pr)
		})
	} else {
		result.SAST = skippedPassResult(PassSAST, "disabled by "+settings.KeySASTEnabled)
	}

	o.enter(ctx, result, events.StageLLMPrimary, "Running primary model review")
	if llmEnabled {
		result.LLMPrimary = o.runStage(ctx, PassLLMPrimary, o.timeouts.LLMPrimary, func(ctx context.Context) (*PassResult, error) {
			return o.primary.Run(ctx, pr, result.SAST)
		})
	} else {
		result.LLMPrimary = skippedPassResult(PassLLMPrimary, "disabled by "+settings.KeyLLMEnabled)
	}

	o.enter(ctx, result, events.StageSecurity, "Running security review")
	if llmEnabled {
		result.Security = o.runStage(ctx, PassSecurity, o.timeouts.Security, func(ctx context.Context) (*PassResult, error) {
			return o.security.Run(ctx, pr, result.SAST, result.LLMPrimary)
		})
	} else {
		result.Security = skippedPassResult(PassSecurity, "disabled by "+settings.KeyLLMEnabled)
	}

	// Impact deliberately ignores the security pass output.
	o.enter(ctx, result, events.StageImpact, "Analyzing change impact")
	result.Impact = o.runStage(ctx, PassImpact, o.timeouts.Impact, func(ctx context.Context) (*PassResult, error) {
		return o.impact.Run(ctx, pr, result.SAST, result.LLMPrimary)
	})

	o.enter(ctx, result, events.StageSynthesis, "Synthesizing results")
	if err := o.synthesize(ctx, pr, result); err != nil {
		log.WithError(err).Error("review synthesis failed")
		o.fail(ctx, result, err)
		return result
	}

	result.Stage = events.StageCompleted
	result.Success = true
	o.progress(ctx, pr.ReviewID, events.StageCompleted, events.ProgressCompleted,
		fmt.Sprintf("Review completed with %d issues", len(result.Saved)))

	log.Info("review pipeline completed",
		"issues", len(result.Saved),
		"degraded_passes", result.DegradedPasses(),
		"duration", time.Since(start).String(),
	)
	return result
}

func (o *Orchestrator) enter(ctx context.Context, result *ReviewResult, stage events.ReviewStage, message string) {
	result.Stage = stage
	o.progress(ctx, result.ReviewID, stage, events.ProgressInProgress, message)
}

func (o *Orchestrator) fail(ctx context.Context, result *ReviewResult, err error) {
	result.Stage = events.StageFailed
	result.Success = false
	result.Error = err.Error()
	o.progress(ctx, result.ReviewID, events.StageFailed, events.ProgressFailed, err.Error())
}

func (o *Orchestrator) enabled(ctx context.Context, scope settings.Scope, key string) bool {
	if o.settings == nil {
		return true
	}
	return o.settings.GetBool(ctx, scope, key)
}

func (o *Orchestrator) progress(
	ctx context.Context,
	reviewID events.ReviewID,
	stage events.ReviewStage,
	status events.ProgressStatus,
	message string,
) {
	if o.notifier == nil {
		return
	}
	o.notifier.Progress(ctx, reviewID, stage, status, message)
}

type stageOutcome struct {
	result *PassResult
	err    error
}

// runStage runs fn under its own deadline and converts any failure into a
// fallback result. The stage context is cancelled when the deadline passes,
// so well-behaved passes abort their remote calls.
func (o *Orchestrator) runStage(
	ctx context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (*PassResult, error),
) *PassResult {
	start := time.Now()

	var stageCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		stageCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan stageOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				util.Log(ctx).Error("review pass panicked",
					"pass", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- stageOutcome{err: fmt.Errorf("%w: %v", ErrPassPanicked, r)}
			}
		}()
		res, err := fn(stageCtx)
		done <- stageOutcome{result: res, err: err}
	}()

	var out stageOutcome
	select {
	case out = <-done:
	case <-stageCtx.Done():
		out.err = stageCtx.Err()
	}

	if out.err == nil && out.result == nil {
		out.err = ErrNoPassResult
	}
	if out.err != nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		out.err = fmt.Errorf("%w after %s: %w", ErrPassTimeout, timeout, out.err)
	}

	result := out.result
	if out.err != nil {
		util.Log(ctx).WithError(out.err).Warn("review pass failed, continuing with degraded result",
			"pass", name,
		)
		result = fallbackPassResult(name, out.err)
	}

	result.Name = name
	if result.Issues == nil {
		result.Issues = []*issue.Issue{}
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Duration = time.Since(start)
	return result
}

func (o *Orchestrator) synthesize(ctx context.Context, pr *PullRequest, result *ReviewResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: synthesis: %v", ErrPassPanicked, r)
		}
	}()

	all := result.AllIssues()
	for _, i := range all {
		i.ReviewID = pr.ReviewID
	}

	result.Deduplicated = o.detector.Deduplicate(ctx, all)

	passes := result.Passes()
	outcomes := make([]synthesis.PassOutcome, 0, len(passes))
	for _, p := range passes {
		outcomes = append(outcomes, p.outcome())
	}
	result.Summary = o.synthesizer.Summarize(result.Deduplicated, outcomes)

	saved, err := o.store.SaveAll(ctx, result.Deduplicated)
	if err != nil {
		return fmt.Errorf("persist issues: %w", err)
	}
	if saved == nil {
		saved = []*issue.Issue{}
	}
	result.Saved = saved

	if o.notifier != nil {
		for _, i := range saved {
			o.notifier.IssueDetected(ctx, &events.IssueDetectedPayload{
				ReviewID:  pr.ReviewID,
				IssueID:   i.ID,
				Severity:  string(i.Severity),
				Type:      string(i.Type),
				Title:     i.Title,
				FilePath:  i.FilePath,
				LineStart: i.LineStart,
			})
		}
	}
	return nil
}
