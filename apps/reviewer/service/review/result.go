package review

import (
	"time"

	"github.com/antinvestor/codereview/internal/events"
	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/synthesis"
)

// Pass names.
const (
	PassSAST       = "SAST"
	PassLLMPrimary = "LLM_PRIMARY"
	PassSecurity   = "SECURITY"
	PassImpact     = "IMPACT"
)

// Metadata keys set on degraded results.
const (
	MetaFallback = "fallback"
	MetaSkipped  = "skipped"
)

// PassResult is the outcome of one pipeline stage. Issues is never nil.
type PassResult struct {
	Name     string         `json:"name"`
	Success  bool           `json:"success"`
	Issues   []*issue.Issue `json:"issues"`
	Metadata map[string]any `json:"metadata"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`

	// Fallback marks a result produced by degraded-mode handling.
	Fallback bool `json:"fallback"`
}

func newPassResult(name string, issues []*issue.Issue) *PassResult {
	if issues == nil {
		issues = []*issue.Issue{}
	}
	return &PassResult{
		Name:     name,
		Success:  true,
		Issues:   issues,
		Metadata: map[string]any{},
	}
}

// fallbackPassResult stands in for a stage that failed or timed out.
func fallbackPassResult(name string, err error) *PassResult {
	r := newPassResult(name, nil)
	r.Success = false
	r.Fallback = true
	r.Error = err.Error()
	r.Metadata[MetaFallback] = true
	r.Metadata["timestamp"] = time.Now().UTC()
	return r
}

// skippedPassResult stands in for a stage disabled by configuration.
func skippedPassResult(name, reason string) *PassResult {
	r := newPassResult(name, nil)
	r.Metadata[MetaSkipped] = true
	r.Metadata["reason"] = reason
	return r
}

// Skipped reports whether configuration disabled the pass.
func (r *PassResult) Skipped() bool {
	v, _ := r.Metadata[MetaSkipped].(bool)
	return v
}

func (r *PassResult) outcome() synthesis.PassOutcome {
	return synthesis.PassOutcome{
		Name:       r.Name,
		IssueCount: len(r.Issues),
		Success:    r.Success,
		Fallback:   r.Fallback,
		Skipped:    r.Skipped(),
		Error:      r.Error,
	}
}

// ReviewResult aggregates a complete pipeline run.
type ReviewResult struct {
	ReviewID events.ReviewID    `json:"review_id"`
	Stage    events.ReviewStage `json:"stage"`

	SAST       *PassResult `json:"sast"`
	LLMPrimary *PassResult `json:"llm_primary"`
	Security   *PassResult `json:"security"`
	Impact     *PassResult `json:"impact"`

	Deduplicated []*issue.Issue `json:"deduplicated_issues"`
	Saved        []*issue.Issue `json:"saved_issues"`
	Summary      string         `json:"summary"`

	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// Passes returns the pass results in execution order, skipping absent ones.
func (r *ReviewResult) Passes() []*PassResult {
	var passes []*PassResult
	for _, p := range []*PassResult{r.SAST, r.LLMPrimary, r.Security, r.Impact} {
		if p != nil {
			passes = append(passes, p)
		}
	}
	return passes
}

// AllIssues collects the findings of every pass.
func (r *ReviewResult) AllIssues() []*issue.Issue {
	var all []*issue.Issue
	for _, p := range r.Passes() {
		all = append(all, p.Issues...)
	}
	return all
}

// DegradedPasses names the passes that fell back.
func (r *ReviewResult) DegradedPasses() []string {
	var names []string
	for _, p := range r.Passes() {
		if p.Fallback {
			names = append(names, p.Name)
		}
	}
	return names
}

// CompletedPayload converts the result into the outgoing message.
func (r *ReviewResult) CompletedPayload(repositoryID string) *events.ReviewCompletedPayload {
	counts := make(map[string]int)
	for sev, n := range issue.CountBySeverity(r.Saved) {
		counts[string(sev)] = n
	}
	return &events.ReviewCompletedPayload{
		ReviewID:       r.ReviewID,
		RepositoryID:   repositoryID,
		Stage:          r.Stage,
		Success:        r.Success,
		IssueCount:     len(r.Saved),
		SeverityCounts: counts,
		DegradedPasses: r.DegradedPasses(),
		Summary:        r.Summary,
		Error:          r.Error,
		DurationMS:     r.Duration.Milliseconds(),
		CompletedAt:    time.Now().UTC(),
	}
}
