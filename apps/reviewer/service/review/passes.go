package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/llm"
	"github.com/antinvestor/codereview/internal/plugin"
)

var errNoPluginExecutor = errors.New("no plugin executor configured")

// =============================================================================
// SAST pass
// =============================================================================

// SASTPass runs every SAST-capable plugin over the pull request.
type SASTPass struct {
	plugins PluginExecutor
}

// NewSASTPass creates the static analysis pass.
func NewSASTPass(plugins PluginExecutor) *SASTPass {
	return &SASTPass{plugins: plugins}
}

// Run executes the plugins and merges their findings.
func (p *SASTPass) Run(ctx context.Context, pr *PullRequest) (*PassResult, error) {
	if p.plugins == nil {
		return nil, errNoPluginExecutor
	}

	results := p.plugins.ExecuteByType(ctx, pr.AnalysisRequest(), plugin.SASTTypes()...)

	var issues []*issue.Issue
	var failed []string
	for _, r := range results {
		if !r.Success {
			failed = append(failed, fmt.Sprintf("%s: %s", r.PluginID, r.Error))
			continue
		}
		issues = append(issues, r.Issues...)
	}

	out := newPassResult(PassSAST, issues)
	out.Metadata["plugins_run"] = len(results)
	out.Metadata["plugins_failed"] = len(failed)
	if len(failed) > 0 {
		out.Metadata["plugin_errors"] = failed
	}

	util.Log(ctx).Debug("sast pass finished",
		"plugins", len(results),
		"failed", len(failed),
		"issues", len(out.Issues),
	)
	return out, nil
}

// =============================================================================
// LLM passes
// =============================================================================

// LLMPass asks a routed model to review the pull request with earlier
// findings as context.
type LLMPass struct {
	name         string
	kind         llm.PromptKind
	task         llm.TaskType
	defaultType  issue.Type
	contextOf    func(*issue.Issue) bool
	router       ModelRouter
	prompts      *llm.PromptBuilder
	maxDiffChars int
}

// NewPrimaryPass creates the general logic and bug review pass.
func NewPrimaryPass(router ModelRouter, prompts *llm.PromptBuilder, maxDiffChars int) *LLMPass {
	return &LLMPass{
		name:         PassLLMPrimary,
		kind:         llm.PromptPrimaryReview,
		task:         llm.TaskBugDetection,
		defaultType:  issue.TypeCodeSmell,
		contextOf:    func(*issue.Issue) bool { return true },
		router:       router,
		prompts:      prompts,
		maxDiffChars: maxDiffChars,
	}
}

// NewSecurityPass creates the security focused review pass. Only security
// findings of earlier passes are given to the model.
func NewSecurityPass(router ModelRouter, prompts *llm.PromptBuilder, maxDiffChars int) *LLMPass {
	return &LLMPass{
		name:         PassSecurity,
		kind:         llm.PromptSecurityReview,
		task:         llm.TaskSecurityAnalysis,
		defaultType:  issue.TypeSecurity,
		contextOf:    func(i *issue.Issue) bool { return i.Type.IsSecurityRelated() },
		router:       router,
		prompts:      prompts,
		maxDiffChars: maxDiffChars,
	}
}

// Name returns the pass name.
func (p *LLMPass) Name() string {
	return p.name
}

// Run prompts the routed model and parses its findings.
func (p *LLMPass) Run(ctx context.Context, pr *PullRequest, prior ...*PassResult) (*PassResult, error) {
	input := &llm.ReviewPromptInput{
		Title:         pr.Title,
		Description:   pr.Description,
		SourceBranch:  pr.SourceBranch,
		TargetBranch:  pr.TargetBranch,
		ChangedFiles:  pr.ChangedFiles,
		Diff:          pr.Diff,
		MaxDiffChars:  p.maxDiffChars,
		PriorFindings: p.priorFindings(prior),
	}

	prompt, err := p.prompts.Build(p.kind, input)
	if err != nil {
		return nil, fmt.Errorf("build %s prompt: %w", p.name, err)
	}

	resp, err := p.router.Execute(ctx, llm.Request{
		Task:           p.task,
		ReviewID:       pr.ReviewID,
		SystemPrompt:   p.prompts.SystemPrompt(p.kind),
		UserPrompt:     prompt,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("%s model call: %w", p.name, err)
	}

	findings, err := llm.ParseReviewFindings(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", p.name, err)
	}

	model := ""
	out := newPassResult(p.name, nil)
	if d := resp.Decision; d != nil {
		model = d.SelectedModel
		out.Metadata["model"] = d.SelectedModel
		out.Metadata["provider"] = string(d.Provider)
		out.Metadata["cost_usd"] = d.CostUSD
		out.Metadata["routed_fallback"] = d.Fallback
	}
	out.Metadata["prior_findings"] = len(input.PriorFindings)

	for _, f := range findings {
		if strings.TrimSpace(f.Title) == "" {
			continue
		}
		out.Issues = append(out.Issues, p.toIssue(pr, f, model))
	}
	return out, nil
}

func (p *LLMPass) priorFindings(prior []*PassResult) []llm.PromptFinding {
	var findings []llm.PromptFinding
	for _, r := range prior {
		if r == nil {
			continue
		}
		for _, i := range r.Issues {
			if !p.contextOf(i) {
				continue
			}
			findings = append(findings, llm.PromptFinding{
				Severity: string(i.Severity),
				Title:    i.Title,
				FilePath: i.FilePath,
				Line:     i.LineStart,
				RuleID:   i.RuleID,
			})
		}
	}
	return findings
}

func (p *LLMPass) toIssue(pr *PullRequest, f llm.ReviewFinding, model string) *issue.Issue {
	typ := p.defaultType
	if strings.TrimSpace(f.Category) != "" {
		typ = issue.ParseType(f.Category)
	}

	i := issue.New(issue.ParseSeverity(f.Severity), typ, issue.SourceLLM, strings.TrimSpace(f.Title))
	i.ReviewID = pr.ReviewID
	i.Description = f.Description
	i.FilePath = f.File
	i.LineStart = f.Line
	i.LineEnd = f.Line
	i.Suggestion = f.Suggestion
	i.Tool = model
	return i
}
