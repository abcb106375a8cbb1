package review_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/codereview/apps/reviewer/service/review"
	"github.com/antinvestor/codereview/internal/diff"
	"github.com/antinvestor/codereview/internal/events"
	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/llm"
	"github.com/antinvestor/codereview/internal/plugin"
	"github.com/antinvestor/codereview/internal/plugin/builtin"
)

type fakeExecutor struct {
	results []*plugin.AnalysisResult
	types   []plugin.Type
}

func (e *fakeExecutor) ExecuteByType(_ context.Context, _ *plugin.AnalysisRequest, types ...plugin.Type) []*plugin.AnalysisResult {
	e.types = types
	return e.results
}

type fakeRouter struct {
	content string
	err     error
	reqs    []llm.Request
}

func (r *fakeRouter) Execute(_ context.Context, req llm.Request) (*llm.Response, error) {
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Response{
		Content: r.content,
		Decision: &llm.RoutingDecision{
			SelectedModel: "anthropic/claude-3.5-sonnet",
			Provider:      llm.ProviderOpenRouter,
			CostUSD:       0.002,
		},
	}, nil
}

func newPromptBuilder(t *testing.T) *llm.PromptBuilder {
	t.Helper()
	pb, err := llm.NewPromptBuilder()
	require.NoError(t, err)
	return pb
}

func TestSASTPass_MergesPluginResults(t *testing.T) {
	found := newTestIssue(issue.SeverityHigh, issue.TypeVulnerability, issue.SourceTool, "a.go", 3, "CWE-89")
	exec := &fakeExecutor{results: []*plugin.AnalysisResult{
		plugin.NewResult("pattern-security", []*issue.Issue{found}),
		plugin.ErrorResult("style-linter", "Execution timeout"),
		plugin.EmptyResult("architecture-lint"),
	}}

	out, err := review.NewSASTPass(exec).Run(context.Background(), testPR())

	require.NoError(t, err)
	assert.Equal(t, plugin.SASTTypes(), exec.types)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, found.ID, out.Issues[0].ID)
	assert.Equal(t, 3, out.Metadata["plugins_run"])
	assert.Equal(t, 1, out.Metadata["plugins_failed"])
}

func TestSASTPass_WithBuiltinPlugins(t *testing.T) {
	ctx := context.Background()
	m := plugin.NewManager()
	defer func() { require.NoError(t, m.Shutdown(ctx)) }()
	require.Equal(t, 3, m.LoadTable(ctx, builtin.Table(), nil))

	pr := testPR()
	pr.Diff = ""
	pr.ChangedFiles = nil

	out, err := review.NewSASTPass(m).Run(ctx, pr)

	require.NoError(t, err)
	assert.Empty(t, out.Issues)
	assert.Equal(t, 3, out.Metadata["plugins_run"])
}

func TestSASTPass_RequestPluginOverrides(t *testing.T) {
	ctx := context.Background()
	m := plugin.NewManager()
	defer func() { require.NoError(t, m.Shutdown(ctx)) }()
	m.LoadTable(ctx, builtin.Table(), nil)

	var payload events.ReviewRequestedPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"repository_id": "repo-1",
		"file_contents": {"calc/sum.go": "package calc\n\nfunc Sum() int {\n\ta := 1\n\tb := 2\n\tc := 3\n\treturn a + b + c\n}\n"},
		"plugin_config": {"style-linter": {"max_function_length": "3"}},
		"plugin_timeout_seconds": 30
	}`), &payload))

	pr := review.PullRequestFromPayload(&payload)
	req := pr.AnalysisRequest()
	assert.Equal(t, 30*time.Second, req.Timeout)
	assert.Equal(t, map[string]string{"max_function_length": "3"}, req.ConfigFor(builtin.LinterPluginID))

	out, err := review.NewSASTPass(m).Run(ctx, pr)
	require.NoError(t, err)

	var found bool
	for _, i := range out.Issues {
		if i.RuleID == "STYLE-FUNCTION-LENGTH" {
			found = true
			assert.Equal(t, "calc/sum.go", i.FilePath)
		}
	}
	assert.True(t, found, "request level max_function_length applies")

	payload.PluginConfig = nil
	out, err = review.NewSASTPass(m).Run(ctx, review.PullRequestFromPayload(&payload))
	require.NoError(t, err)
	for _, i := range out.Issues {
		assert.NotEqual(t, "STYLE-FUNCTION-LENGTH", i.RuleID)
	}
}

func TestSASTPass_NoExecutor(t *testing.T) {
	_, err := review.NewSASTPass(nil).Run(context.Background(), testPR())
	require.Error(t, err)
}

func TestPrimaryPass_ParsesFindings(t *testing.T) {
	router := &fakeRouter{content: "Here you go:\n```json\n" + `{"issues":[
		{"title":"Unchecked error","description":"Close error ignored","severity":"high","file":"db.go","line":12,"category":"BUG","suggestion":"check it"},
		{"title":"  ","severity":"low"},
		{"title":"Odd naming","severity":"weird","file":"db.go","line":3}
	]}` + "\n```"}
	pass := review.NewPrimaryPass(router, newPromptBuilder(t), 1000)

	prior := &review.PassResult{Name: review.PassSAST, Issues: []*issue.Issue{
		newTestIssue(issue.SeverityLow, issue.TypeStyle, issue.SourceTool, "db.go", 1, "LINE_LENGTH"),
	}}
	pr := testPR()
	out, err := pass.Run(context.Background(), pr, prior)

	require.NoError(t, err)
	require.Len(t, out.Issues, 2)

	first := out.Issues[0]
	assert.Equal(t, issue.SeverityHigh, first.Severity)
	assert.Equal(t, issue.TypeBug, first.Type)
	assert.Equal(t, issue.SourceLLM, first.Source)
	assert.Equal(t, "db.go", first.FilePath)
	assert.Equal(t, 12, first.LineStart)
	assert.Equal(t, "check it", first.Suggestion)
	assert.Equal(t, pr.ReviewID, first.ReviewID)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", first.Tool)

	second := out.Issues[1]
	assert.Equal(t, issue.SeverityMedium, second.Severity)
	assert.Equal(t, issue.TypeCodeSmell, second.Type)

	require.Len(t, router.reqs, 1)
	req := router.reqs[0]
	assert.Equal(t, llm.TaskBugDetection, req.Task)
	assert.Equal(t, "json", req.ResponseFormat)
	assert.Contains(t, req.UserPrompt, "LINE_LENGTH")
	assert.Equal(t, 1, out.Metadata["prior_findings"])
	assert.Equal(t, "anthropic/claude-3.5-sonnet", out.Metadata["model"])
}

func TestSecurityPass_OnlySecurityContext(t *testing.T) {
	router := &fakeRouter{content: `{"issues":[{"title":"Hardcoded secret","severity":"CRITICAL","file":"cfg.go","line":4}]}`}
	pass := review.NewSecurityPass(router, newPromptBuilder(t), 0)

	sast := &review.PassResult{Name: review.PassSAST, Issues: []*issue.Issue{
		newTestIssue(issue.SeverityHigh, issue.TypeVulnerability, issue.SourceTool, "db.go", 9, "CWE-89"),
		newTestIssue(issue.SeverityLow, issue.TypeStyle, issue.SourceTool, "db.go", 1, "LINE_LENGTH"),
	}}

	out, err := pass.Run(context.Background(), testPR(), sast, nil)

	require.NoError(t, err)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, issue.SeverityCritical, out.Issues[0].Severity)
	assert.Equal(t, issue.TypeSecurity, out.Issues[0].Type)

	req := router.reqs[0]
	assert.Equal(t, llm.TaskSecurityAnalysis, req.Task)
	assert.Contains(t, req.UserPrompt, "CWE-89")
	assert.NotContains(t, req.UserPrompt, "LINE_LENGTH")
}

func TestLLMPass_Errors(t *testing.T) {
	pb := newPromptBuilder(t)

	routerErr := &fakeRouter{err: llm.ErrProvider}
	_, err := review.NewPrimaryPass(routerErr, pb, 0).Run(context.Background(), testPR())
	require.ErrorIs(t, err, llm.ErrProvider)

	garbage := &fakeRouter{content: "I could not review this."}
	_, err = review.NewPrimaryPass(garbage, pb, 0).Run(context.Background(), testPR())
	require.ErrorIs(t, err, llm.ErrInvalidResponse)
}

const impactDiff = "diff --git a/internal/auth/session.go b/internal/auth/session.go\n" +
	"index 1111111..2222222 100644\n" +
	"--- a/internal/auth/session.go\n" +
	"+++ b/internal/auth/session.go\n" +
	"@@ -1,3 +1,4 @@\n" +
	" package auth\n" +
	" \n" +
	"+var sessionTTL = 0\n" +
	" func Validate() {}\n"

func mustParse(t *testing.T, raw string) *diff.Set {
	t.Helper()
	set, err := diff.Parse(raw)
	require.NoError(t, err)
	return set
}

func TestImpactPass_ScoresFiles(t *testing.T) {
	pr := testPR()
	pr.Diff = impactDiff
	pr.ChangedFiles = []string{"internal/auth/session.go", "internal/auth/token.go", "docs/readme.md"}
	pr.FileContents = map[string]string{
		"internal/api/handler.go": "auth.session check",
	}

	prior := &review.PassResult{Name: review.PassSAST, Issues: []*issue.Issue{
		newTestIssue(issue.SeverityHigh, issue.TypeVulnerability, issue.SourceTool, "internal/auth/session.go", 3, "CWE-798"),
		newTestIssue(issue.SeverityHigh, issue.TypeVulnerability, issue.SourceTool, "internal/auth/session.go", 4, "CWE-798"),
	}}

	out, err := review.NewImpactPass().Run(context.Background(), pr, prior)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Metadata["files_analyzed"])

	set := review.Analyze(pr, mustParse(t, pr.Diff), prior)
	require.NotEmpty(t, set)
	top := set[0]
	assert.Equal(t, "internal/auth/session.go", top.Path)
	assert.True(t, top.CriticalPath)
	assert.Equal(t, 2, top.PriorFindings)
	assert.Equal(t, 1, top.AddedLines)
	assert.Contains(t, top.AffectedFiles, "internal/auth/token.go")
	assert.Contains(t, top.AffectedFiles, "internal/api/handler.go")
	// 0 churn + 2 affected*5 + 25 critical + 10 prior
	assert.Equal(t, 45, top.RiskScore)
	assert.Empty(t, out.Issues)
}

func TestImpactPass_ReportsRiskyChange(t *testing.T) {
	pr := testPR()
	pr.Diff = ""
	pr.ChangedFiles = []string{
		"internal/payment/charge.go",
		"internal/payment/refund.go",
		"internal/payment/ledger.go",
		"internal/payment/fees.go",
		"internal/payment/currency.go",
		"internal/payment/webhook.go",
		"internal/payment/retry.go",
	}
	prior := &review.PassResult{Name: review.PassLLMPrimary, Issues: []*issue.Issue{
		newTestIssue(issue.SeverityCritical, issue.TypeBug, issue.SourceLLM, "internal/payment/charge.go", 1, ""),
		newTestIssue(issue.SeverityHigh, issue.TypeBug, issue.SourceLLM, "internal/payment/charge.go", 9, ""),
		newTestIssue(issue.SeverityHigh, issue.TypeBug, issue.SourceLLM, "internal/payment/charge.go", 19, ""),
	}}

	out, err := review.NewImpactPass().Run(context.Background(), pr, prior)
	require.NoError(t, err)

	var charge *issue.Issue
	for _, i := range out.Issues {
		assert.Equal(t, review.ImpactRuleID, i.RuleID)
		assert.Equal(t, issue.SourceTool, i.Source)
		if i.FilePath == "internal/payment/charge.go" {
			charge = i
		}
	}
	require.NotNil(t, charge)
	// 30 blast + 25 critical + 15 prior
	assert.Equal(t, issue.SeverityHigh, charge.Severity)
	assert.Contains(t, charge.Description, "**Risk Score**: 70/100")
}

func TestImpactSeverity(t *testing.T) {
	assert.Equal(t, issue.SeverityCritical, review.ImpactSeverity(90))
	assert.Equal(t, issue.SeverityHigh, review.ImpactSeverity(70))
	assert.Equal(t, issue.SeverityMedium, review.ImpactSeverity(50))
	assert.Equal(t, issue.SeverityLow, review.ImpactSeverity(10))
}
