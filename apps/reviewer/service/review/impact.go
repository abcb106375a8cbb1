package review

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/diff"
	"github.com/antinvestor/codereview/internal/issue"
)

// ImpactRuleID is the rule id of code-graph impact findings.
const ImpactRuleID = "CODE_GRAPH_IMPACT"

const (
	impactReportThreshold = 50
	impactHighThreshold   = 70
	impactCritThreshold   = 85

	churnLinesPerPoint = 5
	maxChurnScore      = 30
	pointsPerAffected  = 5
	maxBlastScore      = 30
	criticalPathScore  = 25
	maxPriorScore      = 15
	maxAffectedListed  = 10
)

var criticalPathMarkers = []string{"auth", "security", "payment", "config", "migration"}

// FileImpact is the estimated blast radius of a change to one file.
type FileImpact struct {
	Path          string   `json:"path"`
	AddedLines    int      `json:"added_lines"`
	DeletedLines  int      `json:"deleted_lines"`
	AffectedFiles []string `json:"affected_files,omitempty"`
	CriticalPath  bool     `json:"critical_path"`
	PriorFindings int      `json:"prior_findings"`
	RiskScore     int      `json:"risk_score"`
}

// ImpactPass estimates cross-file impact of the change from the diff and the
// post-change file contents. It does not call a model.
type ImpactPass struct{}

// NewImpactPass creates the code-graph impact pass.
func NewImpactPass() *ImpactPass {
	return &ImpactPass{}
}

// Run scores every changed file and reports the risky ones.
func (p *ImpactPass) Run(ctx context.Context, pr *PullRequest, prior ...*PassResult) (*PassResult, error) {
	set, err := diff.Parse(pr.Diff)
	if err != nil {
		return nil, err
	}

	impacts := Analyze(pr, set, prior...)

	out := newPassResult(PassImpact, nil)
	files, added, deleted := set.Stats()
	out.Metadata["files_analyzed"] = len(impacts)
	out.Metadata["diff_files"] = files
	out.Metadata["lines_added"] = added
	out.Metadata["lines_deleted"] = deleted

	maxScore := 0
	for _, fi := range impacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		maxScore = max(maxScore, fi.RiskScore)
		if fi.RiskScore < impactReportThreshold {
			continue
		}
		out.Issues = append(out.Issues, impactIssue(pr, fi))
	}
	out.Metadata["max_risk_score"] = maxScore

	util.Log(ctx).Debug("impact pass finished",
		"files", len(impacts),
		"issues", len(out.Issues),
		"max_risk", maxScore,
	)
	return out, nil
}

// Analyze computes the impact of every file touched by the pull request.
// Findings of earlier passes on the same file raise its risk.
func Analyze(pr *PullRequest, set *diff.Set, prior ...*PassResult) []FileImpact {
	stats := make(map[string]*diff.File)
	for _, f := range set.Files {
		stats[f.Name()] = f
	}

	paths := changedPaths(pr, set)
	findings := priorFindingWeights(prior)

	impacts := make([]FileImpact, 0, len(paths))
	for _, p := range paths {
		fi := FileImpact{Path: p, CriticalPath: isCriticalPath(p)}
		if f, ok := stats[p]; ok {
			fi.AddedLines = f.AddedLines
			fi.DeletedLines = f.DeletedLines
		}
		fi.AffectedFiles = affectedFiles(p, paths, pr.FileContents)
		fi.PriorFindings = findings[p].count
		fi.RiskScore = riskScore(fi, findings[p].weight)
		impacts = append(impacts, fi)
	}

	sort.SliceStable(impacts, func(i, j int) bool {
		return impacts[i].RiskScore > impacts[j].RiskScore
	})
	return impacts
}

func changedPaths(pr *PullRequest, set *diff.Set) []string {
	seen := make(map[string]struct{})
	var paths []string
	add := func(p string) {
		if p == "" || p == "/dev/null" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	for _, f := range set.Files {
		add(f.Name())
	}
	for _, p := range pr.ChangedFiles {
		add(p)
	}
	return paths
}

type findingWeight struct {
	count  int
	weight int
}

func priorFindingWeights(prior []*PassResult) map[string]findingWeight {
	out := make(map[string]findingWeight)
	for _, r := range prior {
		if r == nil {
			continue
		}
		for _, i := range r.Issues {
			if i.FilePath == "" {
				continue
			}
			w := out[i.FilePath]
			w.count++
			if i.Severity.Rank() >= issue.SeverityHigh.Rank() {
				w.weight += 5
			} else {
				w.weight += 2
			}
			out[i.FilePath] = w
		}
	}
	return out
}

// affectedFiles approximates dependents: other changed files in the same
// directory, plus files whose contents mention the changed file's name.
func affectedFiles(target string, paths []string, contents map[string]string) []string {
	dir := path.Dir(target)
	stem := strings.TrimSuffix(path.Base(target), path.Ext(target))

	seen := make(map[string]struct{})
	var affected []string
	add := func(p string) {
		if p == target {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		affected = append(affected, p)
	}

	for _, p := range paths {
		if path.Dir(p) == dir {
			add(p)
		}
	}
	if len(stem) >= 3 {
		for p, body := range contents {
			if strings.Contains(body, stem) {
				add(p)
			}
		}
	}
	sort.Strings(affected)
	return affected
}

func isCriticalPath(p string) bool {
	lower := strings.ToLower(p)
	for _, marker := range criticalPathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func riskScore(fi FileImpact, priorWeight int) int {
	score := min(maxChurnScore, (fi.AddedLines+fi.DeletedLines)/churnLinesPerPoint)
	score += min(maxBlastScore, len(fi.AffectedFiles)*pointsPerAffected)
	if fi.CriticalPath {
		score += criticalPathScore
	}
	score += min(maxPriorScore, priorWeight)
	return min(100, score)
}

// ImpactSeverity maps a risk score to a severity.
func ImpactSeverity(score int) issue.Severity {
	switch {
	case score >= impactCritThreshold:
		return issue.SeverityCritical
	case score >= impactHighThreshold:
		return issue.SeverityHigh
	case score >= impactReportThreshold:
		return issue.SeverityMedium
	default:
		return issue.SeverityLow
	}
}

func impactIssue(pr *PullRequest, fi FileImpact) *issue.Issue {
	i := issue.New(ImpactSeverity(fi.RiskScore), issue.TypeCodeSmell, issue.SourceTool, "High-impact change detected")
	i.ReviewID = pr.ReviewID
	i.FilePath = fi.Path
	i.LineStart = 1
	i.LineEnd = 1
	i.RuleID = ImpactRuleID
	i.Tool = "code-graph"
	i.Description = impactDescription(fi)
	i.Suggestion = "Review dependent components and add tests covering the affected paths."
	return i
}

func impactDescription(fi FileImpact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This change touches %d added and %d removed lines and may affect **%d** other files.\n",
		fi.AddedLines, fi.DeletedLines, len(fi.AffectedFiles))
	if fi.CriticalPath {
		b.WriteString("The file lies on a critical path.\n")
	}
	if fi.PriorFindings > 0 {
		fmt.Fprintf(&b, "Earlier passes reported %d findings in this file.\n", fi.PriorFindings)
	}
	if len(fi.AffectedFiles) > 0 {
		b.WriteString("\n**Affected files**:\n")
		for idx, f := range fi.AffectedFiles {
			if idx == maxAffectedListed {
				fmt.Fprintf(&b, "- ... and %d more\n", len(fi.AffectedFiles)-maxAffectedListed)
				break
			}
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	fmt.Fprintf(&b, "\n**Risk Score**: %d/100", fi.RiskScore)
	return b.String()
}
