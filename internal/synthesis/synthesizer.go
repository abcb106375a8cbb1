package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/antinvestor/codereview/internal/issue"
)

const (
	defaultTopIssues   = 5
	splitPRHighIssues  = 2
	shortPathSegments  = 3
	unknownPathDisplay = "unknown"
)

// PassOutcome is what the summary needs to know about one review pass.
type PassOutcome struct {
	Name       string
	IssueCount int
	Success    bool
	Fallback   bool
	Skipped    bool
	Error      string
}

// Synthesizer renders the deterministic executive summary of a review.
type Synthesizer struct {
	topIssues int
}

// NewSynthesizer creates a synthesizer listing the five most severe issues.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{topIssues: defaultTopIssues}
}

// Summarize renders a markdown summary of the deduplicated issues and the
// pass outcomes. The same input always yields the same text.
func (s *Synthesizer) Summarize(issues []*issue.Issue, passes []PassOutcome) string {
	var b strings.Builder

	b.WriteString("## Code Review Summary\n\n")
	b.WriteString("**Overview**: ")
	if len(issues) == 0 {
		b.WriteString("No issues found.")
	} else {
		fmt.Fprintf(&b, "Found **%d** %s requiring attention.", len(issues), plural(len(issues), "issue"))
	}
	b.WriteString("\n\n")

	if len(issues) > 0 {
		writeSeverityBreakdown(&b, issues)
		writeTypeBreakdown(&b, issues)
		s.writeTopIssues(&b, issues)
	}

	writePasses(&b, passes)

	if recs := recommendations(issues); len(recs) > 0 {
		b.WriteString("\n### Recommendations\n\n")
		for i, rec := range recs {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
	}

	return b.String()
}

func writeSeverityBreakdown(b *strings.Builder, issues []*issue.Issue) {
	b.WriteString("### Issues by Severity\n\n")
	counts := issue.CountBySeverity(issues)
	for _, sev := range issue.Severities() {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(b, "- **%s**: %d\n", sev, n)
		}
	}
	b.WriteString("\n")
}

func writeTypeBreakdown(b *strings.Builder, issues []*issue.Issue) {
	b.WriteString("### Issues by Type\n\n")
	counts := issue.CountByType(issues)
	types := make([]issue.Type, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		fmt.Fprintf(b, "- **%s**: %d\n", t, counts[t])
	}
	b.WriteString("\n")
}

func (s *Synthesizer) writeTopIssues(b *strings.Builder, issues []*issue.Issue) {
	ranked := make([]*issue.Issue, len(issues))
	copy(ranked, issues)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Severity.Rank() != ranked[j].Severity.Rank() {
			return ranked[i].Severity.Rank() > ranked[j].Severity.Rank()
		}
		if ranked[i].FilePath != ranked[j].FilePath {
			return ranked[i].FilePath < ranked[j].FilePath
		}
		return ranked[i].LineStart < ranked[j].LineStart
	})
	if len(ranked) > s.topIssues {
		ranked = ranked[:s.topIssues]
	}

	b.WriteString("### Top Issues\n\n")
	for _, i := range ranked {
		fmt.Fprintf(b, "**[%s] %s** (%s:%d)\n", i.Severity, i.Title, shortPath(i.FilePath), i.LineStart)
		if i.Description != "" {
			fmt.Fprintf(b, "- %s\n", firstLine(i.Description))
		}
		b.WriteString("\n")
	}
}

func writePasses(b *strings.Builder, passes []PassOutcome) {
	b.WriteString("### Analysis Passes\n\n")
	for _, p := range passes {
		fmt.Fprintf(b, "- **%s**: %d %s", p.Name, p.IssueCount, plural(p.IssueCount, "issue"))
		switch {
		case p.Skipped:
			b.WriteString(" (skipped)")
		case p.Fallback:
			b.WriteString(" (degraded)")
		case !p.Success:
			b.WriteString(" (failed)")
		}
		b.WriteString("\n")
	}
}

func recommendations(issues []*issue.Issue) []string {
	counts := issue.CountBySeverity(issues)
	var recs []string

	if n := counts[issue.SeverityCritical]; n > 0 {
		recs = append(recs, fmt.Sprintf("**Address critical issues first** - %d critical %s detected.",
			n, plural(n, "issue")))
	}
	if counts[issue.SeverityHigh] > splitPRHighIssues {
		recs = append(recs, "**Consider splitting this PR** - Multiple high-priority issues detected.")
	}

	security := 0
	for _, i := range issues {
		if i.Type.IsSecurityRelated() {
			security++
		}
	}
	if security > 0 {
		recs = append(recs, fmt.Sprintf("**Security review required** - %d security %s found.",
			security, plural(security, "issue")))
	}
	return recs
}

func shortPath(path string) string {
	if path == "" {
		return unknownPathDisplay
	}
	parts := strings.Split(path, "/")
	if len(parts) > shortPathSegments {
		return strings.Join(parts[len(parts)-shortPathSegments:], "/")
	}
	return path
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
