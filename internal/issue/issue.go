// Package issue defines review findings and their persistence.
package issue

import (
	"strings"
	"time"

	"github.com/antinvestor/codereview/internal/events"
)

// Severity ranks how serious an issue is.
type Severity string

// Severity constants, most severe first.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Severities lists all severities from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// Rank returns a comparable weight; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// MoreSevereThan reports whether s outranks other.
func (s Severity) MoreSevereThan(other Severity) bool {
	return s.Rank() > other.Rank()
}

// ParseSeverity maps free-form text (as produced by LLMs) to a severity.
// Unknown values map to MEDIUM.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "BLOCKER":
		return SeverityCritical
	case "HIGH", "MAJOR", "ERROR":
		return SeverityHigh
	case "MEDIUM", "MODERATE", "WARNING":
		return SeverityMedium
	case "LOW", "MINOR":
		return SeverityLow
	case "INFO", "INFORMATIONAL", "NOTE":
		return SeverityInfo
	}
	return SeverityMedium
}

// Type classifies what kind of problem an issue describes.
type Type string

// Issue type constants.
const (
	TypeBug           Type = "BUG"
	TypeVulnerability Type = "VULNERABILITY"
	TypeCodeSmell     Type = "CODE_SMELL"
	TypeLogic         Type = "LOGIC"
	TypePerformance   Type = "PERFORMANCE"
	TypeSecurity      Type = "SECURITY"
	TypeStyle         Type = "STYLE"
	TypeSuggestion    Type = "SUGGESTION"
	TypeTest          Type = "TEST"
	TypeDocumentation Type = "DOCUMENTATION"
)

// ParseType maps free-form category text to an issue type.
// Unknown values map to SUGGESTION.
func ParseType(s string) Type {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")

	switch Type(normalized) {
	case TypeBug, TypeVulnerability, TypeCodeSmell, TypeLogic, TypePerformance,
		TypeSecurity, TypeStyle, TypeSuggestion, TypeTest, TypeDocumentation:
		return Type(normalized)
	}

	switch normalized {
	case "SMELL", "MAINTAINABILITY":
		return TypeCodeSmell
	case "DOCS":
		return TypeDocumentation
	case "TESTING":
		return TypeTest
	}
	return TypeSuggestion
}

// IsSecurityRelated reports whether the type concerns security.
func (t Type) IsSecurityRelated() bool {
	return t == TypeVulnerability || t == TypeSecurity
}

// Source identifies what produced an issue.
type Source string

// Source constants.
const (
	SourceSonarQube  Source = "SONARQUBE"
	SourceCheckstyle Source = "CHECKSTYLE"
	SourcePMD        Source = "PMD"
	SourceSpotBugs   Source = "SPOTBUGS"
	SourceTool       Source = "TOOL"
	SourceLLM        Source = "LLM"
	SourceCustom     Source = "CUSTOM"
)

// IsTool reports whether the source is a deterministic analysis tool.
func (s Source) IsTool() bool {
	switch s {
	case SourceSonarQube, SourceCheckstyle, SourcePMD, SourceSpotBugs, SourceTool:
		return true
	case SourceLLM, SourceCustom:
		return false
	}
	return false
}

// Issue is a single review finding.
type Issue struct {
	ID            string          `json:"id"                       gorm:"primaryKey"`
	ReviewID      events.ReviewID `json:"review_id"                gorm:"index"`
	Severity      Severity        `json:"severity"`
	Type          Type            `json:"type"`
	Source        Source          `json:"source"`
	Tool          string          `json:"tool,omitempty"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	FilePath      string          `json:"file_path,omitempty"`
	LineStart     int             `json:"line_start,omitempty"`
	LineEnd       int             `json:"line_end,omitempty"`
	RuleID        string          `json:"rule_id,omitempty"`
	Suggestion    string          `json:"suggestion,omitempty"`
	FixedCode     string          `json:"fixed_code,omitempty"`
	FalsePositive bool            `json:"false_positive"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TableName returns the table name for the Issue model.
func (Issue) TableName() string {
	return "review_issues"
}

// LineRange returns the inclusive line range, normalizing a missing end.
func (i *Issue) LineRange() (int, int) {
	end := i.LineEnd
	if end < i.LineStart {
		end = i.LineStart
	}
	return i.LineStart, end
}

// New creates an issue with a fresh ID and creation time.
func New(severity Severity, issueType Type, source Source, title string) *Issue {
	return &Issue{
		ID:        events.NewRecordID(),
		Severity:  severity,
		Type:      issueType,
		Source:    source,
		Title:     title,
		CreatedAt: time.Now(),
	}
}

// CountBySeverity counts issues per severity.
func CountBySeverity(issues []*Issue) map[Severity]int {
	counts := make(map[Severity]int)
	for _, i := range issues {
		counts[i.Severity]++
	}
	return counts
}

// CountByType counts issues per type.
func CountByType(issues []*Issue) map[Type]int {
	counts := make(map[Type]int)
	for _, i := range issues {
		counts[i.Type]++
	}
	return counts
}
