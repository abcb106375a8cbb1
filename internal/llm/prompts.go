package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// PromptKind names a review prompt template.
type PromptKind string

// Review prompt kinds.
const (
	PromptPrimaryReview  PromptKind = "primary_review"
	PromptSecurityReview PromptKind = "security_review"
)

// System prompts per kind.
const (
	primarySystemPrompt  = "You are an expert code reviewer. You answer with JSON only."
	securitySystemPrompt = "You are an application security engineer reviewing code changes. You answer with JSON only."
)

// PromptBuilder builds prompts for review passes.
type PromptBuilder struct {
	templates map[PromptKind]*template.Template
}

// NewPromptBuilder creates a new prompt builder.
func NewPromptBuilder() (*PromptBuilder, error) {
	pb := &PromptBuilder{
		templates: make(map[PromptKind]*template.Template),
	}

	templates := map[PromptKind]string{
		PromptPrimaryReview:  primaryReviewTemplate,
		PromptSecurityReview: securityReviewTemplate,
	}

	for kind, tmpl := range templates {
		t, err := template.New(string(kind)).Funcs(templateFuncs).Parse(tmpl)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", kind, err)
		}
		pb.templates[kind] = t
	}

	return pb, nil
}

// Build builds the user prompt for the given kind and data.
func (pb *PromptBuilder) Build(kind PromptKind, data *ReviewPromptInput) (string, error) {
	t, ok := pb.templates[kind]
	if !ok {
		return "", fmt.Errorf("unknown prompt: %s", kind)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}

// SystemPrompt returns the system prompt for a kind.
func (pb *PromptBuilder) SystemPrompt(kind PromptKind) string {
	if kind == PromptSecurityReview {
		return securitySystemPrompt
	}
	return primarySystemPrompt
}

// templateFuncs provides template helper functions.
//
//nolint:gochecknoglobals // Template functions are inherently global
var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"truncate": func(n int, s string) string {
		if n <= 0 || len(s) <= n {
			return s
		}
		return s[:n] + "\n... (truncated)"
	},
}

// ReviewPromptInput is the input for the review prompts.
type ReviewPromptInput struct {
	Title         string
	Description   string
	SourceBranch  string
	TargetBranch  string
	ChangedFiles  []string
	Diff          string
	MaxDiffChars  int
	PriorFindings []PromptFinding
}

// PromptFinding summarises an earlier finding given to the model as context.
type PromptFinding struct {
	Severity string
	Title    string
	FilePath string
	Line     int
	RuleID   string
}

const findingsSchema = `Respond with a JSON object matching this schema:
{
  "issues": [
    {
      "title": "string",
      "description": "string",
      "severity": "CRITICAL|HIGH|MEDIUM|LOW|INFO",
      "file": "string",
      "line": number,
      "category": "BUG|VULNERABILITY|CODE_SMELL|LOGIC|PERFORMANCE|SECURITY|STYLE|TEST|DOCUMENTATION",
      "suggestion": "string"
    }
  ]
}
Return {"issues": []} when there is nothing to report.`

const primaryReviewTemplate = `Review the following pull request.

## Pull Request
Title: {{.Title}}
{{- if .SourceBranch}}
Branches: {{.SourceBranch}} -> {{.TargetBranch}}
{{- end}}
{{- if .Description}}

{{.Description}}
{{- end}}

## Changed Files
{{- range .ChangedFiles}}
- {{.}}
{{- end}}

## Diff
` + "```diff" + `
{{truncate .MaxDiffChars .Diff}}
` + "```" + `
{{- if .PriorFindings}}

## Static Analysis Findings
These were already reported by static analysis. Do not repeat them.
{{- range .PriorFindings}}
- [{{.Severity}}] {{.FilePath}}:{{.Line}} {{.Title}}{{if .RuleID}} ({{.RuleID}}){{end}}
{{- end}}
{{- end}}

## Instructions
1. Look for bugs, logic errors, performance problems and maintainability issues
2. Report only problems introduced or touched by this change
3. Give the line number in the new version of the file

` + findingsSchema

const securityReviewTemplate = `Perform a security review of the following pull request.

## Pull Request
Title: {{.Title}}

## Changed Files
{{- range .ChangedFiles}}
- {{.}}
{{- end}}

## Diff
` + "```diff" + `
{{truncate .MaxDiffChars .Diff}}
` + "```" + `
{{- if .PriorFindings}}

## Findings From Earlier Passes
Confirm, escalate or extend these. Do not repeat them unchanged.
{{- range .PriorFindings}}
- [{{.Severity}}] {{.FilePath}}:{{.Line}} {{.Title}}{{if .RuleID}} ({{.RuleID}}){{end}}
{{- end}}
{{- end}}

## Instructions
1. Check for injection, broken authentication and authorization, sensitive data exposure and insecure configuration
2. Check for secrets committed to the repository
3. Use category VULNERABILITY or SECURITY
4. Give the line number in the new version of the file

` + findingsSchema

// ReviewFinding is one issue reported by a review prompt.
type ReviewFinding struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Category    string `json:"category"`
	Suggestion  string `json:"suggestion"`
}

type reviewFindings struct {
	Issues []ReviewFinding `json:"issues"`
}

// ParseReviewFindings decodes a review response. The JSON may be wrapped in
// a markdown code fence or surrounded by prose.
func ParseReviewFindings(content string) ([]ReviewFinding, error) {
	body := extractJSON(content)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidResponse)
	}

	var parsed reviewFindings
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if parsed.Issues == nil {
		parsed.Issues = []ReviewFinding{}
	}
	return parsed.Issues, nil
}

func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if start := strings.Index(s, "```"); start >= 0 {
		rest := s[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
