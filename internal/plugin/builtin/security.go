package builtin

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pitabwire/util"
	"gopkg.in/yaml.v3"

	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/plugin"
)

// SecurityPluginID identifies the pattern based security scanner.
const SecurityPluginID = "pattern-security"

//go:embed rules/security.yaml
var defaultSecurityRules []byte

// ruleSet is the on-disk form of the scanner rules.
type ruleSet struct {
	Patterns []patternRule `yaml:"patterns"`
	Secrets  []secretRule  `yaml:"secrets"`
}

type patternRule struct {
	ID        string            `yaml:"id"`
	Title     string            `yaml:"title"`
	Severity  issue.Severity    `yaml:"severity"`
	CWE       string            `yaml:"cwe"`
	OWASP     string            `yaml:"owasp"`
	Languages []plugin.Language `yaml:"languages"`
	Match     string            `yaml:"match"`
	Message   string            `yaml:"message"`
	Fix       string            `yaml:"fix"`

	re *regexp.Regexp
}

type secretRule struct {
	Kind  string `yaml:"kind"`
	Title string `yaml:"title"`
	Match string `yaml:"match"`

	re *regexp.Regexp
}

// parseRules decodes and compiles a rule document.
func parseRules(data []byte) (*ruleSet, error) {
	var rs ruleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	for i := range rs.Patterns {
		r := &rs.Patterns[i]
		if r.ID == "" || r.Match == "" {
			return nil, fmt.Errorf("pattern rule %d: id and match are required", i)
		}
		if r.Severity == "" {
			r.Severity = issue.SeverityMedium
		}
		re, err := regexp.Compile(r.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.re = re
	}

	for i := range rs.Secrets {
		r := &rs.Secrets[i]
		re, err := regexp.Compile(r.Match)
		if err != nil {
			return nil, fmt.Errorf("secret rule %s: %w", r.Kind, err)
		}
		r.re = re
	}
	return &rs, nil
}

// loadRules returns the embedded rules extended by the optional file at
// extraPath. A file rule with an existing id replaces the embedded one.
func loadRules(extraPath string) (*ruleSet, error) {
	rs, err := parseRules(defaultSecurityRules)
	if err != nil {
		return nil, err
	}
	if extraPath == "" {
		return rs, nil
	}

	data, err := os.ReadFile(extraPath)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	extra, err := parseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", extraPath, err)
	}

	index := make(map[string]int, len(rs.Patterns))
	for i, r := range rs.Patterns {
		index[r.ID] = i
	}
	for _, r := range extra.Patterns {
		if i, ok := index[r.ID]; ok {
			rs.Patterns[i] = r
			continue
		}
		rs.Patterns = append(rs.Patterns, r)
	}
	rs.Secrets = append(rs.Secrets, extra.Secrets...)
	return rs, nil
}

// SecurityScanner flags insecure coding patterns and committed secrets.
type SecurityScanner struct {
	rules        *ruleSet
	includeTests bool
}

// NewSecurityScanner creates the pattern security plugin.
func NewSecurityScanner() *SecurityScanner {
	return &SecurityScanner{}
}

// Metadata implements plugin.Plugin.
func (s *SecurityScanner) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:          SecurityPluginID,
		Name:        "Pattern Security Scanner",
		Version:     "1.0.0",
		Author:      "codereview",
		Description: "Detects injection, weak crypto, insecure TLS and committed secrets",
		Type:        plugin.TypeSecurity,
		Languages:   []plugin.Language{plugin.LanguageAll},
		Tags:        []string{"security", "secrets", "owasp"},
		Priority:    10,
		Enabled:     true,
	}
}

// Initialize implements plugin.Plugin.
func (s *SecurityScanner) Initialize(_ context.Context, pc plugin.Context) error {
	rules, err := loadRules(pc.String("rules_file", ""))
	if err != nil {
		return fmt.Errorf("%w: %w", plugin.ErrInvalidPlugin, err)
	}
	s.rules = rules
	s.includeTests = pc.Bool("include_tests", false)
	return nil
}

// Analyze implements plugin.Plugin.
func (s *SecurityScanner) Analyze(ctx context.Context, req *plugin.AnalysisRequest) (*plugin.AnalysisResult, error) {
	files, err := collectSources(ctx, req)
	if err != nil {
		return nil, err
	}

	var issues []*issue.Issue
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.includeTests && isTestPath(f.Path) {
			continue
		}
		issues = append(issues, s.scanPatterns(f)...)
		issues = append(issues, s.scanSecrets(f)...)
	}

	util.Log(ctx).Debug("security scan complete",
		"files", len(files),
		"issues", len(issues),
	)

	result := plugin.NewResult(SecurityPluginID, issues)
	result.Metadata["files_scanned"] = len(files)
	return result, nil
}

// Shutdown implements plugin.Plugin.
func (s *SecurityScanner) Shutdown(context.Context) error {
	return nil
}

func (s *SecurityScanner) scanPatterns(f sourceFile) []*issue.Issue {
	var issues []*issue.Issue
	for _, line := range f.Lines {
		if isCommentLine(line.Text) {
			continue
		}
		for _, r := range s.rules.Patterns {
			if !languageIn(f.Language, r.Languages) || !r.re.MatchString(line.Text) {
				continue
			}
			found := issue.New(r.Severity, issue.TypeVulnerability, issue.SourceTool, r.Title)
			found.Description = r.Message
			if r.CWE != "" {
				found.Description += " (" + r.CWE + ", OWASP " + r.OWASP + ")"
			}
			found.RuleID = r.ID
			found.Suggestion = r.Fix
			issues = append(issues, at(found, f.Path, line.Number))
		}
	}
	return issues
}

func (s *SecurityScanner) scanSecrets(f sourceFile) []*issue.Issue {
	if isNonCodeFile(f.Path) {
		return nil
	}

	var issues []*issue.Issue
	for _, line := range f.Lines {
		for _, r := range s.rules.Secrets {
			match := r.re.FindString(line.Text)
			if match == "" || looksLikePlaceholder(match) {
				continue
			}
			found := issue.New(issue.SeverityCritical, issue.TypeSecurity, issue.SourceTool, r.Title+" committed")
			found.Description = "Found " + redactSecret(match)
			found.RuleID = "SECRET-" + strings.ToUpper(r.Kind)
			found.Suggestion = "Revoke the credential and load it from the environment"
			issues = append(issues, at(found, f.Path, line.Number))
		}
	}
	return issues
}

// at pins an issue to a single line of path.
func at(i *issue.Issue, path string, line int) *issue.Issue {
	i.FilePath = path
	i.LineStart = line
	i.LineEnd = line
	return i
}

func looksLikePlaceholder(match string) bool {
	lower := strings.ToLower(match)
	for _, p := range []string{"example", "sample", "dummy", "fake", "xxxx", "placeholder"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
