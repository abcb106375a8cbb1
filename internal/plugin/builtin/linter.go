package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/plugin"
)

// LinterPluginID identifies the style linter.
const LinterPluginID = "style-linter"

const (
	defaultMaxFunctionLength = 50
	defaultMaxLineLength     = 160
)

var (
	todoPattern   = regexp.MustCompile(`\b(TODO|FIXME|XXX)\b`)
	ticketPattern = regexp.MustCompile(`[A-Z][A-Z0-9]+-\d+|#\d+|https?://`)

	debugPrintPatterns = map[plugin.Language]*regexp.Regexp{
		plugin.LanguageGo:         regexp.MustCompile(`\b(fmt\.Print(ln|f)?|println)\(`),
		plugin.LanguageJava:       regexp.MustCompile(`System\.(out|err)\.print(ln)?\(|\.printStackTrace\(\)`),
		plugin.LanguageKotlin:     regexp.MustCompile(`\bprintln\(`),
		plugin.LanguageJavaScript: regexp.MustCompile(`console\.(log|debug)\(`),
		plugin.LanguageTypeScript: regexp.MustCompile(`console\.(log|debug)\(`),
		plugin.LanguagePython:     regexp.MustCompile(`^\s*print\(`),
	}

	functionStartPatterns = map[plugin.Language]*regexp.Regexp{
		plugin.LanguageGo:         regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?(\w+)\s*[\[(]`),
		plugin.LanguageJavaScript: regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(`),
		plugin.LanguageTypeScript: regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*[<(]`),
		plugin.LanguagePython:     regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)\s*\(`),
		plugin.LanguageJava:       regexp.MustCompile(`^\s*(?:public|protected|private)\s+(?:static\s+)?[\w<>\[\], ]+\s+(\w+)\s*\([^;]*$`),
	}
)

// StyleLinter reports maintainability problems in changed code.
type StyleLinter struct {
	maxFunctionLength int
	maxLineLength     int
	checkDebugPrints  bool
}

// NewStyleLinter creates the style linter plugin.
func NewStyleLinter() *StyleLinter {
	return &StyleLinter{
		maxFunctionLength: defaultMaxFunctionLength,
		maxLineLength:     defaultMaxLineLength,
		checkDebugPrints:  true,
	}
}

// Metadata implements plugin.Plugin.
func (l *StyleLinter) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:          LinterPluginID,
		Name:        "Style Linter",
		Version:     "1.0.0",
		Author:      "codereview",
		Description: "Flags untracked TODOs, debug output, long functions and long lines",
		Type:        plugin.TypeLinter,
		Languages: []plugin.Language{
			plugin.LanguageGo, plugin.LanguageJava, plugin.LanguageKotlin,
			plugin.LanguageJavaScript, plugin.LanguageTypeScript, plugin.LanguagePython,
		},
		Tags:     []string{"style", "maintainability"},
		Priority: 50,
		Enabled:  true,
	}
}

// Initialize implements plugin.Plugin.
func (l *StyleLinter) Initialize(_ context.Context, pc plugin.Context) error {
	l.maxFunctionLength = pc.Int("max_function_length", defaultMaxFunctionLength)
	l.maxLineLength = pc.Int("max_line_length", defaultMaxLineLength)
	l.checkDebugPrints = pc.Bool("check_debug_prints", true)
	if l.maxFunctionLength <= 0 {
		return fmt.Errorf("max_function_length must be positive, got %d", l.maxFunctionLength)
	}
	return nil
}

// Analyze implements plugin.Plugin.
func (l *StyleLinter) Analyze(ctx context.Context, req *plugin.AnalysisRequest) (*plugin.AnalysisResult, error) {
	files, err := collectSources(ctx, req)
	if err != nil {
		return nil, err
	}

	maxFn := l.maxFunctionLength
	overrides := plugin.Context{Config: req.ConfigFor(LinterPluginID)}
	if n := overrides.Int("max_function_length", 0); n > 0 {
		maxFn = n
	}

	var issues []*issue.Issue
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !l.Metadata().Supports(f.Language) {
			continue
		}

		issues = append(issues, l.checkTodos(f)...)
		if l.checkDebugPrints && !isTestPath(f.Path) {
			issues = append(issues, l.checkPrints(f)...)
		}
		issues = append(issues, l.checkLineLength(f)...)
		if f.Full {
			issues = append(issues, checkFunctionLength(f, maxFn)...)
		}
	}

	util.Log(ctx).Debug("style lint complete", "files", len(files), "issues", len(issues))

	result := plugin.NewResult(LinterPluginID, issues)
	result.Metadata["files_checked"] = len(files)
	return result, nil
}

// Shutdown implements plugin.Plugin.
func (l *StyleLinter) Shutdown(context.Context) error {
	return nil
}

func (l *StyleLinter) checkTodos(f sourceFile) []*issue.Issue {
	var issues []*issue.Issue
	for _, line := range f.Lines {
		if !todoPattern.MatchString(line.Text) || ticketPattern.MatchString(line.Text) {
			continue
		}
		i := issue.New(issue.SeverityInfo, issue.TypeCodeSmell, issue.SourceTool, "TODO without ticket reference")
		i.Description = "Untracked TODO comment: " + strings.TrimSpace(line.Text)
		i.FilePath = f.Path
		i.LineStart = line.Number
		i.LineEnd = line.Number
		i.RuleID = "STYLE-TODO-TICKET"
		i.Suggestion = "Link the TODO to a tracked ticket, e.g. TODO(PROJ-123)"
		issues = append(issues, i)
	}
	return issues
}

func (l *StyleLinter) checkPrints(f sourceFile) []*issue.Issue {
	pattern, ok := debugPrintPatterns[f.Language]
	if !ok {
		return nil
	}

	var issues []*issue.Issue
	for _, line := range f.Lines {
		if isCommentLine(line.Text) || !pattern.MatchString(line.Text) {
			continue
		}
		i := issue.New(issue.SeverityLow, issue.TypeCodeSmell, issue.SourceTool, "Debug output left in code")
		i.Description = "Direct console output bypasses structured logging"
		i.FilePath = f.Path
		i.LineStart = line.Number
		i.LineEnd = line.Number
		i.RuleID = "STYLE-DEBUG-PRINT"
		i.Suggestion = "Use the project logger or remove the statement"
		issues = append(issues, i)
	}
	return issues
}

func (l *StyleLinter) checkLineLength(f sourceFile) []*issue.Issue {
	if l.maxLineLength <= 0 {
		return nil
	}

	var issues []*issue.Issue
	for _, line := range f.Lines {
		if len(line.Text) <= l.maxLineLength {
			continue
		}
		i := issue.New(issue.SeverityInfo, issue.TypeStyle, issue.SourceTool, "Line too long")
		i.Description = fmt.Sprintf("Line has %d characters, limit is %d", len(line.Text), l.maxLineLength)
		i.FilePath = f.Path
		i.LineStart = line.Number
		i.LineEnd = line.Number
		i.RuleID = "STYLE-LINE-LENGTH"
		issues = append(issues, i)
	}
	return issues
}

// checkFunctionLength measures each function from its declaration to the
// next declaration or the end of file.
func checkFunctionLength(f sourceFile, limit int) []*issue.Issue {
	pattern, ok := functionStartPatterns[f.Language]
	if !ok {
		return nil
	}

	type fnStart struct {
		name string
		line int
	}
	var starts []fnStart
	for _, line := range f.Lines {
		if m := pattern.FindStringSubmatch(line.Text); m != nil {
			starts = append(starts, fnStart{name: m[1], line: line.Number})
		}
	}

	var issues []*issue.Issue
	for idx, start := range starts {
		end := len(f.Lines)
		if idx+1 < len(starts) {
			end = starts[idx+1].line - 1
		}
		end = trimTrailingBlank(f, start.line, end)

		length := end - start.line + 1
		if length <= limit {
			continue
		}
		i := issue.New(issue.SeverityMedium, issue.TypeCodeSmell, issue.SourceTool, "Function too long")
		i.Description = fmt.Sprintf("Function %s spans %d lines, limit is %d", start.name, length, limit)
		i.FilePath = f.Path
		i.LineStart = start.line
		i.LineEnd = end
		i.RuleID = "STYLE-FUNCTION-LENGTH"
		i.Suggestion = "Break the function into smaller, focused functions"
		issues = append(issues, i)
	}
	return issues
}

func trimTrailingBlank(f sourceFile, start, end int) int {
	for end > start && end-1 < len(f.Lines) && strings.TrimSpace(f.Lines[end-1].Text) == "" {
		end--
	}
	return end
}
