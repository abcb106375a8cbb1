package builtin

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/plugin"
)

// ArchitecturePluginID identifies the layering and dependency checker.
const ArchitecturePluginID = "architecture-lint"

const defaultGodObjectMethods = 20

// forbiddenDeps lists imports each layer must not depend on.
var forbiddenDeps = map[string][]string{
	"handlers":   {"repository", "repositories", "dao", "datastore"},
	"repository": {"handlers", "handler", "controller", "controllers"},
	"business":   {"net/http", "gin", "echo", "fiber", "chi"},
	"domain":     {"database", "sql", "gorm", "repository", "infrastructure"},
	"models":     {"net/http", "gin", "handlers", "repository"},
}

// layerAliases folds directory names onto the layers above.
var layerAliases = map[string]string{
	"handlers":     "handlers",
	"handler":      "handlers",
	"controllers":  "handlers",
	"controller":   "handlers",
	"repository":   "repository",
	"repositories": "repository",
	"business":     "business",
	"domain":       "domain",
	"models":       "models",
	"entities":     "models",
}

var (
	goImportBlock  = regexp.MustCompile(`import\s*\(([^)]+)\)|import\s+(?:\w+\s+)?"([^"]+)"`)
	jsImport       = regexp.MustCompile(`import\s+.*from\s+['"]([^'"]+)['"]`)
	pyImport       = regexp.MustCompile(`(?m)^\s*(?:from\s+(\S+)\s+)?import\s+(\S+)`)
	goMethodDecl   = regexp.MustCompile(`(?m)^func\s+(?:\([^)]+\)\s+)?\w+\s*[\[(]`)
	pyMethodDecl   = regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(`)
	jsMethodDecl   = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:async\s+)?function\s+\w+`)
	serviceLocator = regexp.MustCompile(`\.GetService\(|ServiceLocator\.|Container\.Get\(|\.Resolve\(`)
	directDBAccess = regexp.MustCompile(`db\.(Query|Exec|Raw)\(|sql\.Open\(|gorm\.Open\(|mongo\.Connect\(`)
)

// ArchitectureLinter checks changed files for layering and design problems.
type ArchitectureLinter struct {
	godObjectMethods int
}

// NewArchitectureLinter creates the architecture lint plugin.
func NewArchitectureLinter() *ArchitectureLinter {
	return &ArchitectureLinter{godObjectMethods: defaultGodObjectMethods}
}

// Metadata implements plugin.Plugin.
func (a *ArchitectureLinter) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:          ArchitecturePluginID,
		Name:        "Architecture Linter",
		Version:     "1.0.0",
		Author:      "codereview",
		Description: "Checks layer dependencies, service locators and oversized files",
		Type:        plugin.TypeSAST,
		Languages: []plugin.Language{
			plugin.LanguageGo, plugin.LanguageJavaScript, plugin.LanguageTypeScript, plugin.LanguagePython,
		},
		Tags:     []string{"architecture", "layering"},
		Priority: 40,
		Enabled:  true,
	}
}

// Initialize implements plugin.Plugin.
func (a *ArchitectureLinter) Initialize(_ context.Context, pc plugin.Context) error {
	a.godObjectMethods = pc.Int("god_object_methods", defaultGodObjectMethods)
	return nil
}

// Analyze implements plugin.Plugin. Only files with full content are
// inspected since imports rarely appear in diff hunks.
func (a *ArchitectureLinter) Analyze(ctx context.Context, req *plugin.AnalysisRequest) (*plugin.AnalysisResult, error) {
	files, err := collectSources(ctx, req)
	if err != nil {
		return nil, err
	}

	var issues []*issue.Issue
	checked := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !f.Full || isTestPath(f.Path) || !a.Metadata().Supports(f.Language) {
			continue
		}
		checked++

		issues = append(issues, a.checkDependencies(f)...)
		issues = append(issues, a.checkPatterns(f)...)
	}

	util.Log(ctx).Debug("architecture lint complete", "files", checked, "issues", len(issues))

	result := plugin.NewResult(ArchitecturePluginID, issues)
	result.Metadata["files_checked"] = checked
	return result, nil
}

// Shutdown implements plugin.Plugin.
func (a *ArchitectureLinter) Shutdown(context.Context) error {
	return nil
}

func (a *ArchitectureLinter) checkDependencies(f sourceFile) []*issue.Issue {
	layer := detectLayer(f.Path)
	forbidden, ok := forbiddenDeps[layer]
	if !ok {
		return nil
	}

	var issues []*issue.Issue
	for _, imp := range extractImports(f.Content, f.Language) {
		lower := strings.ToLower(imp)
		for _, dep := range forbidden {
			if !importMatches(lower, dep) {
				continue
			}
			i := issue.New(issue.SeverityMedium, issue.TypeCodeSmell, issue.SourceTool, "Forbidden layer dependency")
			i.Description = layer + " layer should not depend on " + dep + " (imports " + imp + ")"
			i.FilePath = f.Path
			i.LineStart = findLineNumber(f.Content, imp)
			i.LineEnd = i.LineStart
			i.RuleID = "ARCH-LAYER-DEPENDENCY"
			i.Suggestion = "Depend on an interface owned by the " + layer + " layer instead"
			issues = append(issues, i)
			break
		}
	}
	return issues
}

func (a *ArchitectureLinter) checkPatterns(f sourceFile) []*issue.Issue {
	var issues []*issue.Issue

	if a.godObjectMethods > 0 && countMethods(f.Content, f.Language) > a.godObjectMethods {
		i := issue.New(issue.SeverityLow, issue.TypeCodeSmell, issue.SourceTool, "File has too many responsibilities")
		i.Description = "File declares more functions than the configured limit"
		i.FilePath = f.Path
		i.LineStart = 1
		i.RuleID = "ARCH-GOD-OBJECT"
		i.Suggestion = "Consider splitting into smaller, focused components"
		issues = append(issues, i)
	}

	if loc := serviceLocator.FindStringIndex(f.Content); loc != nil {
		i := issue.New(issue.SeverityLow, issue.TypeCodeSmell, issue.SourceTool, "Service locator usage")
		i.Description = "Service locator pattern detected, prefer dependency injection"
		i.FilePath = f.Path
		i.LineStart = lineAt(f.Content, loc[0])
		i.LineEnd = i.LineStart
		i.RuleID = "ARCH-SERVICE-LOCATOR"
		i.Suggestion = "Use constructor injection instead of service locator"
		issues = append(issues, i)
	}

	if isHandlerPath(f.Path) {
		if loc := directDBAccess.FindStringIndex(f.Content); loc != nil {
			i := issue.New(issue.SeverityMedium, issue.TypeCodeSmell, issue.SourceTool, "Handler accesses database directly")
			i.Description = "Request handlers should go through a repository"
			i.FilePath = f.Path
			i.LineStart = lineAt(f.Content, loc[0])
			i.LineEnd = i.LineStart
			i.RuleID = "ARCH-HANDLER-DB"
			i.Suggestion = "Inject a repository into the handler"
			issues = append(issues, i)
		}
	}

	return issues
}

func detectLayer(path string) string {
	for _, segment := range strings.Split(strings.ToLower(path), "/") {
		name := strings.TrimSuffix(segment, filepath.Ext(segment))
		if layer, ok := layerAliases[name]; ok {
			return layer
		}
	}
	return ""
}

func importMatches(imp, dep string) bool {
	if strings.Contains(dep, "/") {
		return imp == dep || strings.HasSuffix(imp, "/"+dep)
	}
	for _, part := range strings.FieldsFunc(imp, func(r rune) bool { return r == '/' || r == '.' }) {
		if part == dep {
			return true
		}
	}
	return false
}

func extractImports(content string, lang plugin.Language) []string {
	var imports []string

	switch lang {
	case plugin.LanguageGo:
		for _, match := range goImportBlock.FindAllStringSubmatch(content, -1) {
			if match[1] == "" {
				imports = append(imports, match[2])
				continue
			}
			for _, line := range strings.Split(match[1], "\n") {
				line = strings.TrimSpace(line)
				if line == "" || strings.HasPrefix(line, "//") {
					continue
				}
				parts := strings.Fields(line)
				imports = append(imports, strings.Trim(parts[len(parts)-1], `"`))
			}
		}
	case plugin.LanguageJavaScript, plugin.LanguageTypeScript:
		for _, match := range jsImport.FindAllStringSubmatch(content, -1) {
			imports = append(imports, match[1])
		}
	case plugin.LanguagePython:
		for _, match := range pyImport.FindAllStringSubmatch(content, -1) {
			if match[1] != "" {
				imports = append(imports, match[1])
			} else {
				imports = append(imports, match[2])
			}
		}
	default:
	}

	return imports
}

func countMethods(content string, lang plugin.Language) int {
	switch lang {
	case plugin.LanguageGo:
		return len(goMethodDecl.FindAllString(content, -1))
	case plugin.LanguagePython:
		return len(pyMethodDecl.FindAllString(content, -1))
	case plugin.LanguageJavaScript, plugin.LanguageTypeScript:
		return len(jsMethodDecl.FindAllString(content, -1))
	default:
		return 0
	}
}

func findLineNumber(content, needle string) int {
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, needle) {
			return i + 1
		}
	}
	return 0
}

func lineAt(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}

func isHandlerPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "handler") || strings.Contains(lower, "controller") ||
		strings.Contains(lower, "endpoint")
}
