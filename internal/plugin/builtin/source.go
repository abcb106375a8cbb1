// Package builtin provides the analysis plugins shipped with the reviewer.
package builtin

import (
	"context"
	"sort"
	"strings"

	"github.com/antinvestor/codereview/internal/diff"
	"github.com/antinvestor/codereview/internal/plugin"
)

// sourceFile is the text a plugin inspects for one changed file. When the
// full content is available every line is present, otherwise only the lines
// the diff adds.
type sourceFile struct {
	Path     string
	Language plugin.Language
	Lines    []diff.Line
	Full     bool
	Content  string
}

// collectSources builds the inspectable view of a request. Deleted and
// binary files are skipped. Diff parse failures degrade to file contents.
func collectSources(ctx context.Context, req *plugin.AnalysisRequest) ([]sourceFile, error) {
	if req == nil {
		return nil, nil
	}

	set, err := diff.Parse(req.Diff)
	if err != nil {
		set = &diff.Set{}
	}

	paths := make(map[string]struct{})
	for _, p := range req.ChangedFiles {
		paths[p] = struct{}{}
	}
	for p := range req.FileContents {
		paths[p] = struct{}{}
	}
	for _, f := range set.Files {
		if f.IsDeleted || f.IsBinary {
			continue
		}
		paths[f.Name()] = struct{}{}
	}

	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	files := make([]sourceFile, 0, len(ordered))
	for _, path := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sf := sourceFile{Path: path, Language: plugin.LanguageForPath(path)}
		if content, ok := req.FileContents[path]; ok {
			sf.Full = true
			sf.Content = content
			sf.Lines = numberLines(content)
		} else if df := set.File(path); df != nil && !df.IsDeleted && !df.IsBinary {
			sf.Lines = df.Added()
		}

		if len(sf.Lines) == 0 {
			continue
		}
		files = append(files, sf)
	}
	return files, nil
}

func numberLines(content string) []diff.Line {
	raw := strings.Split(content, "\n")
	lines := make([]diff.Line, 0, len(raw))
	for i, text := range raw {
		lines = append(lines, diff.Line{Number: i + 1, Text: text})
	}
	return lines
}

func isTestPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "_test.") || strings.Contains(lower, ".test.") ||
		strings.Contains(lower, ".spec.") || strings.Contains(lower, "/test/") ||
		strings.Contains(lower, "/tests/") || strings.HasPrefix(lower, "test_") ||
		strings.Contains(lower, "/test_")
}

func isCommentLine(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "*")
}

func isNonCodeFile(path string) bool {
	for _, ext := range []string{".md", ".txt", ".json", ".yaml", ".yml", ".xml", ".csv", ".lock"} {
		if strings.HasSuffix(strings.ToLower(path), ext) {
			return true
		}
	}
	return false
}

func languageIn(lang plugin.Language, langs []plugin.Language) bool {
	if len(langs) == 0 {
		return true
	}
	for _, l := range langs {
		if l == lang {
			return true
		}
	}
	return false
}
