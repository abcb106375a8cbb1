// Package diff parses unified diffs into per-file line information.
package diff

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Line is a single added line with its position in the new file.
type Line struct {
	Number int
	Text   string
}

// File represents a single file in a diff with its parsed fragments.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	IsBinary     bool
	Fragments    []*gitdiff.TextFragment
	AddedLines   int
	DeletedLines int
}

// Name returns the path of the file after the change.
func (f *File) Name() string {
	if f.IsDeleted {
		return f.OldName
	}
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

// Added returns every added line with its new-file line number.
func (f *File) Added() []Line {
	var lines []Line
	for _, frag := range f.Fragments {
		lineNum := int(frag.NewPosition)
		for _, line := range frag.Lines {
			if line.Op == gitdiff.OpAdd {
				lines = append(lines, Line{
					Number: lineNum,
					Text:   strings.TrimRight(line.Line, "\n"),
				})
			}
			if line.Op == gitdiff.OpAdd || line.Op == gitdiff.OpContext {
				lineNum++
			}
		}
	}
	return lines
}

// Set holds the parsed diff for all files.
type Set struct {
	Files []*File
	Raw   string
}

// Stats returns aggregate statistics.
func (s *Set) Stats() (files, added, deleted int) {
	files = len(s.Files)
	for _, f := range s.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return files, added, deleted
}

// File returns the entry for path, or nil when the diff does not touch it.
func (s *Set) File(path string) *File {
	for _, f := range s.Files {
		if f.Name() == path {
			return f
		}
	}
	return nil
}

// Parse reads a unified diff string. An empty diff yields an empty set.
func Parse(raw string) (*Set, error) {
	set := &Set{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return set, nil
	}

	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
		}

		for _, frag := range f.TextFragments {
			df.Fragments = append(df.Fragments, frag)
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					df.AddedLines++
				case gitdiff.OpDelete:
					df.DeletedLines++
				case gitdiff.OpContext:
				}
			}
		}

		set.Files = append(set.Files, df)
	}

	return set, nil
}
