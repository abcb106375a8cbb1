// Package synthesis merges findings from every review pass and renders the
// executive summary.
package synthesis

import (
	"context"
	"regexp"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/issue"
)

const (
	defaultLineTolerance       = 2
	defaultSimilarityThreshold = 0.8
	minTokenLength             = 4
)

var nonWord = regexp.MustCompile(`[^a-z0-9\s]+`)

// Detector collapses equivalent findings into one canonical issue.
type Detector struct {
	lineTolerance       int
	similarityThreshold float64
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithLineTolerance sets how many lines apart two ranges may be and still
// count as the same location.
func WithLineTolerance(lines int) DetectorOption {
	return func(d *Detector) {
		if lines >= 0 {
			d.lineTolerance = lines
		}
	}
}

// WithSimilarityThreshold sets the minimum description similarity (0..1)
// for issues without a shared rule id.
func WithSimilarityThreshold(threshold float64) DetectorOption {
	return func(d *Detector) {
		if threshold > 0 && threshold <= 1 {
			d.similarityThreshold = threshold
		}
	}
}

// NewDetector creates a duplicate detector.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		lineTolerance:       defaultLineTolerance,
		similarityThreshold: defaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deduplicate returns one canonical issue per cluster of duplicates. Output
// order follows the first appearance of each cluster. The input slice is
// not reordered.
func (d *Detector) Deduplicate(ctx context.Context, issues []*issue.Issue) []*issue.Issue {
	if len(issues) == 0 {
		return []*issue.Issue{}
	}

	byFile := make(map[string][]int)
	var unique []*issue.Issue

	for _, candidate := range issues {
		if candidate == nil {
			continue
		}

		merged := false
		for _, idx := range byFile[candidate.FilePath] {
			if !d.IsDuplicate(unique[idx], candidate) {
				continue
			}
			unique[idx] = canonical(unique[idx], candidate)
			merged = true
			break
		}
		if !merged {
			byFile[candidate.FilePath] = append(byFile[candidate.FilePath], len(unique))
			unique = append(unique, candidate)
		}
	}

	if removed := len(issues) - len(unique); removed > 0 {
		util.Log(ctx).Debug("duplicate issues removed",
			"removed", removed,
			"before", len(issues),
			"after", len(unique),
		)
	}
	return unique
}

// IsDuplicate reports whether a and b describe the same problem: same file,
// nearby lines, and either the same rule or near-identical text.
func (d *Detector) IsDuplicate(a, b *issue.Issue) bool {
	if a.FilePath != b.FilePath {
		return false
	}
	if !d.linesNear(a, b) {
		return false
	}
	if a.RuleID != "" && a.RuleID == b.RuleID {
		return true
	}
	return Similarity(a.Title+" "+a.Description, b.Title+" "+b.Description) >= d.similarityThreshold
}

func (d *Detector) linesNear(a, b *issue.Issue) bool {
	aStart, aEnd := a.LineRange()
	bStart, bEnd := b.LineRange()
	return aStart <= bEnd+d.lineTolerance && bStart <= aEnd+d.lineTolerance
}

// Similarity is the Jaccard index of the words longer than three
// characters in a and b.
func Similarity(a, b string) float64 {
	wordsA := tokenize(a)
	wordsB := tokenize(b)
	if len(wordsA) == 0 && len(wordsB) == 0 {
		return 1
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(nonWord.ReplaceAllString(strings.ToLower(text), " ")) {
		if len(w) >= minTokenLength {
			words[w] = struct{}{}
		}
	}
	return words
}

// canonical picks the issue to keep: higher severity, then tool over LLM,
// then the earlier one. A winner lacking a suggestion is returned as a copy
// carrying the loser's, so the inputs are never modified.
func canonical(kept, other *issue.Issue) *issue.Issue {
	winner, loser := kept, other
	if prefer(other, kept) {
		winner, loser = other, kept
	}
	if winner.Suggestion == "" && loser.Suggestion != "" {
		merged := *winner
		merged.Suggestion = loser.Suggestion
		return &merged
	}
	return winner
}

// prefer reports whether a should be kept over b.
func prefer(a, b *issue.Issue) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	if a.Source.IsTool() != b.Source.IsTool() {
		return a.Source.IsTool()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
