package issue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/codereview/internal/events"
	"github.com/antinvestor/codereview/internal/issue"
)

func TestSeverity_Ordering(t *testing.T) {
	severities := issue.Severities()
	for i := 1; i < len(severities); i++ {
		assert.True(t, severities[i-1].MoreSevereThan(severities[i]),
			"%s should outrank %s", severities[i-1], severities[i])
	}
	assert.False(t, issue.SeverityLow.MoreSevereThan(issue.SeverityLow))
	assert.Equal(t, 0, issue.Severity("bogus").Rank())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected issue.Severity
	}{
		{"critical", issue.SeverityCritical},
		{" HIGH ", issue.SeverityHigh},
		{"warning", issue.SeverityMedium},
		{"minor", issue.SeverityLow},
		{"info", issue.SeverityInfo},
		{"", issue.SeverityMedium},
		{"whatever", issue.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, issue.ParseSeverity(tt.input))
		})
	}
}

func TestParseType(t *testing.T) {
	assert.Equal(t, issue.TypeCodeSmell, issue.ParseType("code smell"))
	assert.Equal(t, issue.TypeVulnerability, issue.ParseType("vulnerability"))
	assert.Equal(t, issue.TypeDocumentation, issue.ParseType("docs"))
	assert.Equal(t, issue.TypeSuggestion, issue.ParseType("nonsense"))
	assert.True(t, issue.TypeSecurity.IsSecurityRelated())
	assert.False(t, issue.TypeStyle.IsSecurityRelated())
}

func TestSource_IsTool(t *testing.T) {
	assert.True(t, issue.SourceSonarQube.IsTool())
	assert.True(t, issue.SourceTool.IsTool())
	assert.False(t, issue.SourceLLM.IsTool())
	assert.False(t, issue.SourceCustom.IsTool())
}

func TestIssue_LineRange(t *testing.T) {
	i := &issue.Issue{LineStart: 10}
	start, end := i.LineRange()
	assert.Equal(t, 10, start)
	assert.Equal(t, 10, end)

	i.LineEnd = 14
	_, end = i.LineRange()
	assert.Equal(t, 14, end)
}

func TestMemoryStore_SaveAndList(t *testing.T) {
	ctx := context.Background()
	store := issue.NewStore(ctx, nil)
	reviewID := events.NewReviewID()

	low := &issue.Issue{ReviewID: reviewID, Severity: issue.SeverityLow, Title: "low"}
	critical := &issue.Issue{ReviewID: reviewID, Severity: issue.SeverityCritical, Title: "critical"}
	other := &issue.Issue{ReviewID: events.NewReviewID(), Severity: issue.SeverityHigh, Title: "other"}

	saved, err := store.SaveAll(ctx, []*issue.Issue{low, critical, other})
	require.NoError(t, err)
	require.Len(t, saved, 3)
	for _, i := range saved {
		assert.NotEmpty(t, i.ID)
		assert.WithinDuration(t, time.Now(), i.CreatedAt, time.Minute)
	}

	listed, err := store.ListByReview(ctx, reviewID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "critical", listed[0].Title)
	assert.Equal(t, "low", listed[1].Title)

	require.NoError(t, store.MarkFalsePositive(ctx, low.ID))
	assert.True(t, low.FalsePositive)
}

func TestMemoryStore_SaveAllReplacesReview(t *testing.T) {
	ctx := context.Background()
	store := issue.NewMemoryStore()
	reviewID := events.NewReviewID()
	otherID := events.NewReviewID()

	_, err := store.SaveAll(ctx, []*issue.Issue{
		{ReviewID: reviewID, Severity: issue.SeverityHigh, Title: "first run"},
		{ReviewID: otherID, Severity: issue.SeverityLow, Title: "other review"},
	})
	require.NoError(t, err)

	_, err = store.SaveAll(ctx, []*issue.Issue{
		{ReviewID: reviewID, Severity: issue.SeverityHigh, Title: "second run"},
	})
	require.NoError(t, err)

	listed, err := store.ListByReview(ctx, reviewID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "second run", listed[0].Title)

	other, err := store.ListByReview(ctx, otherID)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestCounts(t *testing.T) {
	issues := []*issue.Issue{
		{Severity: issue.SeverityHigh, Type: issue.TypeBug},
		{Severity: issue.SeverityHigh, Type: issue.TypeSecurity},
		{Severity: issue.SeverityLow, Type: issue.TypeBug},
	}

	bySeverity := issue.CountBySeverity(issues)
	assert.Equal(t, 2, bySeverity[issue.SeverityHigh])
	assert.Equal(t, 1, bySeverity[issue.SeverityLow])

	byType := issue.CountByType(issues)
	assert.Equal(t, 2, byType[issue.TypeBug])
}
