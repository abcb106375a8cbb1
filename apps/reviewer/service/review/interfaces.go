package review

import (
	"context"
	"time"

	"github.com/antinvestor/codereview/internal/events"
	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/llm"
	"github.com/antinvestor/codereview/internal/plugin"
	"github.com/antinvestor/codereview/internal/settings"
)

// =============================================================================
// Interfaces
// =============================================================================

// PluginExecutor runs analysis plugins.
type PluginExecutor interface {
	ExecuteByType(ctx context.Context, req *plugin.AnalysisRequest, types ...plugin.Type) []*plugin.AnalysisResult
}

// ModelRouter routes an LLM task to a model.
type ModelRouter interface {
	Execute(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// IssueStore persists deduplicated findings.
type IssueStore interface {
	SaveAll(ctx context.Context, issues []*issue.Issue) ([]*issue.Issue, error)
}

// ProgressNotifier is the best-effort notification sink.
type ProgressNotifier interface {
	Progress(ctx context.Context, reviewID events.ReviewID, stage events.ReviewStage, status events.ProgressStatus, message string)
	IssueDetected(ctx context.Context, payload *events.IssueDetectedPayload)
}

// SettingsResolver answers per-project configuration lookups.
type SettingsResolver interface {
	GetBool(ctx context.Context, scope settings.Scope, key string) bool
}

// Publisher publishes a payload to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queueName string, payload any, headers ...map[string]string) error
}

// =============================================================================
// Request/Response Types
// =============================================================================

// PullRequest is the parsed pull request a review runs over.
type PullRequest struct {
	ReviewID       events.ReviewID
	OrganizationID string
	ProjectID      string
	RepositoryID   string
	RepositoryURL  string
	Number         int
	SourceBranch   string
	TargetBranch   string
	Title          string
	Description    string
	Diff           string
	ChangedFiles   []string
	FileContents   map[string]string

	PluginConfig  map[string]map[string]string
	PluginTimeout time.Duration
}

// PullRequestFromPayload converts a review request message.
func PullRequestFromPayload(p *events.ReviewRequestedPayload) *PullRequest {
	return &PullRequest{
		ReviewID:       p.ReviewID,
		OrganizationID: p.OrganizationID,
		ProjectID:      p.ProjectID,
		RepositoryID:   p.RepositoryID,
		RepositoryURL:  p.RepositoryURL,
		Number:         p.PullRequestNumber,
		SourceBranch:   p.SourceBranch,
		TargetBranch:   p.TargetBranch,
		Title:          p.Title,
		Description:    p.Description,
		Diff:           p.Diff,
		ChangedFiles:   p.ChangedFiles,
		FileContents:   p.FileContents,
		PluginConfig:   p.PluginConfig,
		PluginTimeout:  time.Duration(p.PluginTimeoutSeconds) * time.Second,
	}
}

// Scope returns the configuration scope of the pull request.
func (pr *PullRequest) Scope() settings.Scope {
	return settings.Scope{ProjectID: pr.ProjectID, OrganizationID: pr.OrganizationID}
}

// AnalysisRequest builds the plugin request for the pull request.
func (pr *PullRequest) AnalysisRequest() *plugin.AnalysisRequest {
	return &plugin.AnalysisRequest{
		Diff:          pr.Diff,
		ChangedFiles:  pr.ChangedFiles,
		FileContents:  pr.FileContents,
		SourceBranch:  pr.SourceBranch,
		TargetBranch:  pr.TargetBranch,
		Title:         pr.Title,
		Description:   pr.Description,
		RepositoryID:  pr.RepositoryID,
		RepositoryURL: pr.RepositoryURL,
		PluginConfig:  pr.PluginConfig,
		Timeout:       pr.PluginTimeout,
	}
}
