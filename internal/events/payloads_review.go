package events

import "time"

// ===== REVIEW REQUEST =====

// ReviewRequestedPayload is the parsed pull request handed to the pipeline.
// It is produced upstream by webhook and sync collaborators.
type ReviewRequestedPayload struct {
	// EventID identifies the request message for de-duplication.
	EventID EventID `json:"event_id"`

	// ReviewID is assigned by the requester; a zero value gets a fresh ID.
	ReviewID ReviewID `json:"review_id"`

	// OrganizationID and ProjectID scope configuration lookups.
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	RepositoryID  string `json:"repository_id"`
	RepositoryURL string `json:"repository_url,omitempty"`

	PullRequestNumber int    `json:"pull_request_number,omitempty"`
	SourceBranch      string `json:"source_branch"`
	TargetBranch      string `json:"target_branch"`
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`

	// Diff is the unified diff of the pull request.
	Diff string `json:"diff"`

	// ChangedFiles lists the paths touched by the pull request.
	ChangedFiles []string `json:"changed_files"`

	// FileContents holds the post-change contents keyed by path.
	FileContents map[string]string `json:"file_contents,omitempty"`

	// PluginConfig overrides plugin settings for this review, keyed by plugin ID.
	PluginConfig map[string]map[string]string `json:"plugin_config,omitempty"`

	// PluginTimeoutSeconds bounds each plugin run; zero keeps the service default.
	PluginTimeoutSeconds int `json:"plugin_timeout_seconds,omitempty"`

	RequestedAt time.Time `json:"requested_at"`
}

// ===== PROGRESS =====

// ReviewProgressPayload reports stage progress of a review.
type ReviewProgressPayload struct {
	ReviewID  ReviewID       `json:"review_id"`
	Percent   int            `json:"percent"`
	Stage     ReviewStage    `json:"stage"`
	Status    ProgressStatus `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// IssueDetectedPayload announces a persisted issue.
type IssueDetectedPayload struct {
	ReviewID  ReviewID `json:"review_id"`
	IssueID   string   `json:"issue_id"`
	Severity  string   `json:"severity"`
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	FilePath  string   `json:"file_path,omitempty"`
	LineStart int      `json:"line_start,omitempty"`
}

// ===== COMPLETION =====

// ReviewCompletedPayload is published when a review reaches a terminal state.
type ReviewCompletedPayload struct {
	ReviewID       ReviewID       `json:"review_id"`
	RepositoryID   string         `json:"repository_id"`
	Stage          ReviewStage    `json:"stage"`
	Success        bool           `json:"success"`
	IssueCount     int            `json:"issue_count"`
	SeverityCounts map[string]int `json:"severity_counts,omitempty"`
	DegradedPasses []string       `json:"degraded_passes,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Error          string         `json:"error,omitempty"`
	DurationMS     int64          `json:"duration_ms"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// ===== PLUGINS =====

// PluginStatusPayload reports the initialization outcome of a plugin.
type PluginStatusPayload struct {
	PluginID string `json:"plugin_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}
