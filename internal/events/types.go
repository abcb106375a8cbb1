package events

// EventType identifies the type of event.
// Format: {domain}.{aggregate}.{action}.
type EventType string

// Event type constants organized by category.
const (
	// === REVIEW LIFECYCLE EVENTS ===

	// ReviewRequested carries a pull request to be reviewed.
	ReviewRequested EventType = "review.pipeline.requested"

	// ReviewProgressed reports stage progress of a running review.
	ReviewProgressed EventType = "review.pipeline.progress"

	// ReviewCompleted marks a review that reached the COMPLETED state.
	ReviewCompleted EventType = "review.pipeline.completed"

	// ReviewFailed marks a review that reached the FAILED state.
	ReviewFailed EventType = "review.pipeline.failed"

	// === FINDING EVENTS ===

	// IssueDetected is published for every persisted issue.
	IssueDetected EventType = "review.issue.detected"

	// === PLUGIN EVENTS ===

	// PluginStatusChanged is published when a plugin finishes initialization.
	PluginStatusChanged EventType = "review.plugin.status"
)

// ReviewStage is a state of the review pipeline.
type ReviewStage string

// Review stages in execution order.
const (
	StageInit       ReviewStage = "INIT"
	StageSAST       ReviewStage = "SAST"
	StageLLMPrimary ReviewStage = "LLM_PRIMARY"
	StageSecurity   ReviewStage = "SECURITY"
	StageImpact     ReviewStage = "IMPACT"
	StageSynthesis  ReviewStage = "SYNTHESIS"
	StageCompleted  ReviewStage = "COMPLETED"
	StageFailed     ReviewStage = "FAILED"
)

// IsTerminal reports whether no further transitions follow the stage.
func (s ReviewStage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Percent returns the progress percentage reported when the stage starts.
func (s ReviewStage) Percent() int {
	switch s {
	case StageInit:
		return 0
	case StageSAST:
		return 10
	case StageLLMPrimary:
		return 35
	case StageSecurity:
		return 60
	case StageImpact:
		return 75
	case StageSynthesis:
		return 90
	case StageCompleted:
		return 100
	case StageFailed:
		return 100
	}
	return 0
}

// ProgressStatus is the status attached to a progress event.
type ProgressStatus string

// Progress status constants.
const (
	ProgressStarted    ProgressStatus = "STARTED"
	ProgressInProgress ProgressStatus = "IN_PROGRESS"
	ProgressCompleted  ProgressStatus = "COMPLETED"
	ProgressFailed     ProgressStatus = "FAILED"
)
