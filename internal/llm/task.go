package llm

import (
	"fmt"
	"strings"
)

// TaskType tags an LLM invocation with the kind of work it performs.
type TaskType string

// Task type constants.
const (
	TaskComplexReasoning   TaskType = "COMPLEX_REASONING"
	TaskBugDetection       TaskType = "BUG_DETECTION"
	TaskArchitectureReview TaskType = "ARCHITECTURE_REVIEW"
	TaskSecurityAnalysis   TaskType = "SECURITY_ANALYSIS"
	TaskRefactoring        TaskType = "REFACTORING"
	TaskSummarization      TaskType = "SUMMARIZATION"
	TaskQA                 TaskType = "QA"
	TaskMetadataGeneration TaskType = "METADATA_GENERATION"
	TaskFastLint           TaskType = "FAST_LINT"
	TaskStyleCheck         TaskType = "STYLE_CHECK"
	TaskPreFilter          TaskType = "PRE_FILTER"
	TaskCodeExplanation    TaskType = "CODE_EXPLANATION"
)

type taskProfile struct {
	quality int
	latency int
}

var taskProfiles = map[TaskType]taskProfile{
	TaskComplexReasoning:   {quality: 4, latency: 3},
	TaskBugDetection:       {quality: 5, latency: 3},
	TaskArchitectureReview: {quality: 4, latency: 3},
	TaskSecurityAnalysis:   {quality: 5, latency: 3},
	TaskRefactoring:        {quality: 4, latency: 3},
	TaskSummarization:      {quality: 2, latency: 1},
	TaskQA:                 {quality: 3, latency: 2},
	TaskMetadataGeneration: {quality: 2, latency: 1},
	TaskFastLint:           {quality: 1, latency: 1},
	TaskStyleCheck:         {quality: 1, latency: 1},
	TaskPreFilter:          {quality: 1, latency: 1},
	TaskCodeExplanation:    {quality: 3, latency: 2},
}

const (
	highCapabilityPriority = 4
	localEligiblePriority  = 2
)

// ParseTaskType validates a task type name.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := taskProfiles[t]; !ok {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// QualityPriority is the 1-5 quality demand of the task.
func (t TaskType) QualityPriority() int {
	return taskProfiles[t].quality
}

// ExpectedLatency is the 1-5 latency class of the task.
func (t TaskType) ExpectedLatency() int {
	return taskProfiles[t].latency
}

// RequiresHighCapability reports whether the task needs a strong model.
func (t TaskType) RequiresHighCapability() bool {
	return t.QualityPriority() >= highCapabilityPriority
}

// CanUseLocalModel reports whether a local model may serve the task.
func (t TaskType) CanUseLocalModel() bool {
	q := t.QualityPriority()
	return q > 0 && q <= localEligiblePriority
}
