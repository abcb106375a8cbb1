package review

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/events"
)

// Runner executes a review pipeline.
type Runner interface {
	Run(ctx context.Context, pr *PullRequest) *ReviewResult
}

// ReviewRequestHandler handles incoming review requests.
type ReviewRequestHandler struct {
	runner      Runner
	dedup       events.DeduplicationStore
	publisher   Publisher
	resultQueue string
}

// NewReviewRequestHandler creates a new review request handler. A nil
// deduplication store processes every delivery.
func NewReviewRequestHandler(
	runner Runner,
	dedup events.DeduplicationStore,
	publisher Publisher,
	resultQueue string,
) *ReviewRequestHandler {
	return &ReviewRequestHandler{
		runner:      runner,
		dedup:       dedup,
		publisher:   publisher,
		resultQueue: resultQueue,
	}
}

// Handle processes incoming review request messages. A review that ends
// FAILED is still a handled message; only decode and publish errors are
// returned for redelivery, and a redelivery after a publish error
// republishes the recorded result without running the review again.
func (h *ReviewRequestHandler) Handle(
	ctx context.Context,
	headers map[string]string,
	payload []byte,
) error {
	var request events.ReviewRequestedPayload
	if err := json.Unmarshal(payload, &request); err != nil {
		return fmt.Errorf("unmarshal review request: %w", err)
	}

	if request.EventID.IsZero() {
		if raw, ok := headers["event_id"]; ok {
			if id, err := events.ParseEventID(raw); err == nil {
				request.EventID = id
			}
		}
	}
	if request.ReviewID.IsZero() {
		request.ReviewID = events.NewReviewID()
	}

	produce := func(ctx context.Context) (json.RawMessage, error) {
		result := h.runner.Run(ctx, PullRequestFromPayload(&request))
		return json.Marshal(result.CompletedPayload(request.RepositoryID))
	}
	return events.ProcessStaged(ctx, h.dedup, request.EventID, request.ReviewID, produce, h.publish)
}

// publish sends a recorded review outcome to the result queue. A redelivered
// request whose review already ran only repeats this step.
func (h *ReviewRequestHandler) publish(ctx context.Context, outcome json.RawMessage) error {
	var completed events.ReviewCompletedPayload
	if err := json.Unmarshal(outcome, &completed); err != nil {
		return fmt.Errorf("decode review outcome: %w", err)
	}

	if h.publisher == nil {
		util.Log(ctx).Debug("review result not published, no publisher",
			"review_id", completed.ReviewID.String(),
		)
		return nil
	}

	eventType := events.ReviewCompleted
	if !completed.Success {
		eventType = events.ReviewFailed
	}

	err := h.publisher.Publish(ctx, h.resultQueue, &completed,
		map[string]string{"event_type": string(eventType)})
	if err != nil {
		return fmt.Errorf("publish review result: %w", err)
	}
	return nil
}
