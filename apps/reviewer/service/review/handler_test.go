package review_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/codereview/apps/reviewer/service/review"
	"github.com/antinvestor/codereview/internal/events"
	"github.com/antinvestor/codereview/internal/issue"
)

type countingRunner struct {
	success bool

	mu    sync.Mutex
	calls int
	last  *review.PullRequest
}

func (r *countingRunner) Run(_ context.Context, pr *review.PullRequest) *review.ReviewResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = pr

	stage := events.StageCompleted
	if !r.success {
		stage = events.StageFailed
	}
	return &review.ReviewResult{ReviewID: pr.ReviewID, Stage: stage, Success: r.success}
}

type publishedMessage struct {
	queue   string
	payload any
	headers map[string]string
}

type mockQueue struct {
	err error

	mu       sync.Mutex
	messages []publishedMessage
}

func (q *mockQueue) Publish(_ context.Context, queueName string, payload any, headers ...map[string]string) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	msg := publishedMessage{queue: queueName, payload: payload}
	if len(headers) > 0 {
		msg.headers = headers[0]
	}
	q.messages = append(q.messages, msg)
	return nil
}

func requestBytes(t *testing.T, p *events.ReviewRequestedPayload) []byte {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return data
}

func TestReviewRequestHandler_PublishesResult(t *testing.T) {
	runner := &countingRunner{success: true}
	queue := &mockQueue{}
	h := review.NewReviewRequestHandler(runner, nil, queue, "review.results")

	req := &events.ReviewRequestedPayload{
		EventID:      events.NewEventID(),
		ReviewID:     events.NewReviewID(),
		ProjectID:    "proj-1",
		RepositoryID: "repo-1",
		Title:        "Fix login",
		Diff:         "",
		ChangedFiles: []string{"auth.go"},
	}
	require.NoError(t, h.Handle(context.Background(), nil, requestBytes(t, req)))

	require.Equal(t, 1, runner.calls)
	assert.Equal(t, req.ReviewID, runner.last.ReviewID)
	assert.Equal(t, "proj-1", runner.last.ProjectID)
	assert.Equal(t, []string{"auth.go"}, runner.last.ChangedFiles)

	require.Len(t, queue.messages, 1)
	msg := queue.messages[0]
	assert.Equal(t, "review.results", msg.queue)
	assert.Equal(t, string(events.ReviewCompleted), msg.headers["event_type"])

	payload, ok := msg.payload.(*events.ReviewCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, req.ReviewID, payload.ReviewID)
	assert.Equal(t, "repo-1", payload.RepositoryID)
	assert.True(t, payload.Success)
}

func TestReviewRequestHandler_FailedReviewIsHandled(t *testing.T) {
	queue := &mockQueue{}
	h := review.NewReviewRequestHandler(&countingRunner{success: false}, nil, queue, "review.results")

	err := h.Handle(context.Background(), nil, requestBytes(t, &events.ReviewRequestedPayload{
		ReviewID: events.NewReviewID(),
	}))

	require.NoError(t, err)
	require.Len(t, queue.messages, 1)
	assert.Equal(t, string(events.ReviewFailed), queue.messages[0].headers["event_type"])
}

func TestReviewRequestHandler_DeduplicatesRedelivery(t *testing.T) {
	store := events.NewInMemoryDeduplicationStore()
	defer store.Close()

	runner := &countingRunner{success: true}
	queue := &mockQueue{}
	h := review.NewReviewRequestHandler(runner, store, queue, "review.results")

	data := requestBytes(t, &events.ReviewRequestedPayload{
		EventID:  events.NewEventID(),
		ReviewID: events.NewReviewID(),
	})

	require.NoError(t, h.Handle(context.Background(), nil, data))
	require.NoError(t, h.Handle(context.Background(), nil, data))

	assert.Equal(t, 1, runner.calls)
	assert.Len(t, queue.messages, 1)
}

func TestReviewRequestHandler_EventIDFromHeader(t *testing.T) {
	store := events.NewInMemoryDeduplicationStore()
	defer store.Close()

	runner := &countingRunner{success: true}
	h := review.NewReviewRequestHandler(runner, store, &mockQueue{}, "review.results")

	data := requestBytes(t, &events.ReviewRequestedPayload{ReviewID: events.NewReviewID()})
	headers := map[string]string{"event_id": events.NewEventID().String()}

	require.NoError(t, h.Handle(context.Background(), headers, data))
	require.NoError(t, h.Handle(context.Background(), headers, data))

	assert.Equal(t, 1, runner.calls)
}

func TestReviewRequestHandler_PublishFailureIsRetried(t *testing.T) {
	store := events.NewInMemoryDeduplicationStore()
	defer store.Close()

	runner := &countingRunner{success: true}
	queue := &mockQueue{err: errors.New("broker unavailable")}
	h := review.NewReviewRequestHandler(runner, store, queue, "review.results")

	data := requestBytes(t, &events.ReviewRequestedPayload{
		EventID:  events.NewEventID(),
		ReviewID: events.NewReviewID(),
	})

	require.Error(t, h.Handle(context.Background(), nil, data))
	queue.err = nil
	require.NoError(t, h.Handle(context.Background(), nil, data))
	require.NoError(t, h.Handle(context.Background(), nil, data))

	assert.Equal(t, 1, runner.calls, "redelivery republishes without running the review again")
	require.Len(t, queue.messages, 1)
	assert.Equal(t, string(events.ReviewCompleted), queue.messages[0].headers["event_type"])
}

func sastWithOneFinding() *fakeSAST {
	return &fakeSAST{fn: func(context.Context) (*review.PassResult, error) {
		found := issue.New(issue.SeverityHigh, issue.TypeVulnerability, issue.SourceTool, "TLS verification disabled")
		found.FilePath = "net/client.go"
		found.LineStart = 11
		found.RuleID = "SEC-TLS-SKIP-VERIFY"
		return &review.PassResult{Success: true, Issues: []*issue.Issue{found}}, nil
	}}
}

func TestReviewRequestHandler_RedeliveryKeepsOneIssueSet(t *testing.T) {
	ctx := context.Background()
	store := events.NewInMemoryDeduplicationStore()
	defer store.Close()

	issues := issue.NewMemoryStore()
	notifier := &recordingNotifier{}
	orchestrator := review.NewOrchestrator(sastWithOneFinding(),
		newFakePass("llm_primary", nil), newFakePass("security", nil), newFakePass("impact", nil),
		issues, review.WithNotifier(notifier))

	queue := &mockQueue{err: errors.New("broker unavailable")}
	h := review.NewReviewRequestHandler(orchestrator, store, queue, "review.results")

	req := &events.ReviewRequestedPayload{
		EventID:      events.NewEventID(),
		ReviewID:     events.NewReviewID(),
		RepositoryID: "repo-1",
	}
	data := requestBytes(t, req)

	require.Error(t, h.Handle(ctx, nil, data))
	queue.err = nil
	require.NoError(t, h.Handle(ctx, nil, data))

	saved, err := issues.ListByReview(ctx, req.ReviewID)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
	assert.Len(t, notifier.detected, 1)

	require.Len(t, queue.messages, 1)
	payload, ok := queue.messages[0].payload.(*events.ReviewCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, req.ReviewID, payload.ReviewID)
	assert.Equal(t, 1, payload.IssueCount)
}

func TestOrchestrator_RerunReplacesPersistedIssues(t *testing.T) {
	ctx := context.Background()
	issues := issue.NewMemoryStore()
	orchestrator := review.NewOrchestrator(sastWithOneFinding(),
		newFakePass("llm_primary", nil), newFakePass("security", nil), newFakePass("impact", nil),
		issues)

	pr := &review.PullRequest{ReviewID: events.NewReviewID(), RepositoryID: "repo-1"}
	require.True(t, orchestrator.Run(ctx, pr).Success)
	require.True(t, orchestrator.Run(ctx, pr).Success)

	saved, err := issues.ListByReview(ctx, pr.ReviewID)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestReviewRequestHandler_InvalidPayload(t *testing.T) {
	runner := &countingRunner{success: true}
	h := review.NewReviewRequestHandler(runner, nil, &mockQueue{}, "review.results")

	require.Error(t, h.Handle(context.Background(), nil, []byte("{not json")))
	assert.Zero(t, runner.calls)
}

func TestReviewRequestHandler_AssignsReviewID(t *testing.T) {
	runner := &countingRunner{success: true}
	h := review.NewReviewRequestHandler(runner, nil, nil, "review.results")

	require.NoError(t, h.Handle(context.Background(), nil, []byte(`{"title":"x"}`)))
	require.NotNil(t, runner.last)
	assert.False(t, runner.last.ReviewID.IsZero())
}
