package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"
)

// DeduplicationStore tracks processed review requests so that a
// redelivered request does not start a second review.
type DeduplicationStore interface {
	// IsProcessed checks if a request has been processed.
	IsProcessed(ctx context.Context, eventID EventID) (bool, error)

	// MarkProcessed records the outcome of processing a request.
	MarkProcessed(ctx context.Context, eventID EventID, result *ProcessingResult) error

	// GetProcessingResult returns the recorded outcome, or nil when unknown.
	GetProcessingResult(ctx context.Context, eventID EventID) (*ProcessingResult, error)

	// Cleanup removes entries older than the given age.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// ProcessingResult stores the result of request processing for idempotency.
// Produced is set once the work itself finished; Outcome then holds what it
// produced so a later attempt only repeats delivery.
type ProcessingResult struct {
	EventID      EventID         `json:"event_id"`
	ReviewID     ReviewID        `json:"review_id"`
	ProcessedAt  time.Time       `json:"processed_at"`
	Success      bool            `json:"success"`
	Produced     bool            `json:"produced,omitempty"`
	Outcome      json.RawMessage `json:"outcome,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
}

// ProcessOnce runs fn unless eventID was already processed successfully.
// A previously failed attempt is retried; the outcome is recorded either way.
func ProcessOnce(
	ctx context.Context,
	store DeduplicationStore,
	eventID EventID,
	reviewID ReviewID,
	fn func(ctx context.Context) error,
) error {
	produce := func(ctx context.Context) (json.RawMessage, error) {
		return nil, fn(ctx)
	}
	return ProcessStaged(ctx, store, eventID, reviewID, produce, nil)
}

// ProcessStaged splits processing into produce and deliver. The produced
// outcome is recorded before deliver runs; when deliver fails, a redelivery
// of eventID skips produce and delivers the recorded outcome again.
func ProcessStaged(
	ctx context.Context,
	store DeduplicationStore,
	eventID EventID,
	reviewID ReviewID,
	produce func(ctx context.Context) (json.RawMessage, error),
	deliver func(ctx context.Context, outcome json.RawMessage) error,
) error {
	if deliver == nil {
		deliver = func(context.Context, json.RawMessage) error { return nil }
	}

	if store == nil || eventID.IsZero() {
		outcome, err := produce(ctx)
		if err != nil {
			return err
		}
		return deliver(ctx, outcome)
	}

	previous, err := store.GetProcessingResult(ctx, eventID)
	if err != nil {
		return fmt.Errorf("get processing result: %w", err)
	}
	if previous != nil && previous.Success {
		util.Log(ctx).Info("skipping already processed review request",
			"event_id", eventID.String(),
			"review_id", previous.ReviewID.String(),
		)
		return nil
	}

	start := time.Now()
	record := &ProcessingResult{EventID: eventID, ReviewID: reviewID}

	if previous != nil && previous.Produced {
		util.Log(ctx).Info("delivering recorded outcome of review request",
			"event_id", eventID.String(),
			"review_id", previous.ReviewID.String(),
		)
		record.ReviewID = previous.ReviewID
		record.Produced = true
		record.Outcome = previous.Outcome
	} else {
		outcome, produceErr := produce(ctx)
		if produceErr != nil {
			record.ErrorMessage = produceErr.Error()
			mark(ctx, store, record, start)
			return produceErr
		}
		record.Produced = true
		record.Outcome = outcome
		mark(ctx, store, record, start)
	}

	if deliverErr := deliver(ctx, record.Outcome); deliverErr != nil {
		record.ErrorMessage = deliverErr.Error()
		mark(ctx, store, record, start)
		return deliverErr
	}

	record.Success = true
	record.ErrorMessage = ""
	mark(ctx, store, record, start)
	return nil
}

func mark(ctx context.Context, store DeduplicationStore, record *ProcessingResult, start time.Time) {
	record.ProcessedAt = time.Now()
	record.DurationMS = time.Since(start).Milliseconds()
	entry := *record
	if err := store.MarkProcessed(ctx, record.EventID, &entry); err != nil {
		util.Log(ctx).WithError(err).Warn("could not record processed review request",
			"event_id", record.EventID.String(),
		)
	}
}

// InMemoryDeduplicationStore is an in-memory implementation for single
// instance deployments and tests.
type InMemoryDeduplicationStore struct {
	mu        sync.RWMutex
	entries   map[string]*ProcessingResult
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewInMemoryDeduplicationStore creates a new in-memory deduplication store.
func NewInMemoryDeduplicationStore() *InMemoryDeduplicationStore {
	store := &InMemoryDeduplicationStore{
		entries:   make(map[string]*ProcessingResult),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go store.periodicCleanup()
	return store
}

// Close stops the store's cleanup goroutine.
func (s *InMemoryDeduplicationStore) Close() error {
	close(s.stopCh)
	<-s.stoppedCh
	return nil
}

func (s *InMemoryDeduplicationStore) periodicCleanup() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background(), defaultDedupTTL)
		}
	}
}

// IsProcessed checks if a request has been processed.
func (s *InMemoryDeduplicationStore) IsProcessed(_ context.Context, eventID EventID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.entries[eventID.String()]
	return exists, nil
}

// MarkProcessed records the outcome of processing a request.
func (s *InMemoryDeduplicationStore) MarkProcessed(_ context.Context, eventID EventID, result *ProcessingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[eventID.String()] = result
	return nil
}

// GetProcessingResult returns the recorded outcome.
func (s *InMemoryDeduplicationStore) GetProcessingResult(_ context.Context, eventID EventID) (*ProcessingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entries[eventID.String()], nil
}

// Cleanup removes old deduplication entries.
func (s *InMemoryDeduplicationStore) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for key, entry := range s.entries {
		if entry == nil || entry.ProcessedAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
