package events

import (
	"context"
	"time"

	"github.com/pitabwire/util"
)

// Publisher publishes a payload to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queueName string, payload any, headers ...map[string]string) error
}

// Notifier is the fire-and-forget notification sink for review progress.
// Publishing failures are logged and swallowed; delivery is best effort.
type Notifier struct {
	publisher Publisher
	queueName string
}

// NewNotifier creates a notifier that publishes to queueName.
// A nil publisher yields a notifier that only logs.
func NewNotifier(publisher Publisher, queueName string) *Notifier {
	return &Notifier{
		publisher: publisher,
		queueName: queueName,
	}
}

// Progress publishes a progress event for the review.
func (n *Notifier) Progress(
	ctx context.Context,
	reviewID ReviewID,
	stage ReviewStage,
	status ProgressStatus,
	message string,
) {
	n.publish(ctx, ReviewProgressed, &ReviewProgressPayload{
		ReviewID:  reviewID,
		Percent:   stage.Percent(),
		Stage:     stage,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// IssueDetected publishes an issue-detected event.
func (n *Notifier) IssueDetected(ctx context.Context, payload *IssueDetectedPayload) {
	n.publish(ctx, IssueDetected, payload)
}

// PluginStatus publishes a plugin status change.
func (n *Notifier) PluginStatus(ctx context.Context, payload *PluginStatusPayload) {
	n.publish(ctx, PluginStatusChanged, payload)
}

func (n *Notifier) publish(ctx context.Context, eventType EventType, payload any) {
	log := util.Log(ctx)
	if n == nil || n.publisher == nil {
		log.Debug("notification dropped, no publisher", "event", eventType)
		return
	}

	headers := map[string]string{"event_type": string(eventType)}
	if err := n.publisher.Publish(ctx, n.queueName, payload, headers); err != nil {
		log.WithError(err).Warn("could not publish notification",
			"event", eventType,
			"queue", n.queueName,
		)
	}
}
