package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/serpscout/serpscout/internal/queue"
)

// Publisher emits events toward subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// QueuePublisher pushes events onto the notification queue. Unlike scrape
// jobs, every event gets a unique job id: notifications must never collapse
// into each other.
type QueuePublisher struct {
	queue queue.Queue
}

// NewQueuePublisher constructs a publisher backed by the given queue.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{queue: q}
}

// Publish marshals the event and enqueues it.
func (p *QueuePublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	job := queue.Job{ID: "noti-" + uuid.NewString(), Payload: payload}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueuing %s event: %w", event.Type, err)
	}
	return nil
}
