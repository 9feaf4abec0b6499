package notify

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/queue"
)

// Broadcaster delivers an event to its target's subscribers. Delivering to a
// target with no subscribers is a successful no-op.
type Broadcaster interface {
	Broadcast(event Event) error
}

// Worker drains the notification queue into a Broadcaster.
type Worker struct {
	queue       queue.Queue
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewWorker constructs a notification worker.
func NewWorker(q queue.Queue, b Broadcaster, logger *zap.Logger) *Worker {
	return &Worker{queue: q, broadcaster: b, logger: logger}
}

// Run consumes events until the context is canceled or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("notification dequeue failed", zap.Error(err))
			continue
		}
		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, delivery queue.Delivery) {
	var event Event
	if err := json.Unmarshal(delivery.Payload(), &event); err != nil {
		// A payload that never parsed will never parse. Drop it.
		w.logger.Error("discarding malformed notification",
			zap.String("job_id", delivery.JobID()),
			zap.Error(err))
		w.ack(ctx, delivery)
		return
	}

	if err := w.broadcaster.Broadcast(event); err != nil {
		w.logger.Warn("event broadcast failed",
			zap.String("job_id", delivery.JobID()),
			zap.String("event_type", string(event.Type)),
			zap.Int("attempts_made", delivery.AttemptsMade()),
			zap.Error(err))
		if rerr := delivery.Retry(ctx, err); rerr != nil {
			w.logger.Error("notification retry failed", zap.String("job_id", delivery.JobID()), zap.Error(rerr))
		}
		return
	}
	w.ack(ctx, delivery)
}

func (w *Worker) ack(ctx context.Context, delivery queue.Delivery) {
	if err := delivery.Ack(ctx); err != nil {
		w.logger.Error("notification ack failed", zap.String("job_id", delivery.JobID()), zap.Error(err))
	}
}
