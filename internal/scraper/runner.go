package scraper

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/enqueuer"
	"github.com/serpscout/serpscout/internal/queue"
)

// Runner pulls scrape jobs off the queue and feeds them to a worker. Run one
// Runner per desired unit of concurrency.
type Runner struct {
	queue  queue.Queue
	worker *Worker
	logger *zap.Logger
}

// NewRunner constructs a runner.
func NewRunner(q queue.Queue, worker *Worker, logger *zap.Logger) *Runner {
	return &Runner{queue: q, worker: worker, logger: logger}
}

// Run consumes jobs until the context is canceled or the queue closes.
func (r *Runner) Run(ctx context.Context) {
	for {
		delivery, err := r.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			r.logger.Error("scrape dequeue failed", zap.Error(err))
			continue
		}
		r.handle(ctx, delivery)
	}
}

func (r *Runner) handle(ctx context.Context, delivery queue.Delivery) {
	var job enqueuer.ScrapePayload
	if err := json.Unmarshal(delivery.Payload(), &job); err != nil {
		r.logger.Error("discarding malformed scrape job",
			zap.String("job_id", delivery.JobID()),
			zap.Error(err))
		r.ack(ctx, delivery)
		return
	}

	err := r.worker.Process(ctx, job, delivery.AttemptsMade(), delivery.MaxAttempts())
	switch {
	case err == nil:
		r.ack(ctx, delivery)
	case errors.Is(err, ErrKeywordNotFound):
		// Rescheduling cannot bring the keyword back.
		r.logger.Warn("dropping scrape job for missing keyword",
			zap.String("job_id", delivery.JobID()))
		r.ack(ctx, delivery)
	default:
		r.logger.Warn("scrape execution failed",
			zap.String("job_id", delivery.JobID()),
			zap.Int("attempts_made", delivery.AttemptsMade()),
			zap.Int("max_attempts", delivery.MaxAttempts()),
			zap.Error(err))
		if rerr := delivery.Retry(ctx, err); rerr != nil {
			r.logger.Error("scrape retry failed", zap.String("job_id", delivery.JobID()), zap.Error(rerr))
		}
	}
}

func (r *Runner) ack(ctx context.Context, delivery queue.Delivery) {
	if err := delivery.Ack(ctx); err != nil {
		r.logger.Error("scrape ack failed", zap.String("job_id", delivery.JobID()), zap.Error(err))
	}
}
