// Package queue defines the durable job queue contract shared by the scrape
// and notification pipelines. Implementations guarantee at-least-once
// delivery, deduplicate on the caller-supplied job id while a job is in
// flight, and redeliver failed jobs with exponential backoff until the
// attempt budget is exhausted.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned once a queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Job is one unit of queued work. ID is the deduplication key: enqueueing an
// id that is already in flight is a silent no-op, which is how "at most one
// active scrape per keyword" is enforced.
type Job struct {
	ID      string
	Payload []byte
}

// Backoff produces the redelivery schedule for failed jobs.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before redelivery number attemptsMade+1. The first
// retry (attemptsMade=1) waits Initial, doubling thereafter up to Max.
func (b Backoff) Delay(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	delay := b.Initial
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Options configures a queue's retry behavior.
type Options struct {
	MaxAttempts int
	Backoff     Backoff
}

// Delivery is one leased job execution. Exactly one of Ack or Retry must be
// called; until then the delivery counts as in flight and may be reclaimed
// by stalled-job detection.
type Delivery interface {
	// JobID returns the deduplication id the job was enqueued under.
	JobID() string
	// Payload returns the job body as enqueued.
	Payload() []byte
	// AttemptsMade counts executions before this one (0 on first delivery).
	AttemptsMade() int
	// MaxAttempts is the queue's configured attempt budget.
	MaxAttempts() int
	// Ack marks the job done and releases its deduplication id.
	Ack(ctx context.Context) error
	// Retry records a failed execution. The queue schedules a backoff
	// redelivery, or dead-letters the job once the budget is spent; either
	// way the worker is done with this delivery.
	Retry(ctx context.Context, cause error) error
}

// Queue provides enqueue/dequeue semantics for durable jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx ends.
	Dequeue(ctx context.Context) (Delivery, error)
	Close() error
}
