// Package memory provides a channel-backed queue for tests and local
// development. It honors the full durable-queue contract (dedup by job id,
// backoff redelivery, dead-lettering) without surviving process restarts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/serpscout/serpscout/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	opts queue.Options
	// ch is never closed; done signals shutdown so senders racing Close
	// cannot hit a closed channel.
	ch   chan *message
	done chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{}
	dead     []queue.Job
	closed   bool
}

type message struct {
	job      queue.Job
	attempts int
}

// New constructs a queue with the provided capacity and retry options.
func New(capacity int, opts queue.Options) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Queue{
		opts:     opts,
		ch:       make(chan *message, capacity),
		done:     make(chan struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Enqueue pushes a job unless its id is already in flight.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return queue.ErrClosed
	}
	if _, dup := q.inflight[job.ID]; dup {
		q.mu.Unlock()
		return nil
	}
	q.inflight[job.ID] = struct{}{}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.release(job.ID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		q.release(job.ID)
		return queue.ErrClosed
	case q.ch <- &message{job: job}:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return nil, queue.ErrClosed
	case msg := <-q.ch:
		return &delivery{q: q, msg: msg}, nil
	}
}

// Close stops the queue. Pending redelivery timers become no-ops.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// DeadLetters returns jobs that exhausted their attempt budget.
func (q *Queue) DeadLetters() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Job, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *Queue) release(jobID string) {
	q.mu.Lock()
	delete(q.inflight, jobID)
	q.mu.Unlock()
}

func (q *Queue) redeliver(msg *message, after time.Duration) {
	time.AfterFunc(after, func() {
		select {
		case <-q.done:
		case q.ch <- msg:
		default:
			// Full queue under shutdown pressure; drop rather than block
			// the timer goroutine. The job id stays leased.
		}
	})
}

type delivery struct {
	q    *Queue
	msg  *message
	once sync.Once
}

func (d *delivery) JobID() string     { return d.msg.job.ID }
func (d *delivery) Payload() []byte   { return d.msg.job.Payload }
func (d *delivery) AttemptsMade() int { return d.msg.attempts }
func (d *delivery) MaxAttempts() int  { return d.q.opts.MaxAttempts }

func (d *delivery) Ack(context.Context) error {
	d.once.Do(func() {
		d.q.release(d.msg.job.ID)
	})
	return nil
}

func (d *delivery) Retry(_ context.Context, _ error) error {
	d.once.Do(func() {
		attempts := d.msg.attempts + 1
		if attempts >= d.q.opts.MaxAttempts {
			d.q.mu.Lock()
			d.q.dead = append(d.q.dead, d.msg.job)
			delete(d.q.inflight, d.msg.job.ID)
			d.q.mu.Unlock()
			return
		}
		d.q.redeliver(&message{job: d.msg.job, attempts: attempts}, d.q.opts.Backoff.Delay(attempts))
	})
	return nil
}
