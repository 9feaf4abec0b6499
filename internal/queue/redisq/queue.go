// Package redisq implements the durable queue contract on Redis Streams.
//
// Layout per queue: a stream holding ready jobs consumed through a consumer
// group, a sorted set of backoff-delayed jobs scored by their ready time, a
// dead-letter stream for jobs that exhausted their attempt budget, and one
// dedup key per in-flight job id. Stalled deliveries (consumer crashed
// without ack) are reclaimed via XAUTOCLAIM once they sit idle past the
// configured threshold, which is what makes delivery at-least-once.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/queue"
)

const (
	defaultBlock       = time.Second
	defaultStalledIdle = time.Minute
	promoteBatch       = 100
)

// Config controls one Redis-backed queue instance.
type Config struct {
	// Stream is the base key; derived keys add suffixes to it.
	Stream string
	// Group is the consumer group name (default "workers").
	Group string
	// Consumer identifies this process within the group.
	Consumer string
	// Options sets the retry budget and backoff schedule.
	Options queue.Options
	// StalledIdle is how long an unacked delivery may sit before another
	// consumer reclaims it.
	StalledIdle time.Duration
	// Block bounds each blocking read so Dequeue can promote delayed jobs
	// and observe context cancellation.
	Block time.Duration
}

// Queue is a durable queue on Redis Streams.
type Queue struct {
	rdb    redis.UniversalClient
	cfg    Config
	logger *zap.Logger

	claimStart string
	claimMu    sync.Mutex

	closed sync.Once
	done   chan struct{}
}

// New prepares the consumer group and returns a ready queue.
func New(ctx context.Context, rdb redis.UniversalClient, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if cfg.Group == "" {
		cfg.Group = "workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-" + uuid.NewString()
	}
	if cfg.Options.MaxAttempts <= 0 {
		cfg.Options.MaxAttempts = 1
	}
	if cfg.StalledIdle <= 0 {
		cfg.StalledIdle = defaultStalledIdle
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		rdb:        rdb,
		cfg:        cfg,
		logger:     logger,
		claimStart: "0-0",
		done:       make(chan struct{}),
	}
	err := rdb.XGroupCreateMkStream(ctx, q.streamKey(), cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *Queue) streamKey() string  { return q.cfg.Stream }
func (q *Queue) delayedKey() string { return q.cfg.Stream + ":delayed" }
func (q *Queue) deadKey() string    { return q.cfg.Stream + ":dlq" }
func (q *Queue) dedupKey(jobID string) string {
	return q.cfg.Stream + ":ids:" + jobID
}

// Enqueue adds a job unless its id is already in flight, in which case it is
// a silent no-op.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	set, err := q.rdb.SetNX(ctx, q.dedupKey(job.ID), "1", 0).Result()
	if err != nil {
		return fmt.Errorf("reserve job id: %w", err)
	}
	if !set {
		q.logger.Debug("duplicate job collapsed", zap.String("job_id", job.ID))
		return nil
	}
	if err := q.add(ctx, job, 0); err != nil {
		// Release the reservation so a later enqueue can succeed.
		if delErr := q.rdb.Del(ctx, q.dedupKey(job.ID)).Err(); delErr != nil {
			q.logger.Warn("release job id after failed add", zap.String("job_id", job.ID), zap.Error(delErr))
		}
		return err
	}
	return nil
}

func (q *Queue) add(ctx context.Context, job queue.Job, attempts int) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamKey(),
		Values: map[string]any{
			"job_id":   job.ID,
			"payload":  string(job.Payload),
			"attempts": strconv.Itoa(attempts),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available or ctx ends. Delayed jobs whose
// backoff has elapsed are promoted back onto the stream first, and stalled
// deliveries are reclaimed ahead of new ones.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		select {
		case <-q.done:
			return nil, queue.ErrClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		default:
		}

		if err := q.promoteDelayed(ctx); err != nil {
			return nil, err
		}

		if d, ok, err := q.claimStalled(ctx); err != nil {
			return nil, err
		} else if ok {
			return d, nil
		}

		d, ok, err := q.readNew(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return d, nil
		}
	}
}

func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("range delayed jobs: %w", err)
	}
	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return fmt.Errorf("remove delayed job: %w", err)
		}
		if removed == 0 {
			// Another consumer promoted it first.
			continue
		}
		var d delayedJob
		if err := json.Unmarshal([]byte(member), &d); err != nil {
			q.logger.Error("corrupt delayed job dropped", zap.Error(err))
			continue
		}
		if err := q.add(ctx, queue.Job{ID: d.JobID, Payload: []byte(d.Payload)}, d.Attempts); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) claimStalled(ctx context.Context) (queue.Delivery, bool, error) {
	q.claimMu.Lock()
	start := q.claimStart
	q.claimMu.Unlock()

	msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.streamKey(),
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.StalledIdle,
		Start:    start,
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("xautoclaim: %w", err)
	}
	if next != "" {
		q.claimMu.Lock()
		q.claimStart = next
		q.claimMu.Unlock()
	}
	for _, msg := range msgs {
		d, err := q.parse(msg)
		if err != nil {
			q.dropPoison(ctx, msg, err)
			continue
		}
		q.logger.Warn("stalled delivery reclaimed",
			zap.String("job_id", d.jobID),
			zap.Int("attempts_made", d.attempts),
		)
		return d, true, nil
	}
	return nil, false, nil
}

func (q *Queue) readNew(ctx context.Context) (queue.Delivery, bool, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.streamKey(), ">"},
		Count:    1,
		Block:    q.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
		return nil, false, fmt.Errorf("xreadgroup: %w", err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			d, err := q.parse(msg)
			if err != nil {
				q.dropPoison(ctx, msg, err)
				continue
			}
			return d, true, nil
		}
	}
	return nil, false, nil
}

func (q *Queue) parse(msg redis.XMessage) (*delivery, error) {
	jobID, _ := msg.Values["job_id"].(string)
	payload, _ := msg.Values["payload"].(string)
	attemptsRaw, _ := msg.Values["attempts"].(string)
	if jobID == "" {
		return nil, errors.New("message missing job_id")
	}
	attempts, err := strconv.Atoi(attemptsRaw)
	if err != nil {
		return nil, fmt.Errorf("parse attempts: %w", err)
	}
	return &delivery{
		q:        q,
		msgID:    msg.ID,
		jobID:    jobID,
		payload:  []byte(payload),
		attempts: attempts,
	}, nil
}

func (q *Queue) dropPoison(ctx context.Context, msg redis.XMessage, cause error) {
	jobID, _ := msg.Values["job_id"].(string)
	q.logger.Error("poison message dead-lettered",
		zap.String("msg_id", msg.ID),
		zap.String("job_id", jobID),
		zap.Error(cause))
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadKey(),
		Values: map[string]any{
			"original_id": msg.ID,
			"job_id":      jobID,
			"reason":      cause.Error(),
			"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err(); err != nil {
		q.logger.Error("dead-letter write failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	if err := q.rdb.XAck(ctx, q.streamKey(), q.cfg.Group, msg.ID).Err(); err != nil {
		q.logger.Error("poison ack failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	// Release the dedup id so the job can be enqueued again.
	if jobID != "" {
		if err := q.rdb.Del(ctx, q.dedupKey(jobID)).Err(); err != nil {
			q.logger.Error("poison dedup release failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// Close marks the queue shut down. The Redis client is owned by the caller.
func (q *Queue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}

// DeadLetterCount reports the number of dead-lettered jobs (for operators
// and tests).
func (q *Queue) DeadLetterCount(ctx context.Context) (int64, error) {
	n, err := q.rdb.XLen(ctx, q.deadKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen dead letters: %w", err)
	}
	return n, nil
}

type delayedJob struct {
	JobID    string `json:"jobId"`
	Payload  string `json:"payload"`
	Attempts int    `json:"attempts"`
	Nonce    string `json:"nonce"`
}

type delivery struct {
	q        *Queue
	msgID    string
	jobID    string
	payload  []byte
	attempts int
	settled  sync.Once
}

func (d *delivery) JobID() string     { return d.jobID }
func (d *delivery) Payload() []byte   { return d.payload }
func (d *delivery) AttemptsMade() int { return d.attempts }
func (d *delivery) MaxAttempts() int  { return d.q.cfg.Options.MaxAttempts }

// Ack acknowledges the delivery and releases the job's dedup id.
func (d *delivery) Ack(ctx context.Context) error {
	var err error
	d.settled.Do(func() {
		if ackErr := d.q.rdb.XAck(ctx, d.q.streamKey(), d.q.cfg.Group, d.msgID).Err(); ackErr != nil {
			err = fmt.Errorf("xack: %w", ackErr)
			return
		}
		if delErr := d.q.rdb.Del(ctx, d.q.dedupKey(d.jobID)).Err(); delErr != nil {
			err = fmt.Errorf("release job id: %w", delErr)
		}
	})
	return err
}

// Retry schedules a backoff redelivery, or dead-letters the job once the
// attempt budget is spent.
func (d *delivery) Retry(ctx context.Context, cause error) error {
	var err error
	d.settled.Do(func() {
		attempts := d.attempts + 1
		if attempts >= d.q.cfg.Options.MaxAttempts {
			err = d.deadLetter(ctx, cause, attempts)
			return
		}
		err = d.reschedule(ctx, attempts)
	})
	return err
}

func (d *delivery) reschedule(ctx context.Context, attempts int) error {
	member, err := json.Marshal(delayedJob{
		JobID:    d.jobID,
		Payload:  string(d.payload),
		Attempts: attempts,
		Nonce:    uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("marshal delayed job: %w", err)
	}
	readyAt := time.Now().Add(d.q.cfg.Options.Backoff.Delay(attempts)).UnixMilli()
	if err := d.q.rdb.ZAdd(ctx, d.q.delayedKey(), redis.Z{
		Score:  float64(readyAt),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("schedule redelivery: %w", err)
	}
	if err := d.q.rdb.XAck(ctx, d.q.streamKey(), d.q.cfg.Group, d.msgID).Err(); err != nil {
		return fmt.Errorf("xack retried delivery: %w", err)
	}
	return nil
}

func (d *delivery) deadLetter(ctx context.Context, cause error, attempts int) error {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	if err := d.q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.q.deadKey(),
		Values: map[string]any{
			"job_id":    d.jobID,
			"payload":   string(d.payload),
			"attempts":  strconv.Itoa(attempts),
			"reason":    reason,
			"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err(); err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	if err := d.q.rdb.XAck(ctx, d.q.streamKey(), d.q.cfg.Group, d.msgID).Err(); err != nil {
		return fmt.Errorf("xack dead-lettered delivery: %w", err)
	}
	if err := d.q.rdb.Del(ctx, d.q.dedupKey(d.jobID)).Err(); err != nil {
		return fmt.Errorf("release job id: %w", err)
	}
	return nil
}
