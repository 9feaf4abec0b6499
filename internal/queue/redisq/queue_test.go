package redisq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/queue"
)

func newTestQueue(t *testing.T, mr *miniredis.Miniredis, cfg Config) *Queue {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	if cfg.Stream == "" {
		cfg.Stream = "test:scrape"
	}
	if cfg.Options.MaxAttempts == 0 {
		cfg.Options = queue.Options{
			MaxAttempts: 3,
			Backoff:     queue.Backoff{Initial: 5 * time.Millisecond, Max: 50 * time.Millisecond},
		}
	}
	if cfg.Block == 0 {
		cfg.Block = 10 * time.Millisecond
	}
	q, err := New(context.Background(), client, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() }) //nolint:errcheck
	return q
}

func TestEnqueueDequeueAckRoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	q := newTestQueue(t, mr, Config{})

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{
		ID:      "scrape-kw-1",
		Payload: []byte(`{"keywordId":"kw-1","ownerId":"u-1"}`),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "scrape-kw-1", d.JobID())
	require.JSONEq(t, `{"keywordId":"kw-1","ownerId":"u-1"}`, string(d.Payload()))
	require.Zero(t, d.AttemptsMade())
	require.Equal(t, 3, d.MaxAttempts())
	require.NoError(t, d.Ack(context.Background()))

	// Ack releases the dedup id, so the same keyword can be enqueued again.
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{ID: "scrape-kw-1"}))
}

func TestEnqueueCollapsesDuplicateJobIDs(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	q := newTestQueue(t, mr, Config{Stream: "test:dedup"})

	job := queue.Job{ID: "scrape-kw-1", Payload: []byte("a")}
	require.NoError(t, q.Enqueue(context.Background(), job))
	require.NoError(t, q.Enqueue(context.Background(), job))
	require.NoError(t, q.Enqueue(context.Background(), job))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close() //nolint:errcheck
	n, err := client.XLen(context.Background(), "test:dedup").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRetryRedeliversAfterBackoff(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	q := newTestQueue(t, mr, Config{Stream: "test:retry"})

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{ID: "scrape-kw-2", Payload: []byte("p")}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Retry(context.Background(), errors.New("navigation timeout")))

	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "scrape-kw-2", d2.JobID())
	require.Equal(t, 1, d2.AttemptsMade())
	require.Equal(t, []byte("p"), d2.Payload())
	require.NoError(t, d2.Ack(context.Background()))
}

func TestRetryDeadLettersWhenBudgetSpent(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	q := newTestQueue(t, mr, Config{
		Stream: "test:dlq",
		Options: queue.Options{
			MaxAttempts: 1,
			Backoff:     queue.Backoff{Initial: time.Millisecond},
		},
	})

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{ID: "scrape-kw-3"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Retry(context.Background(), errors.New("terminal")))

	n, err := q.DeadLetterCount(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// Dead-lettering releases the dedup id.
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{ID: "scrape-kw-3"}))
	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d2.Ack(context.Background()))
}

func TestStalledDeliveryReclaimedByAnotherConsumer(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	first := newTestQueue(t, mr, Config{Stream: "test:stall", Consumer: "c1", StalledIdle: time.Minute})

	require.NoError(t, first.Enqueue(context.Background(), queue.Job{ID: "scrape-kw-4", Payload: []byte("p")}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := first.Dequeue(ctx)
	require.NoError(t, err)
	// First consumer "crashes": no ack, no retry.

	mr.FastForward(2 * time.Minute)

	second := newTestQueue(t, mr, Config{Stream: "test:stall", Consumer: "c2", StalledIdle: time.Second})
	d, err := second.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "scrape-kw-4", d.JobID())
	require.Equal(t, []byte("p"), d.Payload())
	require.NoError(t, d.Ack(context.Background()))
}

func TestPoisonMessageReleasesDedupID(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	q := newTestQueue(t, mr, Config{Stream: "test:poison"})

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close() //nolint:errcheck

	// A reserved job whose stream entry carries a mangled attempts field.
	require.NoError(t, client.Set(context.Background(), "test:poison:ids:scrape-kw-5", "1", 0).Err())
	require.NoError(t, client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: "test:poison",
		Values: map[string]any{"job_id": "scrape-kw-5", "payload": "p", "attempts": "garbage"},
	}).Err())

	shortCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(shortCtx)
	require.Error(t, err, "the poison entry must be dropped, not delivered")

	n, err := q.DeadLetterCount(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// The same keyword can be enqueued and scraped again.
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{ID: "scrape-kw-5", Payload: []byte("p")}))
	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "scrape-kw-5", d.JobID())
	require.NoError(t, d.Ack(context.Background()))
}

func TestDequeueHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	q := newTestQueue(t, mr, Config{Stream: "test:empty"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}
