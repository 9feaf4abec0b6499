package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/queue"
	"github.com/serpscout/serpscout/internal/queue/memory"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
	fail   int
}

func (r *recordingBroadcaster) Broadcast(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("subscriber write failed")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingBroadcaster) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func testQueue() *memory.Queue {
	return memory.New(16, queue.Options{
		MaxAttempts: 10,
		Backoff:     queue.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond},
	})
}

func TestPublishEnqueuesUniqueJobs(t *testing.T) {
	t.Parallel()

	q := testQueue()
	defer q.Close() //nolint:errcheck
	p := NewQueuePublisher(q)

	event := Event{TargetID: "owner-1", Type: EventKeywordUpdate, Data: map[string]string{"id": "kw-1"}}
	require.NoError(t, p.Publish(context.Background(), event))
	require.NoError(t, p.Publish(context.Background(), event))

	// Identical events must not deduplicate against each other.
	for i := 0; i < 2; i++ {
		d, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(d.JobID(), "noti-"))

		var got Event
		require.NoError(t, json.Unmarshal(d.Payload(), &got))
		require.Equal(t, "owner-1", got.TargetID)
		require.Equal(t, EventKeywordUpdate, got.Type)
		require.NoError(t, d.Ack(context.Background()))
	}
}

func TestWorkerDeliversEventsToBroadcaster(t *testing.T) {
	t.Parallel()

	q := testQueue()
	defer q.Close() //nolint:errcheck
	b := &recordingBroadcaster{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWorker(q, b, zap.NewNop()).Run(ctx)

	p := NewQueuePublisher(q)
	require.NoError(t, p.Publish(ctx, Event{TargetID: "owner-1", Type: EventScrapeAttemptCreate}))

	require.Eventually(t, func() bool {
		return len(b.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, EventScrapeAttemptCreate, b.received()[0].Type)
}

func TestWorkerRetriesFailedBroadcasts(t *testing.T) {
	t.Parallel()

	q := testQueue()
	defer q.Close() //nolint:errcheck
	b := &recordingBroadcaster{fail: 2}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWorker(q, b, zap.NewNop()).Run(ctx)

	require.NoError(t, NewQueuePublisher(q).Publish(ctx, Event{TargetID: "owner-1", Type: EventKeywordUpdate}))

	require.Eventually(t, func() bool {
		return len(b.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerDropsMalformedPayloads(t *testing.T) {
	t.Parallel()

	q := testQueue()
	defer q.Close() //nolint:errcheck
	b := &recordingBroadcaster{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWorker(q, b, zap.NewNop()).Run(ctx)

	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "noti-bad", Payload: []byte("{not json")}))
	require.NoError(t, NewQueuePublisher(q).Publish(ctx, Event{TargetID: "owner-1", Type: EventKeywordUpdate}))

	require.Eventually(t, func() bool {
		return len(b.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, q.DeadLetters())
}
