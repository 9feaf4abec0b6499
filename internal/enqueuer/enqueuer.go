// Package enqueuer turns freshly created keywords into scrape jobs. Enqueue
// failures are retried per keyword so one flaky push does not strand a whole
// upload batch.
package enqueuer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/queue"
)

const (
	enqueueTries    = 10
	enqueueInterval = time.Second
)

// ScrapePayload is the body of every scrape job.
type ScrapePayload struct {
	KeywordID string `json:"keywordId"`
	OwnerID   string `json:"ownerId"`
}

// ScrapeJobID returns the deterministic job id for a keyword. The queue
// deduplicates on it, so a keyword already waiting to be scraped is never
// enqueued twice.
func ScrapeJobID(keywordID string) string {
	return "scrape-" + keywordID
}

// Enqueuer pushes scrape jobs for keyword batches.
type Enqueuer struct {
	queue    queue.Queue
	logger   *zap.Logger
	tries    int
	interval time.Duration
}

// New constructs an Enqueuer backed by the given queue.
func New(q queue.Queue, logger *zap.Logger) *Enqueuer {
	return &Enqueuer{queue: q, logger: logger, tries: enqueueTries, interval: enqueueInterval}
}

// EnqueueScrapeJobs pushes one scrape job per keyword id. Each keyword is
// handled by its own goroutine and retried up to enqueueTries times; the call
// returns once every keyword has either been enqueued or given up on, and
// reports how many failed permanently.
func (e *Enqueuer) EnqueueScrapeJobs(ctx context.Context, keywordIDs []string, ownerID string) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for _, id := range keywordIDs {
		wg.Add(1)
		go func(keywordID string) {
			defer wg.Done()
			if err := e.enqueueOne(ctx, keywordID, ownerID); err != nil {
				e.logger.Error("scrape job enqueue exhausted retries",
					zap.String("keyword_id", keywordID),
					zap.Error(err))
				mu.Lock()
				failed = append(failed, keywordID)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("enqueue failed for %d of %d keywords", len(failed), len(keywordIDs))
	}
	return nil
}

func (e *Enqueuer) enqueueOne(ctx context.Context, keywordID, ownerID string) error {
	payload, err := json.Marshal(ScrapePayload{KeywordID: keywordID, OwnerID: ownerID})
	if err != nil {
		return fmt.Errorf("marshaling scrape payload: %w", err)
	}
	job := queue.Job{ID: ScrapeJobID(keywordID), Payload: payload}

	var lastErr error
	for try := 1; try <= e.tries; try++ {
		if lastErr = e.queue.Enqueue(ctx, job); lastErr == nil {
			return nil
		}
		e.logger.Warn("scrape job enqueue failed",
			zap.String("keyword_id", keywordID),
			zap.Int("try", try),
			zap.Error(lastErr))
		if try == e.tries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue aborted: %w", ctx.Err())
		case <-time.After(e.interval):
		}
	}
	return lastErr
}
