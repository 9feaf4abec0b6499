// Package scraper executes scrape jobs: it drives a headless browser to the
// keyword's result page, extracts counts, persists the outcome, and emits
// events for connected clients.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/browser"
	"github.com/serpscout/serpscout/internal/enqueuer"
	"github.com/serpscout/serpscout/internal/keywords"
	"github.com/serpscout/serpscout/internal/notify"
)

// ErrKeywordNotFound marks a job whose keyword no longer exists. Retrying
// cannot help, so the runner acknowledges instead of rescheduling.
var ErrKeywordNotFound = errors.New("scrape job references missing keyword")

// Worker processes one scrape job at a time.
type Worker struct {
	store     keywords.Store
	engine    keywords.SearchEngine
	parser    keywords.HTMLParser
	launcher  browser.Launcher
	publisher notify.Publisher
	observer  Observer
	logger    *zap.Logger
}

// NewWorker wires a worker from its collaborators. A nil observer is
// replaced with a no-op.
func NewWorker(
	store keywords.Store,
	engine keywords.SearchEngine,
	parser keywords.HTMLParser,
	launcher browser.Launcher,
	publisher notify.Publisher,
	observer Observer,
	logger *zap.Logger,
) *Worker {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Worker{
		store:     store,
		engine:    engine,
		parser:    parser,
		launcher:  launcher,
		publisher: publisher,
		observer:  observer,
		logger:    logger,
	}
}

// Process runs one scrape execution. attemptsMade counts the executions that
// already failed for this job; together with maxAttempts it decides whether a
// failure parks the keyword as PENDING for another round or marks it FAILED
// for good. The returned error is nil only when the scrape completed and was
// recorded.
func (w *Worker) Process(ctx context.Context, job enqueuer.ScrapePayload, attemptsMade, maxAttempts int) error {
	kw, err := w.store.FindKeywordByID(ctx, job.KeywordID)
	if err != nil {
		if errors.Is(err, keywords.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrKeywordNotFound, job.KeywordID)
		}
		return fmt.Errorf("loading keyword %s: %w", job.KeywordID, err)
	}

	w.observer.JobStarted(kw.ID)
	start := time.Now()

	if err := w.markInProgress(ctx, kw); err != nil {
		w.observer.JobFailed(kw.ID, time.Since(start), attemptsMade+1 >= maxAttempts)
		return err
	}

	result, html, err := w.scrape(ctx, kw)
	if err != nil {
		w.recordFailure(ctx, kw, err, attemptsMade, maxAttempts)
		w.observer.JobFailed(kw.ID, time.Since(start), attemptsMade+1 >= maxAttempts)
		return fmt.Errorf("scraping %q: %w", kw.Text, err)
	}

	if err := w.recordSuccess(ctx, kw, result, html); err != nil {
		// A failed result transaction parks the keyword like any other
		// attempt failure; otherwise it would sit IN_PROGRESS with no
		// attempt row until the next redelivery.
		w.recordFailure(ctx, kw, err, attemptsMade, maxAttempts)
		w.observer.JobFailed(kw.ID, time.Since(start), attemptsMade+1 >= maxAttempts)
		return err
	}
	w.observer.JobSucceeded(kw.ID, time.Since(start))
	return nil
}

// markInProgress flips the keyword to IN_PROGRESS and tells the owner.
func (w *Worker) markInProgress(ctx context.Context, kw keywords.Keyword) error {
	if _, err := w.store.UpdateStatusAndRecordAttempt(ctx, kw.ID, keywords.StatusInProgress, nil); err != nil {
		return fmt.Errorf("marking keyword %s in progress: %w", kw.ID, err)
	}
	kw.Status = keywords.StatusInProgress
	w.publishKeywordUpdate(ctx, kw)
	return nil
}

// scrape renders the result page and parses it. The page closes before the
// browser regardless of outcome.
func (w *Worker) scrape(ctx context.Context, kw keywords.Keyword) (keywords.ParseResult, string, error) {
	sess, err := w.launcher.Launch(ctx)
	if err != nil {
		return keywords.ParseResult{}, "", fmt.Errorf("launching browser: %w", err)
	}
	defer w.closeQuietly(sess.Close, "browser", kw.ID)

	page, err := sess.NewPage()
	if err != nil {
		return keywords.ParseResult{}, "", fmt.Errorf("opening page: %w", err)
	}
	defer w.closeQuietly(page.Close, "page", kw.ID)

	if err := page.Navigate(ctx, w.engine.SearchURL(kw.Text)); err != nil {
		return keywords.ParseResult{}, "", err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return keywords.ParseResult{}, "", err
	}
	result, err := w.parser.Parse(html)
	if err != nil {
		return keywords.ParseResult{}, "", fmt.Errorf("parsing result page: %w", err)
	}
	return result, html, nil
}

func (w *Worker) recordSuccess(ctx context.Context, kw keywords.Keyword, result keywords.ParseResult, html string) error {
	record := &keywords.AttemptRecord{
		HTML:      &html,
		AdCount:   result.TotalAds,
		LinkCount: result.TotalLinks,
		Status:    keywords.AttemptSuccess,
	}
	attempt, err := w.store.UpdateStatusAndRecordAttempt(ctx, kw.ID, keywords.StatusCompleted, record)
	if err != nil {
		return fmt.Errorf("recording scrape result for %s: %w", kw.ID, err)
	}

	kw.Status = keywords.StatusCompleted
	w.publishKeywordUpdate(ctx, kw)
	w.publishAttemptCreate(ctx, kw.OwnerID, attempt)
	return nil
}

// recordFailure writes the failed attempt and either parks the keyword for a
// retry or marks it FAILED when the budget is spent. Persistence errors here
// are logged, not returned: the original scrape error is what the caller
// retries on.
func (w *Worker) recordFailure(ctx context.Context, kw keywords.Keyword, cause error, attemptsMade, maxAttempts int) {
	status := keywords.StatusPending
	if attemptsMade+1 >= maxAttempts {
		status = keywords.StatusFailed
	}

	msg := cause.Error()
	record := &keywords.AttemptRecord{
		Status: keywords.AttemptFailed,
		Error:  &msg,
	}
	attempt, err := w.store.UpdateStatusAndRecordAttempt(ctx, kw.ID, status, record)
	if err != nil {
		w.logger.Error("recording scrape failure failed",
			zap.String("keyword_id", kw.ID),
			zap.Error(err))
		return
	}

	kw.Status = status
	w.publishKeywordUpdate(ctx, kw)
	w.publishAttemptCreate(ctx, kw.OwnerID, attempt)
}

func (w *Worker) publishKeywordUpdate(ctx context.Context, kw keywords.Keyword) {
	err := w.publisher.Publish(ctx, notify.Event{
		TargetID: kw.OwnerID,
		Type:     notify.EventKeywordUpdate,
		Data:     kw,
	})
	if err != nil {
		w.logger.Warn("keyword update event not published",
			zap.String("keyword_id", kw.ID),
			zap.Error(err))
	}
}

func (w *Worker) publishAttemptCreate(ctx context.Context, ownerID string, attempt *keywords.ScrapeAttempt) {
	if attempt == nil {
		return
	}
	err := w.publisher.Publish(ctx, notify.Event{
		TargetID: ownerID,
		Type:     notify.EventScrapeAttemptCreate,
		Data:     attempt,
	})
	if err != nil {
		w.logger.Warn("scrape attempt event not published",
			zap.String("keyword_id", attempt.KeywordID),
			zap.Error(err))
	}
}

func (w *Worker) closeQuietly(closeFn func() error, what, keywordID string) {
	if err := closeFn(); err != nil {
		w.logger.Warn("closing "+what+" failed",
			zap.String("keyword_id", keywordID),
			zap.Error(err))
	}
}
