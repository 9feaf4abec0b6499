package scraper

import (
	"time"

	"go.uber.org/zap"
)

// Observer receives scrape lifecycle callbacks. Implementations must be safe
// for concurrent use; workers call them from every runner goroutine.
type Observer interface {
	JobStarted(keywordID string)
	JobSucceeded(keywordID string, took time.Duration)
	// JobFailed reports a failed execution. terminal is true when the
	// attempt budget is spent and the keyword will not be retried.
	JobFailed(keywordID string, took time.Duration, terminal bool)
}

// NopObserver ignores all callbacks.
type NopObserver struct{}

func (NopObserver) JobStarted(string)                     {}
func (NopObserver) JobSucceeded(string, time.Duration)    {}
func (NopObserver) JobFailed(string, time.Duration, bool) {}

// LogObserver writes lifecycle events to the logger.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver constructs a logging observer.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) JobStarted(keywordID string) {
	o.logger.Info("scrape started", zap.String("keyword_id", keywordID))
}

func (o *LogObserver) JobSucceeded(keywordID string, took time.Duration) {
	o.logger.Info("scrape succeeded",
		zap.String("keyword_id", keywordID),
		zap.Duration("took", took))
}

func (o *LogObserver) JobFailed(keywordID string, took time.Duration, terminal bool) {
	o.logger.Warn("scrape failed",
		zap.String("keyword_id", keywordID),
		zap.Duration("took", took),
		zap.Bool("terminal", terminal))
}

// MultiObserver fans callbacks out to several observers.
type MultiObserver []Observer

func (m MultiObserver) JobStarted(keywordID string) {
	for _, o := range m {
		o.JobStarted(keywordID)
	}
}

func (m MultiObserver) JobSucceeded(keywordID string, took time.Duration) {
	for _, o := range m {
		o.JobSucceeded(keywordID, took)
	}
}

func (m MultiObserver) JobFailed(keywordID string, took time.Duration, terminal bool) {
	for _, o := range m {
		o.JobFailed(keywordID, took, terminal)
	}
}
