// Package keywords defines core domain types shared across subsystems.
package keywords

import (
	"time"
)

// Status represents the lifecycle state of a keyword's scrape.
type Status string

// Keyword status values persisted in the store and sent on the wire.
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// AttemptStatus marks a single scrape execution as successful or not.
type AttemptStatus string

// Attempt status values.
const (
	AttemptSuccess AttemptStatus = "SUCCESS"
	AttemptFailed  AttemptStatus = "FAILED"
)

// Keyword is one search term owned by the actor that uploaded it. Rows are
// created PENDING and mutated only by the scrape worker afterwards.
type Keyword struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Status    Status    `json:"status"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScrapeAttempt is the immutable record of one scrape execution. Failed
// executions carry a nil HTML body and the triggering error message.
type ScrapeAttempt struct {
	ID        string        `json:"id"`
	KeywordID string        `json:"keywordId"`
	HTML      *string       `json:"html,omitempty"`
	AdCount   int           `json:"adCount"`
	LinkCount int           `json:"linkCount"`
	Status    AttemptStatus `json:"status"`
	Error     *string       `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// AttemptRecord is the write shape for a new scrape attempt; the store
// assigns the id and creation time.
type AttemptRecord struct {
	HTML      *string
	AdCount   int
	LinkCount int
	Status    AttemptStatus
	Error     *string
}

// ParseResult is what the HTML parsing strategy extracts from a result page.
type ParseResult struct {
	TotalAds   int
	TotalLinks int
}
