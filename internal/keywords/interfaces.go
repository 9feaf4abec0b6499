package keywords

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a keyword does not exist.
var ErrNotFound = errors.New("keyword not found")

// Store persists keywords and their scrape attempts. The status update and
// attempt insert in UpdateStatusAndRecordAttempt must commit atomically.
type Store interface {
	CreateKeywords(ctx context.Context, kws []Keyword) ([]Keyword, error)
	FindKeywordByID(ctx context.Context, id string) (Keyword, error)
	ListKeywords(ctx context.Context, ownerID string, limit, offset int) ([]Keyword, int, error)
	ListAttempts(ctx context.Context, keywordID string) ([]ScrapeAttempt, error)
	// UpdateStatusAndRecordAttempt sets the keyword status and, when attempt
	// is non-nil, inserts the attempt row in the same transaction. The
	// inserted attempt is returned with its id and timestamp populated.
	UpdateStatusAndRecordAttempt(ctx context.Context, keywordID string, status Status, attempt *AttemptRecord) (*ScrapeAttempt, error)
}

// SearchEngine resolves a keyword into the URL to scrape.
type SearchEngine interface {
	SearchURL(keywordText string) string
}

// HTMLParser extracts ad and link counts from a rendered result page.
type HTMLParser interface {
	Parse(html string) (ParseResult, error)
}
