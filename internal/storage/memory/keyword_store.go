// Package memory implements the keyword store on top of process memory. It
// backs tests and local development without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/serpscout/serpscout/internal/keywords"
)

// KeywordStore holds keywords and attempts behind one mutex, so the
// status-plus-attempt update is atomic by construction.
type KeywordStore struct {
	mu       sync.Mutex
	order    []string
	byID     map[string]keywords.Keyword
	attempts map[string][]keywords.ScrapeAttempt
}

// NewKeywordStore returns an empty store.
func NewKeywordStore() *KeywordStore {
	return &KeywordStore{
		byID:     make(map[string]keywords.Keyword),
		attempts: make(map[string][]keywords.ScrapeAttempt),
	}
}

// CreateKeywords inserts the batch, assigning ids, PENDING status, and
// creation timestamps.
func (s *KeywordStore) CreateKeywords(_ context.Context, kws []keywords.Keyword) ([]keywords.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]keywords.Keyword, 0, len(kws))
	now := time.Now().UTC()
	for _, kw := range kws {
		if kw.ID == "" {
			kw.ID = uuid.NewString()
		}
		kw.Status = keywords.StatusPending
		kw.CreatedAt = now
		s.byID[kw.ID] = kw
		s.order = append(s.order, kw.ID)
		out = append(out, kw)
	}
	return out, nil
}

// FindKeywordByID returns the keyword or keywords.ErrNotFound.
func (s *KeywordStore) FindKeywordByID(_ context.Context, id string) (keywords.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kw, ok := s.byID[id]
	if !ok {
		return keywords.Keyword{}, keywords.ErrNotFound
	}
	return kw, nil
}

// ListKeywords returns the owner's keywords newest first, plus the total
// count before pagination.
func (s *KeywordStore) ListKeywords(_ context.Context, ownerID string, limit, offset int) ([]keywords.Keyword, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []keywords.Keyword
	for i := len(s.order) - 1; i >= 0; i-- {
		kw := s.byID[s.order[i]]
		if kw.OwnerID == ownerID {
			owned = append(owned, kw)
		}
	}

	total := len(owned)
	if offset >= total {
		return []keywords.Keyword{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

// ListAttempts returns a keyword's attempts newest first.
func (s *KeywordStore) ListAttempts(_ context.Context, keywordID string) ([]keywords.ScrapeAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[keywordID]; !ok {
		return nil, keywords.ErrNotFound
	}
	stored := s.attempts[keywordID]
	out := make([]keywords.ScrapeAttempt, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

// UpdateStatusAndRecordAttempt applies the status change and attempt insert
// in one critical section.
func (s *KeywordStore) UpdateStatusAndRecordAttempt(_ context.Context, keywordID string, status keywords.Status, attempt *keywords.AttemptRecord) (*keywords.ScrapeAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kw, ok := s.byID[keywordID]
	if !ok {
		return nil, keywords.ErrNotFound
	}
	kw.Status = status
	s.byID[keywordID] = kw

	if attempt == nil {
		return nil, nil
	}
	created := keywords.ScrapeAttempt{
		ID:        uuid.NewString(),
		KeywordID: keywordID,
		HTML:      attempt.HTML,
		AdCount:   attempt.AdCount,
		LinkCount: attempt.LinkCount,
		Status:    attempt.Status,
		Error:     attempt.Error,
		CreatedAt: time.Now().UTC(),
	}
	s.attempts[keywordID] = append(s.attempts[keywordID], created)
	return &created, nil
}
