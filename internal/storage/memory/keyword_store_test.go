package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/serpscout/serpscout/internal/keywords"
)

func seed(t *testing.T, s *KeywordStore, ownerID string, texts ...string) []keywords.Keyword {
	t.Helper()
	batch := make([]keywords.Keyword, 0, len(texts))
	for _, text := range texts {
		batch = append(batch, keywords.Keyword{Text: text, OwnerID: ownerID})
	}
	created, err := s.CreateKeywords(context.Background(), batch)
	require.NoError(t, err)
	return created
}

func TestCreateAndFindKeyword(t *testing.T) {
	t.Parallel()

	s := NewKeywordStore()
	created := seed(t, s, "owner-1", "golf clubs")

	require.NotEmpty(t, created[0].ID)
	require.Equal(t, keywords.StatusPending, created[0].Status)
	require.False(t, created[0].CreatedAt.IsZero())

	got, err := s.FindKeywordByID(context.Background(), created[0].ID)
	require.NoError(t, err)
	require.Equal(t, "golf clubs", got.Text)

	_, err = s.FindKeywordByID(context.Background(), "missing")
	require.ErrorIs(t, err, keywords.ErrNotFound)
}

func TestListKeywordsScopedToOwnerAndPaginated(t *testing.T) {
	t.Parallel()

	s := NewKeywordStore()
	seed(t, s, "owner-1", "a", "b", "c")
	seed(t, s, "owner-2", "x")

	page, total, err := s.ListKeywords(context.Background(), "owner-1", 2, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	// Newest first.
	require.Equal(t, "c", page[0].Text)

	rest, total, err := s.ListKeywords(context.Background(), "owner-1", 2, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, rest, 1)
	require.Equal(t, "a", rest[0].Text)

	empty, total, err := s.ListKeywords(context.Background(), "owner-1", 10, 99)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Empty(t, empty)
}

func TestUpdateStatusAndRecordAttempt(t *testing.T) {
	t.Parallel()

	s := NewKeywordStore()
	kw := seed(t, s, "owner-1", "golf clubs")[0]

	// Status-only update records no attempt.
	attempt, err := s.UpdateStatusAndRecordAttempt(context.Background(), kw.ID, keywords.StatusInProgress, nil)
	require.NoError(t, err)
	require.Nil(t, attempt)

	html := "<html></html>"
	attempt, err = s.UpdateStatusAndRecordAttempt(context.Background(), kw.ID, keywords.StatusCompleted, &keywords.AttemptRecord{
		HTML:      &html,
		AdCount:   2,
		LinkCount: 40,
		Status:    keywords.AttemptSuccess,
	})
	require.NoError(t, err)
	require.NotEmpty(t, attempt.ID)
	require.Equal(t, kw.ID, attempt.KeywordID)
	require.Equal(t, 2, attempt.AdCount)

	got, err := s.FindKeywordByID(context.Background(), kw.ID)
	require.NoError(t, err)
	require.Equal(t, keywords.StatusCompleted, got.Status)

	attempts, err := s.ListAttempts(context.Background(), kw.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
}

func TestListAttemptsNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewKeywordStore()
	kw := seed(t, s, "owner-1", "golf clubs")[0]

	msg1, msg2 := "first failure", "second failure"
	_, err := s.UpdateStatusAndRecordAttempt(context.Background(), kw.ID, keywords.StatusPending, &keywords.AttemptRecord{Status: keywords.AttemptFailed, Error: &msg1})
	require.NoError(t, err)
	_, err = s.UpdateStatusAndRecordAttempt(context.Background(), kw.ID, keywords.StatusPending, &keywords.AttemptRecord{Status: keywords.AttemptFailed, Error: &msg2})
	require.NoError(t, err)

	attempts, err := s.ListAttempts(context.Background(), kw.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "second failure", *attempts[0].Error)

	_, err = s.ListAttempts(context.Background(), "missing")
	require.ErrorIs(t, err, keywords.ErrNotFound)
}

func TestUpdateMissingKeyword(t *testing.T) {
	t.Parallel()

	s := NewKeywordStore()
	_, err := s.UpdateStatusAndRecordAttempt(context.Background(), "missing", keywords.StatusFailed, nil)
	require.ErrorIs(t, err, keywords.ErrNotFound)
}
