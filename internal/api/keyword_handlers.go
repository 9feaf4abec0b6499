package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/keywords"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	// maxUploadBytes bounds the multipart body held in memory.
	maxUploadBytes = 4 << 20
	enqueueTimeout = 2 * time.Minute
)

// uploadKeywords handles POST /api/keywords/upload. The multipart "file"
// field must be a CSV with a "keyword" header column. Keywords are created
// PENDING and scrape jobs are pushed in the background; the response does not
// wait for them.
func (s *Server) uploadKeywords(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "owner identity required")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "csv file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	texts, err := parseKeywordCSV(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(texts) == 0 {
		writeError(w, http.StatusBadRequest, "csv contains no keywords")
		return
	}
	if len(texts) > s.cfg.MaxUploadKeywords {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("too many keywords: %d exceeds the limit of %d", len(texts), s.cfg.MaxUploadKeywords))
		return
	}

	batch := make([]keywords.Keyword, 0, len(texts))
	for _, text := range texts {
		batch = append(batch, keywords.Keyword{Text: text, OwnerID: owner})
	}
	created, err := s.store.CreateKeywords(r.Context(), batch)
	if err != nil {
		s.logger.Error("keyword creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store keywords")
		return
	}

	ids := make([]string, 0, len(created))
	for _, kw := range created {
		ids = append(ids, kw.ID)
	}
	// Enqueueing retries for a while; do it off the request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		if err := s.enqueuer.EnqueueScrapeJobs(ctx, ids, owner); err != nil {
			s.logger.Error("scrape enqueue incomplete", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"count":    len(created),
		"keywords": created,
	})
}

// listKeywords handles GET /api/keywords?limit=&offset=. Results are scoped
// to the caller.
func (s *Server) listKeywords(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "owner identity required")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	kws, total, err := s.store.ListKeywords(r.Context(), owner, limit, offset)
	if err != nil {
		s.logger.Error("list keywords failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list keywords")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keywords": kws,
		"total":    total,
	})
}

// getKeyword handles GET /api/keywords/{keyword_id} and returns the keyword
// with its scrape attempts, newest first. Owners can only read their own
// keywords.
func (s *Server) getKeyword(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "owner identity required")
		return
	}
	id := chi.URLParam(r, "keyword_id")

	kw, err := s.store.FindKeywordByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, keywords.ErrNotFound) {
			writeError(w, http.StatusNotFound, "keyword not found")
			return
		}
		s.logger.Error("get keyword failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load keyword")
		return
	}
	if kw.OwnerID != owner {
		// Do not leak existence of other owners' keywords.
		writeError(w, http.StatusNotFound, "keyword not found")
		return
	}

	attempts, err := s.store.ListAttempts(r.Context(), id)
	if err != nil {
		s.logger.Error("list attempts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load attempts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keyword":  kw,
		"attempts": attempts,
	})
}

// parseKeywordCSV reads a CSV whose header row names a "keyword" column and
// returns the trimmed, non-empty values of that column.
func parseKeywordCSV(f io.Reader) ([]string, error) {
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.New("csv is empty or unreadable")
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "keyword") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, errors.New(`csv header must contain a "keyword" column`)
	}

	var texts []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed csv: %w", err)
		}
		if col >= len(record) {
			continue
		}
		text := strings.TrimSpace(record[col])
		if text == "" {
			continue
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
