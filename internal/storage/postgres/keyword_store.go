// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serpscout/serpscout/internal/keywords"
)

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it in
// tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// KeywordStoreConfig controls the Postgres connection pool.
type KeywordStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// KeywordStore persists keywords and scrape attempts in Postgres.
type KeywordStore struct {
	db DB
}

// NewKeywordStore connects a pool from the config.
func NewKeywordStore(ctx context.Context, cfg KeywordStoreConfig) (*KeywordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &KeywordStore{db: pool}, nil
}

// NewKeywordStoreWithDB constructs a store from an existing pool (primarily
// for testing).
func NewKeywordStoreWithDB(db DB) (*KeywordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &KeywordStore{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *KeywordStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// CreateKeywords inserts the batch in one transaction so a partial upload
// never becomes visible.
func (s *KeywordStore) CreateKeywords(ctx context.Context, kws []keywords.Keyword) ([]keywords.Keyword, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create keywords: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	out := make([]keywords.Keyword, 0, len(kws))
	for _, kw := range kws {
		if kw.ID == "" {
			kw.ID = uuid.NewString()
		}
		kw.Status = keywords.StatusPending
		row := tx.QueryRow(ctx, `
INSERT INTO keywords (id, text, status, owner_id)
VALUES ($1, $2, $3, $4)
RETURNING created_at`, kw.ID, kw.Text, kw.Status, kw.OwnerID)
		if err := row.Scan(&kw.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert keyword %q: %w", kw.Text, err)
		}
		out = append(out, kw)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create keywords: %w", err)
	}
	return out, nil
}

// FindKeywordByID returns the keyword or keywords.ErrNotFound.
func (s *KeywordStore) FindKeywordByID(ctx context.Context, id string) (keywords.Keyword, error) {
	var kw keywords.Keyword
	row := s.db.QueryRow(ctx, `
SELECT id, text, status, owner_id, created_at
FROM keywords
WHERE id = $1`, id)
	if err := row.Scan(&kw.ID, &kw.Text, &kw.Status, &kw.OwnerID, &kw.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return keywords.Keyword{}, keywords.ErrNotFound
		}
		return keywords.Keyword{}, fmt.Errorf("select keyword %s: %w", id, err)
	}
	return kw, nil
}

// ListKeywords returns one page of the owner's keywords, newest first, and
// the total count before pagination.
func (s *KeywordStore) ListKeywords(ctx context.Context, ownerID string, limit, offset int) ([]keywords.Keyword, int, error) {
	var total int
	row := s.db.QueryRow(ctx, `SELECT count(*) FROM keywords WHERE owner_id = $1`, ownerID)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count keywords: %w", err)
	}

	rows, err := s.db.Query(ctx, `
SELECT id, text, status, owner_id, created_at
FROM keywords
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("select keywords: %w", err)
	}
	defer rows.Close()

	out := []keywords.Keyword{}
	for rows.Next() {
		var kw keywords.Keyword
		if err := rows.Scan(&kw.ID, &kw.Text, &kw.Status, &kw.OwnerID, &kw.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan keyword row: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate keyword rows: %w", err)
	}
	return out, total, nil
}

// ListAttempts returns a keyword's scrape attempts, newest first.
func (s *KeywordStore) ListAttempts(ctx context.Context, keywordID string) ([]keywords.ScrapeAttempt, error) {
	if _, err := s.FindKeywordByID(ctx, keywordID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
SELECT id, keyword_id, html, ad_count, link_count, status, error, created_at
FROM scrape_attempts
WHERE keyword_id = $1
ORDER BY created_at DESC, id DESC`, keywordID)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	defer rows.Close()

	out := []keywords.ScrapeAttempt{}
	for rows.Next() {
		var a keywords.ScrapeAttempt
		if err := rows.Scan(&a.ID, &a.KeywordID, &a.HTML, &a.AdCount, &a.LinkCount, &a.Status, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt rows: %w", err)
	}
	return out, nil
}

// UpdateStatusAndRecordAttempt applies the status change and, when attempt
// is non-nil, inserts the attempt row in the same transaction.
func (s *KeywordStore) UpdateStatusAndRecordAttempt(ctx context.Context, keywordID string, status keywords.Status, attempt *keywords.AttemptRecord) (*keywords.ScrapeAttempt, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE keywords SET status = $2 WHERE id = $1`, keywordID, status)
	if err != nil {
		return nil, fmt.Errorf("update keyword status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, keywords.ErrNotFound
	}

	var created *keywords.ScrapeAttempt
	if attempt != nil {
		created = &keywords.ScrapeAttempt{
			ID:        uuid.NewString(),
			KeywordID: keywordID,
			HTML:      attempt.HTML,
			AdCount:   attempt.AdCount,
			LinkCount: attempt.LinkCount,
			Status:    attempt.Status,
			Error:     attempt.Error,
		}
		row := tx.QueryRow(ctx, `
INSERT INTO scrape_attempts (id, keyword_id, html, ad_count, link_count, status, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`, created.ID, created.KeywordID, created.HTML, created.AdCount, created.LinkCount, created.Status, created.Error)
		if err := row.Scan(&created.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert scrape attempt: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}
	return created, nil
}
