package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

const defaultSessionTable = "crawl_sessions"

// SessionStore upserts session summaries keyed by session id.
type SessionStore struct {
	pool  Pool
	table string
}

// NewSessionStore wraps pool. table defaults to crawl_sessions.
func NewSessionStore(pool Pool, table string) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, defaultSessionTable)
	if err != nil {
		return nil, err
	}
	return &SessionStore{pool: pool, table: table}, nil
}

// Migrate creates the session table when missing.
func (s *SessionStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL DEFAULT '',
	target      TEXT NOT NULL,
	coverage    TEXT NOT NULL,
	status      TEXT NOT NULL,
	queries     INTEGER NOT NULL DEFAULT 0,
	query_index INTEGER NOT NULL DEFAULT 0,
	pages       INTEGER NOT NULL DEFAULT 0,
	records     INTEGER NOT NULL DEFAULT 0,
	error_text  TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// PutSession inserts or replaces a session summary.
func (s *SessionStore) PutSession(ctx context.Context, info crawler.SessionInfo) error {
	if info.ID == "" {
		return fmt.Errorf("put session: empty id")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, owner, target, coverage, status, queries, query_index,
	pages, records, error_text, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	query_index = EXCLUDED.query_index,
	pages = EXCLUDED.pages,
	records = EXCLUDED.records,
	error_text = EXCLUDED.error_text,
	finished_at = EXCLUDED.finished_at`, s.table)
	_, err := s.pool.Exec(ctx, query,
		info.ID, info.Owner, info.Target, string(info.Coverage), string(info.Status),
		info.Queries, info.QueryIndex, info.Pages, info.Records, info.ErrorText,
		info.Started, info.Finished,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", info.ID, err)
	}
	return nil
}

// GetSession retrieves a session summary by id.
func (s *SessionStore) GetSession(ctx context.Context, id string) (crawler.SessionInfo, error) {
	query := fmt.Sprintf(`
SELECT id, owner, target, coverage, status, queries, query_index,
	pages, records, error_text, started_at, finished_at
FROM %s
WHERE id = $1`, s.table)
	var (
		info     crawler.SessionInfo
		coverage string
		status   string
		finished *time.Time
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&info.ID, &info.Owner, &info.Target, &coverage, &status,
		&info.Queries, &info.QueryIndex, &info.Pages, &info.Records,
		&info.ErrorText, &info.Started, &finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.SessionInfo{}, fmt.Errorf("get session %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.SessionInfo{}, fmt.Errorf("get session %s: %w", id, err)
	}
	info.Coverage = crawler.Coverage(coverage)
	info.Status = crawler.Status(status)
	info.Finished = finished
	return info, nil
}
