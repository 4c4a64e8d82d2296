// Package sqlite keeps crawl sessions and their records in a local SQLite
// file, so CLI runs leave a queryable archive behind.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Store implements crawler.RecordStore and crawler.SessionStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL,
		coverage TEXT NOT NULL,
		status TEXT NOT NULL,
		queries INTEGER NOT NULL DEFAULT 0,
		query_index INTEGER NOT NULL DEFAULT 0,
		pages INTEGER NOT NULL DEFAULT 0,
		records INTEGER NOT NULL DEFAULT 0,
		error_text TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS records (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		record_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		link TEXT NOT NULL,
		author TEXT NOT NULL,
		posted_at TEXT NOT NULL DEFAULT '',
		subreddit TEXT NOT NULL DEFAULT '',
		flair TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		external_url TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, position)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecords replaces the session's records in one transaction.
func (s *Store) SaveRecords(ctx context.Context, sessionID string, records []crawler.Record) error {
	if sessionID == "" {
		return fmt.Errorf("save records: session id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save records: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("save records: clear session %s: %w", sessionID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (
			session_id, position, record_id, title, link, author,
			posted_at, subreddit, flair, score, comment_count, external_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save records: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.ExecContext(ctx,
			sessionID, i, r.ID, r.Title, r.Link, r.Author,
			r.Date, r.Subreddit, r.Flair, r.Score, r.CommentCount, r.ExternalURL,
		); err != nil {
			return fmt.Errorf("save records: insert position %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save records: commit: %w", err)
	}
	return nil
}

// ListRecords returns the session's records in crawl order.
func (s *Store) ListRecords(ctx context.Context, sessionID string) ([]crawler.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, title, link, author, posted_at, subreddit, flair, score, comment_count, external_url
		FROM records
		WHERE session_id = ?
		ORDER BY position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", sessionID, err)
	}
	defer rows.Close()

	records := []crawler.Record{}
	for rows.Next() {
		var r crawler.Record
		if err := rows.Scan(
			&r.ID, &r.Title, &r.Link, &r.Author, &r.Date,
			&r.Subreddit, &r.Flair, &r.Score, &r.CommentCount, &r.ExternalURL,
		); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records %s: %w", sessionID, err)
	}
	return records, nil
}

// PutSession inserts or replaces a session summary.
func (s *Store) PutSession(ctx context.Context, info crawler.SessionInfo) error {
	if info.ID == "" {
		return fmt.Errorf("put session: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, owner, target, coverage, status, queries, query_index,
			pages, records, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			query_index = excluded.query_index,
			pages = excluded.pages,
			records = excluded.records,
			error_text = excluded.error_text,
			finished_at = excluded.finished_at
	`,
		info.ID, info.Owner, info.Target, string(info.Coverage), string(info.Status),
		info.Queries, info.QueryIndex, info.Pages, info.Records, info.ErrorText,
		formatTime(&info.Started), formatTime(info.Finished),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", info.ID, err)
	}
	return nil
}

// GetSession retrieves a session summary by id.
func (s *Store) GetSession(ctx context.Context, id string) (crawler.SessionInfo, error) {
	var (
		info     crawler.SessionInfo
		coverage string
		status   string
		started  string
		finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, target, coverage, status, queries, query_index,
			pages, records, error_text, started_at, finished_at
		FROM sessions
		WHERE id = ?
	`, id).Scan(
		&info.ID, &info.Owner, &info.Target, &coverage, &status,
		&info.Queries, &info.QueryIndex, &info.Pages, &info.Records,
		&info.ErrorText, &started, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.SessionInfo{}, fmt.Errorf("get session %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.SessionInfo{}, fmt.Errorf("get session %s: %w", id, err)
	}
	info.Coverage = crawler.Coverage(coverage)
	info.Status = crawler.Status(status)
	if info.Started, err = parseTime(started); err != nil {
		return crawler.SessionInfo{}, fmt.Errorf("get session %s: started_at: %w", id, err)
	}
	if finished.Valid {
		ts, err := parseTime(finished.String)
		if err != nil {
			return crawler.SessionInfo{}, fmt.Errorf("get session %s: finished_at: %w", id, err)
		}
		info.Finished = &ts
	}
	return info, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
