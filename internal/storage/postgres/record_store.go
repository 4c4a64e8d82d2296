package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

const defaultRecordTable = "crawl_records"

// RecordStore keeps the final record set of each session, one row per
// record, ordered by position.
type RecordStore struct {
	pool  Pool
	table string
}

// NewRecordStore wraps pool. table defaults to crawl_records.
func NewRecordStore(pool Pool, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, defaultRecordTable)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Migrate creates the record table when missing.
func (s *RecordStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	session_id    TEXT    NOT NULL,
	position      INTEGER NOT NULL,
	record_id     TEXT    NOT NULL DEFAULT '',
	title         TEXT    NOT NULL,
	link          TEXT    NOT NULL,
	author        TEXT    NOT NULL,
	posted_at     TEXT    NOT NULL DEFAULT '',
	subreddit     TEXT    NOT NULL DEFAULT '',
	flair         TEXT    NOT NULL DEFAULT '',
	score         INTEGER NOT NULL DEFAULT 0,
	comment_count INTEGER NOT NULL DEFAULT 0,
	external_url  TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, position)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// SaveRecords replaces the session's rows in one transaction.
func (s *RecordStore) SaveRecords(ctx context.Context, sessionID string, records []crawler.Record) (err error) {
	if sessionID == "" {
		return fmt.Errorf("save records: session id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save records: begin: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.table), sessionID); err != nil {
		return fmt.Errorf("save records: clear session %s: %w", sessionID, err)
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (
	session_id, position, record_id, title, link, author,
	posted_at, subreddit, flair, score, comment_count, external_url
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, s.table)
	for i, r := range records {
		_, err := tx.Exec(ctx, insert,
			sessionID, i, r.ID, r.Title, r.Link, r.Author,
			r.Date, r.Subreddit, r.Flair, r.Score, r.CommentCount, r.ExternalURL,
		)
		if err != nil {
			return fmt.Errorf("save records: insert position %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save records: commit: %w", err)
	}
	committed = true
	return nil
}

// ListRecords returns the session's records in crawl order. An unknown
// session yields an empty slice.
func (s *RecordStore) ListRecords(ctx context.Context, sessionID string) ([]crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT record_id, title, link, author, posted_at, subreddit, flair, score, comment_count, external_url
FROM %s
WHERE session_id = $1
ORDER BY position`, s.table)
	rows, err := s.pool.Query(ctx, query, sessionID)
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

