package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

var recordColumns = []string{
	"record_id", "title", "link", "author", "posted_at", "subreddit", "flair", "score", "comment_count", "external_url",
}

func TestNewRecordStoreValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRecordStore(nil, "")
	require.Error(t, err)
	_, err = NewRecordStore(mock, "records; DROP TABLE x")
	require.Error(t, err)
	store, err := NewRecordStore(mock, "")
	require.NoError(t, err)
	require.Equal(t, defaultRecordTable, store.table)
}

func TestSaveRecordsReplacesRowsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "crawl_records")
	require.NoError(t, err)

	records := []crawler.Record{
		{ID: "abc", Title: "first", Link: "https://old.reddit.com/r/golang/comments/abc/", Author: "gopher", Date: "2024-03-01T12:00:00Z", Subreddit: "golang", Score: 10, CommentCount: 2},
		{Title: "second", Link: "#", Author: "anon"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM crawl_records").WithArgs("s-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	for i, r := range records {
		mock.ExpectExec("INSERT INTO crawl_records").
			WithArgs("s-1", i, r.ID, r.Title, r.Link, r.Author, r.Date, r.Subreddit, r.Flair, r.Score, r.CommentCount, r.ExternalURL).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.SaveRecords(context.Background(), "s-1", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "crawl_records")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM crawl_records").WithArgs("s-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO crawl_records").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.SaveRecords(context.Background(), "s-1", []crawler.Record{{Title: "x"}})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.SaveRecords(context.Background(), "", nil))
}

func TestListRecordsScansInOrder(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "crawl_records")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record_id").WithArgs("s-1").
		WillReturnRows(mock.NewRows(recordColumns).
			AddRow("abc", "first", "https://x/abc", "gopher", "2024-03-01T12:00:00Z", "golang", "", 10, 2, "").
			AddRow("", "second", "#", "anon", "", "", "", 0, 0, ""))

	got, err := store.ListRecords(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "first", got[0].Title)
	require.Equal(t, 10, got[0].Score)
	require.Equal(t, "#", got[1].Link)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsUnknownSessionIsEmpty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record_id").WithArgs("missing").
		WillReturnRows(mock.NewRows(recordColumns))

	got, err := store.ListRecords(context.Background(), "missing")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}
