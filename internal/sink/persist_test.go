package sink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/export"
	"github.com/Sbajrac2/Reddit-explorer/internal/hash/sha256"
	publishermem "github.com/Sbajrac2/Reddit-explorer/internal/publisher/memory"
	"github.com/Sbajrac2/Reddit-explorer/internal/storage/memory"
)

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket gone")
}

func TestPersistSavesExportsAndPublishes(t *testing.T) {
	t.Parallel()

	records := memory.NewRecordStore()
	blobs := memory.NewBlobStore()
	pub := publishermem.New()
	when := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

	p := NewPersist(PersistConfig{
		Records:   records,
		Blobs:     blobs,
		Encoder:   export.NDJSON{},
		Hasher:    sha256.New(),
		Publisher: pub,
		Topic:     "crawl-finished",
		Clock:     fixedClock(when),
	}, baseInfo())

	final := []crawler.Record{{Title: "first", Author: "a"}, {Title: "second", Author: "b"}}
	p.OnIncrement(final[:1])
	p.OnComplete(final)

	saved, err := records.ListRecords(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, saved, 2)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl-finished", msgs[0].Topic)
	var c Completion
	require.NoError(t, json.Unmarshal(msgs[0].Data, &c))
	require.Equal(t, "sess-1", c.SessionID)
	require.Equal(t, "alice", c.Owner)
	require.Equal(t, crawler.StatusDone, c.Status)
	require.Equal(t, 2, c.Records)
	require.True(t, when.Equal(c.FinishedAt))
	require.True(t, strings.HasPrefix(c.ExportURI, "memory://r_golang/sess-1-"))
	require.True(t, strings.HasSuffix(c.ExportURI, ".ndjson"))

	path := strings.TrimPrefix(c.ExportURI, "memory://")
	data, ok := blobs.Object(path)
	require.True(t, ok)
	require.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestPersistPublishesFailure(t *testing.T) {
	t.Parallel()

	records := memory.NewRecordStore()
	pub := publishermem.New()
	p := NewPersist(PersistConfig{Records: records, Publisher: pub, Topic: "t"}, baseInfo())

	p.OnFatalError(errors.New("boom"))

	_, err := records.ListRecords(context.Background(), "sess-1")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	c, ok := msgs[0].Payload.(Completion)
	require.True(t, ok)
	require.Equal(t, crawler.StatusError, c.Status)
	require.Equal(t, "boom", c.Error)
	require.Equal(t, "sess-1", c.MessageKey())
	require.Equal(t, "ERROR", c.MessageAttributes()["status"])
}

func TestPersistExportFailureStillPublishes(t *testing.T) {
	t.Parallel()

	pub := publishermem.New()
	p := NewPersist(PersistConfig{Blobs: failingBlobs{}, Publisher: pub}, baseInfo())
	p.OnComplete([]crawler.Record{{Title: "x"}})

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	c := msgs[0].Payload.(Completion)
	require.Empty(t, c.ExportURI)
	require.Equal(t, 1, c.Records)
}

func TestExportPath(t *testing.T) {
	t.Parallel()

	info := crawler.SessionInfo{ID: "abc", Target: "u/spez"}
	require.Equal(t, "u_spez/abc.json", ExportPath(info, ".json", ""))
	require.Equal(t, "u_spez/abc-0123456789ab.csv", ExportPath(info, ".csv", "0123456789abcdef"))
	require.Equal(t, "unknown/abc.json", ExportPath(crawler.SessionInfo{ID: "abc"}, ".json", ""))
	listing := crawler.SessionInfo{ID: "abc", Target: "r/golang/top?t=year"}
	require.Equal(t, "r_golang_top_t_year/abc.json", ExportPath(listing, ".json", ""))
}
