package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// Pacer blocks before a continuation request so the source is not throttled.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// ResultSink receives the growing record set of a crawl. Snapshots are
// copies; implementations must not retain them expecting later updates.
type ResultSink interface {
	OnIncrement(snapshot []Record)
	OnComplete(final []Record)
	OnFatalError(err error)
}

// SessionStore persists crawl session summaries.
type SessionStore interface {
	PutSession(ctx context.Context, info SessionInfo) error
	GetSession(ctx context.Context, id string) (SessionInfo, error)
}

// SessionUpdater applies a read-modify-write change to one session row with
// no other update through the same updater in between. fn receives seed when
// the row does not exist yet and reports whether the row should be written.
type SessionUpdater interface {
	UpdateSession(ctx context.Context, id string, seed SessionInfo, fn func(*SessionInfo) bool) error
}

// RecordStore persists the final record set of a crawl.
type RecordStore interface {
	SaveRecords(ctx context.Context, sessionID string, records []Record) error
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
