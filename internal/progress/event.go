package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the crawl milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart     Stage = "CRAWL_START"
	StageQueryStart     Stage = "QUERY_START"
	StagePageDone       Stage = "PAGE_DONE"
	StagePageFailed     Stage = "PAGE_FAILED"
	StageQueryDone      Stage = "QUERY_DONE"
	StageCrawlDone      Stage = "CRAWL_DONE"
	StageCrawlError     Stage = "CRAWL_ERROR"
	StageCrawlAbandoned Stage = "CRAWL_ABANDONED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page fetches.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one step of a crawl session.
type Event struct {
	// SessionID is the 16-byte form of the session UUID.
	SessionID [16]byte
	TS        time.Time
	Stage     Stage
	// Target is the canonical source, set on CRAWL_START.
	Target string
	// Coverage is set on CRAWL_START.
	Coverage string
	// Queries is the plan length, set on CRAWL_START.
	Queries int
	// Query labels the sort/window axis for query and page stages.
	Query      string
	QueryIndex int
	Site       string
	URL        string
	// Variant is the layout that matched a fetched page.
	Variant     string
	StatusClass StatusClass
	Bytes       int64
	// Records counts raw records on a page; Novel counts those admitted.
	Records int64
	Novel   int64
	// Total is the session record count after the event.
	Total int64
	Dur   time.Duration
	// Note carries low-volume context such as error text or an exhaustion reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart:
		if e.Target == "" {
			return errors.New("crawl start requires target")
		}
	case StageQueryStart, StageQueryDone:
		if e.Query == "" {
			return fmt.Errorf("%s requires query", e.Stage)
		}
	case StagePageDone, StagePageFailed:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
		if e.Stage == StagePageDone && e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	case StageCrawlDone, StageCrawlError, StageCrawlAbandoned:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// ParseSessionID converts a session ID string into the Event form. Invalid
// IDs map to the zero value, which Validate rejects.
func ParseSessionID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(parsed)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
