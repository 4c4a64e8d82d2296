// Package scheduler drives crawl sessions: one strictly sequential fetch loop
// per session walking the planned queries, and a Manager that starts sessions
// and supersedes an owner's previous one.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/dedup"
	"github.com/Sbajrac2/Reddit-explorer/internal/target"
)

// Session is the state of one crawl. The scheduler loop is its only writer;
// readers get copies.
type Session struct {
	id       string
	owner    string
	target   target.Target
	coverage crawler.Coverage
	queries  []crawler.Query
	started  time.Time

	// seen is touched only by the scheduler loop.
	seen *dedup.Deduplicator

	active    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.RWMutex
	status        crawler.Status
	records       []crawler.Record
	queryIndex    int
	cursor        crawler.Cursor
	pagesForQuery int
	pages         int
	errText       string
	finished      *time.Time
}

// NewSession creates an IDLE session for the planned queries.
func NewSession(
	id, owner string,
	t target.Target,
	coverage crawler.Coverage,
	queries []crawler.Query,
	started time.Time,
) *Session {
	s := &Session{
		id:       id,
		owner:    owner,
		target:   t,
		coverage: coverage,
		queries:  append([]crawler.Query(nil), queries...),
		started:  started,
		seen:     dedup.New(),
		done:     make(chan struct{}),
		status:   crawler.StatusIdle,
	}
	s.active.Store(true)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Owner returns the client that started the session.
func (s *Session) Owner() string { return s.owner }

// Target returns the normalized target.
func (s *Session) Target() target.Target { return s.target }

// Coverage returns the requested coverage.
func (s *Session) Coverage() crawler.Coverage { return s.coverage }

// Queries returns a copy of the query plan.
func (s *Session) Queries() []crawler.Query {
	return append([]crawler.Query(nil), s.queries...)
}

// Done is closed once the scheduler loop has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Active reports whether the session has not been superseded.
func (s *Session) Active() bool { return s.active.Load() }

// Status returns the current state.
func (s *Session) Status() crawler.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Records returns a snapshot of the records in discovery order.
func (s *Session) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return crawler.CloneRecords(s.records)
}

// Cursor returns the continuation the loop will follow next.
func (s *Session) Cursor() crawler.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Info returns a status snapshot.
func (s *Session) Info() crawler.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := crawler.SessionInfo{
		ID:         s.id,
		Owner:      s.owner,
		Target:     s.target.String(),
		Coverage:   s.coverage,
		Status:     s.status,
		Queries:    len(s.queries),
		QueryIndex: s.queryIndex,
		Pages:      s.pages,
		Records:    len(s.records),
		ErrorText:  s.errText,
		Started:    s.started,
	}
	if s.finished != nil {
		ts := *s.finished
		info.Finished = &ts
	}
	return info
}

func (s *Session) deactivate() {
	s.active.Store(false)
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) setStatus(status crawler.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = status
}

func (s *Session) beginQuery(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryIndex = index
	s.cursor = crawler.Cursor{}
	s.pagesForQuery = 0
	s.status = crawler.StatusFetchingFirstPage
}

func (s *Session) setCursor(c crawler.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = c
}

// fetched reports whether any page of the crawl has been fetched.
func (s *Session) fetched() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pages > 0
}

func (s *Session) pagesInQuery() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pagesForQuery
}

// admit deduplicates a page and appends the novel records. It refuses to
// touch a superseded session.
func (s *Session) admit(records []crawler.Record) ([]crawler.Record, bool) {
	if !s.Active() {
		return nil, false
	}
	novel := s.seen.Filter(records)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, novel...)
	s.pagesForQuery++
	s.pages++
	return novel, true
}

// finish moves the session to a terminal status. It reports false when the
// session was already terminal.
func (s *Session) finish(status crawler.Status, errText string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	s.errText = errText
	s.cursor = crawler.Cursor{}
	s.finished = &at
	return true
}
