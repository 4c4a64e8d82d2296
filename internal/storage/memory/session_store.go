// Package memory keeps sessions, records and blobs in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// SessionStore provides an in-memory crawler.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]crawler.SessionInfo
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]crawler.SessionInfo)}
}

// PutSession inserts or replaces a session summary.
func (s *SessionStore) PutSession(_ context.Context, info crawler.SessionInfo) error {
	if info.ID == "" {
		return fmt.Errorf("put session: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.Finished != nil {
		info.Finished = pointerTime(*info.Finished)
	}
	s.sessions[info.ID] = info
	return nil
}

// GetSession fetches a session summary by ID.
func (s *SessionStore) GetSession(_ context.Context, id string) (crawler.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.sessions[id]
	if !ok {
		return crawler.SessionInfo{}, fmt.Errorf("get session %s: %w", id, crawler.ErrNotFound)
	}
	return info, nil
}

// UpdateSession implements crawler.SessionUpdater.
func (s *SessionStore) UpdateSession(_ context.Context, id string, seed crawler.SessionInfo, fn func(*crawler.SessionInfo) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[id]
	if !ok {
		info = seed
		info.ID = id
	}
	if info.Finished != nil {
		info.Finished = pointerTime(*info.Finished)
	}
	if !fn(&info) {
		return nil
	}
	s.sessions[id] = info
	return nil
}

// RecordStore provides an in-memory crawler.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string][]crawler.Record
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string][]crawler.Record)}
}

// SaveRecords replaces the stored record set of a session.
func (s *RecordStore) SaveRecords(_ context.Context, sessionID string, records []crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = crawler.CloneRecords(records)
	return nil
}

// ListRecords returns a copy of the stored record set.
func (s *RecordStore) ListRecords(_ context.Context, sessionID string) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("list records %s: %w", sessionID, crawler.ErrNotFound)
	}
	return crawler.CloneRecords(records), nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
