// Package guard serializes session row updates for stores that only offer
// plain get and put.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Sessions wraps a SessionStore so that puts and read-modify-write updates
// made through it never interleave.
type Sessions struct {
	mu    sync.Mutex
	store crawler.SessionStore
}

// New wraps store.
func New(store crawler.SessionStore) *Sessions {
	return &Sessions{store: store}
}

// Updater returns store itself when it already applies updates atomically,
// and a new Sessions wrapper otherwise.
func Updater(store crawler.SessionStore) crawler.SessionUpdater {
	if u, ok := store.(crawler.SessionUpdater); ok {
		return u
	}
	return New(store)
}

// GetSession implements crawler.SessionStore.
func (s *Sessions) GetSession(ctx context.Context, id string) (crawler.SessionInfo, error) {
	return s.store.GetSession(ctx, id)
}

// PutSession implements crawler.SessionStore.
func (s *Sessions) PutSession(ctx context.Context, info crawler.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.PutSession(ctx, info)
}

// UpdateSession implements crawler.SessionUpdater.
func (s *Sessions) UpdateSession(ctx context.Context, id string, seed crawler.SessionInfo, fn func(*crawler.SessionInfo) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.store.GetSession(ctx, id)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		info = seed
		info.ID = id
	case err != nil:
		return fmt.Errorf("get session %s: %w", id, err)
	}
	if !fn(&info) {
		return nil
	}
	if err := s.store.PutSession(ctx, info); err != nil {
		return fmt.Errorf("put session %s: %w", id, err)
	}
	return nil
}
