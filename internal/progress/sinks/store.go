package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/progress"
	"github.com/Sbajrac2/Reddit-explorer/internal/storage/guard"
)

// StoreSink projects progress events onto SessionInfo rows. Events for the
// same session are folded into the current row in one update per batch.
//
// DONE and ERROR rows belong to the result sink that reports the outcome;
// StoreSink never writes them and leaves a terminal row untouched.
type StoreSink struct {
	rows   crawler.SessionUpdater
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(store crawler.SessionStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &StoreSink{logger: logger}
	if store != nil {
		s.rows = guard.Updater(store)
	}
	return s
}

// Consume folds the batch per session and updates each row. Store errors
// are returned verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.rows == nil {
		return nil
	}
	pending := make(map[string][]progress.Event)
	order := make([]string, 0, 4)
	for _, evt := range batch {
		id := evt.SessionUUID().String()
		if _, ok := pending[id]; !ok {
			order = append(order, id)
		}
		pending[id] = append(pending[id], evt)
	}

	for _, id := range order {
		events := pending[id]
		seed := crawler.SessionInfo{ID: id, Status: crawler.StatusIdle}
		err := s.rows.UpdateSession(ctx, id, seed, func(info *crawler.SessionInfo) bool {
			changed := false
			for _, evt := range events {
				if apply(info, evt) {
					changed = true
				}
			}
			return changed
		})
		if err != nil {
			return fmt.Errorf("update session %s: %w", id, err)
		}
	}
	return nil
}

// apply folds one event into info and reports whether it changed anything.
// Terminal rows are final. Abandonment has no result callback, so it is the
// only terminal status written here.
func apply(info *crawler.SessionInfo, evt progress.Event) bool {
	if info.Status.Terminal() {
		return false
	}
	switch evt.Stage {
	case progress.StageCrawlStart:
		if evt.Target != "" {
			info.Target = evt.Target
		}
		if evt.Coverage != "" {
			info.Coverage = crawler.Coverage(evt.Coverage)
		}
		info.Queries = evt.Queries
		if info.Started.IsZero() {
			info.Started = evt.TS
		}
		info.Status = crawler.StatusFetchingFirstPage
	case progress.StageQueryStart:
		info.QueryIndex = evt.QueryIndex
		info.Status = crawler.StatusFetchingFirstPage
	case progress.StagePageDone:
		info.Pages++
		info.Records = int(evt.Total)
		info.Status = crawler.StatusFetchingNextPage
	case progress.StagePageFailed:
		info.Status = crawler.StatusQueryExhausted
	case progress.StageQueryDone:
		info.QueryIndex = evt.QueryIndex
		info.Status = crawler.StatusQueryExhausted
	case progress.StageCrawlAbandoned:
		info.Status = crawler.StatusAbandoned
		ts := evt.TS
		info.Finished = &ts
	default:
		return false
	}
	return true
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
