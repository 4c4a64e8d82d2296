package sink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/storage/guard"
)

const defaultStoreTimeout = 10 * time.Second

// Status writes the terminal outcome of a session to a SessionStore before
// the callback returns, so a reader that saw the result also sees the
// session as finished. It is the only writer of DONE and ERROR rows.
// Increments only refresh the record count.
type Status struct {
	rows    crawler.SessionUpdater
	base    crawler.SessionInfo
	clock   crawler.Clock
	timeout time.Duration
	logger  *zap.Logger
}

// NewStatus mirrors the session described by base into store.
func NewStatus(store crawler.SessionStore, base crawler.SessionInfo, clock crawler.Clock, logger *zap.Logger) *Status {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Status{
		rows:    guard.Updater(store),
		base:    base,
		clock:   clock,
		timeout: defaultStoreTimeout,
		logger:  logger,
	}
}

// OnIncrement implements crawler.ResultSink.
func (s *Status) OnIncrement(snapshot []crawler.Record) {
	s.update(func(info *crawler.SessionInfo) bool {
		if info.Status.Terminal() || len(snapshot) <= info.Records {
			return false
		}
		info.Records = len(snapshot)
		return true
	})
}

// OnComplete implements crawler.ResultSink.
func (s *Status) OnComplete(final []crawler.Record) {
	s.update(func(info *crawler.SessionInfo) bool {
		return s.finish(info, crawler.StatusDone, len(final), "")
	})
}

// OnFatalError implements crawler.ResultSink.
func (s *Status) OnFatalError(err error) {
	s.update(func(info *crawler.SessionInfo) bool {
		return s.finish(info, crawler.StatusError, info.Records, err.Error())
	})
}

func (s *Status) finish(info *crawler.SessionInfo, status crawler.Status, records int, errText string) bool {
	if info.Status.Terminal() {
		return false
	}
	info.Status = status
	info.Records = records
	info.ErrorText = errText
	now := time.Now().UTC()
	if s.clock != nil {
		now = s.clock.Now().UTC()
	}
	info.Finished = &now
	return true
}

func (s *Status) update(apply func(*crawler.SessionInfo) bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.rows.UpdateSession(ctx, s.base.ID, s.base, apply); err != nil {
		s.logger.Warn("write session status failed", zap.String("session_id", s.base.ID), zap.Error(err))
	}
}
