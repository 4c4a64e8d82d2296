package sink

import (
	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Log reports sink callbacks through zap.
type Log struct {
	logger *zap.Logger
}

// NewLog tags every line with the session id and target.
func NewLog(logger *zap.Logger, info crawler.SessionInfo) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.With(
		zap.String("session_id", info.ID),
		zap.String("target", info.Target),
	)}
}

// OnIncrement implements crawler.ResultSink.
func (l *Log) OnIncrement(snapshot []crawler.Record) {
	l.logger.Debug("records updated", zap.Int("records", len(snapshot)))
}

// OnComplete implements crawler.ResultSink.
func (l *Log) OnComplete(final []crawler.Record) {
	l.logger.Info("crawl complete", zap.Int("records", len(final)))
}

// OnFatalError implements crawler.ResultSink.
func (l *Log) OnFatalError(err error) {
	l.logger.Error("crawl failed", zap.Error(err))
}
