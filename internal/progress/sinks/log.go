package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Page events log at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageCrawlStart:
			fields = append(fields,
				zap.String("target", evt.Target),
				zap.String("coverage", evt.Coverage),
				zap.Int("queries", evt.Queries),
			)
		case progress.StagePageDone, progress.StagePageFailed:
			fields = append(fields,
				zap.String("query", evt.Query),
				zap.String("url", evt.URL),
				zap.String("variant", evt.Variant),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("records", evt.Records),
				zap.Int64("novel", evt.Novel),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageQueryStart, progress.StageQueryDone:
			fields = append(fields, zap.String("query", evt.Query), zap.Int("query_index", evt.QueryIndex))
		default:
			fields = append(fields, zap.Int64("total", evt.Total), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StagePageDone {
			s.logger.Debug("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
