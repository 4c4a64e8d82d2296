// Package sink provides crawler.ResultSink implementations: adapters, fan-out,
// status mirroring, persistence and logging.
package sink

import (
	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Func adapts plain functions to crawler.ResultSink. Nil fields are skipped.
type Func struct {
	Increment func(snapshot []crawler.Record)
	Complete  func(final []crawler.Record)
	Fatal     func(err error)
}

// OnIncrement implements crawler.ResultSink.
func (f Func) OnIncrement(snapshot []crawler.Record) {
	if f.Increment != nil {
		f.Increment(snapshot)
	}
}

// OnComplete implements crawler.ResultSink.
func (f Func) OnComplete(final []crawler.Record) {
	if f.Complete != nil {
		f.Complete(final)
	}
}

// OnFatalError implements crawler.ResultSink.
func (f Func) OnFatalError(err error) {
	if f.Fatal != nil {
		f.Fatal(err)
	}
}

// Multi forwards every callback to each sink in order. Each sink gets its
// own copy of the records.
type Multi []crawler.ResultSink

// NewMulti drops nil sinks.
func NewMulti(sinks ...crawler.ResultSink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// OnIncrement implements crawler.ResultSink.
func (m Multi) OnIncrement(snapshot []crawler.Record) {
	for i, s := range m {
		s.OnIncrement(share(snapshot, i))
	}
}

// OnComplete implements crawler.ResultSink.
func (m Multi) OnComplete(final []crawler.Record) {
	for i, s := range m {
		s.OnComplete(share(final, i))
	}
}

// OnFatalError implements crawler.ResultSink.
func (m Multi) OnFatalError(err error) {
	for _, s := range m {
		s.OnFatalError(err)
	}
}

// share hands the original slice to the first sink and clones for the rest.
func share(records []crawler.Record, i int) []crawler.Record {
	if i == 0 {
		return records
	}
	return crawler.CloneRecords(records)
}
