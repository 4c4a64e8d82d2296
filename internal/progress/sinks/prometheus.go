package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sbajrac2/Reddit-explorer/internal/progress"
)

// PrometheusSink turns progress events into session and page collectors.
type PrometheusSink struct {
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionsRunning  prometheus.Gauge
	sessionRuntime   *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	pageBytes    *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec
	records      *prometheus.CounterVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "explorer_sessions_started_total",
			Help: "Crawl sessions started.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explorer_sessions_finished_total",
			Help: "Crawl sessions finished, by result.",
		}, []string{"result"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "explorer_sessions_running",
			Help: "Crawl sessions currently running.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "explorer_session_runtime_seconds",
			Help:    "Wall time per finished crawl session.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explorer_pages_total",
			Help: "Pages fetched, by site, layout variant and status class.",
		}, []string{"site", "variant", "status_class"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explorer_page_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "explorer_page_fetch_duration_seconds",
			Help:    "Page fetch duration by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"site"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explorer_page_records_total",
			Help: "Records extracted from pages, split into novel and duplicate.",
		}, []string{"outcome"}),
		tracker: newSessionTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsFinished,
		s.sessionsRunning,
		s.sessionRuntime,
		s.pages,
		s.pageBytes,
		s.pageDuration,
		s.records,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCrawlStart:
			s.sessionsStarted.Inc()
			if s.tracker.start(evt.SessionID) {
				s.sessionsRunning.Inc()
			}
		case progress.StageCrawlDone:
			s.finish(evt, "done")
		case progress.StageCrawlError:
			s.finish(evt, "error")
		case progress.StageCrawlAbandoned:
			s.finish(evt, "abandoned")
		case progress.StagePageDone, progress.StagePageFailed:
			s.page(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.sessionsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.sessionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.SessionID) {
		s.sessionsRunning.Dec()
	}
}

func (s *PrometheusSink) page(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	variant := evt.Variant
	if variant == "" {
		variant = "none"
	}
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.pages.WithLabelValues(site, variant, class).Inc()
	if evt.Bytes > 0 {
		s.pageBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
	}
	if evt.Novel > 0 {
		s.records.WithLabelValues("novel").Add(float64(evt.Novel))
	}
	if dup := evt.Records - evt.Novel; dup > 0 {
		s.records.WithLabelValues("duplicate").Add(float64(dup))
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[[16]byte]struct{})}
}

func (t *sessionTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
