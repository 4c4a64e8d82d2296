package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/layout"
	"github.com/Sbajrac2/Reddit-explorer/internal/progress"
	"github.com/Sbajrac2/Reddit-explorer/internal/target"
)

const testOrigin = "https://old.reddit.com"

type post struct {
	id     string
	title  string
	author string
	score  int
}

func posts(prefix string, n int) []post {
	out := make([]post, n)
	for i := range out {
		out[i] = post{id: fmt.Sprintf("%s%d", prefix, i), title: fmt.Sprintf("%s title %d", prefix, i), author: "author"}
	}
	return out
}

// listingJSON renders a JSON listing envelope with the given continuation.
func listingJSON(after string, items ...post) []byte {
	children := make([]map[string]any, 0, len(items))
	for _, p := range items {
		data := map[string]any{
			"title":     p.title,
			"author":    p.author,
			"subreddit": "golang",
			"score":     p.score,
			"is_self":   true,
		}
		if p.id != "" {
			data["id"] = p.id
			data["name"] = "t3_" + p.id
			data["permalink"] = "/r/golang/comments/" + p.id + "/post/"
		}
		children = append(children, map[string]any{"kind": "t3", "data": data})
	}
	envelope := map[string]any{
		"kind": "Listing",
		"data": map[string]any{"after": after, "children": children},
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		panic(err)
	}
	return raw
}

func jsonResponse(body []byte) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json; charset=UTF-8"}},
		Body:       body,
	}
}

func htmlResponse(body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

type step struct {
	resp crawler.FetchResponse
	err  error
}

// scriptedFetcher answers fetches in call order and records every URL. It
// also tracks how many fetches are in flight at once.
type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []step
	urls     []string
	times    []time.Time
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newScriptedFetcher(steps ...step) *scriptedFetcher {
	return &scriptedFetcher{steps: steps}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	idx := len(f.urls)
	f.urls = append(f.urls, req.URL)
	f.times = append(f.times, time.Now())
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return crawler.FetchResponse{}, ctx.Err()
		}
	}
	if idx >= len(f.steps) {
		return jsonResponse(listingJSON("")), nil
	}
	s := f.steps[idx]
	if s.resp.URL == "" {
		s.resp.URL = req.URL
	}
	return s.resp, s.err
}

func (f *scriptedFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func (f *scriptedFetcher) startTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.times...)
}

// recordingSink captures every callback.
type recordingSink struct {
	mu         sync.Mutex
	increments [][]crawler.Record
	completes  [][]crawler.Record
	fatals     []error
	done       chan struct{}
	doneOnce   sync.Once
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (r *recordingSink) OnIncrement(snapshot []crawler.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.increments = append(r.increments, snapshot)
}

func (r *recordingSink) OnComplete(final []crawler.Record) {
	r.mu.Lock()
	r.completes = append(r.completes, final)
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *recordingSink) OnFatalError(err error) {
	r.mu.Lock()
	r.fatals = append(r.fatals, err)
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *recordingSink) snapshot() (increments, completes [][]crawler.Record, fatals []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]crawler.Record(nil), r.increments...),
		append([][]crawler.Record(nil), r.completes...),
		append([]error(nil), r.fatals...)
}

// countingPacer records the URLs it was asked to pace.
type countingPacer struct {
	mu   sync.Mutex
	urls []string
}

func (p *countingPacer) Wait(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	return nil
}

func (p *countingPacer) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

// eventLog captures progress events synchronously.
type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *eventLog) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *eventLog) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, len(e.events))
	for i, evt := range e.events {
		out[i] = evt.Stage
	}
	return out
}

type stubDetector bool

func (d stubDetector) ShouldPromote(crawler.FetchResponse) bool { return bool(d) }

func newTestScheduler(t *testing.T, deps Deps) *Scheduler {
	t.Helper()
	adapter, err := layout.New(layout.Config{Origin: testOrigin})
	require.NoError(t, err)
	deps.Adapter = adapter
	s, err := New(deps)
	require.NoError(t, err)
	return s
}

func jsonQuery(sort crawler.SortMode, window crawler.TimeWindow, pageCap int) crawler.Query {
	u := "https://www.reddit.com/r/golang/.json?limit=100"
	if sort != crawler.SortDefault {
		u = "https://www.reddit.com/r/golang/" + string(sort) + "/.json?limit=100"
		if window != crawler.WindowNone {
			u += "&t=" + string(window)
		}
	}
	return crawler.Query{Sort: sort, Window: window, TargetURL: u, PageCap: pageCap, Hint: crawler.VariantJSON}
}

func newTestSession(queries ...crawler.Query) *Session {
	return NewSession(
		uuid.NewString(),
		"tester",
		target.Target{Kind: target.KindGroup, Name: "golang"},
		crawler.CoverageLive,
		queries,
		time.Now(),
	)
}

func titles(records []crawler.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Title
	}
	return out
}
