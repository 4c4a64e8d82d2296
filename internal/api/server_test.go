package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/id/uuid"
	"github.com/Sbajrac2/Reddit-explorer/internal/layout"
	"github.com/Sbajrac2/Reddit-explorer/internal/planner"
	"github.com/Sbajrac2/Reddit-explorer/internal/scheduler"
	"github.com/Sbajrac2/Reddit-explorer/internal/storage/memory"
	"github.com/Sbajrac2/Reddit-explorer/internal/view"
)

func TestServer_StartCrawl_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{})
	rec := env.do(http.MethodPost, "/v1/crawls", "{invalid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartCrawl_RejectsBadInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{})
	rec := env.do(http.MethodPost, "/v1/crawls", `{"target":"   "}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid target")

	rec = env.do(http.MethodPost, "/v1/crawls", `{"target":"golang","coverage":"forever"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartCrawl_RunsAndServesRecords(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{})
	rec := env.do(http.MethodPost, "/v1/crawls", `{"target":"https://www.reddit.com/r/golang/"}`,
		map[string]string{ClientIDHeader: "alice"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started startCrawlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.SessionID)
	require.Equal(t, "r/golang", started.Target)
	require.Equal(t, crawler.CoverageLive, started.Coverage)
	env.wait(t, started.SessionID)

	rec = env.do(http.MethodGet, "/v1/crawls/"+started.SessionID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Session crawler.SessionInfo `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, crawler.StatusDone, status.Session.Status)
	require.Equal(t, "alice", status.Session.Owner)
	require.Equal(t, 3, status.Session.Records)

	rec = env.do(http.MethodGet, "/v1/crawls/"+started.SessionID+"/records?author=BOB", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page view.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)
	require.Equal(t, "second post", page.Records[0].Title)

	rec = env.do(http.MethodGet, "/v1/crawls/"+started.SessionID+"/records?sort=oldest&per_page=2&page=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Records, 1)
	require.Equal(t, "third post", page.Records[0].Title)
}

func TestServer_ListRecords_ExportFormats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{})
	id := env.start(t, "alice", "golang")
	env.wait(t, id)

	rec := env.do(http.MethodGet, "/v1/crawls/"+id+"/records?format=csv&flair=help", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "first post")

	rec = env.do(http.MethodGet, "/v1/crawls/"+id+"/records?format=xml", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListRecords_InvalidQuery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{})
	for _, query := range []string{"sort=sideways", "page=0", "per_page=abc", "from=yesterday", "to=2024-13-01"} {
		rec := env.do(http.MethodGet, "/v1/crawls/any/records?"+query, "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestServer_FallsBackToStores(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{})
	ctx := context.Background()
	finished := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, env.sessions.PutSession(ctx, crawler.SessionInfo{
		ID:       "stored",
		Owner:    "bob",
		Target:   "u/spez",
		Status:   crawler.StatusDone,
		Records:  2,
		Finished: &finished,
	}))
	require.NoError(t, env.records.SaveRecords(ctx, "stored", []crawler.Record{
		{Title: "kept one", Author: "spez"},
		{Title: "kept two", Author: "spez"},
	}))
	require.NoError(t, env.sessions.PutSession(ctx, crawler.SessionInfo{ID: "failed", Status: crawler.StatusError}))

	rec := env.do(http.MethodGet, "/v1/crawls/stored", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "u/spez")

	rec = env.do(http.MethodGet, "/v1/crawls/stored/records?keyword=two", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page view.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)

	rec = env.do(http.MethodGet, "/v1/crawls/failed/records", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Zero(t, page.Total)
	require.NotNil(t, page.Records)

	rec = env.do(http.MethodGet, "/v1/crawls/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodGet, "/v1/crawls/missing/records", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AbandonCrawl(t *testing.T) {
	t.Parallel()

	fetcher := newBlockingFetcher()
	env := newTestEnv(t, fetcher, Options{})
	id := env.start(t, "alice", "golang")
	<-fetcher.started

	rec := env.do(http.MethodDelete, "/v1/crawls/"+id, "", map[string]string{ClientIDHeader: "mallory"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodDelete, "/v1/crawls/missing", "", map[string]string{ClientIDHeader: "alice"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/v1/crawls/"+id, "", map[string]string{ClientIDHeader: "alice"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	env.wait(t, id)

	sess, ok := env.manager.Get(id)
	require.True(t, ok)
	require.Equal(t, crawler.StatusAbandoned, sess.Status())

	rec = env.do(http.MethodDelete, "/v1/crawls/"+id, "", map[string]string{ClientIDHeader: "alice"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{APIKey: "secret"})

	rec := env.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/v1/crawls/any", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/v1/crawls/any", "", map[string]string{APIKeyHeader: "secret"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{ReadyChecks: map[string]ReadyCheck{
		"records": func(context.Context) error { return errors.New("connection refused") },
	}})
	rec := env.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")

	env = newTestEnv(t, listingFetcher{}, Options{})
	rec = env.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{})
	env.do(http.MethodGet, "/healthz", "", nil)
	rec := env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, listingFetcher{}, Options{})
	rec := env.do(http.MethodGet, "/healthz", "", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type testEnv struct {
	server   *Server
	manager  *scheduler.Manager
	sessions *memory.SessionStore
	records  *memory.RecordStore
}

func newTestEnv(t *testing.T, fetcher crawler.Fetcher, opts Options) *testEnv {
	t.Helper()
	adapter, err := layout.New(layout.Config{Origin: "https://old.reddit.com"})
	require.NoError(t, err)
	sched, err := scheduler.New(scheduler.Deps{Fetcher: fetcher, Adapter: adapter})
	require.NoError(t, err)
	sessions := memory.NewSessionStore()
	records := memory.NewRecordStore()
	plan := planner.New(planner.Config{Representation: crawler.RepresentationJSON})
	manager := scheduler.NewManager(sched, plan, uuid.NewUUIDGenerator(), nil, sessions, scheduler.ManagerConfig{}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, manager.Close(ctx))
	})
	return &testEnv{
		server:   NewServer(manager, sessions, records, opts, zap.NewNop()),
		manager:  manager,
		sessions: sessions,
		records:  records,
	}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) start(t *testing.T, owner, target string) string {
	t.Helper()
	rec := e.do(http.MethodPost, "/v1/crawls", fmt.Sprintf(`{"target":%q}`, target), map[string]string{ClientIDHeader: owner})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp startCrawlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.SessionID
}

func (e *testEnv) wait(t *testing.T, id string) {
	t.Helper()
	sess, ok := e.manager.Get(id)
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.manager.Wait(ctx, sess))
}

// listingFetcher answers every request with the same single-page listing.
type listingFetcher struct{}

func (listingFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(testListing),
	}, nil
}

// blockingFetcher parks every request until its context ends.
type blockingFetcher struct {
	started chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{started: make(chan struct{}, 16)}
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.started <- struct{}{}
	<-ctx.Done()
	return crawler.FetchResponse{}, ctx.Err()
}

const testListing = `{"kind":"Listing","data":{"after":null,"children":[
{"kind":"t3","data":{"id":"a1","name":"t3_a1","title":"first post","author":"alice","subreddit":"golang",
 "permalink":"/r/golang/comments/a1/first_post/","link_flair_text":"help","score":10,"num_comments":2,
 "created_utc":1714564800,"is_self":true}},
{"kind":"t3","data":{"id":"b2","name":"t3_b2","title":"second post","author":"bob","subreddit":"golang",
 "permalink":"/r/golang/comments/b2/second_post/","score":5,"num_comments":0,
 "created_utc":1714478400,"is_self":true}},
{"kind":"t3","data":{"id":"c3","name":"t3_c3","title":"third post","author":"carol","subreddit":"golang",
 "permalink":"/r/golang/comments/c3/third_post/","score":1,"num_comments":9,
 "created_utc":1714651200,"is_self":true}}
]}}`

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
