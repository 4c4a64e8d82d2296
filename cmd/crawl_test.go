package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/config"
	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/server"
	"github.com/Sbajrac2/Reddit-explorer/internal/view"
)

const listing = `{"kind":"Listing","data":{"after":"","children":[
{"kind":"t3","data":{"id":"a1","name":"t3_a1","title":"hello gophers","author":"alice","subreddit":"golang",
 "permalink":"/r/golang/comments/a1/hello/","score":3,"created_utc":1714564800,"is_self":true}},
{"kind":"t3","data":{"id":"b2","name":"t3_b2","title":"generics question","author":"bob","subreddit":"golang",
 "permalink":"/r/golang/comments/b2/generics/","score":7,"created_utc":1714478400,"is_self":true}}
]}}`

type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(listing),
	}, nil
}

// useFakeApp swaps the application factory for one that never leaves the process.
func useFakeApp(t *testing.T) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		cfg.Crawler.Representation = string(crawler.RepresentationJSON)
		cfg.Pacing.Mode = "none"
		cfg.Progress.LogEvents = false
		return server.Build(ctx, cfg, zap.NewNop(), server.Options{
			Registerer: prometheus.NewRegistry(),
			Fetcher:    staticFetcher{},
		})
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--env-file", "", "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlPrintsJSON(t *testing.T) {
	useFakeApp(t)

	out, err := execute(t, "crawl", "golang", "--format", "json", "--sort", "oldest")
	require.NoError(t, err)

	var records []crawler.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "generics question", records[0].Title)
	assert.Equal(t, "hello gophers", records[1].Title)
}

func TestCrawlFiltersByAuthor(t *testing.T) {
	useFakeApp(t)

	out, err := execute(t, "crawl", "r/golang", "--author", "alice", "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "hello gophers")
	assert.NotContains(t, out, "generics question")
}

func TestCrawlWritesOutFile(t *testing.T) {
	useFakeApp(t)
	path := filepath.Join(t.TempDir(), "records.csv")

	out, err := execute(t, "crawl", "golang", "--format", "csv", "--out", path, "--page", "1", "--per-page", "1")
	require.NoError(t, err)
	assert.Empty(t, out)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	assert.Len(t, lines, 2, "header plus one record")
}

func TestCrawlRejectsBadInput(t *testing.T) {
	useFakeApp(t)

	tests := []struct {
		name string
		args []string
	}{
		{"blank target", []string{"crawl", "   "}},
		{"bad format", []string{"crawl", "golang", "--format", "xml"}},
		{"bad sort", []string{"crawl", "golang", "--sort", "sideways"}},
		{"bad date", []string{"crawl", "golang", "--from", "yesterday"}},
		{"bad page", []string{"crawl", "golang", "--page", "-1"}},
		{"missing target", []string{"crawl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestViewOptions(t *testing.T) {
	opts := &crawlOptions{keyword: "go", from: "2024-05-01", to: "2024-05-01", sort: "newest", page: 2, perPage: 10}
	v, err := opts.viewOptions()
	require.NoError(t, err)
	assert.Equal(t, "go", v.Keyword)
	assert.Equal(t, view.Order("newest"), v.Sort)
	assert.True(t, v.To.After(v.From))
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, 10, v.PerPage)
}
