package layout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{Origin: "https://old.reddit.com", Clock: fixedClock{now: testNow}})
	require.NoError(t, err)
	return a
}

func loadPage(t *testing.T, name, contentType, pageURL string) *Page {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	page, err := Parse(raw, contentType, pageURL)
	require.NoError(t, err)
	return page
}

func TestLegacyExtract(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "legacy.html", "text/html; charset=utf-8", "https://old.reddit.com/r/golang/")

	records, variant := a.Extract(page, crawler.VariantAuto)
	require.Equal(t, crawler.VariantLegacy, variant)
	require.Len(t, records, 3, "promoted and hidden posts are skipped")

	assert.Equal(t, crawler.Record{
		ID:           "aaa111",
		Title:        "Go 1.23 is released",
		Link:         "https://old.reddit.com/r/golang/comments/aaa111/go_123_released/",
		Author:       "gopher",
		Date:         "2024-08-13T17:00:00Z",
		Subreddit:    "golang",
		Flair:        "News",
		Score:        512,
		CommentCount: 87,
		ExternalURL:  "https://go.dev/blog/go1.23",
	}, records[0])

	media := records[1]
	assert.Equal(t, "https://old.reddit.com/comments/bbb222/", media.Link, "media link replaced by id template")
	assert.Equal(t, "https://i.redd.it/cat.png", media.ExternalURL)
	assert.Equal(t, "artist", media.Author)
	assert.Equal(t, "2024-08-12T09:30:00Z", media.Date, "falls back to the human-readable label")

	bare := records[2]
	assert.Equal(t, crawler.PlaceholderTitle, bare.Title)
	assert.Equal(t, crawler.PlaceholderLink, bare.Link)
	assert.Empty(t, bare.Author)
	assert.Empty(t, bare.Date)
}

func TestLegacyNextPage(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "legacy.html", "text/html", "https://old.reddit.com/r/golang/")
	cursor := a.Resolver().NextPage(page, crawler.VariantAuto)
	assert.Equal(t, crawler.Cursor{URL: "https://old.reddit.com/r/golang/?count=25&after=t3_bbb222"}, cursor)
}

func TestMixedMarkupPrefersLegacy(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "mixed.html", "text/html", "https://old.reddit.com/r/golang/")

	records, variant := a.Extract(page, crawler.VariantAuto)
	require.Equal(t, crawler.VariantLegacy, variant)
	require.Len(t, records, 1)
	assert.Equal(t, "eee555", records[0].ID)
	assert.Equal(t, "Still using old reddit", records[0].Title)
	assert.Equal(t, "oldtimer", records[0].Author)

	cursor := a.Resolver().NextPage(page, crawler.VariantAuto)
	assert.Equal(t, crawler.Cursor{URL: "https://old.reddit.com/r/golang/?count=25&after=t3_eee555"}, cursor)

	// Pinning the current-markup variant still reads the embedded post.
	records, variant = a.Extract(page, crawler.VariantModern)
	require.Equal(t, crawler.VariantModern, variant)
	require.Len(t, records, 1)
	assert.Equal(t, "fff666", records[0].ID)
}

func TestModernComponentExtract(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "modern.html", "text/html", "https://www.reddit.com/r/golang/")

	records, variant := a.Extract(page, crawler.VariantAuto)
	require.Equal(t, crawler.VariantModern, variant)
	require.Len(t, records, 2, "ad posts are a different element")

	assert.Equal(t, crawler.Record{
		ID:           "ccc333",
		Title:        "Generics one year later",
		Link:         "https://old.reddit.com/r/golang/comments/ccc333/generics_one_year_later/",
		Author:       "typist",
		Date:         "2024-09-01T08:15:30Z",
		Subreddit:    "golang",
		Flair:        "Discussion",
		Score:        1200,
		CommentCount: 240,
		ExternalURL:  "https://blog.example.com/generics",
	}, records[0])

	assert.Equal(t, "Watch my talk", records[1].Title)
	assert.Equal(t, "https://old.reddit.com/comments/ddd444/", records[1].Link)
	assert.Equal(t, "https://v.redd.it/xyz", records[1].ExternalURL)
	assert.Equal(t, "2024-09-02T10:00:00Z", records[1].Date)

	cursor := a.Resolver().NextPage(page, crawler.VariantAuto)
	assert.Equal(t, "https://www.reddit.com/svc/shreddit/community-more-posts/hot/?after=dDNfZGRkNDQ0&name=golang", cursor.URL)
}

func TestModernContainerExtract(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "redesign.html", "text/html", "https://www.reddit.com/r/golang/")

	records, variant := a.Extract(page, crawler.VariantAuto)
	require.Equal(t, crawler.VariantModern, variant)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "Context cancellation patterns", first.Title)
	assert.Equal(t, "https://old.reddit.com/r/golang/comments/eee555/context_cancellation/", first.Link)
	assert.Equal(t, "old_timer", first.Author)
	assert.Equal(t, "golang", first.Subreddit)
	assert.Equal(t, "2024-10-01T09:00:00Z", first.Date, "relative label resolved against the clock")
	assert.Equal(t, 45, first.CommentCount)

	second := records[1]
	assert.Equal(t, crawler.PlaceholderTitle, second.Title)
	assert.Equal(t, "https://old.reddit.com/comments/fff666/", second.Link)
	assert.Empty(t, second.Date, "unparseable label leaves the date empty")

	assert.True(t, a.Resolver().NextPage(page, crawler.VariantAuto).IsZero())
}

func TestJSONExtract(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "listing.json", "application/json; charset=UTF-8", "https://www.reddit.com/r/golang/.json?limit=100")

	records, variant := a.Extract(page, crawler.VariantJSON)
	require.Equal(t, crawler.VariantJSON, variant)
	require.Len(t, records, 2, "non-post entries are skipped")

	assert.Equal(t, crawler.Record{
		ID:           "ggg000",
		Title:        "Weekly questions thread",
		Link:         "https://old.reddit.com/r/golang/comments/ggg000/weekly_questions/",
		Author:       "AutoModerator",
		Date:         "2024-09-01T00:00:00Z",
		Subreddit:    "golang",
		Flair:        "Meta",
		Score:        15,
		CommentCount: 102,
	}, records[0])
	assert.Equal(t, crawler.PlaceholderTitle, records[1].Title)
	assert.Equal(t, "https://github.com/example/repo", records[1].ExternalURL)

	cursor := a.Resolver().NextPage(page, crawler.VariantJSON)
	assert.Equal(t, crawler.Cursor{Token: "t3_ggg777"}, cursor)
	next, err := cursor.Resolve("https://www.reddit.com/r/golang/.json?limit=100")
	require.NoError(t, err)
	assert.Equal(t, "https://www.reddit.com/r/golang/.json?after=t3_ggg777&limit=100", next)
}

func TestRSSExtract(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "feed.atom", "application/atom+xml", "https://www.reddit.com/r/golang/.rss")

	records, variant := a.Extract(page, crawler.VariantAuto)
	require.Equal(t, crawler.VariantRSS, variant)
	require.Len(t, records, 2)

	assert.Equal(t, "hhh888", records[0].ID)
	assert.Equal(t, "Range over func iterators", records[0].Title)
	assert.Equal(t, "https://www.reddit.com/r/golang/comments/hhh888/iterators/", records[0].Link)
	assert.Equal(t, "feedwriter", records[0].Author)
	assert.Equal(t, "golang", records[0].Subreddit)
	assert.Equal(t, "2024-09-03T11:00:00Z", records[0].Date)
	assert.Equal(t, "2024-09-04T12:00:00Z", records[1].Date, "updated stamp used when published is absent")

	assert.Equal(t, crawler.Cursor{Token: "t3_iii999"}, a.Resolver().NextPage(page, crawler.VariantAuto))
}

func TestNoLayoutMatch(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "empty.html", "text/html", "https://www.reddit.com/r/golang/")

	_, err := a.Detect(page, crawler.VariantAuto)
	require.ErrorIs(t, err, crawler.ErrNoLayoutMatch)
	records, variant := a.Extract(page, crawler.VariantAuto)
	assert.Empty(t, records)
	assert.Equal(t, crawler.VariantAuto, variant)
	assert.True(t, a.Resolver().NextPage(page, crawler.VariantAuto).IsZero())
}

func TestHintPinsStrategy(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	page := loadPage(t, "legacy.html", "text/html", "https://old.reddit.com/r/golang/")

	records, variant := a.Extract(page, crawler.VariantJSON)
	assert.Empty(t, records)
	assert.Equal(t, crawler.VariantAuto, variant)
}

func TestEveryRecordHasTitleAndLink(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)
	fixtures := map[string]string{
		"legacy.html":   "text/html",
		"modern.html":   "text/html",
		"redesign.html": "text/html",
		"listing.json":  "application/json",
		"feed.atom":     "application/atom+xml",
	}
	for name, ct := range fixtures {
		page := loadPage(t, name, ct, "https://www.reddit.com/r/golang/")
		records, _ := a.Extract(page, crawler.VariantAuto)
		require.NotEmpty(t, records, name)
		for i, r := range records {
			assert.NotEmpty(t, r.Title, "%s record %d", name, i)
			assert.NotEmpty(t, r.Link, "%s record %d", name, i)
		}
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"kind": "Listing", "data": `), "application/json", "https://x")
	var pe *crawler.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "https://x", pe.URL)

	_, err = Parse([]byte(`{"message": "Forbidden", "error": 403}`), "", "https://x")
	require.ErrorAs(t, err, &pe)

	_, err = Parse([]byte(`<?xml version="1.0"?><nonsense`), "application/rss+xml", "https://x")
	require.ErrorAs(t, err, &pe)
}

func TestParseSniffsWithoutContentType(t *testing.T) {
	t.Parallel()

	page, err := Parse([]byte(`[{"kind":"Listing","data":{"children":[]}},{"kind":"Listing","data":{}}]`), "", "u")
	require.NoError(t, err)
	require.NotNil(t, page.Listing)

	page, err = Parse([]byte(`<html><body></body></html>`), "", "u")
	require.NoError(t, err)
	require.NotNil(t, page.Doc)
}

func TestNewRequiresOrigin(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Origin: "not a url"})
	require.Error(t, err)
}
