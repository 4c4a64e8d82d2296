package crawler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Placeholders used when a record field cannot be extracted.
const (
	PlaceholderTitle = "No title"
	PlaceholderLink  = "#"
)

// Record is one normalized post.
type Record struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty" bson:"id,omitempty"`
	Title        string `json:"title" yaml:"title" bson:"title"`
	Link         string `json:"link" yaml:"link" bson:"link"`
	Author       string `json:"author" yaml:"author" bson:"author"`
	Date         string `json:"date,omitempty" yaml:"date,omitempty" bson:"date,omitempty"`
	Subreddit    string `json:"subreddit,omitempty" yaml:"subreddit,omitempty" bson:"subreddit,omitempty"`
	Flair        string `json:"flair,omitempty" yaml:"flair,omitempty" bson:"flair,omitempty"`
	Score        int    `json:"score" yaml:"score" bson:"score"`
	CommentCount int    `json:"comment_count" yaml:"comment_count" bson:"comment_count"`
	ExternalURL  string `json:"external_url,omitempty" yaml:"external_url,omitempty" bson:"external_url,omitempty"`
}

// Time parses Date. The zero time is returned when the date is unknown.
func (r Record) Time() time.Time {
	if r.Date == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, r.Date)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// CloneRecords returns a copy of the slice so readers cannot mutate the owner's view.
func CloneRecords(src []Record) []Record {
	out := make([]Record, len(src))
	copy(out, src)
	return out
}

// SortMode selects the listing order of a query.
type SortMode string

// Sort modes understood by the source.
const (
	SortDefault       SortMode = "default"
	SortNew           SortMode = "new"
	SortTop           SortMode = "top"
	SortControversial SortMode = "controversial"
)

// TimeWindow restricts top/controversial listings to a period.
type TimeWindow string

// Time windows understood by the source. WindowNone omits the parameter.
const (
	WindowNone  TimeWindow = ""
	WindowAll   TimeWindow = "all"
	WindowYear  TimeWindow = "year"
	WindowMonth TimeWindow = "month"
	WindowWeek  TimeWindow = "week"
	WindowDay   TimeWindow = "day"
)

// Coverage decides whether a crawl sweeps historical query axes.
type Coverage string

// Supported coverage levels.
const (
	CoverageLive       Coverage = "live"
	CoverageHistorical Coverage = "historical"
)

// ParseCoverage validates user input. An empty value means live.
func ParseCoverage(raw string) (Coverage, error) {
	switch Coverage(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CoverageLive:
		return CoverageLive, nil
	case CoverageHistorical:
		return CoverageHistorical, nil
	default:
		return "", fmt.Errorf("unknown coverage %q", raw)
	}
}

// Representation is the fetch path used to build query URLs.
type Representation string

// Supported representations.
const (
	RepresentationHTML Representation = "html"
	RepresentationJSON Representation = "json"
	RepresentationRSS  Representation = "rss"
)

// Variant identifies a page layout. VariantAuto lets the adapter detect it.
type Variant string

// Known layout variants.
const (
	VariantAuto   Variant = ""
	VariantLegacy Variant = "legacy"
	VariantModern Variant = "modern"
	VariantJSON   Variant = "json"
	VariantRSS    Variant = "rss"
)

// Query is one sort/time-window combination to crawl.
type Query struct {
	Sort      SortMode   `json:"sort"`
	Window    TimeWindow `json:"window,omitempty"`
	TargetURL string     `json:"target_url"`
	// PageCap bounds pagination; zero means uncapped.
	PageCap int `json:"page_cap"`
	// Hint pins the layout strategy for pages of this query.
	Hint Variant `json:"hint,omitempty"`
}

// Label renders the query axes for logs, e.g. "top/all".
func (q Query) Label() string {
	if q.Window == WindowNone {
		return string(q.Sort)
	}
	return string(q.Sort) + "/" + string(q.Window)
}

// Cursor is a continuation reference. The zero value means no further pages.
type Cursor struct {
	URL   string `json:"url,omitempty"`
	Token string `json:"token,omitempty"`
}

// IsZero reports whether the cursor signals the end of pagination.
func (c Cursor) IsZero() bool {
	return c.URL == "" && c.Token == ""
}

// Resolve turns the cursor into a fetchable URL relative to the query's base URL.
func (c Cursor) Resolve(base string) (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.Token == "" {
		return "", fmt.Errorf("resolve cursor: empty cursor")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("resolve cursor: parse base: %w", err)
	}
	q := u.Query()
	q.Set("after", c.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Status is the scheduler state of a crawl session.
type Status string

// Session states.
const (
	StatusIdle              Status = "IDLE"
	StatusFetchingFirstPage Status = "FETCHING_FIRST_PAGE"
	StatusFetchingNextPage  Status = "FETCHING_NEXT_PAGE"
	StatusQueryExhausted    Status = "QUERY_EXHAUSTED"
	StatusNextQuery         Status = "NEXT_QUERY"
	StatusAllQueriesDone    Status = "ALL_QUERIES_DONE"
	StatusDone              Status = "DONE"
	StatusError             Status = "ERROR"
	StatusAbandoned         Status = "ABANDONED"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusAbandoned:
		return true
	default:
		return false
	}
}

// SessionInfo is the persisted summary of a crawl session.
type SessionInfo struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner,omitempty"`
	Target     string     `json:"target"`
	Coverage   Coverage   `json:"coverage"`
	Status     Status     `json:"status"`
	Queries    int        `json:"queries"`
	QueryIndex int        `json:"query_index"`
	Pages      int        `json:"pages"`
	Records    int        `json:"records"`
	ErrorText  string     `json:"error,omitempty"`
	Started    time.Time  `json:"started_at"`
	Finished   *time.Time `json:"finished_at,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	SessionID   string
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the media type of the response without parameters.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	ct := r.Headers.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
