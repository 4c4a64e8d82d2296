// Package planner enumerates the ordered queries used to crawl a target.
package planner

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/target"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultOrigin            = "https://old.reddit.com"
	DefaultJSONOrigin        = "https://www.reddit.com"
	DefaultHistoricalPageCap = 40
	DefaultJSONLimit         = 100
)

// Config controls how query URLs are derived.
type Config struct {
	Origin            string
	JSONOrigin        string
	Representation    crawler.Representation
	LivePageCap       int
	HistoricalPageCap int
	JSONLimit         int
}

type axis struct {
	sort   crawler.SortMode
	window crawler.TimeWindow
}

// historicalAxes is the sweep appended after the live query. Order decides
// which copy of a duplicated post survives.
var historicalAxes = []axis{
	{crawler.SortTop, crawler.WindowAll},
	{crawler.SortTop, crawler.WindowYear},
	{crawler.SortTop, crawler.WindowMonth},
	{crawler.SortNew, crawler.WindowNone},
	{crawler.SortControversial, crawler.WindowAll},
}

// Planner builds deterministic query plans.
type Planner struct {
	cfg Config
}

// New returns a Planner with defaults filled in.
func New(cfg Config) *Planner {
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if cfg.JSONOrigin == "" {
		cfg.JSONOrigin = DefaultJSONOrigin
	}
	if cfg.Representation == "" {
		cfg.Representation = crawler.RepresentationHTML
	}
	if cfg.HistoricalPageCap <= 0 {
		cfg.HistoricalPageCap = DefaultHistoricalPageCap
	}
	if cfg.JSONLimit <= 0 {
		cfg.JSONLimit = DefaultJSONLimit
	}
	cfg.Origin = strings.TrimRight(cfg.Origin, "/")
	cfg.JSONOrigin = strings.TrimRight(cfg.JSONOrigin, "/")
	return &Planner{cfg: cfg}
}

// Origin returns the canonical origin used to resolve relative links.
func (p *Planner) Origin() string {
	return p.cfg.Origin
}

// Plan returns the live query, followed by the historical sweep when
// coverage asks for it. A raw listing already fixes its own sort and window,
// so it is planned as the live query alone.
func (p *Planner) Plan(t target.Target, coverage crawler.Coverage) []crawler.Query {
	queries := []crawler.Query{p.query(t, axis{crawler.SortDefault, crawler.WindowNone}, p.cfg.LivePageCap)}
	if coverage != crawler.CoverageHistorical || t.Kind == target.KindListing {
		return queries
	}
	for _, ax := range historicalAxes {
		queries = append(queries, p.query(t, ax, p.cfg.HistoricalPageCap))
	}
	return queries
}

func (p *Planner) query(t target.Target, ax axis, pageCap int) crawler.Query {
	return crawler.Query{
		Sort:      ax.sort,
		Window:    ax.window,
		TargetURL: p.URL(t, ax.sort, ax.window),
		PageCap:   pageCap,
		Hint:      p.hint(),
	}
}

func (p *Planner) hint() crawler.Variant {
	switch p.cfg.Representation {
	case crawler.RepresentationJSON:
		return crawler.VariantJSON
	case crawler.RepresentationRSS:
		return crawler.VariantRSS
	default:
		return crawler.VariantAuto
	}
}

// URL derives the first-page URL for a target and axis combination. A raw
// listing keeps its own query parameters.
func (p *Planner) URL(t target.Target, sort crawler.SortMode, window crawler.TimeWindow) string {
	params := url.Values{}
	if t.Kind == target.KindListing && t.Query != "" {
		if parsed, err := url.ParseQuery(t.Query); err == nil {
			params = parsed
		}
	}
	if window != crawler.WindowNone {
		params.Set("t", string(window))
	}
	var path string
	switch p.cfg.Representation {
	case crawler.RepresentationJSON:
		params.Set("limit", strconv.Itoa(p.cfg.JSONLimit))
		path = p.cfg.JSONOrigin + p.listingPath(t, sort, params, ".json")
	case crawler.RepresentationRSS:
		path = p.cfg.JSONOrigin + p.listingPath(t, sort, params, ".rss")
	default:
		path = p.cfg.Origin + p.listingPath(t, sort, params, "")
	}
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// listingPath lays out sort modes the way the source routes them: groups put
// the sort in the path, user feeds and raw listings take it as a query
// parameter.
func (p *Planner) listingPath(t target.Target, sort crawler.SortMode, params url.Values, suffix string) string {
	base := t.Path()
	if t.Kind == target.KindListing {
		if sort != crawler.SortDefault {
			params.Set("sort", string(sort))
		}
		return base + "/" + suffix
	}
	if t.Kind == target.KindUser {
		if sort != crawler.SortDefault {
			params.Set("sort", string(sort))
		}
		if suffix == "" {
			return base + "/"
		}
		return base + "/submitted/" + suffix
	}
	if sort == crawler.SortDefault {
		return base + "/" + suffix
	}
	return base + "/" + string(sort) + "/" + suffix
}
