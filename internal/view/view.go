// Package view filters, orders and pages a record set for display.
package view

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// DefaultPerPage matches the page size of the interactive listing.
const DefaultPerPage = 25

// Order selects the date ordering of a view.
type Order string

// Supported orders. OrderNone keeps crawl order.
const (
	OrderNone   Order = ""
	OrderNewest Order = "newest"
	OrderOldest Order = "oldest"
)

// ParseOrder validates user input.
func ParseOrder(raw string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(raw))) {
	case OrderNone:
		return OrderNone, nil
	case OrderNewest:
		return OrderNewest, nil
	case OrderOldest:
		return OrderOldest, nil
	default:
		return OrderNone, fmt.Errorf("unknown sort order %q", raw)
	}
}

// Options narrows a record set. Zero values disable the matching filter.
type Options struct {
	Keyword string
	Author  string
	Flair   string
	From    time.Time
	To      time.Time
	Sort    Order
	Page    int
	PerPage int
}

// Page is one window of a filtered record set.
type Page struct {
	Records    []crawler.Record `json:"records"`
	Total      int              `json:"total"`
	TotalPages int              `json:"total_pages"`
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
}

// Apply filters, sorts and pages records. The input slice is not modified.
func Apply(records []crawler.Record, opts Options) Page {
	filtered := Filter(records, opts)
	SortRecords(filtered, opts.Sort)
	return Paginate(filtered, opts.Page, opts.PerPage)
}

// Filter returns the records matching every active filter.
func Filter(records []crawler.Record, opts Options) []crawler.Record {
	keyword := strings.ToLower(strings.TrimSpace(opts.Keyword))
	author := strings.ToLower(strings.TrimSpace(opts.Author))
	flair := strings.ToLower(strings.TrimSpace(opts.Flair))

	out := make([]crawler.Record, 0, len(records))
	for _, r := range records {
		if keyword != "" && !containsFold(r.Title, keyword) &&
			!containsFold(r.Author, keyword) && !containsFold(r.Subreddit, keyword) {
			continue
		}
		if author != "" && !containsFold(r.Author, author) {
			continue
		}
		if flair != "" && !containsFold(r.Flair, flair) {
			continue
		}
		// Undated records always pass the range.
		if ts := r.Time(); !ts.IsZero() {
			if !opts.From.IsZero() && ts.Before(opts.From) {
				continue
			}
			if !opts.To.IsZero() && ts.After(opts.To) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// SortRecords orders records by date in place. Undated records sort last.
func SortRecords(records []crawler.Record, order Order) {
	if order == OrderNone {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Time(), records[j].Time()
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		case order == OrderOldest:
			return a.Before(b)
		default:
			return a.After(b)
		}
	})
}

// Paginate slices out one page, clamping page into [1, TotalPages].
func Paginate(records []crawler.Record, page, perPage int) Page {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	total := len(records)
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * perPage
	end := min(start+perPage, total)
	window := []crawler.Record{}
	if start < end {
		window = crawler.CloneRecords(records[start:end])
	}
	return Page{
		Records:    window,
		Total:      total,
		TotalPages: totalPages,
		Page:       page,
		PerPage:    perPage,
	}
}

// ParseDate accepts RFC 3339 or a bare YYYY-MM-DD. A bare date used as an
// upper bound covers the whole day.
func ParseDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: want YYYY-MM-DD or RFC 3339", raw)
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

func containsFold(s, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(s), lowerNeedle)
}
