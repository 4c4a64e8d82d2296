// Package dedup filters records down to the first-seen copy of each post.
package dedup

import "github.com/Sbajrac2/Reddit-explorer/internal/crawler"

// Deduplicator tracks identity keys seen by one crawl session. It is owned by
// a single scheduler loop and is not safe for concurrent use.
type Deduplicator struct {
	seen map[string]struct{}
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Key returns the identity of a record: the native id when the fetch path
// supplied one, otherwise title and author as extracted.
func Key(r crawler.Record) string {
	if r.ID != "" {
		return "id:" + r.ID
	}
	return "ta:" + r.Title + "|" + r.Author
}

// Admit reports whether the record is novel and marks it as seen.
func (d *Deduplicator) Admit(r crawler.Record) bool {
	key := Key(r)
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Filter admits records in order and returns the novel ones.
func (d *Deduplicator) Filter(records []crawler.Record) []crawler.Record {
	out := make([]crawler.Record, 0, len(records))
	for _, r := range records {
		if d.Admit(r) {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of distinct keys seen.
func (d *Deduplicator) Len() int {
	return len(d.seen)
}
