package layout

import (
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// RSS handles the Atom/RSS listing feeds.
type RSS struct {
	n normalizer
}

// Variant implements Strategy.
func (*RSS) Variant() crawler.Variant { return crawler.VariantRSS }

// Match implements Strategy.
func (*RSS) Match(page *Page) bool {
	return page.Feed != nil
}

// Extract implements Strategy.
func (r *RSS) Extract(page *Page) []crawler.Record {
	records := make([]crawler.Record, 0, len(page.Feed.Items))
	for _, item := range page.Feed.Items {
		if item == nil {
			continue
		}
		records = append(records, r.record(item))
	}
	return records
}

func (r *RSS) record(item *gofeed.Item) crawler.Record {
	id := stripFullname(item.GUID)
	if strings.Contains(id, "/") {
		id = ""
	}
	date := ""
	switch {
	case item.PublishedParsed != nil:
		date = formatDate(*item.PublishedParsed)
	case item.UpdatedParsed != nil:
		date = formatDate(*item.UpdatedParsed)
	}
	subreddit := ""
	if len(item.Categories) > 0 {
		subreddit = stripPrefix(strings.TrimSpace(item.Categories[0]), "r/")
	}
	return crawler.Record{
		ID:        id,
		Title:     titleOrPlaceholder(item.Title),
		Link:      r.n.links.resolve(item.Link, "", id),
		Author:    stripPrefix(feedAuthor(item), "/u/", "u/"),
		Date:      date,
		Subreddit: subreddit,
	}
}

func feedAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	return ""
}

// NextPage implements Strategy. Feeds carry no continuation link, so the
// fullname of the last entry becomes the after token.
func (*RSS) NextPage(page *Page) crawler.Cursor {
	items := page.Feed.Items
	if len(items) == 0 || items[len(items)-1] == nil {
		return crawler.Cursor{}
	}
	guid := strings.TrimSpace(items[len(items)-1].GUID)
	if stripFullname(guid) == guid {
		return crawler.Cursor{}
	}
	return crawler.Cursor{Token: guid}
}
