package layout

import (
	"strings"
	"time"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// JSON handles listing payloads from the structured API.
type JSON struct {
	n normalizer
}

// Variant implements Strategy.
func (*JSON) Variant() crawler.Variant { return crawler.VariantJSON }

// Match implements Strategy.
func (*JSON) Match(page *Page) bool {
	return page.Listing != nil
}

// Extract implements Strategy. Entries other than posts are skipped.
func (j *JSON) Extract(page *Page) []crawler.Record {
	records := make([]crawler.Record, 0, len(page.Listing.Data.Children))
	for _, child := range page.Listing.Data.Children {
		if child.Kind != "t3" || child.Data.Promoted {
			continue
		}
		records = append(records, j.record(child.Data))
	}
	return records
}

func (j *JSON) record(d PostData) crawler.Record {
	id := firstNonEmpty(d.ID, stripFullname(d.Name))
	link := j.n.links.resolve(firstNonEmpty(d.Permalink, d.URL), d.Permalink, id)
	date := ""
	if d.CreatedUTC > 0 {
		date = formatDate(time.Unix(int64(d.CreatedUTC), 0))
	}
	external := ""
	if !d.IsSelf {
		external = j.n.links.external(d.URL, link)
	}
	return crawler.Record{
		ID:           id,
		Title:        titleOrPlaceholder(d.Title),
		Link:         link,
		Author:       strings.TrimSpace(d.Author),
		Date:         date,
		Subreddit:    strings.TrimSpace(d.Subreddit),
		Flair:        strings.TrimSpace(d.LinkFlairText),
		Score:        d.Score,
		CommentCount: d.NumComments,
		ExternalURL:  external,
	}
}

// NextPage implements Strategy. The envelope's after field is an opaque token.
func (*JSON) NextPage(page *Page) crawler.Cursor {
	return crawler.Cursor{Token: strings.TrimSpace(page.Listing.Data.After)}
}
