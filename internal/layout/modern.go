package layout

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

const (
	modernContainer   = `shreddit-post, div[data-testid="post-container"]`
	modernMorePartial = `faceplate-partial[src*="after="]`
)

// Modern handles the current markup, both the web-component feed
// (shreddit-post) and the earlier client-rendered post containers.
type Modern struct {
	n normalizer
}

// Variant implements Strategy.
func (*Modern) Variant() crawler.Variant { return crawler.VariantModern }

// Match implements Strategy.
func (*Modern) Match(page *Page) bool {
	return page.Doc != nil && page.Doc.Find(modernContainer).Length() > 0
}

// Extract implements Strategy.
func (m *Modern) Extract(page *Page) []crawler.Record {
	var records []crawler.Record
	page.Doc.Find(modernContainer).Each(func(_ int, s *goquery.Selection) {
		if hidden(s) || attr(s, "is-promoted") == "true" {
			return
		}
		if goquery.NodeName(s) == "shreddit-post" {
			records = append(records, m.component(s))
			return
		}
		records = append(records, m.container(s))
	})
	return records
}

func (m *Modern) component(s *goquery.Selection) crawler.Record {
	id := stripFullname(attr(s, "id"))
	commentsHref := attr(s.Find(`a[slot="full-post-link"]`).First(), "href")
	link := m.n.links.resolve(firstNonEmpty(attr(s, "permalink"), commentsHref), commentsHref, id)

	date := m.n.dates.fromAttr(firstNonEmpty(attr(s, "created-timestamp"), attr(s.Find("faceplate-timeago").First(), "ts")))
	if date == "" {
		date = m.n.dates.fromAttr(attr(s.Find("time").First(), "datetime"))
	}
	if date == "" {
		date = m.n.dates.fromLabel(text(s.Find("time").First()))
	}

	return crawler.Record{
		ID:           id,
		Title:        titleOrPlaceholder(firstNonEmpty(attr(s, "post-title"), text(s.Find(`a[slot="title"]`).First()))),
		Link:         link,
		Author:       firstNonEmpty(attr(s, "author")),
		Date:         date,
		Subreddit:    stripPrefix(firstNonEmpty(attr(s, "subreddit-prefixed-name"), attr(s, "subreddit-name")), "r/"),
		Flair:        text(s.Find("shreddit-post-flair").First()),
		Score:        parseCount(attr(s, "score")),
		CommentCount: parseCount(attr(s, "comment-count")),
		ExternalURL:  m.n.links.external(attr(s, "content-href"), link),
	}
}

func (m *Modern) container(s *goquery.Selection) crawler.Record {
	id := stripFullname(attr(s, "id"))
	body := s.Find(`a[data-click-id="body"]`).First()
	commentsHref := attr(s.Find(`a[data-click-id="comments"]`).First(), "href")
	link := m.n.links.resolve(firstNonEmpty(attr(body, "href"), commentsHref), commentsHref, id)

	stamp := s.Find(`a[data-click-id="timestamp"]`).First()
	date := m.n.dates.fromAttr(attr(s.Find("time").First(), "datetime"))
	if date == "" {
		date = m.n.dates.fromLabel(text(stamp))
	}

	return crawler.Record{
		ID:           id,
		Title:        titleOrPlaceholder(text(s.Find("h3").First())),
		Link:         link,
		Author:       stripPrefix(text(s.Find(`a[data-testid="post_author_link"]`).First()), "u/"),
		Date:         date,
		Subreddit:    stripPrefix(text(s.Find(`a[data-click-id="subreddit"]`).First()), "r/"),
		Flair:        text(s.Find(`div[data-testid="post-flair"], span[data-testid="post-flair"]`).First()),
		Score:        parseCount(text(s.Find(`div[data-testid="vote-count"], div[id^="vote-arrows"] div`).First())),
		CommentCount: parseCount(text(s.Find(`a[data-click-id="comments"]`).First())),
		ExternalURL:  m.n.links.external(attr(s.Find(`a[data-testid="outbound-link"]`).First(), "href"), link),
	}
}

// NextPage implements Strategy. The feed loads further posts through a
// partial whose src carries the after token; older markup uses rel=next.
func (m *Modern) NextPage(page *Page) crawler.Cursor {
	href := firstNonEmpty(
		attr(page.Doc.Find(modernMorePartial).Last(), "src"),
		attr(page.Doc.Find(`a[rel~="next"]`).First(), "href"),
	)
	return cursorURL(page, href, m.n.links)
}
