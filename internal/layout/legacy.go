package layout

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

const (
	legacyContainer = "div.thing.link"
	legacyNext      = "span.next-button a"
)

// Legacy handles the server-rendered listing markup (one div.thing per post).
type Legacy struct {
	n normalizer
}

// Variant implements Strategy.
func (*Legacy) Variant() crawler.Variant { return crawler.VariantLegacy }

// Match implements Strategy.
func (*Legacy) Match(page *Page) bool {
	return page.Doc != nil && page.Doc.Find(legacyContainer).Length() > 0
}

// Extract implements Strategy. Promoted and hidden posts are skipped.
func (l *Legacy) Extract(page *Page) []crawler.Record {
	var records []crawler.Record
	page.Doc.Find(legacyContainer).Each(func(_ int, s *goquery.Selection) {
		if s.HasClass("promotedlink") || s.HasClass("promoted") || attr(s, "data-promoted") == "true" || hidden(s) {
			return
		}
		records = append(records, l.record(s))
	})
	return records
}

func (l *Legacy) record(s *goquery.Selection) crawler.Record {
	titleAnchor := s.Find("a.title").First()
	commentsHref := attr(s.Find("a.comments").First(), "href")
	id := stripFullname(attr(s, "data-fullname"))

	link := l.n.links.resolve(
		firstNonEmpty(commentsHref, attr(s, "data-permalink"), attr(titleAnchor, "href")),
		commentsHref,
		id,
	)

	timeEl := s.Find("time").First()
	date := l.n.dates.fromAttr(attr(timeEl, "datetime"))
	if date == "" {
		date = l.n.dates.fromEpoch(attr(s, "data-timestamp"))
	}
	if date == "" {
		date = l.n.dates.fromLabel(firstNonEmpty(attr(timeEl, "title"), text(timeEl)))
	}

	flair := s.Find("span.linkflairlabel").First()
	score := attr(s, "data-score")
	if score == "" {
		score = firstNonEmpty(attr(s.Find("div.score.unvoted").First(), "title"), text(s.Find("div.score.unvoted").First()))
	}

	return crawler.Record{
		ID:           id,
		Title:        titleOrPlaceholder(text(titleAnchor)),
		Link:         link,
		Author:       firstNonEmpty(attr(s, "data-author"), text(s.Find("a.author").First())),
		Date:         date,
		Subreddit:    stripPrefix(firstNonEmpty(attr(s, "data-subreddit"), text(s.Find("a.subreddit").First())), "r/"),
		Flair:        firstNonEmpty(text(flair), attr(flair, "title")),
		Score:        parseCount(score),
		CommentCount: parseCount(firstNonEmpty(attr(s, "data-comments-count"), text(s.Find("a.comments").First()))),
		ExternalURL:  l.n.links.external(firstNonEmpty(attr(s, "data-url"), attr(titleAnchor, "href")), link),
	}
}

// NextPage implements Strategy.
func (l *Legacy) NextPage(page *Page) crawler.Cursor {
	href := attr(page.Doc.Find(legacyNext).First(), "href")
	return cursorURL(page, href, l.n.links)
}

// cursorURL resolves a relative next-page href against the page it came from.
func cursorURL(page *Page, href string, links linkResolver) crawler.Cursor {
	if href == "" {
		return crawler.Cursor{}
	}
	next := links.absolute(href)
	if base, err := url.Parse(page.URL); err == nil && base.IsAbs() {
		next = resolveAgainst(base, href)
	}
	if next == "" || next == page.URL {
		return crawler.Cursor{}
	}
	return crawler.Cursor{URL: next}
}
