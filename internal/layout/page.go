package layout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Page is a fetched document after parsing. Exactly one of Doc, Listing, or
// Feed is set.
type Page struct {
	URL         string
	ContentType string
	Doc         *goquery.Document
	Listing     *Listing
	Feed        *gofeed.Feed
}

// Listing is the envelope of the source's JSON API.
type Listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Before   string  `json:"before"`
		Children []Thing `json:"children"`
	} `json:"data"`
}

// Thing is one typed entry of a listing. Only kind "t3" entries are posts.
type Thing struct {
	Kind string   `json:"kind"`
	Data PostData `json:"data"`
}

// PostData holds the post fields the extractor reads.
type PostData struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Subreddit     string  `json:"subreddit"`
	Permalink     string  `json:"permalink"`
	URL           string  `json:"url"`
	LinkFlairText string  `json:"link_flair_text"`
	Score         int     `json:"score"`
	NumComments   int     `json:"num_comments"`
	CreatedUTC    float64 `json:"created_utc"`
	IsSelf        bool    `json:"is_self"`
	Promoted      bool    `json:"promoted"`
}

type payloadKind int

const (
	payloadHTML payloadKind = iota
	payloadJSON
	payloadFeed
)

// Parse turns raw content into a Page. Failures are reported as
// *crawler.ParseError.
func Parse(raw []byte, contentType, pageURL string) (*Page, error) {
	page := &Page{URL: pageURL, ContentType: contentType}
	wrap := func(err error) error {
		return &crawler.ParseError{URL: pageURL, ContentType: contentType, Err: err}
	}
	switch sniff(raw, contentType) {
	case payloadJSON:
		listing, err := decodeListing(raw)
		if err != nil {
			return nil, wrap(err)
		}
		page.Listing = listing
	case payloadFeed:
		feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, wrap(fmt.Errorf("parse feed: %w", err))
		}
		page.Feed = feed
	default:
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
		if err != nil {
			return nil, wrap(fmt.Errorf("parse html: %w", err))
		}
		page.Doc = doc
	}
	return page, nil
}

func sniff(raw []byte, contentType string) payloadKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return payloadJSON
	case strings.Contains(ct, "rss"), strings.Contains(ct, "atom"), strings.Contains(ct, "xml"):
		return payloadFeed
	case strings.Contains(ct, "html"):
		return payloadHTML
	}
	head := bytes.TrimLeft(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf")), " \t\r\n")
	switch {
	case bytes.HasPrefix(head, []byte("{")), bytes.HasPrefix(head, []byte("[")):
		return payloadJSON
	case bytes.HasPrefix(head, []byte("<?xml")), bytes.HasPrefix(head, []byte("<rss")), bytes.HasPrefix(head, []byte("<feed")):
		return payloadFeed
	default:
		return payloadHTML
	}
}

// decodeListing accepts a single listing or the array form served for
// discussion pages, in which case the first listing wins.
func decodeListing(raw []byte) (*Listing, error) {
	head := bytes.TrimLeft(raw, " \t\r\n")
	if bytes.HasPrefix(head, []byte("[")) {
		var listings []Listing
		if err := json.Unmarshal(raw, &listings); err != nil {
			return nil, fmt.Errorf("decode listing array: %w", err)
		}
		for i := range listings {
			if listings[i].Kind == "Listing" {
				return &listings[i], nil
			}
		}
		return nil, errors.New("payload contains no listing")
	}
	var listing Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if listing.Kind != "Listing" && listing.Data.Children == nil {
		return nil, errors.New("payload is not a listing")
	}
	return &listing, nil
}
