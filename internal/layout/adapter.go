// Package layout turns fetched pages into normalized records and continuation
// cursors. Each page layout the source serves is handled by a Strategy; the
// Adapter and CursorResolver try strategies in a fixed priority order.
package layout

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Strategy extracts records and the next-page cursor for one layout variant.
type Strategy interface {
	Variant() crawler.Variant
	// Match reports whether the page carries this layout's container marker.
	Match(page *Page) bool
	Extract(page *Page) []crawler.Record
	NextPage(page *Page) crawler.Cursor
}

// Config configures link and date normalization.
type Config struct {
	// Origin resolves relative links and discussion URL templates.
	Origin string
	Clock  crawler.Clock
}

// Adapter extracts records from a page using the first matching strategy.
type Adapter struct {
	strategies []Strategy
}

// New builds the default strategy chain: legacy markup, current markup, JSON
// listing, then RSS/Atom feed.
func New(cfg Config) (*Adapter, error) {
	if cfg.Origin == "" {
		return nil, fmt.Errorf("origin is required")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", cfg.Origin)
	}
	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock.Now
	}
	n := normalizer{
		links: linkResolver{origin: origin},
		dates: dateParser{now: now},
	}
	return NewWithStrategies(
		&Legacy{n: n},
		&Modern{n: n},
		&JSON{n: n},
		&RSS{n: n},
	), nil
}

// NewWithStrategies builds an Adapter from an explicit priority list.
func NewWithStrategies(strategies ...Strategy) *Adapter {
	return &Adapter{strategies: strategies}
}

// Detect returns the strategy for a page. A non-auto hint pins the strategy;
// crawler.ErrNoLayoutMatch is returned when nothing recognizes the page.
func (a *Adapter) Detect(page *Page, hint crawler.Variant) (Strategy, error) {
	if page == nil {
		return nil, crawler.ErrNoLayoutMatch
	}
	for _, s := range a.strategies {
		if hint != crawler.VariantAuto && s.Variant() != hint {
			continue
		}
		if s.Match(page) {
			return s, nil
		}
	}
	return nil, crawler.ErrNoLayoutMatch
}

// Extract returns the page's records together with the variant that produced
// them. An unrecognized page yields no records and VariantAuto.
func (a *Adapter) Extract(page *Page, hint crawler.Variant) ([]crawler.Record, crawler.Variant) {
	s, err := a.Detect(page, hint)
	if err != nil {
		return nil, crawler.VariantAuto
	}
	return s.Extract(page), s.Variant()
}

// Resolver returns a CursorResolver over the same strategies.
func (a *Adapter) Resolver() *CursorResolver {
	return &CursorResolver{strategies: a.strategies}
}

// CursorResolver finds the next-page reference of a page.
type CursorResolver struct {
	strategies []Strategy
}

// NextPage returns the first non-empty cursor among matching strategies, or
// the zero Cursor when pagination has ended.
func (r *CursorResolver) NextPage(page *Page, hint crawler.Variant) crawler.Cursor {
	if page == nil {
		return crawler.Cursor{}
	}
	for _, s := range r.strategies {
		if hint != crawler.VariantAuto && s.Variant() != hint {
			continue
		}
		if !s.Match(page) {
			continue
		}
		if c := s.NextPage(page); !c.IsZero() {
			return c
		}
	}
	return crawler.Cursor{}
}

type normalizer struct {
	links linkResolver
	dates dateParser
}
