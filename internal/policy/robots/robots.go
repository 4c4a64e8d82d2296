// Package robots gates fetches on the origin's robots.txt.
package robots

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// ErrDisallowed is wrapped in the TransportError returned for blocked URLs.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Fetcher consults robots.txt per host before delegating to the wrapped
// fetcher. robots.txt itself is fetched through the same fetcher and cached
// for the life of the Fetcher.
type Fetcher struct {
	next      crawler.Fetcher
	userAgent string
	logger    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

// New wraps next. An unreachable or unparsable robots.txt allows everything.
func New(next crawler.Fetcher, userAgent string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:      next,
		userAgent: userAgent,
		logger:    logger,
		hosts:     make(map[string]*robotstxt.RobotsData),
	}
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	allowed, err := f.Allowed(ctx, req.URL)
	if err != nil {
		return crawler.FetchResponse{}, &crawler.TransportError{URL: req.URL, Err: err}
	}
	if !allowed {
		return crawler.FetchResponse{}, &crawler.TransportError{URL: req.URL, Err: ErrDisallowed}
	}
	return f.next.Fetch(ctx, req)
}

// Allowed reports whether the user agent may fetch rawURL.
func (f *Fetcher) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false, fmt.Errorf("parse url %q: invalid", rawURL)
	}
	data := f.load(ctx, parsed)
	if data == nil {
		return true, nil
	}
	group := data.FindGroup(f.userAgent)
	if group == nil {
		return true, nil
	}
	return group.Test(parsed.EscapedPath()), nil
}

func (f *Fetcher) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	host := strings.ToLower(parsed.Host)
	f.mu.Lock()
	data, ok := f.hosts[host]
	f.mu.Unlock()
	if ok {
		return data
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	resp, err := f.next.Fetch(ctx, crawler.FetchRequest{
		URL:     robotsURL.String(),
		Headers: http.Header{"User-Agent": []string{f.userAgent}},
	})
	if err != nil && ctx.Err() != nil {
		// Don't cache a verdict for a cancelled lookup.
		return nil
	}
	var status int
	var body []byte
	if err != nil {
		var te *crawler.TransportError
		if !errors.As(err, &te) || te.StatusCode == 0 {
			f.logger.Warn("robots fetch failed; allowing access", zap.String("host", host), zap.Error(err))
			return nil
		}
		status = te.StatusCode
	} else {
		status, body = resp.StatusCode, resp.Body
	}
	data, err = robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		f.logger.Warn("robots parse failed; allowing access", zap.String("host", host), zap.Error(err))
		data = nil
	}

	f.mu.Lock()
	f.hosts[host] = data
	f.mu.Unlock()
	return data
}
