// Package headless renders client-side listing pages with a headless browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitSelector      = "body"
	defaultSettle            = 500 * time.Millisecond
)

// Config controls the browser.
type Config struct {
	// MaxParallel caps concurrent tabs. Zero means no cap.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector signals that the feed has hydrated.
	WaitSelector string
	// ScrollPasses scrolls to the bottom this many times so lazily loaded
	// posts are in the DOM before it is serialized.
	ScrollPasses int
	// Settle is the pause after hydration and after each scroll pass.
	Settle time.Duration
}

// Fetcher implements crawler.Fetcher on top of a shared Chrome allocator.
// Each fetch opens its own tab.
type Fetcher struct {
	cfg   Config
	slots chan struct{}

	browser context.Context
	stop    context.CancelFunc
}

// NewChromedp validates cfg and prepares the allocator. Chrome itself is
// started lazily by the first fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.ScrollPasses < 0 {
		return nil, errors.New("scroll passes must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	f.browser, f.stop = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down. In-flight fetches fail.
func (f *Fetcher) Close() {
	f.stop()
}

// Fetch renders the page and returns its serialized DOM as text/html.
// Failures, including a document status of 400 or above, are reported as
// *crawler.TransportError.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, &crawler.TransportError{URL: req.URL, Err: err}
	}
	defer f.release()

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	// The tab descends from the allocator, not ctx, so forward cancellation.
	unlink := context.AfterFunc(ctx, cancel)
	defer unlink()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	if err := chromedp.Run(tab, f.render(req, &html, &location)...); err != nil {
		return crawler.FetchResponse{}, &crawler.TransportError{URL: req.URL, Err: fmt.Errorf("render: %w", err)}
	}

	status, headers, finalURL := doc.result()
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusBadRequest {
		return crawler.FetchResponse{}, &crawler.TransportError{URL: req.URL, StatusCode: status}
	}
	switch {
	case location != "":
		finalURL = location
	case finalURL == "":
		finalURL = req.URL
	}
	headers.Set("Content-Type", "text/html; charset=utf-8")

	return crawler.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) render(req crawler.FetchRequest, html, location *string) []chromedp.Action {
	actions := []chromedp.Action{
		f.prepare(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
	}
	for range f.cfg.ScrollPasses {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(f.cfg.Settle),
		)
	}
	return append(actions,
		chromedp.Location(location),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	)
}

func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := requestHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

// documentResponse keeps the metadata of the first top-level document the
// tab received. Later documents (iframes, ads) are ignored.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.headers = responseHeaders(resp.Response.Headers)
}

func (d *documentResponse) result() (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	headers := http.Header{}
	for k, vs := range d.headers {
		headers[k] = append([]string(nil), vs...)
	}
	return d.status, headers, d.url
}

// responseHeaders flattens CDP headers, whose values may be strings or lists.
func responseHeaders(src network.Headers) http.Header {
	out := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []string:
			for _, s := range v {
				out.Add(key, s)
			}
		case []any:
			for _, s := range v {
				out.Add(key, fmt.Sprint(s))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func requestHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
