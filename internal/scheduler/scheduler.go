package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/clock/system"
	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/layout"
	"github.com/Sbajrac2/Reddit-explorer/internal/metrics"
	"github.com/Sbajrac2/Reddit-explorer/internal/progress"
)

// ErrAbandoned is returned by Run when the session was superseded or its
// context ended before it finished.
var ErrAbandoned = errors.New("crawl session abandoned")

// Query exhaustion reasons, reported in logs and QUERY_DONE notes.
const (
	reasonEmptyPage   = "empty page"
	reasonNoCursor    = "no cursor"
	reasonPageCap     = "page cap"
	reasonCursorLoop  = "cursor loop"
	reasonFetchFailed = "fetch failed"
)

// Deps are the collaborators of a Scheduler. Fetcher and Adapter are
// required.
type Deps struct {
	Fetcher crawler.Fetcher
	// Headless re-fetches client-rendered shells when Detector agrees.
	Headless crawler.Fetcher
	Detector crawler.HeadlessDetector
	Adapter  *layout.Adapter
	// Pacer runs before every continuation request, never before a query's
	// first page.
	Pacer    crawler.Pacer
	Progress progress.Emitter
	Clock    crawler.Clock
	// Headers are sent with every fetch.
	Headers http.Header
	Logger  *zap.Logger
}

// Scheduler runs crawl sessions.
type Scheduler struct {
	fetcher  crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	adapter  *layout.Adapter
	resolver *layout.CursorResolver
	pacer    crawler.Pacer
	progress progress.Emitter
	clock    crawler.Clock
	headers  http.Header
	logger   *zap.Logger
}

// New validates deps and builds a Scheduler.
func New(deps Deps) (*Scheduler, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("scheduler: fetcher is required")
	}
	if deps.Adapter == nil {
		return nil, errors.New("scheduler: layout adapter is required")
	}
	s := &Scheduler{
		fetcher:  deps.Fetcher,
		headless: deps.Headless,
		detector: deps.Detector,
		adapter:  deps.Adapter,
		resolver: deps.Adapter.Resolver(),
		pacer:    deps.Pacer,
		progress: deps.Progress,
		clock:    deps.Clock,
		headers:  deps.Headers.Clone(),
		logger:   deps.Logger,
	}
	if s.progress == nil {
		s.progress = progress.Nop{}
	}
	if s.clock == nil {
		s.clock = system.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// Run walks the session's queries in order until every query is exhausted,
// the first fetch of the crawl fails, or the session is abandoned. Each
// result sink callback receives a fresh snapshot. Run returns nil after
// OnComplete, the fatal error after OnFatalError, or ErrAbandoned.
func (s *Scheduler) Run(ctx context.Context, sess *Session, sink crawler.ResultSink) error {
	defer sess.close()
	metrics.IncActiveSessions()
	defer metrics.DecActiveSessions()

	start := s.clock.Now()
	log := s.logger.With(
		zap.String("session_id", sess.ID()),
		zap.String("target", sess.Target().String()),
	)
	log.Info("crawl started",
		zap.String("coverage", string(sess.Coverage())),
		zap.Int("queries", len(sess.queries)),
	)
	s.emit(sess, progress.Event{
		Stage:    progress.StageCrawlStart,
		Target:   sess.Target().String(),
		Coverage: string(sess.Coverage()),
		Queries:  len(sess.queries),
	})

	for i, q := range sess.queries {
		if !s.live(ctx, sess) {
			return s.abandon(sess, start, log)
		}
		if i > 0 {
			sess.setStatus(crawler.StatusNextQuery)
		}
		sess.beginQuery(i)
		qlog := log.With(zap.String("query", q.Label()), zap.Int("query_index", i))
		qlog.Info("query started", zap.String("url", q.TargetURL), zap.Int("page_cap", q.PageCap))
		s.emit(sess, progress.Event{Stage: progress.StageQueryStart, Query: q.Label(), QueryIndex: i})

		firstFetch := !sess.fetched()
		reason, err := s.runQuery(ctx, sess, q, sink, qlog)
		switch {
		case errors.Is(err, ErrAbandoned):
			return s.abandon(sess, start, log)
		case err != nil && i == 0 && firstFetch && sess.pagesInQuery() == 0:
			return s.fail(sess, sink, err, start, log)
		case err != nil:
			qlog.Warn("query abandoned after fetch failure", zap.Error(err))
			reason = reasonFetchFailed
		}

		sess.setStatus(crawler.StatusQueryExhausted)
		qlog.Info("query exhausted", zap.String("reason", reason), zap.Int("pages", sess.pagesInQuery()))
		s.emit(sess, progress.Event{
			Stage:      progress.StageQueryDone,
			Query:      q.Label(),
			QueryIndex: i,
			Note:       reason,
		})
	}

	if !s.live(ctx, sess) {
		return s.abandon(sess, start, log)
	}
	sess.setStatus(crawler.StatusAllQueriesDone)
	final := sess.Records()
	if !sess.finish(crawler.StatusDone, "", s.clock.Now()) {
		return ErrAbandoned
	}
	sink.OnComplete(final)

	dur := s.clock.Now().Sub(start)
	metrics.ObserveSession(string(crawler.StatusDone))
	log.Info("crawl done", zap.Int("records", len(final)), zap.Duration("dur", dur))
	s.emit(sess, progress.Event{Stage: progress.StageCrawlDone, Total: int64(len(final)), Dur: dur})
	return nil
}

// runQuery paginates one query. A nil error comes with the reason the query
// ended; fetch failures and abandonment are returned as errors.
func (s *Scheduler) runQuery(
	ctx context.Context,
	sess *Session,
	q crawler.Query,
	sink crawler.ResultSink,
	log *zap.Logger,
) (string, error) {
	pageURL := q.TargetURL
	for page := 0; ; page++ {
		if page > 0 {
			if err := s.pace(ctx, pageURL); err != nil {
				return "", ErrAbandoned
			}
			if !s.live(ctx, sess) {
				return "", ErrAbandoned
			}
			sess.setStatus(crawler.StatusFetchingNextPage)
		}

		res, err := s.fetchPage(ctx, sess, q, pageURL, log)
		// A superseded session discards whatever the fetch produced.
		if !s.live(ctx, sess) {
			return "", ErrAbandoned
		}
		if err != nil {
			s.pageFailed(sess, q, pageURL, err)
			return "", err
		}

		novel, ok := sess.admit(res.records)
		if !ok {
			return "", ErrAbandoned
		}
		s.pageDone(sess, q, res, len(novel), log)
		if len(novel) > 0 {
			sink.OnIncrement(sess.Records())
		}

		switch {
		case len(res.records) == 0:
			return reasonEmptyPage, nil
		case res.cursor.IsZero():
			return reasonNoCursor, nil
		case q.PageCap > 0 && sess.pagesInQuery() >= q.PageCap:
			return reasonPageCap, nil
		}
		next, err := res.cursor.Resolve(q.TargetURL)
		if err != nil || next == pageURL {
			return reasonCursorLoop, nil
		}
		sess.setCursor(res.cursor)
		pageURL = next
	}
}

type pageResult struct {
	url      string
	status   int
	bytes    int
	dur      time.Duration
	variant  crawler.Variant
	records  []crawler.Record
	cursor   crawler.Cursor
	headless bool
}

func (s *Scheduler) fetchPage(
	ctx context.Context,
	sess *Session,
	q crawler.Query,
	pageURL string,
	log *zap.Logger,
) (pageResult, error) {
	resp, err := s.fetch(ctx, s.fetcher, sess, pageURL, false)
	if err != nil {
		return pageResult{}, err
	}
	res, err := s.extract(resp, pageURL, q.Hint)
	if err != nil {
		return pageResult{}, err
	}
	if res.variant != crawler.VariantAuto || !s.shouldPromote(resp) {
		return res, nil
	}

	// The listing is a client-rendered shell; render it once.
	if !s.live(ctx, sess) {
		return res, nil
	}
	metrics.ObserveHeadlessPromotion()
	rendered, err := s.fetch(ctx, s.headless, sess, pageURL, true)
	if err != nil {
		log.Warn("headless promotion failed", zap.String("url", pageURL), zap.Error(err))
		return res, nil
	}
	promoted, err := s.extract(rendered, pageURL, q.Hint)
	if err != nil {
		log.Warn("headless page unparseable", zap.String("url", pageURL), zap.Error(err))
		return res, nil
	}
	log.Info("headless promotion applied", zap.String("url", pageURL), zap.String("variant", string(promoted.variant)))
	return promoted, nil
}

func (s *Scheduler) fetch(
	ctx context.Context,
	fetcher crawler.Fetcher,
	sess *Session,
	pageURL string,
	headless bool,
) (crawler.FetchResponse, error) {
	resp, err := fetcher.Fetch(ctx, crawler.FetchRequest{
		SessionID:   sess.ID(),
		URL:         pageURL,
		Headers:     s.headers.Clone(),
		UseHeadless: headless,
	})
	if err != nil {
		if crawler.IsFetchFailure(err) {
			return crawler.FetchResponse{}, err
		}
		return crawler.FetchResponse{}, &crawler.TransportError{URL: pageURL, Err: err}
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return crawler.FetchResponse{}, &crawler.TransportError{URL: pageURL, StatusCode: resp.StatusCode}
	}
	resp.UsedHeadless = resp.UsedHeadless || headless
	return resp, nil
}

func (s *Scheduler) extract(resp crawler.FetchResponse, pageURL string, hint crawler.Variant) (pageResult, error) {
	base := resp.URL
	if base == "" {
		base = pageURL
	}
	page, err := layout.Parse(resp.Body, resp.ContentType(), base)
	if err != nil {
		return pageResult{}, fmt.Errorf("extract page: %w", err)
	}
	records, variant := s.adapter.Extract(page, hint)
	res := pageResult{
		url:      pageURL,
		status:   resp.StatusCode,
		bytes:    len(resp.Body),
		dur:      resp.Duration,
		variant:  variant,
		records:  records,
		headless: resp.UsedHeadless,
	}
	if variant != crawler.VariantAuto {
		res.cursor = s.resolver.NextPage(page, hint)
	}
	return res, nil
}

func (s *Scheduler) shouldPromote(resp crawler.FetchResponse) bool {
	return s.headless != nil && s.detector != nil && !resp.UsedHeadless && s.detector.ShouldPromote(resp)
}

func (s *Scheduler) pace(ctx context.Context, nextURL string) error {
	if s.pacer == nil {
		return ctx.Err()
	}
	if err := s.pacer.Wait(ctx, nextURL); err != nil {
		return fmt.Errorf("pace: %w", err)
	}
	return nil
}

// live reports whether the loop may keep mutating the session.
func (s *Scheduler) live(ctx context.Context, sess *Session) bool {
	return ctx.Err() == nil && sess.Active()
}

func (s *Scheduler) pageDone(sess *Session, q crawler.Query, res pageResult, novel int, log *zap.Logger) {
	outcome := "ok"
	if res.variant == crawler.VariantAuto {
		outcome = "no_layout"
	}
	metrics.ObservePage(res.url, outcome, res.bytes)
	metrics.ObserveRecords(len(res.records), novel)
	total := len(sess.Records())
	log.Debug("page fetched",
		zap.String("url", res.url),
		zap.String("variant", string(res.variant)),
		zap.Int("records", len(res.records)),
		zap.Int("novel", novel),
		zap.Int("total", total),
		zap.Bool("cursor", !res.cursor.IsZero()),
		zap.Bool("headless", res.headless),
	)
	s.emit(sess, progress.Event{
		Stage:       progress.StagePageDone,
		Query:       q.Label(),
		QueryIndex:  sess.Info().QueryIndex,
		Site:        metrics.SanitizeSite(res.url),
		URL:         res.url,
		Variant:     string(res.variant),
		StatusClass: progress.ClassifyStatus(res.status),
		Bytes:       int64(res.bytes),
		Records:     int64(len(res.records)),
		Novel:       int64(novel),
		Total:       int64(total),
		Dur:         res.dur,
	})
}

func (s *Scheduler) pageFailed(sess *Session, q crawler.Query, pageURL string, err error) {
	outcome := "transport_error"
	var status int
	var te *crawler.TransportError
	if errors.As(err, &te) {
		status = te.StatusCode
	}
	var pe *crawler.ParseError
	if errors.As(err, &pe) {
		outcome = "parse_error"
	}
	metrics.ObservePage(pageURL, outcome, 0)
	s.emit(sess, progress.Event{
		Stage:       progress.StagePageFailed,
		Query:       q.Label(),
		QueryIndex:  sess.Info().QueryIndex,
		Site:        metrics.SanitizeSite(pageURL),
		URL:         pageURL,
		StatusClass: progress.ClassifyStatus(status),
		Note:        err.Error(),
	})
}

func (s *Scheduler) fail(sess *Session, sink crawler.ResultSink, err error, start time.Time, log *zap.Logger) error {
	if !sess.finish(crawler.StatusError, err.Error(), s.clock.Now()) {
		return ErrAbandoned
	}
	sink.OnFatalError(err)
	dur := s.clock.Now().Sub(start)
	metrics.ObserveSession(string(crawler.StatusError))
	log.Error("crawl failed on first fetch", zap.Error(err))
	s.emit(sess, progress.Event{Stage: progress.StageCrawlError, Dur: dur, Note: err.Error()})
	return err
}

func (s *Scheduler) abandon(sess *Session, start time.Time, log *zap.Logger) error {
	if !sess.finish(crawler.StatusAbandoned, "", s.clock.Now()) {
		return ErrAbandoned
	}
	dur := s.clock.Now().Sub(start)
	metrics.ObserveSession(string(crawler.StatusAbandoned))
	log.Info("crawl abandoned", zap.Int("records", len(sess.Records())))
	s.emit(sess, progress.Event{
		Stage: progress.StageCrawlAbandoned,
		Total: int64(len(sess.Records())),
		Dur:   dur,
	})
	return ErrAbandoned
}

func (s *Scheduler) emit(sess *Session, evt progress.Event) {
	evt.SessionID = progress.ParseSessionID(sess.ID())
	evt.TS = s.clock.Now()
	s.progress.Emit(evt)
}
