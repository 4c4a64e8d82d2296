package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/policy/ratelimit"
	"github.com/Sbajrac2/Reddit-explorer/internal/progress"
)

func afterParam(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("after")
}

func TestRunSinglePageWithoutCursor(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(step{resp: jsonResponse(listingJSON("", posts("a", 25)...))})
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()
	sess := newTestSession(jsonQuery(crawler.SortDefault, crawler.WindowNone, 0))

	require.NoError(t, s.Run(context.Background(), sess, sink))

	require.Len(t, fetcher.calls(), 1)
	increments, completes, fatals := sink.snapshot()
	require.Len(t, increments, 1)
	require.Len(t, increments[0], 25)
	require.Len(t, completes, 1)
	require.Equal(t, increments[0], completes[0])
	require.Empty(t, fatals)
	for i, r := range completes[0] {
		require.Equal(t, posts("a", 25)[i].title, r.Title)
	}
	require.Equal(t, crawler.StatusDone, sess.Status())
}

func TestRunFollowsCursorsUntilEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		step{resp: jsonResponse(listingJSON("C1", posts("a", 10)...))},
		step{resp: jsonResponse(listingJSON("C2", posts("b", 10)...))},
		step{resp: jsonResponse(listingJSON(""))},
	)
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()
	sess := newTestSession(jsonQuery(crawler.SortDefault, crawler.WindowNone, 0))

	require.NoError(t, s.Run(context.Background(), sess, sink))

	calls := fetcher.calls()
	require.Len(t, calls, 3)
	require.Empty(t, afterParam(t, calls[0]))
	require.Equal(t, "C1", afterParam(t, calls[1]))
	require.Equal(t, "C2", afterParam(t, calls[2]))

	increments, completes, _ := sink.snapshot()
	require.Len(t, increments, 2)
	require.Len(t, increments[0], 10)
	require.Len(t, increments[1], 20)
	require.Len(t, completes, 1)
	require.Len(t, completes[0], 20)
	require.Equal(t, 3, sess.Info().Pages)
}

func TestRunDeduplicatesAcrossQueries(t *testing.T) {
	t.Parallel()

	a := post{title: "A", author: "alice", score: 1}
	b := post{title: "B", author: "bob", score: 1}
	bAgain := post{title: "B", author: "bob", score: 99}
	c := post{title: "C", author: "carol", score: 1}
	fetcher := newScriptedFetcher(
		step{resp: jsonResponse(listingJSON("", a, b))},
		step{resp: jsonResponse(listingJSON("", bAgain, c))},
	)
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()
	sess := newTestSession(
		jsonQuery(crawler.SortDefault, crawler.WindowNone, 40),
		jsonQuery(crawler.SortTop, crawler.WindowAll, 40),
	)

	require.NoError(t, s.Run(context.Background(), sess, sink))

	_, completes, _ := sink.snapshot()
	require.Len(t, completes, 1)
	final := completes[0]
	require.Equal(t, []string{"A", "B", "C"}, titles(final))
	require.Equal(t, 1, final[1].Score, "B must be the copy from the first query")
	require.Len(t, fetcher.calls(), 2)
}

func TestRunFirstFetchFailureIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(step{err: errors.New("connection reset")})
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()
	sess := newTestSession(
		jsonQuery(crawler.SortDefault, crawler.WindowNone, 0),
		jsonQuery(crawler.SortTop, crawler.WindowAll, 40),
	)

	err := s.Run(context.Background(), sess, sink)
	var te *crawler.TransportError
	require.ErrorAs(t, err, &te)

	require.Len(t, fetcher.calls(), 1)
	increments, completes, fatals := sink.snapshot()
	require.Empty(t, increments)
	require.Empty(t, completes)
	require.Len(t, fatals, 1)
	require.Empty(t, sess.Records())
	require.Equal(t, crawler.StatusError, sess.Status())
	require.Contains(t, sess.Info().ErrorText, "connection reset")
}

func TestRunNon2xxFirstPageIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(step{resp: crawler.FetchResponse{StatusCode: http.StatusTooManyRequests}})
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()

	err := s.Run(context.Background(), newTestSession(jsonQuery(crawler.SortDefault, crawler.WindowNone, 0)), sink)
	var te *crawler.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	_, _, fatals := sink.snapshot()
	require.Len(t, fatals, 1)
}

func TestRunParseErrorOnFirstPageIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(step{resp: jsonResponse([]byte(`{"kind": "Listing", "data": [`))})
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()

	err := s.Run(context.Background(), newTestSession(jsonQuery(crawler.SortDefault, crawler.WindowNone, 0)), sink)
	var pe *crawler.ParseError
	require.ErrorAs(t, err, &pe)
	_, completes, fatals := sink.snapshot()
	require.Empty(t, completes)
	require.Len(t, fatals, 1)
}

func TestRunLaterFailuresAreNotFatal(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		step{resp: jsonResponse(listingJSON("C1", posts("a", 3)...))},
		step{err: &crawler.TransportError{URL: "x", StatusCode: http.StatusServiceUnavailable}},
		step{err: errors.New("timeout")},
		step{resp: jsonResponse(listingJSON("", posts("c", 2)...))},
	)
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()
	sess := newTestSession(
		jsonQuery(crawler.SortDefault, crawler.WindowNone, 0),
		jsonQuery(crawler.SortTop, crawler.WindowAll, 40),
		jsonQuery(crawler.SortNew, crawler.WindowNone, 40),
	)

	require.NoError(t, s.Run(context.Background(), sess, sink))

	require.Len(t, fetcher.calls(), 4)
	_, completes, fatals := sink.snapshot()
	require.Empty(t, fatals)
	require.Len(t, completes, 1)
	require.Len(t, completes[0], 5)
	require.Equal(t, crawler.StatusDone, sess.Status())
}

func TestRunNoLayoutMatchEndsQueryQuietly(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		step{resp: htmlResponse(`<html><body><p>nothing to see</p></body></html>`)},
		step{resp: jsonResponse(listingJSON("", posts("b", 1)...))},
	)
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()
	q := jsonQuery(crawler.SortDefault, crawler.WindowNone, 0)
	q.Hint = crawler.VariantAuto
	sess := newTestSession(q, jsonQuery(crawler.SortTop, crawler.WindowAll, 40))

	require.NoError(t, s.Run(context.Background(), sess, sink))

	increments, completes, fatals := sink.snapshot()
	require.Empty(t, fatals)
	require.Len(t, increments, 1)
	require.Len(t, completes[0], 1)
}

func TestRunHonorsPageCap(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		step{resp: jsonResponse(listingJSON("C1", posts("a", 2)...))},
		step{resp: jsonResponse(listingJSON("C2", posts("b", 2)...))},
		step{resp: jsonResponse(listingJSON("C3", posts("c", 2)...))},
	)
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()
	sess := newTestSession(jsonQuery(crawler.SortTop, crawler.WindowAll, 2))

	require.NoError(t, s.Run(context.Background(), sess, sink))
	require.Len(t, fetcher.calls(), 2)
	require.Len(t, sess.Records(), 4)
}

func TestRunPacesOnlyContinuations(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		step{resp: jsonResponse(listingJSON("C1", posts("a", 2)...))},
		step{resp: jsonResponse(listingJSON("", posts("b", 2)...))},
		step{resp: jsonResponse(listingJSON("D1", posts("c", 2)...))},
		step{resp: jsonResponse(listingJSON("", posts("d", 2)...))},
	)
	pacer := &countingPacer{}
	s := newTestScheduler(t, Deps{Fetcher: fetcher, Pacer: pacer})
	sess := newTestSession(
		jsonQuery(crawler.SortDefault, crawler.WindowNone, 0),
		jsonQuery(crawler.SortTop, crawler.WindowAll, 40),
	)

	require.NoError(t, s.Run(context.Background(), sess, newRecordingSink()))

	calls := fetcher.calls()
	require.Len(t, calls, 4)
	require.Equal(t, []string{calls[1], calls[3]}, pacer.calls())
}

func TestRunTokenBucketSpacesFirstContinuation(t *testing.T) {
	t.Parallel()

	const delay = 60 * time.Millisecond
	fetcher := newScriptedFetcher(
		step{resp: jsonResponse(listingJSON("C1", posts("a", 2)...))},
		step{resp: jsonResponse(listingJSON("C2", posts("b", 2)...))},
		step{resp: jsonResponse(listingJSON("", posts("c", 2)...))},
	)
	pacer, err := ratelimit.NewPacer(ratelimit.ModeTokenBucket, delay, 1)
	require.NoError(t, err)
	s := newTestScheduler(t, Deps{Fetcher: fetcher, Pacer: pacer})

	require.NoError(t, s.Run(context.Background(), newTestSession(jsonQuery(crawler.SortDefault, crawler.WindowNone, 0)), newRecordingSink()))

	starts := fetcher.startTimes()
	require.Len(t, starts, 3)
	// Allow a little slack for timer granularity.
	require.GreaterOrEqual(t, starts[1].Sub(starts[0]), delay-10*time.Millisecond)
	require.GreaterOrEqual(t, starts[2].Sub(starts[1]), delay-10*time.Millisecond)
}

func TestRunDuplicateOnlyPageDoesNotNotify(t *testing.T) {
	t.Parallel()

	page := posts("a", 3)
	fetcher := newScriptedFetcher(
		step{resp: jsonResponse(listingJSON("C1", page...))},
		step{resp: jsonResponse(listingJSON("", page...))},
	)
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sink := newRecordingSink()

	require.NoError(t, s.Run(context.Background(), newTestSession(jsonQuery(crawler.SortDefault, crawler.WindowNone, 0)), sink))

	increments, completes, _ := sink.snapshot()
	require.Len(t, increments, 1)
	require.Len(t, completes[0], 3)
}

func TestRunNeverOverlapsFetches(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		step{resp: jsonResponse(listingJSON("C1", posts("a", 2)...))},
		step{resp: jsonResponse(listingJSON("C2", posts("b", 2)...))},
		step{resp: jsonResponse(listingJSON("", posts("c", 2)...))},
		step{resp: jsonResponse(listingJSON("D1", posts("d", 2)...))},
		step{resp: jsonResponse(listingJSON("", posts("e", 2)...))},
	)
	fetcher.delay = 5 * time.Millisecond
	s := newTestScheduler(t, Deps{Fetcher: fetcher})
	sess := newTestSession(
		jsonQuery(crawler.SortDefault, crawler.WindowNone, 0),
		jsonQuery(crawler.SortTop, crawler.WindowAll, 40),
	)

	require.NoError(t, s.Run(context.Background(), sess, newRecordingSink()))
	require.Len(t, fetcher.calls(), 5)
	require.Equal(t, int32(1), fetcher.maxSeen.Load())
}

func TestRunPromotesClientRenderedShell(t *testing.T) {
	t.Parallel()

	shell := htmlResponse(`<html><body><shreddit-app></shreddit-app></body></html>`)
	rendered := htmlResponse(`<html><body><div id="siteTable">
<div class="thing link" data-fullname="t3_abc" data-author="alice">
<a class="title" href="/r/golang/comments/abc/hello/">Hello</a>
</div></div></body></html>`)
	fetcher := newScriptedFetcher(step{resp: shell})
	headless := newScriptedFetcher(step{resp: rendered})
	s := newTestScheduler(t, Deps{Fetcher: fetcher, Headless: headless, Detector: stubDetector(true)})
	sink := newRecordingSink()
	q := crawler.Query{Sort: crawler.SortDefault, TargetURL: testOrigin + "/r/golang/"}

	require.NoError(t, s.Run(context.Background(), newTestSession(q), sink))

	require.Len(t, headless.calls(), 1)
	_, completes, _ := sink.snapshot()
	require.Len(t, completes[0], 1)
	assert.Equal(t, "Hello", completes[0][0].Title)
	assert.Equal(t, "alice", completes[0][0].Author)
	assert.Equal(t, testOrigin+"/r/golang/comments/abc/hello/", completes[0][0].Link)
}

func TestRunCanceledContextAbandons(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(step{resp: jsonResponse(listingJSON("C1", posts("a", 2)...))})
	ctx, cancel := context.WithCancel(context.Background())
	pacer := pacerFunc(func(context.Context, string) error {
		cancel()
		return context.Canceled
	})
	s := newTestScheduler(t, Deps{Fetcher: fetcher, Pacer: pacer})
	sink := newRecordingSink()
	sess := newTestSession(jsonQuery(crawler.SortDefault, crawler.WindowNone, 0))

	require.ErrorIs(t, s.Run(ctx, sess, sink), ErrAbandoned)
	require.Equal(t, crawler.StatusAbandoned, sess.Status())
	_, completes, fatals := sink.snapshot()
	require.Empty(t, completes)
	require.Empty(t, fatals)
	<-sess.Done()
}

func TestRunEmitsProgress(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(step{resp: jsonResponse(listingJSON("", posts("a", 2)...))})
	events := &eventLog{}
	s := newTestScheduler(t, Deps{Fetcher: fetcher, Progress: events})

	require.NoError(t, s.Run(context.Background(), newTestSession(jsonQuery(crawler.SortDefault, crawler.WindowNone, 0)), newRecordingSink()))

	require.Equal(t, []progress.Stage{
		progress.StageCrawlStart,
		progress.StageQueryStart,
		progress.StagePageDone,
		progress.StageQueryDone,
		progress.StageCrawlDone,
	}, events.stages())
	for _, evt := range events.events {
		require.NoError(t, evt.Validate())
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{})
	require.Error(t, err)
	_, err = New(Deps{Fetcher: newScriptedFetcher()})
	require.Error(t, err)
}

type pacerFunc func(ctx context.Context, url string) error

func (f pacerFunc) Wait(ctx context.Context, url string) error { return f(ctx, url) }
