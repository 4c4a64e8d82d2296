package crawler

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoverage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    Coverage
		wantErr bool
	}{
		{raw: "", want: CoverageLive},
		{raw: "live", want: CoverageLive},
		{raw: " Historical ", want: CoverageHistorical},
		{raw: "forever", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCoverage(tt.raw)
		if tt.wantErr {
			require.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestCursorResolve(t *testing.T) {
	t.Parallel()

	require.True(t, Cursor{}.IsZero())

	got, err := Cursor{URL: "https://old.reddit.com/r/golang/?count=25&after=t3_x"}.Resolve("ignored")
	require.NoError(t, err)
	assert.Equal(t, "https://old.reddit.com/r/golang/?count=25&after=t3_x", got)

	got, err = Cursor{Token: "t3_abc"}.Resolve("https://www.reddit.com/r/golang/.json?limit=100")
	require.NoError(t, err)
	assert.Equal(t, "https://www.reddit.com/r/golang/.json?after=t3_abc&limit=100", got)

	_, err = Cursor{}.Resolve("https://www.reddit.com/")
	require.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusDone, StatusError, StatusAbandoned} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusIdle, StatusFetchingFirstPage, StatusFetchingNextPage, StatusQueryExhausted, StatusNextQuery, StatusAllQueriesDone} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestRecordTime(t *testing.T) {
	t.Parallel()

	assert.True(t, Record{}.Time().IsZero())
	assert.True(t, Record{Date: "last week"}.Time().IsZero())
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(Record{Date: "2024-05-01T12:00:00Z"}.Time()))
}

func TestCloneRecordsIsIndependent(t *testing.T) {
	t.Parallel()

	src := []Record{{Title: "a"}}
	dup := CloneRecords(src)
	dup[0].Title = "b"
	assert.Equal(t, "a", src[0].Title)
}

func TestQueryLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "default", Query{Sort: SortDefault}.Label())
	assert.Equal(t, "top/all", Query{Sort: SortTop, Window: WindowAll}.Label())
}

func TestFetchResponseContentType(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FetchResponse{}.ContentType())
	resp := FetchResponse{Headers: http.Header{"Content-Type": []string{"Application/JSON; charset=UTF-8"}}}
	assert.Equal(t, "application/json", resp.ContentType())
}

func TestIsFetchFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	assert.True(t, IsFetchFailure(&TransportError{URL: "u", Err: cause}))
	assert.True(t, IsFetchFailure(&ParseError{URL: "u", Err: cause}))
	assert.False(t, IsFetchFailure(cause))
	assert.ErrorIs(t, &TransportError{URL: "u", Err: cause}, cause)
	assert.Equal(t, "fetch u: status 503", (&TransportError{URL: "u", StatusCode: 503}).Error())
}
