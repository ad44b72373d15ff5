package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

type scriptedSearcher struct {
	refs  []harvest.ItemReference
	err   error
	calls int
}

func (s *scriptedSearcher) Search(context.Context, string) ([]harvest.ItemReference, error) {
	s.calls++
	return s.refs, s.err
}

func TestService_CollapsesErrorsToNoResults(t *testing.T) {
	t.Parallel()

	svc := NewService(&scriptedSearcher{err: errors.New("dns failure")}, zap.NewNop())
	refs, err := svc.Discover(context.Background(), "query")
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestService_PassesResultsThrough(t *testing.T) {
	t.Parallel()

	want := []harvest.ItemReference{"a", "b"}
	svc := NewService(&scriptedSearcher{refs: want}, zap.NewNop())
	refs, err := svc.Discover(context.Background(), "query")
	require.NoError(t, err)
	require.Equal(t, want, refs)
}

func TestFallback_PrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &scriptedSearcher{refs: []harvest.ItemReference{"a"}}
	secondary := &scriptedSearcher{refs: []harvest.ItemReference{"b"}}
	f := NewFallback(primary, secondary, zap.NewNop())

	refs, err := f.Search(context.Background(), "query")
	require.NoError(t, err)
	require.Equal(t, []harvest.ItemReference{"a"}, refs)
	require.Zero(t, secondary.calls)
}

func TestFallback_PromotesOnErrorAndOnEmpty(t *testing.T) {
	t.Parallel()

	secondary := &scriptedSearcher{refs: []harvest.ItemReference{"rendered"}}

	f := NewFallback(&scriptedSearcher{err: errors.New("boom")}, secondary, zap.NewNop())
	refs, err := f.Search(context.Background(), "query")
	require.NoError(t, err)
	require.Equal(t, []harvest.ItemReference{"rendered"}, refs)

	f = NewFallback(&scriptedSearcher{}, secondary, zap.NewNop())
	refs, err = f.Search(context.Background(), "query")
	require.NoError(t, err)
	require.Equal(t, []harvest.ItemReference{"rendered"}, refs)
}

func TestFallback_NoSecondaryReturnsPrimaryResult(t *testing.T) {
	t.Parallel()

	primaryErr := errors.New("boom")
	f := NewFallback(&scriptedSearcher{err: primaryErr}, nil, zap.NewNop())
	_, err := f.Search(context.Background(), "query")
	require.ErrorIs(t, err, primaryErr)
}

func TestCollySearcher_CollectsMatchingLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "cats", r.URL.Query().Get("q"))
		fmt.Fprint(w, `<html><body>
			<div class="result-card"><a href="/item/1">one</a></div>
			<div class="result-card"><a href="/other/2">skipped</a></div>
			<div class="result-card"><a href="/item/3">three</a></div>
			<div class="result-card"><a href="/item/4">four</a></div>
		</body></html>`)
	}))
	t.Cleanup(srv.Close)

	s, err := NewCollySearcher(Config{
		SearchURL:    srv.URL + "/search",
		MaxResults:   2,
		LinkSelector: ".result-card a",
		LinkPrefix:   srv.URL + "/item/",
		Timeout:      2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	refs, err := s.Search(context.Background(), "cats")
	require.NoError(t, err)
	require.Equal(t, []harvest.ItemReference{
		harvest.ItemReference(srv.URL + "/item/1"),
		harvest.ItemReference(srv.URL + "/item/3"),
	}, refs)
}

func TestCollySearcher_FetchErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	s, err := NewCollySearcher(Config{
		SearchURL:    srv.URL + "/search",
		LinkSelector: "a",
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "anything")
	require.Error(t, err)
}

func TestNewCollySearcher_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewCollySearcher(Config{LinkSelector: "a"}, zap.NewNop())
	require.Error(t, err)

	_, err = NewCollySearcher(Config{SearchURL: "http://example.com"}, zap.NewNop())
	require.Error(t, err)
}
