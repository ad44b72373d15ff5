package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeUpstream scripts upstream responses and counts calls per endpoint.
type fakeUpstream struct {
	mu sync.Mutex

	resolveFn func(ref ItemReference, attempt int) (ResolveResult, error)
	rootsFn   func(page int) (CommentPage, error)
	repliesFn func(rootID int64, page int) (CommentPage, error)

	resolveCalls int
	rootCalls    int
	replyCalls   int
}

func (f *fakeUpstream) Resolve(_ context.Context, ref ItemReference) (ResolveResult, error) {
	f.mu.Lock()
	f.resolveCalls++
	n := f.resolveCalls
	f.mu.Unlock()
	return f.resolveFn(ref, n)
}

func (f *fakeUpstream) RootComments(_ context.Context, _ InternalHandle, page, _ int) (CommentPage, error) {
	f.mu.Lock()
	f.rootCalls++
	f.mu.Unlock()
	return f.rootsFn(page)
}

func (f *fakeUpstream) Replies(_ context.Context, _ InternalHandle, rootID int64, page, _ int) (CommentPage, error) {
	f.mu.Lock()
	f.replyCalls++
	f.mu.Unlock()
	return f.repliesFn(rootID, page)
}

func (f *fakeUpstream) counts() (resolve, roots, replies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls, f.rootCalls, f.replyCalls
}

func okResolve(handle InternalHandle) func(ItemReference, int) (ResolveResult, error) {
	return func(ItemReference, int) (ResolveResult, error) {
		return ResolveResult{Code: CodeOK, Handle: handle}, nil
	}
}

func noReplies(int64, int) (CommentPage, error) {
	return CommentPage{Code: CodeOK, IsEnd: true}, nil
}

// sleepRecorder replaces the harvester's sleep so backoff is observable
// without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func newTestHarvester(t *testing.T, client UpstreamClient, cfg Config) (*CommentHarvester, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	h := NewCommentHarvester(client, cfg, zap.NewNop())
	h.sleep = rec.sleep
	return h, rec
}

func TestHarvester_ResolveRetriesWithGrowingDelays(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: func(ItemReference, int) (ResolveResult, error) {
			return ResolveResult{}, errors.New("connection reset")
		},
	}
	base := 100 * time.Millisecond
	h, rec := newTestHarvester(t, client, Config{MaxRetries: 4, BaseDelay: base})

	res := h.Harvest(context.Background(), "item-1")

	resolve, _, _ := client.counts()
	require.Equal(t, 4, resolve, "every attempt counts toward the total")
	require.Contains(t, res.Err, "resolve")
	require.Contains(t, res.Err, "exhausted 4 attempts")
	require.Empty(t, res.Comments)

	delays := rec.recorded()
	require.Equal(t, []time.Duration{base, 2 * base, 3 * base}, delays)
	for i := 1; i < len(delays); i++ {
		require.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestHarvester_ResolveNotFoundIsTerminal(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: func(ItemReference, int) (ResolveResult, error) {
			return ResolveResult{Code: CodeNotFound}, nil
		},
	}
	h, rec := newTestHarvester(t, client, Config{MaxRetries: 5, BaseDelay: time.Millisecond})

	res := h.Harvest(context.Background(), "gone")

	resolve, _, _ := client.counts()
	require.Equal(t, 1, resolve, "a not-found item must not be retried")
	require.Contains(t, res.Err, "resolve")
	require.Empty(t, rec.recorded())
}

func TestHarvester_ResolveRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: func(_ ItemReference, attempt int) (ResolveResult, error) {
			if attempt < 3 {
				return ResolveResult{}, errors.New("timeout")
			}
			return ResolveResult{Code: CodeOK, Handle: 7}, nil
		},
		rootsFn: func(page int) (CommentPage, error) {
			if page > 1 {
				return CommentPage{Code: CodeOK}, nil
			}
			return CommentPage{Code: CodeOK, Comments: []RootComment{{ID: 1, Text: "hello world"}}}, nil
		},
		repliesFn: noReplies,
	}
	h, _ := newTestHarvester(t, client, Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	res := h.Harvest(context.Background(), "item-2")

	require.Empty(t, res.Err)
	require.Equal(t, []FlattenedComment{"hello world"}, res.Comments)
}

func TestHarvester_RootCapBoundsCommentsAndPages(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(9),
		rootsFn: func(page int) (CommentPage, error) {
			comments := make([]RootComment, 2)
			for i := range comments {
				comments[i] = RootComment{ID: int64(page*10 + i), Text: fmt.Sprintf("comment %d-%d", page, i)}
			}
			return CommentPage{Code: CodeOK, Comments: comments}, nil
		},
		repliesFn: noReplies,
	}
	h, _ := newTestHarvester(t, client, Config{
		MaxRetries:   2,
		BaseDelay:    time.Millisecond,
		RootCap:      5,
		RootPageSize: 2,
	})

	res := h.Harvest(context.Background(), "busy-item")

	require.Len(t, res.Comments, 5)
	_, rootPages, _ := client.counts()
	require.LessOrEqual(t, rootPages, 3, "page budget is ceil(cap/size)")
}

func TestHarvester_FewerRootsThanCap(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(9),
		rootsFn: func(page int) (CommentPage, error) {
			if page > 1 {
				return CommentPage{Code: CodeOK}, nil
			}
			return CommentPage{Code: CodeOK, Comments: []RootComment{
				{ID: 1, Text: "first comment"},
				{ID: 2, Text: "second comment"},
			}}, nil
		},
		repliesFn: noReplies,
	}
	h, _ := newTestHarvester(t, client, Config{
		MaxRetries:   2,
		BaseDelay:    time.Millisecond,
		RootCap:      50,
		RootPageSize: 10,
	})

	res := h.Harvest(context.Background(), "quiet-item")
	require.Equal(t, []FlattenedComment{"first comment", "second comment"}, res.Comments,
		"discovery order is preserved")
}

func TestHarvester_RepeatedNotFoundStaysTerminal(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: func(ItemReference, int) (ResolveResult, error) {
			return ResolveResult{Code: CodeNotFound}, nil
		},
	}
	h, _ := newTestHarvester(t, client, Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	first := h.Harvest(context.Background(), "gone")
	second := h.Harvest(context.Background(), "gone")

	require.Contains(t, first.Err, "resolve")
	require.Equal(t, first.Err, second.Err, "no state lingers between attempts")
	resolve, _, _ := client.counts()
	require.Equal(t, 2, resolve)
}

func TestHarvester_ShortRootsRejectedAndRepliesSkipped(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(3),
		rootsFn: func(page int) (CommentPage, error) {
			if page > 1 {
				return CommentPage{Code: CodeOK}, nil
			}
			return CommentPage{Code: CodeOK, Comments: []RootComment{
				{ID: 1, Text: "ok", ReplyCount: 10},
				{ID: 2, Text: "long enough to keep", ReplyCount: 0},
			}}, nil
		},
		repliesFn: func(int64, int) (CommentPage, error) {
			return CommentPage{Code: CodeOK, Comments: []RootComment{{Text: "reply"}}, IsEnd: true}, nil
		},
	}
	h, _ := newTestHarvester(t, client, Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MinLength:  5,
	})

	res := h.Harvest(context.Background(), "item-3")

	require.Equal(t, []FlattenedComment{"long enough to keep"}, res.Comments)
	_, _, replyCalls := client.counts()
	require.Zero(t, replyCalls, "rejected roots must not fan out reply fetches")
}

func TestHarvester_MinLengthCountsRunes(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(3),
		rootsFn: func(page int) (CommentPage, error) {
			if page > 1 {
				return CommentPage{Code: CodeOK}, nil
			}
			// Five runes, fifteen bytes.
			return CommentPage{Code: CodeOK, Comments: []RootComment{{ID: 1, Text: "评论内容好"}}}, nil
		},
		repliesFn: noReplies,
	}
	h, _ := newTestHarvester(t, client, Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MinLength:  5,
	})

	res := h.Harvest(context.Background(), "item-4")
	require.Len(t, res.Comments, 1)
}

func TestHarvester_ReplyCapAcrossPages(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(3),
		rootsFn: func(page int) (CommentPage, error) {
			if page > 1 {
				return CommentPage{Code: CodeOK}, nil
			}
			return CommentPage{Code: CodeOK, Comments: []RootComment{
				{ID: 1, Text: "root with many replies", ReplyCount: 100},
			}}, nil
		},
		repliesFn: func(_ int64, page int) (CommentPage, error) {
			return CommentPage{Code: CodeOK, Comments: []RootComment{
				{Text: fmt.Sprintf("r%d-1", page)},
				{Text: fmt.Sprintf("r%d-2", page)},
			}}, nil
		},
	}
	h, _ := newTestHarvester(t, client, Config{
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		ReplyPageSize:     2,
		MaxRepliesPerRoot: 3,
	})

	res := h.Harvest(context.Background(), "item-5")

	require.Len(t, res.Comments, 1)
	require.Equal(t, 3, strings.Count(string(res.Comments[0]), replyMarker))
	_, _, replyCalls := client.counts()
	require.LessOrEqual(t, replyCalls, 2, "reply page budget is ceil(cap/size)")
}

func TestHarvester_ReplyEndCursorStopsPagination(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(3),
		rootsFn: func(page int) (CommentPage, error) {
			if page > 1 {
				return CommentPage{Code: CodeOK}, nil
			}
			return CommentPage{Code: CodeOK, Comments: []RootComment{
				{ID: 1, Text: "root comment", ReplyCount: 2},
			}}, nil
		},
		repliesFn: func(int64, int) (CommentPage, error) {
			return CommentPage{
				Code:     CodeOK,
				Comments: []RootComment{{Text: "only reply"}},
				IsEnd:    true,
			}, nil
		},
	}
	h, _ := newTestHarvester(t, client, Config{
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		ReplyPageSize:     5,
		MaxRepliesPerRoot: 50,
	})

	res := h.Harvest(context.Background(), "item-6")

	require.Equal(t, []FlattenedComment{"root comment" + replyMarker + "only reply"}, res.Comments)
	_, _, replyCalls := client.counts()
	require.Equal(t, 1, replyCalls)
}

// inFlightGauge counts concurrent entries into the upstream client and keeps
// the high-water mark.
type inFlightGauge struct {
	mu   sync.Mutex
	cur  int
	peak int
}

func (g *inFlightGauge) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()
}

func (g *inFlightGauge) exit() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

func (g *inFlightGauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func TestHarvester_PermitPoolBoundsInFlightRequests(t *testing.T) {
	t.Parallel()

	gauge := &inFlightGauge{}
	client := &fakeUpstream{
		resolveFn: okResolve(7),
		rootsFn: func(page int) (CommentPage, error) {
			gauge.enter()
			defer gauge.exit()
			comments := make([]RootComment, 20)
			for i := range comments {
				comments[i] = RootComment{
					ID:         int64(i + 1),
					Text:       fmt.Sprintf("root comment %d", i+1),
					ReplyCount: 5,
				}
			}
			return CommentPage{Code: CodeOK, Comments: comments}, nil
		},
		repliesFn: func(rootID int64, page int) (CommentPage, error) {
			gauge.enter()
			defer gauge.exit()
			// Hold the slot long enough for reply workers to overlap.
			time.Sleep(2 * time.Millisecond)
			return CommentPage{
				Code:     CodeOK,
				Comments: []RootComment{{Text: fmt.Sprintf("reply %d-%d", rootID, page)}},
				IsEnd:    page >= 5,
			}, nil
		},
	}
	h, _ := newTestHarvester(t, client, Config{
		Concurrency:       2,
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		RootCap:           20,
		RootPageSize:      20,
		MinLength:         1,
		MaxRepliesPerRoot: 5,
		ReplyPageSize:     1,
	})

	res := h.Harvest(context.Background(), "busy-item")

	require.Empty(t, res.Err)
	require.Len(t, res.Comments, 20)
	_, _, replyCalls := client.counts()
	require.Equal(t, 100, replyCalls, "every root paginates its full reply thread")
	require.LessOrEqual(t, gauge.max(), 2,
		"in-flight upstream requests must never exceed the permit capacity")
}

func TestHarvester_RepliesAreNotLengthFiltered(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(3),
		rootsFn: func(page int) (CommentPage, error) {
			if page > 1 {
				return CommentPage{Code: CodeOK}, nil
			}
			return CommentPage{Code: CodeOK, Comments: []RootComment{
				{ID: 1, Text: "a sufficiently long root", ReplyCount: 1},
			}}, nil
		},
		repliesFn: func(int64, int) (CommentPage, error) {
			return CommentPage{Code: CodeOK, Comments: []RootComment{{Text: "k"}}, IsEnd: true}, nil
		},
	}
	h, _ := newTestHarvester(t, client, Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MinLength:  10,
	})

	res := h.Harvest(context.Background(), "item-7")
	require.Equal(t, []FlattenedComment{"a sufficiently long root" + replyMarker + "k"}, res.Comments)
}

func TestHarvester_ClosedThreadEndsPaginationQuietly(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(3),
		rootsFn: func(page int) (CommentPage, error) {
			if page == 1 {
				return CommentPage{Code: CodeOK, Comments: []RootComment{
					{ID: 1, Text: "kept before closing"},
				}}, nil
			}
			return CommentPage{Code: CodeThreadClosed}, nil
		},
		repliesFn: noReplies,
	}
	h, rec := newTestHarvester(t, client, Config{
		MaxRetries:   3,
		BaseDelay:    time.Millisecond,
		RootCap:      10,
		RootPageSize: 1,
	})

	res := h.Harvest(context.Background(), "closing-item")

	require.Empty(t, res.Err, "a soft end is not an item failure")
	require.Equal(t, []FlattenedComment{"kept before closing"}, res.Comments)
	require.Empty(t, rec.recorded(), "soft ends must not be retried")
}

func TestHarvester_PageRetryExhaustionDegradesToSoftEnd(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: okResolve(3),
		rootsFn: func(int) (CommentPage, error) {
			return CommentPage{}, errors.New("bad gateway")
		},
		repliesFn: noReplies,
	}
	h, _ := newTestHarvester(t, client, Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	res := h.Harvest(context.Background(), "flaky-item")

	require.Empty(t, res.Err)
	require.Empty(t, res.Comments)
	resolve, rootPages, _ := client.counts()
	require.Equal(t, 1, resolve)
	require.Equal(t, 3, rootPages, "the failing page gets the full attempt budget")
}

func TestHarvester_CancelledContextReturnsEmptyWithoutError(t *testing.T) {
	t.Parallel()

	client := &fakeUpstream{
		resolveFn: func(ItemReference, int) (ResolveResult, error) {
			return ResolveResult{}, context.Canceled
		},
	}
	h, _ := newTestHarvester(t, client, Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.Harvest(ctx, "item-8")

	require.Empty(t, res.Err)
	require.Empty(t, res.Comments)
}

func TestFlatten_JoinsRootAndRepliesInOrder(t *testing.T) {
	t.Parallel()

	got := flatten(RootComment{Text: "root"}, []string{"first", "second"})
	require.Equal(t, FlattenedComment("root"+replyMarker+"first"+replyMarker+"second"), got)

	require.Equal(t, FlattenedComment("bare"), flatten(RootComment{Text: "bare"}, nil))
}
