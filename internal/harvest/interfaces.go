package harvest

import (
	"context"
	"time"
)

// Discovery returns ordered item references for a query. Implementations
// collapse hard failures to an empty list; an error here never aborts a run.
type Discovery interface {
	Discover(ctx context.Context, query string) ([]ItemReference, error)
}

// Extractor produces metadata for one item. It may take arbitrarily long;
// its duration is covered by the run deadline, and failures arrive inside
// the result rather than as errors.
type Extractor interface {
	Extract(ctx context.Context, ref ItemReference) ExtractionResult
}

// Harvester collects one item's two-tier comment tree.
type Harvester interface {
	Harvest(ctx context.Context, ref ItemReference) CommentThreadResult
}

// ItemRenderer turns one completed job's results into the per-item text
// stored in the artifact. Implementations must be safe for concurrent use.
type ItemRenderer interface {
	RenderItem(ref ItemReference, ext ExtractionResult, comments CommentThreadResult) string
}

// Summarizer is the optional post-processing step applied to each completed
// item after a non-truncated run. Truncated runs skip it entirely.
type Summarizer interface {
	Summarize(ctx context.Context, query, itemText string) (string, error)
}

// Clock abstracts time so deadline behavior is testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// ResolveResult is the parsed upstream answer to a resolve call.
type ResolveResult struct {
	Code   int
	Handle InternalHandle
}

// CommentPage is one parsed page of root comments or replies.
type CommentPage struct {
	Code     int
	Comments []RootComment
	IsEnd    bool
}

// UpstreamClient is the wire boundary to the comment service. A non-nil
// error means the request never produced a decodable envelope (transport
// failure, bad payload); nonzero codes come back inside the result.
type UpstreamClient interface {
	Resolve(ctx context.Context, ref ItemReference) (ResolveResult, error)
	RootComments(ctx context.Context, handle InternalHandle, page, size int) (CommentPage, error)
	Replies(ctx context.Context, handle InternalHandle, rootID int64, page, size int) (CommentPage, error)
}
