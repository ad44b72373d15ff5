package harvest

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/harvesterlabs/threadharvest/internal/metrics"
)

// replyMarker separates a root comment from each of its replies in the
// flattened form.
const replyMarker = " [reply] "

// Endpoint labels used for logging and metrics.
const (
	endpointResolve = "resolve"
	endpointRoots   = "root_comments"
	endpointReplies = "replies"
)

// CommentHarvester collects one item's two-tier comment tree: paginated root
// comments, plus an independent paginated reply fetch per qualifying root.
// Every upstream request holds one permit from a shared pool so in-flight
// requests stay bounded no matter how many reply threads are scheduled.
type CommentHarvester struct {
	client  UpstreamClient
	cfg     Config
	policy  linearRetryPolicy
	permits *semaphore.Weighted
	limiter *rate.Limiter
	logger  *zap.Logger

	// sleep is swapped in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCommentHarvester builds a harvester around the given upstream client.
func NewCommentHarvester(client UpstreamClient, cfg Config, logger *zap.Logger) *CommentHarvester {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &CommentHarvester{
		client:  client,
		cfg:     cfg,
		policy:  linearRetryPolicy{maxAttempts: cfg.MaxRetries, baseDelay: cfg.BaseDelay},
		permits: semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: limiter,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Harvest resolves ref and walks its comment tree. Resolution failure is
// terminal for the item; pagination failures degrade to partial results.
// Cancellation returns whatever was collected with no error surfaced.
func (h *CommentHarvester) Harvest(ctx context.Context, ref ItemReference) CommentThreadResult {
	handle, err := h.resolve(ctx, ref)
	if err != nil {
		if isCancellation(err) {
			return CommentThreadResult{}
		}
		h.logger.Warn("item resolution failed",
			zap.String("ref", string(ref)),
			zap.Error(err),
		)
		return CommentThreadResult{Err: fmt.Sprintf("resolve %s: %v", ref, err)}
	}

	roots, replies := h.collectRoots(ctx, handle)

	out := make([]FlattenedComment, 0, len(roots))
	for i, root := range roots {
		out = append(out, flatten(root, replies[i]))
	}
	h.logger.Info("harvest finished",
		zap.String("ref", string(ref)),
		zap.Int64("handle", int64(handle)),
		zap.Int("roots", len(roots)),
	)
	return CommentThreadResult{Comments: out}
}

// resolve maps ref to its internal handle with the standard retry policy.
// A not-found code short-circuits; exhausted retries are terminal.
func (h *CommentHarvester) resolve(ctx context.Context, ref ItemReference) (InternalHandle, error) {
	var last error
	for attempt := 1; attempt <= h.policy.maxAttempts; attempt++ {
		var res ResolveResult
		err := h.acquire(ctx)
		if err == nil {
			res, err = h.client.Resolve(ctx, ref)
			h.release()
		}
		out := classifyResolve(res, err)
		metrics.ObserveUpstreamRequest(endpointResolve, out.kind.String())
		switch out.kind {
		case outcomeSuccess:
			return out.handle, nil
		case outcomeFatal:
			return 0, out.err
		}
		last = out.err
		h.logger.Debug("resolve attempt failed",
			zap.String("ref", string(ref)),
			zap.Int("attempt", attempt),
			zap.Error(out.err),
		)
		if attempt < h.policy.maxAttempts {
			metrics.IncUpstreamRetry(endpointResolve)
			if err := h.sleep(ctx, h.policy.backoff(attempt)); err != nil {
				return 0, err
			}
		}
	}
	return 0, fmt.Errorf("resolve exhausted %d attempts: %w", h.policy.maxAttempts, last)
}

// collectRoots paginates root comments up to the configured cap, launching a
// reply fetch for each accepted root that reports replies. Reply slots are
// preallocated so worker goroutines write disjoint indexes.
func (h *CommentHarvester) collectRoots(ctx context.Context, handle InternalHandle) ([]RootComment, [][]string) {
	roots := make([]RootComment, 0, h.cfg.RootCap)
	replies := make([][]string, h.cfg.RootCap)
	var wg sync.WaitGroup

	maxPages := ceilDiv(h.cfg.RootCap, h.cfg.RootPageSize)
pages:
	for page := 1; page <= maxPages; page++ {
		out := h.fetchPage(ctx, endpointRoots, false, func(ctx context.Context) (CommentPage, error) {
			return h.client.RootComments(ctx, handle, page, h.cfg.RootPageSize)
		})
		if out.kind != outcomeSuccess {
			h.logger.Debug("root pagination stopped",
				zap.Int64("handle", int64(handle)),
				zap.Int("page", page),
				zap.String("reason", out.kind.String()),
				zap.Error(out.err),
			)
			break
		}
		if len(out.page.Comments) == 0 {
			break
		}
		for _, c := range out.page.Comments {
			if len(roots) >= h.cfg.RootCap {
				break pages
			}
			// Short roots are rejected at ingestion: their replies are
			// never fetched, even when ReplyCount > 0.
			if utf8.RuneCountInString(c.Text) < h.cfg.MinLength {
				continue
			}
			idx := len(roots)
			roots = append(roots, c)
			if c.ReplyCount > 0 {
				wg.Add(1)
				go func(idx int, rootID int64) {
					defer wg.Done()
					defer func() {
						if r := recover(); r != nil {
							h.logger.Error("reply fetch panicked",
								zap.Int64("root_id", rootID),
								zap.Any("panic", r),
							)
						}
					}()
					replies[idx] = h.collectReplies(ctx, handle, rootID)
				}(idx, c.ID)
			}
		}
	}
	wg.Wait()
	metrics.AddCommentsHarvested("root", len(roots))
	return roots, replies[:len(roots)]
}

// collectReplies paginates one root's reply thread. Any non-success outcome
// ends the thread quietly; collected replies are kept. Replies are accepted
// regardless of length and all count toward the per-thread cap.
func (h *CommentHarvester) collectReplies(ctx context.Context, handle InternalHandle, rootID int64) []string {
	var out []string
	maxPages := ceilDiv(h.cfg.MaxRepliesPerRoot, h.cfg.ReplyPageSize)
	for page := 1; page <= maxPages; page++ {
		res := h.fetchPage(ctx, endpointReplies, true, func(ctx context.Context) (CommentPage, error) {
			return h.client.Replies(ctx, handle, rootID, page, h.cfg.ReplyPageSize)
		})
		if res.kind != outcomeSuccess {
			break
		}
		if len(res.page.Comments) == 0 {
			break
		}
		for _, c := range res.page.Comments {
			if len(out) >= h.cfg.MaxRepliesPerRoot {
				metrics.AddCommentsHarvested("reply", len(out))
				return out
			}
			out = append(out, c.Text)
		}
		if res.page.IsEnd {
			break
		}
	}
	metrics.AddCommentsHarvested("reply", len(out))
	return out
}

// fetchPage runs one page request under the retry policy. Exhausted retries
// downgrade to a soft end so pagination stops without surfacing an error.
// jittered adds the randomized pre-delay used for reply pages.
func (h *CommentHarvester) fetchPage(
	ctx context.Context,
	endpoint string,
	jittered bool,
	call func(ctx context.Context) (CommentPage, error),
) pageOutcome {
	var last pageOutcome
	for attempt := 1; attempt <= h.policy.maxAttempts; attempt++ {
		if jittered {
			if err := h.sleep(ctx, h.replyJitter()); err != nil {
				return pageOutcome{kind: outcomeFatal, err: err}
			}
		}
		var page CommentPage
		err := h.acquire(ctx)
		if err == nil {
			page, err = call(ctx)
			h.release()
		}
		out := classifyPage(page, err)
		metrics.ObserveUpstreamRequest(endpoint, out.kind.String())
		switch out.kind {
		case outcomeSuccess, outcomeSoftEnd, outcomeFatal:
			return out
		}
		last = out
		h.logger.Debug("page attempt failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(out.err),
		)
		if attempt < h.policy.maxAttempts {
			metrics.IncUpstreamRetry(endpoint)
			if err := h.sleep(ctx, h.policy.backoff(attempt)); err != nil {
				return pageOutcome{kind: outcomeFatal, err: err}
			}
		}
	}
	return pageOutcome{kind: outcomeSoftEnd, err: last.err}
}

// acquire waits on the smoothing limiter and takes one concurrency permit.
// Every upstream request path pairs it with release, so in-flight requests
// never exceed the configured capacity.
func (h *CommentHarvester) acquire(ctx context.Context) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	if err := h.permits.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.ObservePermitWait(time.Since(start))
	return nil
}

func (h *CommentHarvester) release() {
	h.permits.Release(1)
}

// replyJitter picks a random delay within the configured bounds.
func (h *CommentHarvester) replyJitter() time.Duration {
	span := h.cfg.ReplyDelayMax - h.cfg.ReplyDelayMin
	if span <= 0 {
		return h.cfg.ReplyDelayMin
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return h.cfg.ReplyDelayMin + span/2
	}
	return h.cfg.ReplyDelayMin + time.Duration(n.Int64())
}

// flatten joins a root comment with its replies in discovery order.
func flatten(root RootComment, replies []string) FlattenedComment {
	if len(replies) == 0 {
		return FlattenedComment(root.Text)
	}
	var b strings.Builder
	b.WriteString(root.Text)
	for _, r := range replies {
		b.WriteString(replyMarker)
		b.WriteString(r)
	}
	return FlattenedComment(b.String())
}
