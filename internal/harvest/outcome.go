package harvest

import (
	"context"
	"errors"
)

// outcomeKind classifies one upstream request so the retry loop can decide
// between retrying, stopping pagination, and failing the item. Keeping the
// decision in a value rather than nested error handling makes each branch
// directly testable.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeSoftEnd
	outcomeRetryable
	outcomeFatal
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSuccess:
		return "success"
	case outcomeSoftEnd:
		return "soft_end"
	case outcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// pageOutcome is the classified result of one comment-page request.
type pageOutcome struct {
	kind outcomeKind
	page CommentPage
	err  error
}

// resolveOutcome is the classified result of one resolve request.
type resolveOutcome struct {
	kind   outcomeKind
	handle InternalHandle
	err    error
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// classifyPage maps a comment-page response onto the outcome taxonomy:
// closed/not-found codes end pagination gracefully, cancellation is fatal
// without retry, and everything else unexpected is retryable.
func classifyPage(page CommentPage, err error) pageOutcome {
	if err != nil {
		if isCancellation(err) {
			return pageOutcome{kind: outcomeFatal, err: err}
		}
		return pageOutcome{kind: outcomeRetryable, err: err}
	}
	switch page.Code {
	case CodeOK:
		return pageOutcome{kind: outcomeSuccess, page: page}
	case CodeNotFound, CodeThreadClosed:
		return pageOutcome{kind: outcomeSoftEnd, page: page}
	default:
		return pageOutcome{kind: outcomeRetryable, err: &UpstreamCodeError{Code: page.Code}}
	}
}

// classifyResolve maps a resolve response. A not-found code is terminal for
// the item and must not be retried.
func classifyResolve(res ResolveResult, err error) resolveOutcome {
	if err != nil {
		if isCancellation(err) {
			return resolveOutcome{kind: outcomeFatal, err: err}
		}
		return resolveOutcome{kind: outcomeRetryable, err: err}
	}
	switch {
	case res.Code == CodeNotFound:
		return resolveOutcome{kind: outcomeFatal, err: ErrItemNotFound}
	case res.Code != CodeOK:
		return resolveOutcome{kind: outcomeRetryable, err: &UpstreamCodeError{Code: res.Code}}
	case res.Handle == 0:
		return resolveOutcome{kind: outcomeRetryable, err: errors.New("resolve returned empty handle")}
	default:
		return resolveOutcome{kind: outcomeSuccess, handle: res.Handle}
	}
}
