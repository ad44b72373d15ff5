package harvest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyPage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		page CommentPage
		err  error
		want outcomeKind
	}{
		{"ok", CommentPage{Code: CodeOK}, nil, outcomeSuccess},
		{"not found", CommentPage{Code: CodeNotFound}, nil, outcomeSoftEnd},
		{"thread closed", CommentPage{Code: CodeThreadClosed}, nil, outcomeSoftEnd},
		{"unknown code", CommentPage{Code: 500}, nil, outcomeRetryable},
		{"transport error", CommentPage{}, errors.New("boom"), outcomeRetryable},
		{"cancelled", CommentPage{}, context.Canceled, outcomeFatal},
		{"deadline", CommentPage{}, context.DeadlineExceeded, outcomeFatal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyPage(tc.page, tc.err)
			require.Equal(t, tc.want, got.kind)
		})
	}
}

func TestClassifyPage_UnknownCodeCarriesCodeError(t *testing.T) {
	t.Parallel()

	out := classifyPage(CommentPage{Code: 61001}, nil)
	var codeErr *UpstreamCodeError
	require.ErrorAs(t, out.err, &codeErr)
	require.Equal(t, 61001, codeErr.Code)
}

func TestClassifyResolve(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		res  ResolveResult
		err  error
		want outcomeKind
	}{
		{"ok", ResolveResult{Code: CodeOK, Handle: 42}, nil, outcomeSuccess},
		{"not found is fatal", ResolveResult{Code: CodeNotFound}, nil, outcomeFatal},
		{"other code retries", ResolveResult{Code: -400}, nil, outcomeRetryable},
		{"empty handle retries", ResolveResult{Code: CodeOK}, nil, outcomeRetryable},
		{"transport error", ResolveResult{}, errors.New("boom"), outcomeRetryable},
		{"cancelled", ResolveResult{}, context.Canceled, outcomeFatal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyResolve(tc.res, tc.err)
			require.Equal(t, tc.want, got.kind)
		})
	}
}

func TestClassifyResolve_NotFoundUsesSentinel(t *testing.T) {
	t.Parallel()

	out := classifyResolve(ResolveResult{Code: CodeNotFound}, nil)
	require.ErrorIs(t, out.err, ErrItemNotFound)
}
