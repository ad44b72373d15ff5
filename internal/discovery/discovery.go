// Package discovery finds item references for a query by scraping the
// upstream search page. It is a collaborator boundary: hard failures
// collapse to an empty list and never cross into the harvesting core.
package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

// Searcher returns ordered item references for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]harvest.ItemReference, error)
}

// Config controls the search scrape.
type Config struct {
	// SearchURL is the search page; the query is appended as a parameter.
	SearchURL string
	// MaxResults caps how many references a search returns.
	MaxResults int
	// LinkSelector is the CSS selector matching result links.
	LinkSelector string
	// LinkPrefix filters hrefs down to item pages.
	LinkPrefix string
	UserAgent  string
	// Timeout bounds a single search page request.
	Timeout time.Duration
}

// Service adapts a Searcher to the harvest.Discovery contract: errors are
// logged and swallowed so a broken search yields "no results", not a failed
// run.
type Service struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewService wraps a searcher for the orchestrator.
func NewService(searcher Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{searcher: searcher, logger: logger}
}

// Discover implements harvest.Discovery.
func (s *Service) Discover(ctx context.Context, query string) ([]harvest.ItemReference, error) {
	refs, err := s.searcher.Search(ctx, query)
	if err != nil {
		s.logger.Warn("search failed, treating as no results",
			zap.String("query", query),
			zap.Error(err),
		)
		return nil, nil
	}
	s.logger.Info("search finished",
		zap.String("query", query),
		zap.Int("results", len(refs)),
	)
	return refs, nil
}

// Fallback tries a primary searcher and falls back to a secondary when the
// primary errors or finds nothing (static markup without results usually
// means the page needs rendering).
type Fallback struct {
	primary   Searcher
	secondary Searcher
	logger    *zap.Logger
}

// NewFallback composes two searchers.
func NewFallback(primary, secondary Searcher, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Search implements Searcher.
func (f *Fallback) Search(ctx context.Context, query string) ([]harvest.ItemReference, error) {
	refs, err := f.primary.Search(ctx, query)
	if err == nil && len(refs) > 0 {
		return refs, nil
	}
	if f.secondary == nil {
		return refs, err
	}
	if err != nil {
		f.logger.Warn("primary search failed, promoting to headless", zap.Error(err))
	} else {
		f.logger.Debug("primary search empty, promoting to headless")
	}
	return f.secondary.Search(ctx, query)
}
