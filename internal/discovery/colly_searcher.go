package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

// CollySearcher scrapes the static search page with a Colly collector.
type CollySearcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewCollySearcher builds a searcher.
func NewCollySearcher(cfg Config, logger *zap.Logger) (*CollySearcher, error) {
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("search URL is required")
	}
	if cfg.LinkSelector == "" {
		return nil, fmt.Errorf("link selector is required")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	return &CollySearcher{cfg: cfg, baseCollector: c, logger: logger}, nil
}

// Search visits the search page and collects matching item links in
// document order, capped at MaxResults.
func (s *CollySearcher) Search(ctx context.Context, query string) ([]harvest.ItemReference, error) {
	var (
		refs     []harvest.ItemReference
		fetchErr error
	)

	collector := s.baseCollector.Clone()
	collector.OnHTML(s.cfg.LinkSelector, func(e *colly.HTMLElement) {
		if len(refs) >= s.cfg.MaxResults {
			return
		}
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if s.cfg.LinkPrefix != "" && !strings.HasPrefix(href, s.cfg.LinkPrefix) {
			return
		}
		refs = append(refs, harvest.ItemReference(href))
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	target := s.cfg.SearchURL + "?q=" + url.QueryEscape(query)
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("search canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit search page: %w", err)
		}
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("search page fetch: %w", fetchErr)
	}
	return refs, nil
}
