package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

// HeadlessSearcher renders the search page in headless Chrome before
// collecting result links. It backs the fallback path for markup the
// static searcher cannot see.
type HeadlessSearcher struct {
	cfg         Config
	navTimeout  time.Duration
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewHeadlessSearcher creates a searcher backed by chromedp.
func NewHeadlessSearcher(cfg Config, navTimeout time.Duration, logger *zap.Logger) (*HeadlessSearcher, error) {
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("search URL is required")
	}
	if cfg.LinkSelector == "" {
		return nil, fmt.Errorf("link selector is required")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessSearcher{
		cfg:         cfg,
		navTimeout:  navTimeout,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (s *HeadlessSearcher) Close() {
	s.allocCancel()
}

// Search implements Searcher.
func (s *HeadlessSearcher) Search(ctx context.Context, query string) ([]harvest.ItemReference, error) {
	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, s.navTimeout)
	defer cancel()

	// Stop the browser task when the caller's context dies.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	target := s.cfg.SearchURL + "?q=" + url.QueryEscape(query)
	hrefs, err := s.runHeadless(taskCtx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("search canceled: %w", ctx.Err())
		}
		return nil, err
	}

	refs := make([]harvest.ItemReference, 0, s.cfg.MaxResults)
	for _, href := range hrefs {
		if len(refs) >= s.cfg.MaxResults {
			break
		}
		if s.cfg.LinkPrefix != "" && !strings.HasPrefix(href, s.cfg.LinkPrefix) {
			continue
		}
		refs = append(refs, harvest.ItemReference(href))
	}
	s.logger.Debug("headless search finished",
		zap.String("query", query),
		zap.Int("results", len(refs)),
	)
	return refs, nil
}

func (s *HeadlessSearcher) runHeadless(ctx context.Context, target string) ([]string, error) {
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(a => a.href)`,
		s.cfg.LinkSelector,
	)

	var hrefs []string
	actions := []chromedp.Action{
		s.userAgentAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(script, &hrefs),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return hrefs, nil
}

func (s *HeadlessSearcher) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}
