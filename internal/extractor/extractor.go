// Package extractor fetches per-item metadata from the item page. It sits
// at a collaborator boundary: failures come back inside the result as a
// formatted error string, never as an error value.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

// Config controls the metadata scrape.
type Config struct {
	UserAgent string
	// Timeout bounds a single page request.
	Timeout time.Duration
	// TranscriptSelector matches the on-page transcript block, when the
	// item pages carry one. Empty disables transcript extraction.
	TranscriptSelector string
}

// CollyExtractor pulls title, description, tags and an optional transcript
// out of an item page's markup.
type CollyExtractor struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds an extractor.
func New(cfg Config, logger *zap.Logger) *CollyExtractor {
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
	return &CollyExtractor{cfg: cfg, baseCollector: c, logger: logger}
}

// Extract implements harvest.Extractor.
func (e *CollyExtractor) Extract(ctx context.Context, ref harvest.ItemReference) harvest.ExtractionResult {
	var (
		result   harvest.ExtractionResult
		fetchErr error
	)

	collector := e.baseCollector.Clone()
	collector.OnHTML("title", func(el *colly.HTMLElement) {
		if result.Title == "" {
			result.Title = strings.TrimSpace(el.Text)
		}
	})
	collector.OnHTML(`meta[property="og:title"]`, func(el *colly.HTMLElement) {
		if v := strings.TrimSpace(el.Attr("content")); v != "" {
			result.Title = v
		}
	})
	collector.OnHTML(`meta[name="description"]`, func(el *colly.HTMLElement) {
		if v := strings.TrimSpace(el.Attr("content")); v != "" {
			result.Description = v
		}
	})
	collector.OnHTML(`meta[name="keywords"]`, func(el *colly.HTMLElement) {
		result.Tags = splitTags(el.Attr("content"))
	})
	if e.cfg.TranscriptSelector != "" {
		collector.OnHTML(e.cfg.TranscriptSelector, func(el *colly.HTMLElement) {
			result.Transcript = strings.TrimSpace(el.Text)
		})
	}
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(string(ref))
	}()

	select {
	case <-ctx.Done():
		return harvest.ExtractionResult{Err: fmt.Sprintf("extract %s: %v", ref, ctx.Err())}
	case err := <-done:
		if err != nil {
			return harvest.ExtractionResult{Err: fmt.Sprintf("extract %s: %v", ref, err)}
		}
	}
	if fetchErr != nil {
		return harvest.ExtractionResult{Err: fmt.Sprintf("extract %s: %v", ref, fetchErr)}
	}

	e.logger.Debug("extracted item metadata",
		zap.String("ref", string(ref)),
		zap.String("title", result.Title),
		zap.Int("tags", len(result.Tags)),
	)
	return result
}

func splitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
