// Package publisher fans crawl completion events out to several destinations.
package publisher

import (
	"context"
	"errors"

	"github.com/JakeFAU/leadcrawl/internal/crawler"
)

// Multi publishes every event to each non-nil publisher and joins their errors.
type Multi []crawler.Publisher

// PublishCrawlCompleted implements crawler.Publisher.
func (m Multi) PublishCrawlCompleted(ctx context.Context, event crawler.CrawlCompleted) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishCrawlCompleted(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns nil when no publisher is configured, the publisher itself when there
// is exactly one, and a Multi otherwise.
func Combine(publishers ...crawler.Publisher) crawler.Publisher {
	var live Multi
	for _, p := range publishers {
		if p != nil {
			live = append(live, p)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	default:
		return live
	}
}
