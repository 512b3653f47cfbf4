package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/leadcrawl/internal/fetch"
	"github.com/JakeFAU/leadcrawl/internal/robots"
)

// Executor fetches a batch of URLs, returning one result per input in order.
type Executor interface {
	FetchAll(ctx context.Context, urls []string, opts fetch.Options) []fetch.Result
}

// RobotsFactory builds the robots client owned by one session.
type RobotsFactory func() robots.Policy

// PageSink persists a record per fetched page.
type PageSink interface {
	RecordPage(ctx context.Context, page PageRecord) error
}

// Publisher announces finished crawls.
type Publisher interface {
	PublishCrawlCompleted(ctx context.Context, event CrawlCompleted) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
