package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/extract"
	"github.com/JakeFAU/leadcrawl/internal/storage"
	"github.com/JakeFAU/leadcrawl/internal/storage/gcs"
	"github.com/JakeFAU/leadcrawl/internal/telemetry"
)

// IndexedPage reports what IndexURLs did with one page.
type IndexedPage struct {
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

// IndexURLs fetches urls (or crawls from each of them when crawl is set), extracts the
// visible text of every page and appends it to the index. Per-page failures are
// reported in the result and do not stop the batch.
func (a *App) IndexURLs(ctx context.Context, urls []string, crawl bool, o Overrides) ([]IndexedPage, error) {
	ctx, span := telemetry.StartSpan(ctx, "index_urls",
		attribute.Int("index.urls", len(urls)),
		attribute.Bool("index.crawl", crawl),
	)
	defer span.End()

	pages := make(map[string]string)
	seedErrs := make(map[string]string)
	var order []string
	if crawl {
		for _, seed := range urls {
			res, err := a.Crawl(ctx, seed, o)
			if err != nil {
				a.logger.Warn("crawl seed failed", zap.String("seed", seed), zap.Error(err))
				if _, dup := pages[seed]; !dup {
					order = append(order, seed)
					pages[seed] = ""
				}
				seedErrs[seed] = err.Error()
				continue
			}
			for _, u := range res.Order {
				if _, dup := pages[u]; !dup {
					order = append(order, u)
				}
				pages[u] = res.Pages[u]
			}
		}
	} else {
		for _, res := range a.FetchResults(ctx, urls, o) {
			if _, dup := pages[res.URL]; dup {
				continue
			}
			order = append(order, res.URL)
			pages[res.URL] = res.HTML
		}
	}

	now := a.clock.Now()
	out := make([]IndexedPage, 0, len(order))
	for _, u := range order {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if msg, failed := seedErrs[u]; failed && pages[u] == "" {
			out = append(out, IndexedPage{URL: u, Error: msg})
			continue
		}
		out = append(out, a.indexHTML(ctx, u, pages[u], now))
	}
	return out, nil
}

func (a *App) indexHTML(ctx context.Context, pageURL, html string, ts time.Time) IndexedPage {
	page := IndexedPage{URL: pageURL}
	if html == "" {
		page.Error = "fetch failed"
		return page
	}
	text, err := extract.Text(html)
	if err != nil {
		page.Error = err.Error()
		return page
	}
	page.Title = extract.Title(html)
	var meta map[string]any
	if page.Title != "" {
		meta = map[string]any{"title": page.Title}
	}
	n, err := a.index.IndexPage(ctx, pageURL, text, meta, ts)
	if err != nil {
		a.logger.Warn("index page failed", zap.String("url", pageURL), zap.Error(err))
		page.Error = err.Error()
		return page
	}
	page.Chunks = n
	return page
}

// IndexText appends already extracted text for pageURL. A zero ts means now.
func (a *App) IndexText(ctx context.Context, pageURL, text string, metadata map[string]any, ts time.Time) (int, error) {
	if ts.IsZero() {
		ts = a.clock.Now()
	}
	n, err := a.index.IndexPage(ctx, pageURL, text, metadata, ts)
	if err != nil {
		return 0, fmt.Errorf("index %s: %w", pageURL, err)
	}
	return n, nil
}

// ErrSnapshotUnconfigured is returned by Snapshot when no bucket is configured.
var ErrSnapshotUnconfigured = errors.New("gcs.bucket is not configured")

// ErrEmptyIndex is returned when there is nothing to snapshot.
var ErrEmptyIndex = errors.New("index is empty")

// Snapshot uploads the index files to the configured GCS bucket.
func (a *App) Snapshot(ctx context.Context) ([]string, error) {
	if a.cfg.GCS.Bucket == "" {
		return nil, ErrSnapshotUnconfigured
	}
	bucket, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.GCS.Bucket}, a.logger.Named("gcs"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := bucket.Close(); cerr != nil {
			a.logger.Warn("close gcs client", zap.Error(cerr))
		}
	}()
	return a.SnapshotTo(ctx, bucket, a.cfg.GCS.Prefix)
}

// SnapshotTo copies the index files into dst under prefix and returns their URIs.
func (a *App) SnapshotTo(ctx context.Context, dst storage.BlobStore, prefix string) ([]string, error) {
	if a.index.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	uris, err := storage.Snapshot(ctx, dst, prefix, a.clock.Now(), a.index.Files())
	if err != nil {
		return nil, fmt.Errorf("snapshot index: %w", err)
	}
	a.logger.Info("index snapshot uploaded", zap.Strings("objects", uris))
	return uris, nil
}
