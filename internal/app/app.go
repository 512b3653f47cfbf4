// Package app initializes and holds the long-lived services shared by the CLI and the
// HTTP API, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/cache"
	"github.com/JakeFAU/leadcrawl/internal/cache/badgercache"
	"github.com/JakeFAU/leadcrawl/internal/cache/filecache"
	"github.com/JakeFAU/leadcrawl/internal/cache/rediscache"
	"github.com/JakeFAU/leadcrawl/internal/canonical"
	"github.com/JakeFAU/leadcrawl/internal/clock/system"
	"github.com/JakeFAU/leadcrawl/internal/config"
	"github.com/JakeFAU/leadcrawl/internal/crawler"
	"github.com/JakeFAU/leadcrawl/internal/fetch"
	collyfetcher "github.com/JakeFAU/leadcrawl/internal/fetcher/colly"
	"github.com/JakeFAU/leadcrawl/internal/fetcher/headless"
	"github.com/JakeFAU/leadcrawl/internal/headless/detector"
	"github.com/JakeFAU/leadcrawl/internal/index"
	"github.com/JakeFAU/leadcrawl/internal/logging"
	"github.com/JakeFAU/leadcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/leadcrawl/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/leadcrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/leadcrawl/internal/retry"
	"github.com/JakeFAU/leadcrawl/internal/robots"
	"github.com/JakeFAU/leadcrawl/internal/storage/postgres"
	"github.com/JakeFAU/leadcrawl/internal/telemetry"
)

// App holds the shared, long-lived services. It is built once per process and closed
// on shutdown.
type App struct {
	cfg      config.Config
	promoter fetch.Promoter
	logger   *zap.Logger
	clock    crawler.Clock
	cache    cache.Store
	executor *fetch.Executor
	engine   *crawler.Engine
	index    *index.Store
	pages    *postgres.PageStore
	events   *pubsubpublisher.Publisher
	closers  []func() error
}

// New wires every service described by cfg. Optional integrations (Postgres, Pub/Sub,
// dynamic rendering) are only started when configured; any failure closes what was
// already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	a = &App{cfg: cfg, logger: logging.OrNop(logger), clock: system.New()}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()
	l := a.logger
	l.Info("initializing application services")

	if a.cache, err = a.openCache(ctx); err != nil {
		return nil, err
	}

	fetchRetry := retry.Policy{
		MaxAttempts: cfg.Fetch.MaxRetries + 1,
		BaseDelay:   cfg.Fetch.RetryBaseDelay,
		MaxDelay:    cfg.Fetch.RetryMaxDelay,
	}
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Retry:        fetchRetry,
	}, l.Named("fetch"))

	// Without a renderer the executor serves dynamic requests statically.
	var dynamic fetch.Fetcher
	if cfg.Dynamic.Enabled {
		renderer, rerr := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Dynamic.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.Dynamic.Timeout,
			HintTimeout:       cfg.Dynamic.HintTimeout,
			IdleTimeout:       cfg.Dynamic.IdleTimeout,
			ExecPath:          cfg.Dynamic.ExecPath,
		}, l.Named("dynamic"))
		if rerr != nil {
			return nil, fmt.Errorf("init headless renderer: %w", rerr)
		}
		a.closers = append(a.closers, func() error { renderer.Close(); return nil })
		dynamic = renderer
		if cfg.Dynamic.AutoPromote {
			a.promoter = detector.NewHeuristic(cfg.Dynamic.PromoteMinBody)
		}
		l.Info("dynamic rendering enabled", zap.Strings("allowlist", cfg.Dynamic.Allowlist))
	}

	pacer := ratelimit.New(ratelimit.Config{DefaultDelay: cfg.Crawler.RequestDelay})
	a.executor = fetch.NewExecutor(static, dynamic, a.cache, pacer, l.Named("executor"))

	robotsHTTP := &http.Client{Timeout: cfg.Robots.Timeout}
	robotsCfg := robots.Config{
		Respect:    cfg.Robots.Respect,
		FailClosed: cfg.Robots.FailClosed,
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    cfg.Robots.Timeout,
		Retry:      fetchRetry,
	}
	robotsLogger := l.Named("robots")

	deps := crawler.Dependencies{
		Executor: a.executor,
		Robots:   func() robots.Policy { return robots.New(robotsCfg, robotsHTTP, robotsLogger) },
		Clock:    a.clock,
		Logger:   l.Named("crawler"),
	}
	var publishers []crawler.Publisher
	if cfg.Database.DSN != "" {
		l.Info("connecting to postgres", zap.String("table", cfg.Database.Table))
		if a.pages, err = postgres.New(ctx, postgres.Config{
			DSN:      cfg.Database.DSN,
			Table:    cfg.Database.Table,
			MaxConns: cfg.Database.MaxConns,
		}); err != nil {
			return nil, fmt.Errorf("init page store: %w", err)
		}
		a.closers = append(a.closers, func() error { a.pages.Close(); return nil })
		if err = a.pages.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("init page store: %w", err)
		}
		deps.Sink = a.pages
		publishers = append(publishers, a.pages)
	}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicID != "" {
		l.Info("connecting to pubsub", zap.String("topic", cfg.PubSub.TopicID))
		if a.events, err = pubsubpublisher.Dial(ctx, pubsubpublisher.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicID:   cfg.PubSub.TopicID,
		}, l.Named("pubsub")); err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, a.events.Close)
		publishers = append(publishers, a.events)
	}
	deps.Publisher = publisher.Combine(publishers...)

	if a.engine, err = crawler.NewEngine(deps); err != nil {
		return nil, fmt.Errorf("init crawler: %w", err)
	}

	if a.index, err = index.Open(cfg.Index.Dir, index.Config{
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		Dim:          cfg.Index.Dim,
	}, l.Named("index")); err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	l.Info("application services initialized",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Int("index_rows", a.index.Len()),
	)
	return a, nil
}

func (a *App) openCache(ctx context.Context) (cache.Store, error) {
	c := a.cfg.Cache
	if !c.Enabled {
		return cache.Nop{}, nil
	}
	switch c.Backend {
	case config.CacheBackendFS:
		store, err := filecache.New(filecache.Config{Dir: c.Dir, MaxAge: c.MaxAge})
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		return store, nil
	case config.CacheBackendBadger:
		store, err := badgercache.Open(badgercache.Config{Path: c.Dir, MaxAge: c.MaxAge, Logger: a.logger.Named("badger")})
		if err != nil {
			return nil, fmt.Errorf("open badger cache: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.CacheBackendRedis:
		store, err := rediscache.New(ctx, rediscache.Config{Addr: c.RedisAddr, Prefix: c.RedisPrefix, MaxAge: c.MaxAge})
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Index returns the vector store.
func (a *App) Index() *index.Store { return a.index }

// Cache returns the content cache.
func (a *App) Cache() cache.Store { return a.cache }

// FetchOptions builds executor options from the configuration.
func (a *App) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:          a.cfg.Fetch.Timeout,
		Concurrency:      a.cfg.Crawler.Concurrency,
		UseCache:         a.cfg.Cache.Enabled,
		DynamicRendering: a.cfg.Dynamic.Enabled,
		DynamicAllowlist: a.cfg.Dynamic.Allowlist,
		SelectorHints:    a.cfg.Dynamic.HintsByHost(),
		Promoter:         a.promoter,
	}
}

// CrawlOptions builds crawl options from the configuration.
func (a *App) CrawlOptions() crawler.Options {
	c := a.cfg.Crawler
	return crawler.Options{
		MaxDepth:             c.MaxDepth,
		MaxPages:             c.MaxPages,
		Concurrency:          c.Concurrency,
		DeepContact:          c.DeepContact,
		ContactKeywords:      c.ContactKeywords,
		AllowedDomains:       c.AllowedDomains,
		PathFilters:          c.PathFilters,
		DisallowedExtensions: c.DisallowedExtensions,
		RequestDelay:         c.RequestDelay,
		SitemapDiscovery:     c.SitemapDiscovery,
		Canonical: canonical.Options{
			AllowedQueryParams: c.AllowedQueryParams,
			BlockedQueryParams: c.BlockedQueryParams,
		},
		Fetch: a.FetchOptions(),
	}
}

// Crawl runs one crawl from seed with the configured options adjusted by o.
func (a *App) Crawl(ctx context.Context, seed string, o Overrides) (crawler.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "crawl", attribute.String("crawl.seed", seed))
	defer span.End()

	res, err := a.engine.Crawl(ctx, seed, o.applyCrawl(a.CrawlOptions()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return crawler.Result{}, fmt.Errorf("crawl %s: %w", seed, err)
	}
	span.SetAttributes(
		attribute.String("crawl.session_id", res.SessionID),
		attribute.Int("crawl.pages", len(res.Order)),
	)
	return res, nil
}

// Fetch retrieves urls and returns the HTML of those that succeeded.
func (a *App) Fetch(ctx context.Context, urls []string, o Overrides) map[string]string {
	return a.executor.FetchMany(ctx, urls, o.applyFetch(a.FetchOptions()))
}

// FetchResults is Fetch with per-URL outcomes, in input order.
func (a *App) FetchResults(ctx context.Context, urls []string, o Overrides) []fetch.Result {
	return a.executor.FetchAll(ctx, urls, o.applyFetch(a.FetchOptions()))
}

// IndexRows reports the number of rows held by the index.
func (a *App) IndexRows() int { return a.index.Len() }

// Query searches the index.
func (a *App) Query(text string, opts index.QueryOptions) []index.QueryResult {
	return a.index.Query(text, opts)
}

// ErrCleanupUnsupported is returned by CleanupCache for backends that expire entries
// on their own.
var ErrCleanupUnsupported = errors.New("cache backend expires entries itself")

type cleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration, maxBytes int64) (filecache.CleanupStats, error)
}

// CleanupCache expires and evicts file cache entries using the configured limits.
func (a *App) CleanupCache(ctx context.Context) (filecache.CleanupStats, error) {
	c, ok := a.cache.(cleaner)
	if !ok {
		return filecache.CleanupStats{}, ErrCleanupUnsupported
	}
	stats, err := c.Cleanup(ctx, a.cfg.Cache.MaxAge, a.cfg.Cache.MaxSizeMB*1024*1024)
	if err != nil {
		return stats, fmt.Errorf("cache cleanup: %w", err)
	}
	a.logger.Info("cache cleanup finished",
		zap.Int("expired", stats.Expired),
		zap.Int("evicted", stats.Evicted),
		zap.Int64("bytes_freed", stats.BytesFreed),
		zap.Int("files_remaining", stats.FilesRemain),
	)
	return stats, nil
}

// Close gracefully shuts down all services in reverse start order.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	// Sync errors on stderr/stdout are expected on some platforms.
	_ = a.logger.Sync()
}
