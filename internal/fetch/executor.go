package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/cache"
	"github.com/JakeFAU/leadcrawl/internal/metrics"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultConcurrency = 6
)

// Options tune one FetchAll call.
type Options struct {
	Timeout          time.Duration
	Concurrency      int
	UseCache         bool
	DynamicRendering bool
	DynamicAllowlist []string
	// SelectorHints maps a host to the selectors the renderer waits for.
	SelectorHints map[string][]string
	// Pacer, when set, replaces the executor's pacer for this call.
	Pacer Pacer
	// Promoter, when set and DynamicRendering is on, sends static pages that look
	// like an unrendered JS shell through the dynamic fetcher.
	Promoter Promoter
}

// Result is the outcome for one URL. Err is set on failure and HTML is then empty.
type Result struct {
	URL      string
	HTML     string
	Status   int
	Source   Source
	FinalURL string
	Err      error
}

// OK reports whether the fetch produced content.
func (r Result) OK() bool {
	return r.Err == nil && r.HTML != ""
}

// Executor runs bounded, cache-first batches of fetches.
type Executor struct {
	static  Fetcher
	dynamic Fetcher
	cache   cache.Store
	pacer   Pacer
	logger  *zap.Logger
}

// NewExecutor wires an Executor. dynamic, store and pacer may be nil.
func NewExecutor(static, dynamic Fetcher, store cache.Store, pacer Pacer, logger *zap.Logger) *Executor {
	if store == nil {
		store = cache.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		static:  static,
		dynamic: dynamic,
		cache:   store,
		pacer:   pacer,
		logger:  logger,
	}
}

// FetchMany fetches urls and returns url -> html. Failed URLs map to "".
func (e *Executor) FetchMany(ctx context.Context, urls []string, opts Options) map[string]string {
	out := make(map[string]string, len(urls))
	for _, res := range e.FetchAll(ctx, urls, opts) {
		out[res.URL] = res.HTML
	}
	return out
}

// FetchAll fetches every URL with at most opts.Concurrency in flight and returns one
// Result per input, in input order. Repeated URLs are fetched once.
func (e *Executor) FetchAll(ctx context.Context, urls []string, opts Options) []Result {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	unique := make([]string, 0, len(urls))
	position := make(map[string]int, len(urls))
	for _, u := range urls {
		if _, ok := position[u]; ok {
			continue
		}
		position[u] = len(unique)
		unique = append(unique, u)
	}

	type job struct {
		idx int
		url string
	}
	type done struct {
		idx int
		res Result
	}

	workers := min(opts.Concurrency, len(unique))
	jobs := make(chan job)
	results := make(chan done, len(unique))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- done{idx: j.idx, res: e.fetchOne(ctx, j.url, opts)}
			}
		}()
	}
	for i, u := range unique {
		jobs <- job{idx: i, url: u}
	}
	close(jobs)
	wg.Wait()
	close(results)

	collected := make([]Result, len(unique))
	for d := range results {
		collected[d.idx] = d.res
	}

	out := make([]Result, len(urls))
	succeeded := 0
	for i, u := range urls {
		out[i] = collected[position[u]]
		if out[i].OK() {
			succeeded++
		}
	}
	e.logger.Debug("fetch batch complete",
		zap.Int("urls", len(urls)),
		zap.Int("succeeded", succeeded),
		zap.Int("concurrency", workers),
		zap.Bool("use_cache", opts.UseCache),
	)
	return out
}

func (e *Executor) fetchOne(ctx context.Context, url string, opts Options) Result {
	dynamic := e.dynamic != nil && UseDynamic(url, opts.DynamicRendering, opts.DynamicAllowlist)
	key := cache.Key(url, dynamic)

	if opts.UseCache {
		keys := []string{key}
		if !dynamic && e.canPromote(opts) {
			// Promoted shells are stored under the dynamic key.
			keys = append(keys, cache.Key(url, true))
		}
		if res, ok := e.lookup(ctx, url, keys); ok {
			return res
		}
	}

	if ctx.Err() != nil {
		return Result{URL: url, Err: ctx.Err()}
	}
	pacer := opts.Pacer
	if pacer == nil {
		pacer = e.pacer
	}
	if pacer != nil {
		if err := pacer.Wait(ctx, url); err != nil {
			return Result{URL: url, Err: err}
		}
	}

	fetcher, source := e.static, SourceHTTP
	req := Request{URL: url, Timeout: opts.Timeout}
	if dynamic {
		fetcher, source = e.dynamic, SourceDynamic
		req.SelectorHints = HintsFor(url, opts.SelectorHints)
	}
	if fetcher == nil {
		return Result{URL: url, Source: source, Err: errors.New("no fetcher configured")}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	start := time.Now()
	page, err := fetcher.Fetch(fetchCtx, req)
	cancel()
	elapsed := time.Since(start)

	res := Result{URL: url, Status: page.Status, Source: source, FinalURL: page.FinalURL}
	if err != nil {
		res.Err = err
		metrics.ObserveFetch(url, string(source), outcome(err), 0, elapsed)
		e.logger.Debug("fetch failed",
			zap.String("url", url),
			zap.String("source", string(source)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return res
	}
	res.HTML = page.HTML
	metrics.ObserveFetch(url, string(source), "success", len(page.HTML), elapsed)

	if !dynamic && e.shouldPromote(page, opts) {
		if promoted, ok := e.promote(ctx, url, opts); ok {
			res = promoted
		}
	}

	if opts.UseCache && res.HTML != "" {
		if res.Source == SourceDynamic {
			key = cache.Key(url, true)
		}
		if err := e.cache.Put(ctx, key, res.HTML); err != nil {
			e.logger.Warn("cache write failed", zap.String("url", url), zap.Error(err))
		}
	}
	return res
}

// lookup returns the first fresh cache entry among keys.
func (e *Executor) lookup(ctx context.Context, url string, keys []string) (Result, bool) {
	for _, key := range keys {
		html, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.ObserveCacheLookup("error")
			e.logger.Warn("cache read failed", zap.String("url", url), zap.Error(err))
		case ok && html != "":
			metrics.ObserveCacheLookup("hit")
			metrics.ObserveFetch(url, string(SourceCache), "success", len(html), 0)
			return Result{URL: url, HTML: html, Status: 200, Source: SourceCache, FinalURL: url}, true
		default:
			metrics.ObserveCacheLookup("miss")
		}
	}
	return Result{}, false
}

func (e *Executor) canPromote(opts Options) bool {
	return opts.Promoter != nil && opts.DynamicRendering && e.dynamic != nil
}

func (e *Executor) shouldPromote(page Page, opts Options) bool {
	return e.canPromote(opts) && opts.Promoter.ShouldPromote(page.Status, page.HTML)
}

// promote renders url with the dynamic fetcher after a static fetch returned a shell.
// Failures keep the static result.
func (e *Executor) promote(ctx context.Context, url string, opts Options) (Result, bool) {
	req := Request{URL: url, Timeout: opts.Timeout, SelectorHints: HintsFor(url, opts.SelectorHints)}
	fetchCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	start := time.Now()
	page, err := e.dynamic.Fetch(fetchCtx, req)
	cancel()
	elapsed := time.Since(start)
	if err != nil || page.HTML == "" {
		metrics.ObserveFetch(url, string(SourceDynamic), outcome(err), 0, elapsed)
		e.logger.Debug("promotion render failed, keeping static html", zap.String("url", url), zap.Error(err))
		return Result{}, false
	}
	metrics.ObserveFetch(url, string(SourceDynamic), "success", len(page.HTML), elapsed)
	e.logger.Debug("promoted page to dynamic rendering", zap.String("url", url))
	return Result{URL: url, HTML: page.HTML, Status: page.Status, Source: SourceDynamic, FinalURL: page.FinalURL}, true
}

func outcome(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
