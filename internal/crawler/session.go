package crawler

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/canonical"
	"github.com/JakeFAU/leadcrawl/internal/extract"
	"github.com/JakeFAU/leadcrawl/internal/fetch"
	"github.com/JakeFAU/leadcrawl/internal/hash/sha256"
	"github.com/JakeFAU/leadcrawl/internal/metrics"
	"github.com/JakeFAU/leadcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/leadcrawl/internal/robots"
)

// Session is one crawl invocation. It owns every piece of mutable crawl state and
// is discarded when Run returns.
type Session struct {
	id     string
	root   string
	opts   compiledOptions
	engine *Engine
	canon  *canonical.Canonicalizer
	robots robots.Policy
	pacer  *ratelimit.Limiter
	logger *zap.Logger

	state    atomic.Int32
	queue    frontier
	seen     map[string]struct{}
	fetched  map[string]struct{}
	origins  map[string]struct{}
	sitemaps map[string]struct{}
	pages    map[string]string
	order    []string
	started  time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Root returns the canonical seed URL.
func (s *Session) Root() string { return s.root }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("crawl state", zap.Stringer("state", st))
}

func (s *Session) seedRoot() {
	s.seen[s.root] = struct{}{}
	s.queue.PushBack(Task{URL: s.root})
	s.setState(StateSeeded)
}

// Run drains the frontier and returns the collected pages. Per-URL failures are
// logged and skipped; Run stops when the frontier empties, the page budget is
// spent or ctx ends.
func (s *Session) Run(ctx context.Context) Result {
	s.setState(StateDraining)
	outcome := "completed"
	for s.queue.Len() > 0 {
		if ctx.Err() != nil {
			outcome = "canceled"
			break
		}
		remaining := s.opts.MaxPages - len(s.pages)
		if remaining <= 0 {
			outcome = "budget_exhausted"
			break
		}
		batch := s.nextBatch(ctx, min(s.opts.Concurrency, remaining))
		if len(batch) == 0 {
			continue
		}
		s.processBatch(ctx, batch)
	}
	s.setState(StateDone)
	metrics.ObserveCrawl(outcome)

	s.logger.Info("crawl complete",
		zap.String("outcome", outcome),
		zap.Int("pages", len(s.pages)),
		zap.Int("seen", len(s.seen)),
		zap.Duration("elapsed", s.engine.clock.Now().Sub(s.started)),
	)
	return Result{
		SessionID: s.id,
		Seed:      s.root,
		Pages:     s.pages,
		Order:     s.order,
	}
}

func (s *Session) nextBatch(ctx context.Context, limit int) []Task {
	batch := make([]Task, 0, limit)
	for len(batch) < limit {
		task, ok := s.queue.Pop()
		if !ok {
			break
		}
		if !s.admit(ctx, &task) {
			continue
		}
		s.fetched[task.URL] = struct{}{}
		batch = append(batch, task)
	}
	return batch
}

// admit applies dequeue-time admission policy, canonicalizing task.URL in place.
func (s *Session) admit(ctx context.Context, task *Task) bool {
	u, err := s.canon.Canonicalize(task.URL)
	if err != nil {
		s.logger.Debug("dropping malformed url", zap.String("url", task.URL), zap.Error(err))
		return false
	}
	task.URL = u
	switch {
	case task.Depth > s.opts.MaxDepth:
		return false
	case isFetched(s.fetched, u):
		return false
	case canonical.HasExtension(u, s.opts.extensions):
		return false
	case !s.opts.domains.MatchURL(u):
		return false
	case !s.matchesPathFilters(u):
		return false
	}
	if !s.robots.Allowed(ctx, u) {
		s.logger.Debug("robots disallowed", zap.String("url", u))
		return false
	}
	s.applyOriginDelay(ctx, u)
	return true
}

func isFetched(set map[string]struct{}, u string) bool {
	_, ok := set[u]
	return ok
}

func (s *Session) matchesPathFilters(u string) bool {
	if len(s.opts.pathFilters) == 0 || u == s.root {
		return true
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	for _, re := range s.opts.pathFilters {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// applyOriginDelay sets the origin spacing to max(request_delay, crawl-delay) the
// first time an origin is admitted.
func (s *Session) applyOriginDelay(ctx context.Context, u string) {
	origin := canonical.Origin(u)
	if _, ok := s.origins[origin]; ok {
		return
	}
	s.origins[origin] = struct{}{}
	if delay, ok := s.robots.CrawlDelay(ctx, u); ok && delay > s.opts.RequestDelay {
		s.pacer.SetDelay(u, delay)
		s.logger.Debug("honouring crawl-delay", zap.String("origin", origin), zap.Duration("delay", delay))
	}
}

func (s *Session) fetchOptions() fetch.Options {
	opts := s.opts.Fetch
	opts.Pacer = s.pacer
	return opts
}

func (s *Session) processBatch(ctx context.Context, batch []Task) {
	urls := make([]string, len(batch))
	for i, t := range batch {
		urls[i] = t.URL
	}
	results := s.engine.executor.FetchAll(ctx, urls, s.fetchOptions())

	for i, task := range batch {
		if i >= len(results) {
			break
		}
		res := results[i]
		if !res.OK() {
			if res.Err != nil {
				s.logger.Debug("fetch failed", zap.String("url", task.URL), zap.Error(res.Err))
			}
			continue
		}
		if _, dup := s.pages[task.URL]; dup || len(s.pages) >= s.opts.MaxPages {
			continue
		}
		s.pages[task.URL] = res.HTML
		s.order = append(s.order, task.URL)
		metrics.ObserveCrawlPage(task.URL)
		s.record(ctx, task, res)

		base := res.FinalURL
		if base == "" {
			base = task.URL
		}
		if task.Depth == 0 && s.opts.SitemapDiscovery {
			s.discoverSitemaps(ctx, res.HTML, base, task)
		}
		if task.Depth < s.opts.MaxDepth {
			s.expand(res.HTML, base, task)
		}
	}
}

func (s *Session) record(ctx context.Context, task Task, res fetch.Result) {
	if s.engine.sink == nil {
		return
	}
	page := PageRecord{
		SessionID:     s.id,
		URL:           task.URL,
		FinalURL:      res.FinalURL,
		Status:        res.Status,
		Source:        string(res.Source),
		Depth:         task.Depth,
		Bytes:         len(res.HTML),
		ContentSHA256: sha256.Hex([]byte(res.HTML)),
		FetchedAt:     s.engine.clock.Now(),
	}
	if err := s.engine.sink.RecordPage(ctx, page); err != nil {
		s.logger.Warn("page sink failed", zap.String("url", task.URL), zap.Error(err))
	}
}

// expand enqueues the links of a fetched page. Contact links go to the front of the
// frontier as one block; the rest go to the back.
func (s *Session) expand(html, base string, parent Task) {
	links, err := extract.Links(html, base)
	if err != nil {
		s.logger.Debug("link extraction failed", zap.String("url", parent.URL), zap.Error(err))
		return
	}
	var priority []Task
	for _, link := range links {
		task, ok := s.discover(link, parent)
		if !ok {
			continue
		}
		if s.opts.DeepContact && canonical.ContainsKeyword(task.URL, s.opts.keywords) {
			priority = append(priority, task)
			continue
		}
		s.queue.PushBack(task)
	}
	s.queue.PushFront(priority...)
}

// discover canonicalizes link and marks it seen, returning the child task when it
// is new and within max_depth.
func (s *Session) discover(link string, parent Task) (Task, bool) {
	depth := parent.Depth + 1
	if depth > s.opts.MaxDepth {
		return Task{}, false
	}
	u, err := s.canon.Canonicalize(link)
	if err != nil {
		return Task{}, false
	}
	if _, ok := s.seen[u]; ok {
		return Task{}, false
	}
	s.seen[u] = struct{}{}
	return Task{URL: u, Depth: depth, DiscoveredFrom: parent.URL}, true
}

func (s *Session) discoverSitemaps(ctx context.Context, html, base string, parent Task) {
	for _, candidate := range extract.SitemapLinks(html, base) {
		sitemapURL, err := s.canon.Canonicalize(candidate)
		if err != nil {
			continue
		}
		if _, done := s.sitemaps[sitemapURL]; done {
			continue
		}
		s.sitemaps[sitemapURL] = struct{}{}
		if isFetched(s.fetched, sitemapURL) {
			continue
		}
		if !s.opts.domains.MatchURL(sitemapURL) || !s.robots.Allowed(ctx, sitemapURL) {
			continue
		}
		// Sitemaps share the page fetch budget of one network fetch per URL.
		s.seen[sitemapURL] = struct{}{}
		s.fetched[sitemapURL] = struct{}{}

		results := s.engine.executor.FetchAll(ctx, []string{sitemapURL}, s.fetchOptions())
		if len(results) == 0 || !results[0].OK() {
			continue
		}
		locs, err := extract.ParseSitemap(results[0].HTML)
		if err != nil {
			s.logger.Debug("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
			continue
		}
		sitemapBase, err := url.Parse(sitemapURL)
		if err != nil {
			continue
		}
		added := 0
		for _, loc := range locs {
			ref, err := sitemapBase.Parse(loc)
			if err != nil {
				continue
			}
			if task, ok := s.discover(ref.String(), parent); ok {
				s.queue.PushBack(task)
				added++
			}
		}
		s.logger.Debug("sitemap processed",
			zap.String("url", sitemapURL),
			zap.Int("locations", len(locs)),
			zap.Int("enqueued", added),
		)
	}
}
