package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/leadcrawl/internal/cache"
	"github.com/JakeFAU/leadcrawl/internal/cache/filecache"
	"github.com/JakeFAU/leadcrawl/internal/config"
	"github.com/JakeFAU/leadcrawl/internal/fetch"
	"github.com/JakeFAU/leadcrawl/internal/index"
	"github.com/JakeFAU/leadcrawl/internal/storage/memory"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Acme Plumbing</title></head><body>
<p>Acme fixes leaking pipes and boilers across the valley.</p>
<a href="/contact">Contact</a><a href="/private">Private</a></body></html>`)
	})
	mux.HandleFunc("/contact", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Contact Acme</title></head><body><p>Call the emergency hotline any hour.</p></body></html>`)
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>secret</body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, overrides map[string]any) config.Config {
	t.Helper()
	dir := t.TempDir()
	v := viper.New()
	v.Set("cache.dir", filepath.Join(dir, "cache"))
	v.Set("index.dir", filepath.Join(dir, "index"))
	v.Set("index.chunk_size", 8)
	v.Set("index.chunk_overlap", 2)
	v.Set("index.dim", 64)
	v.Set("fetch.max_retries", 0)
	v.Set("fetch.timeout", "5s")
	v.Set("crawler.sitemap_discovery", false)
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, overrides map[string]any) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(t, overrides), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewWiresFileCache(t *testing.T) {
	t.Parallel()

	a := newApp(t, nil)
	_, ok := a.Cache().(*filecache.Store)
	assert.True(t, ok)
	assert.Equal(t, 0, a.Index().Len())
	assert.Equal(t, 64, a.Index().Dim())
}

func TestNewDisabledCacheIsNop(t *testing.T) {
	t.Parallel()

	a := newApp(t, map[string]any{"cache.enabled": false})
	assert.Equal(t, cache.Nop{}, a.Cache())
	assert.False(t, a.FetchOptions().UseCache)

	_, err := a.CleanupCache(context.Background())
	assert.ErrorIs(t, err, ErrCleanupUnsupported)
}

func TestNewRejectsUnknownCacheBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, nil)
	cfg.Cache.Backend = "memcached"
	a, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "memcached")
}

func TestNewBadgerCache(t *testing.T) {
	t.Parallel()

	a := newApp(t, map[string]any{"cache.backend": config.CacheBackendBadger})
	require.NotNil(t, a.Cache())
	_, err := a.CleanupCache(context.Background())
	assert.ErrorIs(t, err, ErrCleanupUnsupported)
}

func TestCrawlOptionsFromConfig(t *testing.T) {
	t.Parallel()

	a := newApp(t, map[string]any{
		"crawler.max_pages":            9,
		"crawler.blocked_query_params": []string{"utm_source"},
		"dynamic.allowlist":            []string{"spa.example"},
	})
	opts := a.CrawlOptions()
	assert.Equal(t, 9, opts.MaxPages)
	assert.Equal(t, []string{"utm_source"}, opts.Canonical.BlockedQueryParams)
	assert.Equal(t, []string{"spa.example"}, opts.Fetch.DynamicAllowlist)
	assert.True(t, opts.Fetch.UseCache)

	depth := 0
	off := false
	adjusted := Overrides{MaxDepth: &depth, MaxPages: 3, UseCache: &off}.applyCrawl(opts)
	assert.Equal(t, 0, adjusted.MaxDepth)
	assert.Equal(t, 3, adjusted.MaxPages)
	assert.False(t, adjusted.Fetch.UseCache)
	assert.Equal(t, opts.Concurrency, adjusted.Concurrency)
}

func TestCrawlHonoursRobotsAndContactPriority(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	a := newApp(t, nil)

	res, err := a.Crawl(context.Background(), site.URL, Overrides{})
	require.NoError(t, err)
	assert.Contains(t, res.Pages, site.URL+"/")
	assert.Contains(t, res.Pages, site.URL+"/contact")
	assert.NotContains(t, res.Pages, site.URL+"/private")
}

func TestCrawlRejectsBadSeed(t *testing.T) {
	t.Parallel()

	a := newApp(t, nil)
	_, err := a.Crawl(context.Background(), "mailto:someone@example.com", Overrides{})
	require.Error(t, err)
}

func TestFetchPopulatesCache(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	a := newApp(t, nil)

	pages := a.Fetch(context.Background(), []string{site.URL + "/contact", site.URL + "/missing"}, Overrides{})
	assert.Contains(t, pages[site.URL+"/contact"], "emergency hotline")
	assert.Equal(t, "", pages[site.URL+"/missing"])

	html, ok, err := a.Cache().Get(context.Background(), cache.Key(site.URL+"/contact", false))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, html, "emergency hotline")

	stats, err := a.CleanupCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemain)
}

func TestIndexURLsThenQuery(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	a := newApp(t, nil)

	pages, err := a.IndexURLs(context.Background(), []string{site.URL + "/contact", site.URL + "/missing"}, false, Overrides{})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Contact Acme", pages[0].Title)
	assert.Positive(t, pages[0].Chunks)
	assert.Empty(t, pages[0].Error)
	assert.NotEmpty(t, pages[1].Error)
	assert.Zero(t, pages[1].Chunks)

	results := a.Query("emergency hotline", index.QueryOptions{TopK: 3})
	require.NotEmpty(t, results)
	assert.Equal(t, site.URL+"/contact", results[0].URL)
	assert.Equal(t, "Contact Acme", results[0].Metadata["title"])
}

func TestIndexURLsWithCrawl(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	a := newApp(t, nil)

	pages, err := a.IndexURLs(context.Background(), []string{site.URL}, true, Overrides{})
	require.NoError(t, err)
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
		assert.Empty(t, p.Error)
	}
	assert.ElementsMatch(t, []string{site.URL + "/", site.URL + "/contact"}, urls)
	assert.Positive(t, a.Index().Len())
}

func TestIndexURLsWithCrawlKeepsGoodSeeds(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	a := newApp(t, nil)

	pages, err := a.IndexURLs(context.Background(), []string{site.URL, "http://bad host/"}, true, Overrides{})
	require.NoError(t, err)
	byURL := make(map[string]IndexedPage, len(pages))
	for _, p := range pages {
		byURL[p.URL] = p
	}
	require.Contains(t, byURL, site.URL+"/contact")
	assert.Positive(t, byURL[site.URL+"/contact"].Chunks)
	require.Contains(t, byURL, "http://bad host/")
	assert.NotEmpty(t, byURL["http://bad host/"].Error)
	assert.Zero(t, byURL["http://bad host/"].Chunks)
	assert.Positive(t, a.Index().Len())
}

func TestDynamicOverrideFallsBackToStaticWhenRenderingDisabled(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	a := newApp(t, nil)
	require.False(t, a.Config().Dynamic.Enabled)

	dynamic := true
	results := a.FetchResults(context.Background(), []string{site.URL + "/contact"}, Overrides{DynamicRendering: &dynamic})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, fetch.SourceHTTP, results[0].Source)
	assert.Contains(t, results[0].HTML, "emergency hotline")
}

func TestIndexTextAndSnapshot(t *testing.T) {
	t.Parallel()

	a := newApp(t, nil)
	dst := memory.NewBlobStore()

	_, err := a.SnapshotTo(context.Background(), dst, "snapshots")
	require.ErrorIs(t, err, ErrEmptyIndex)

	n, err := a.IndexText(context.Background(), "https://acme.example/notes", "boilers serviced every spring", map[string]any{"kind": "note"}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	uris, err := a.SnapshotTo(context.Background(), dst, "snapshots")
	require.NoError(t, err)
	require.Len(t, uris, 2)
	for _, p := range dst.Paths() {
		assert.True(t, strings.HasPrefix(p, "snapshots/"), p)
	}
	_, ctype, ok := dst.Object(dst.Paths()[0])
	require.True(t, ok)
	assert.NotEmpty(t, ctype)
}

func TestSnapshotRequiresBucket(t *testing.T) {
	t.Parallel()

	a := newApp(t, nil)
	_, err := a.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotUnconfigured)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a := newApp(t, nil)
	a.Close()
	a.Close()
	var nilApp *App
	nilApp.Close()
}
