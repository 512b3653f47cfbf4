package api

import (
	"fmt"
	"time"

	"github.com/JakeFAU/leadcrawl/internal/app"
	"github.com/JakeFAU/leadcrawl/internal/crawler"
	"github.com/JakeFAU/leadcrawl/internal/fetch"
	"github.com/JakeFAU/leadcrawl/internal/index"
)

// tuning holds the per-request knobs shared by crawl, fetch and index requests.
type tuning struct {
	MaxDepth         *int     `json:"max_depth"`
	MaxPages         int      `json:"max_pages"`
	Concurrency      int      `json:"concurrency"`
	DeepContact      *bool    `json:"deep_contact"`
	AllowedDomains   []string `json:"allowed_domains"`
	PathFilters      []string `json:"path_filters"`
	RequestDelayMS   int      `json:"request_delay_ms"`
	TimeoutSeconds   int      `json:"timeout_seconds"`
	UseCache         *bool    `json:"use_cache"`
	DynamicRendering *bool    `json:"dynamic_rendering"`
	DynamicAllowlist []string `json:"dynamic_allowlist"`
}

func (t tuning) overrides() app.Overrides {
	return app.Overrides{
		MaxDepth:         t.MaxDepth,
		MaxPages:         t.MaxPages,
		Concurrency:      t.Concurrency,
		DeepContact:      t.DeepContact,
		AllowedDomains:   t.AllowedDomains,
		PathFilters:      t.PathFilters,
		RequestDelay:     time.Duration(t.RequestDelayMS) * time.Millisecond,
		Timeout:          time.Duration(t.TimeoutSeconds) * time.Second,
		UseCache:         t.UseCache,
		DynamicRendering: t.DynamicRendering,
		DynamicAllowlist: t.DynamicAllowlist,
	}
}

type crawlRequest struct {
	tuning
	Seed        string `json:"seed"`
	IncludeHTML bool   `json:"include_html"`
}

type crawlResponse struct {
	SessionID string         `json:"session_id"`
	Seed      string         `json:"seed"`
	Order     []string       `json:"order"`
	Pages     map[string]any `json:"pages"`
}

// newCrawlResponse reports page sizes, or the HTML itself when includeHTML is set.
func newCrawlResponse(res crawler.Result, includeHTML bool) crawlResponse {
	out := crawlResponse{
		SessionID: res.SessionID,
		Seed:      res.Seed,
		Order:     res.Order,
		Pages:     make(map[string]any, len(res.Pages)),
	}
	if out.Order == nil {
		out.Order = []string{}
	}
	for u, html := range res.Pages {
		if includeHTML {
			out.Pages[u] = html
		} else {
			out.Pages[u] = len(html)
		}
	}
	return out
}

type fetchRequest struct {
	tuning
	URLs        []string `json:"urls"`
	IncludeHTML bool     `json:"include_html"`
}

type fetchResult struct {
	URL      string `json:"url"`
	OK       bool   `json:"ok"`
	Status   int    `json:"status,omitempty"`
	Source   string `json:"source,omitempty"`
	FinalURL string `json:"final_url,omitempty"`
	Bytes    int    `json:"bytes"`
	HTML     string `json:"html,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newFetchResult(res fetch.Result, includeHTML bool) fetchResult {
	out := fetchResult{
		URL:      res.URL,
		OK:       res.OK(),
		Status:   res.Status,
		Source:   string(res.Source),
		FinalURL: res.FinalURL,
		Bytes:    len(res.HTML),
	}
	if includeHTML {
		out.HTML = res.HTML
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

type indexRequest struct {
	tuning
	URLs  []string `json:"urls"`
	Crawl bool     `json:"crawl"`

	URL       string         `json:"url"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"timestamp"`
}

type queryRequest struct {
	Text   string `json:"text"`
	TopK   int    `json:"top_k"`
	Domain string `json:"domain"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

func (q queryRequest) options() (index.QueryOptions, error) {
	opts := index.QueryOptions{TopK: q.TopK, Domain: q.Domain}
	if opts.TopK == 0 {
		opts.TopK = defaultTopK
	}
	var err error
	if q.Start != "" {
		if opts.Start, err = index.ParseTime(q.Start); err != nil {
			return opts, fmt.Errorf("start: %w", err)
		}
	}
	if q.End != "" {
		if opts.End, err = index.ParseTime(q.End); err != nil {
			return opts, fmt.Errorf("end: %w", err)
		}
	}
	return opts, nil
}

const defaultTopK = 5
