// Package collyfetcher implements the static HTTP fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/fetch"
	"github.com/JakeFAU/leadcrawl/internal/retry"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a whole request including redirects.
	Timeout      time.Duration
	MaxBodyBytes int
	Retry        retry.Policy
}

// Fetcher implements fetch.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Robots rules are enforced by the caller, so the collector
// ignores robots.txt.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch issues a GET for req.URL, following redirects and retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Page, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var page fetch.Page
	err := f.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		p, err := f.fetchOnce(ctx, req.URL)
		page = p
		if err == nil {
			return nil
		}
		var statusErr *fetch.StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return retry.Permanent(err)
		}
		if attempt < f.cfg.Retry.MaxAttempts {
			f.logger.Debug("static fetch attempt failed",
				zap.String("url", req.URL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		return page, err
	}
	return page, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (fetch.Page, error) {
	var (
		page     fetch.Page
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &page, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return page, &fetch.TransientFetchError{URL: url, Err: err}
	}
	if page.Status < http.StatusOK || page.Status >= http.StatusMultipleChoices {
		html := page.HTML
		page.HTML = ""
		if page.Status == 0 && html == "" {
			return page, &fetch.TransientFetchError{URL: url, Err: errors.New("no response")}
		}
		return page, &fetch.StatusError{URL: url, Status: page.Status}
	}
	return page, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, page *fetch.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*page = fetch.Page{
			HTML:     string(r.Body),
			Status:   r.StatusCode,
			FinalURL: r.Request.URL.String(),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	if err := collector.Visit(url); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctxErr)
		}
		return fmt.Errorf("colly visit failed: %w", err)
	}
	if *fetchErr != nil {
		return fmt.Errorf("colly response failed: %w", *fetchErr)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
