// Package robots answers robots.txt allow and crawl-delay questions for one crawl session.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/leadcrawl/internal/logging"
	"github.com/JakeFAU/leadcrawl/internal/metrics"
	"github.com/JakeFAU/leadcrawl/internal/retry"
)

// ErrRobotsUnavailable reports that an origin's robots.txt could not be obtained.
var ErrRobotsUnavailable = errors.New("robots.txt unavailable")

const maxRobotsBytes = 1 << 20

// Policy is the capability the frontier needs from a robots client.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool)
}

// Config controls a Client.
type Config struct {
	// Respect disables robots handling entirely when false.
	Respect bool
	// FailClosed denies every path of an origin whose robots.txt is unavailable.
	FailClosed bool
	UserAgent  string
	Timeout    time.Duration
	Retry      retry.Policy
}

// Client fetches robots.txt at most once per origin and caches the parsed rules for
// its own lifetime. Create one per crawl session.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu     sync.RWMutex
	rules  map[string]*ruleset
	flight singleflight.Group
}

type ruleset struct {
	data        *robotstxt.RobotsData
	unavailable bool
}

// New returns a Policy. When cfg.Respect is false every URL is allowed without
// any network traffic.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) Policy {
	if !cfg.Respect {
		return AllowAll{}
	}
	return NewClient(cfg, httpClient, logger)
}

// NewClient builds a caching robots.txt client.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logging.OrNop(logger),
		rules:  make(map[string]*ruleset),
	}
}

// Allowed reports whether the configured user agent may fetch rawURL. Unavailable
// robots files allow access unless the client is fail-closed.
func (c *Client) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	rs := c.load(ctx, u)
	allowed := true
	switch {
	case rs.unavailable:
		allowed = !c.cfg.FailClosed
	case rs.data != nil:
		allowed = rs.data.FindGroup(c.cfg.UserAgent).Test(u.RequestURI())
	}
	metrics.ObserveRobotsDecision(allowed)
	return allowed
}

// CrawlDelay returns the crawl delay for the user agent's group, falling back to the
// wildcard group. ok is false when no delay is declared or robots.txt is unavailable.
func (c *Client) CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0, false
	}
	rs := c.load(ctx, u)
	if rs.unavailable || rs.data == nil {
		return 0, false
	}
	delay := rs.data.FindGroup(c.cfg.UserAgent).CrawlDelay
	if delay <= 0 {
		return 0, false
	}
	return delay, true
}

func (c *Client) load(ctx context.Context, u *url.URL) *ruleset {
	origin := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)

	c.mu.RLock()
	rs, ok := c.rules[origin]
	c.mu.RUnlock()
	if ok {
		return rs
	}

	// The flight outlives any single caller; cfg.Timeout bounds it instead.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(origin, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.rules[origin]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		fetched, err := c.fetch(flightCtx, origin)
		if err != nil {
			c.logger.Warn("robots fetch failed",
				zap.String("origin", origin),
				zap.Bool("fail_closed", c.cfg.FailClosed),
				zap.Error(err),
			)
		}
		c.mu.Lock()
		c.rules[origin] = fetched
		c.mu.Unlock()
		return fetched, nil
	})
	select {
	case res := <-ch:
		return res.Val.(*ruleset)
	case <-ctx.Done():
		return &ruleset{unavailable: true}
	}
}

func (c *Client) fetch(ctx context.Context, origin string) (*ruleset, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		status int
		body   []byte
	)
	err := c.cfg.Retry.Do(ctx, func(ctx context.Context, _ int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build robots request: %w", err))
		}
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("get robots.txt: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-only body
		status = resp.StatusCode
		if status >= http.StatusInternalServerError {
			return fmt.Errorf("robots.txt status %d", status)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
		if err != nil {
			return fmt.Errorf("read robots.txt: %w", err)
		}
		return nil
	})

	switch {
	case err != nil:
		metrics.ObserveRobotsFetch("unavailable")
		return &ruleset{unavailable: true}, fmt.Errorf("%w: %w", ErrRobotsUnavailable, err)
	case status == http.StatusNotFound || status == http.StatusGone:
		metrics.ObserveRobotsFetch("missing")
		return &ruleset{}, nil
	case status < 200 || status > 299:
		metrics.ObserveRobotsFetch("unavailable")
		return &ruleset{unavailable: true}, fmt.Errorf("%w: status %d", ErrRobotsUnavailable, status)
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		metrics.ObserveRobotsFetch("unavailable")
		return &ruleset{unavailable: true}, fmt.Errorf("%w: parse: %w", ErrRobotsUnavailable, err)
	}
	metrics.ObserveRobotsFetch("ok")
	return &ruleset{data: data}, nil
}

// AllowAll is the Policy used when robots handling is disabled.
type AllowAll struct{}

// Allowed always returns true.
func (AllowAll) Allowed(context.Context, string) bool { return true }

// CrawlDelay never reports a delay.
func (AllowAll) CrawlDelay(context.Context, string) (time.Duration, bool) { return 0, false }
