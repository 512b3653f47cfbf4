// Package headless renders JavaScript-dependent pages in headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/fetch"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultIdleTimeout       = 5 * time.Second
)

// ErrDynamicRender marks a failed browser render.
var ErrDynamicRender = errors.New("dynamic render failed")

// DynamicRenderError carries the failure reported in Metadata.Error.
type DynamicRenderError struct {
	URL    string
	Reason string
}

func (e *DynamicRenderError) Error() string {
	return fmt.Sprintf("render %s: %s", e.URL, e.Reason)
}

// Is reports ErrDynamicRender.
func (e *DynamicRenderError) Is(target error) bool { return target == ErrDynamicRender }

// Metadata describes a render. Error is empty on success.
type Metadata struct {
	RequestedURL string
	FinalURL     string
	Status       int
	Error        string
}

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// HintTimeout bounds the wait for each selector hint.
	HintTimeout time.Duration
	// IdleTimeout bounds the network-idle fallback wait.
	IdleTimeout time.Duration
	ExecPath    string
}

// Fetcher renders pages with chromedp. Every call gets its own browser tab context.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp. Chrome starts lazily
// on the first render.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context and stops Chrome.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch implements fetch.Fetcher, turning a failed render into a DynamicRenderError.
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Page, error) {
	html, meta := f.FetchDynamic(ctx, req.URL, req.Timeout, req.SelectorHints)
	p := fetch.Page{HTML: html, Status: meta.Status, FinalURL: meta.FinalURL}
	if meta.Error != "" {
		return p, &DynamicRenderError{URL: req.URL, Reason: meta.Error}
	}
	return p, nil
}

// FetchDynamic navigates to url and returns the rendered DOM. It waits for the first
// visible selector hint, or for network idle when no hint matches. Failures are
// reported in Metadata.Error with empty html.
func (f *Fetcher) FetchDynamic(ctx context.Context, url string, timeout time.Duration, hints []string) (string, Metadata) {
	meta := Metadata{RequestedURL: url}
	if timeout <= 0 {
		timeout = f.cfg.NavigationTimeout
	}

	if err := f.acquire(ctx); err != nil {
		meta.Error = err.Error()
		return "", meta
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	resp := newResponseMeta()
	idle := newIdleSignal()
	chromedp.ListenTarget(taskCtx, func(ev any) {
		resp.captureEvent(ev)
		idle.captureEvent(ev)
	})

	html, finalURL, err := f.render(taskCtx, url, hints, idle)
	if err != nil {
		meta.Error = err.Error()
		f.logger.Warn("dynamic render failed", zap.String("url", url), zap.Error(err))
		return "", meta
	}

	meta.Status, _, meta.FinalURL = resp.snapshotWithFallbacks(url, finalURL)
	f.logger.Debug("dynamic render complete",
		zap.String("url", meta.FinalURL),
		zap.Int("status", meta.Status),
		zap.Int("bytes", len(html)),
	)
	return html, meta
}

func (f *Fetcher) render(ctx context.Context, url string, hints []string, idle *idleSignal) (string, string, error) {
	err := chromedp.Run(ctx,
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("chromedp navigate: %w", err)
	}

	if !f.waitForHints(ctx, url, hints) {
		f.waitForIdle(ctx, idle)
	}

	var html, finalURL string
	err = chromedp.Run(ctx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("chromedp extract: %w", err)
	}
	return html, finalURL, nil
}

// waitForHints reports whether one of hints became visible.
func (f *Fetcher) waitForHints(ctx context.Context, url string, hints []string) bool {
	for _, hint := range hints {
		if ctx.Err() != nil {
			return false
		}
		hintCtx := ctx
		cancel := context.CancelFunc(func() {})
		if f.cfg.HintTimeout > 0 {
			hintCtx, cancel = context.WithTimeout(ctx, f.cfg.HintTimeout)
		}
		err := chromedp.Run(hintCtx, chromedp.WaitVisible(hint, chromedp.ByQuery))
		cancel()
		if err == nil {
			return true
		}
		f.logger.Debug("selector hint not found", zap.String("url", url), zap.String("selector", hint))
	}
	return false
}

// waitForIdle blocks until network idle, the idle timeout or ctx end. Timing out
// is not an error.
func (f *Fetcher) waitForIdle(ctx context.Context, idle *idleSignal) {
	timer := time.NewTimer(f.cfg.IdleTimeout)
	defer timer.Stop()
	select {
	case <-idle.done:
	case <-timer.C:
		f.logger.Debug("network idle wait timed out")
	case <-ctx.Done():
	}
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

type idleSignal struct {
	once sync.Once
	done chan struct{}
}

func newIdleSignal() *idleSignal {
	return &idleSignal{done: make(chan struct{})}
}

func (s *idleSignal) captureEvent(ev any) {
	if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
		s.once.Do(func() { close(s.done) })
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The last document response of a redirect chain wins.
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
