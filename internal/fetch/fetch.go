// Package fetch turns batches of canonical URLs into HTML, consulting the content cache
// and choosing between static HTTP and dynamic rendering per host.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Source records where a page's HTML came from.
type Source string

const (
	// SourceCache marks content served from the content cache.
	SourceCache Source = "cache"
	// SourceHTTP marks content fetched with a plain HTTP GET.
	SourceHTTP Source = "http"
	// SourceDynamic marks content produced by a headless browser.
	SourceDynamic Source = "dynamic"
)

// Request describes one fetch.
type Request struct {
	URL     string
	Timeout time.Duration
	// SelectorHints are CSS selectors a dynamic renderer waits for.
	SelectorHints []string
}

// Page is a fetched document.
type Page struct {
	HTML     string
	Status   int
	FinalURL string
}

// Fetcher retrieves a single URL. Static and dynamic implementations share it.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Page, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (Page, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (Page, error) {
	return f(ctx, req)
}

// Pacer spaces network requests per origin.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Promoter decides whether a statically fetched page needs a headless render.
type Promoter interface {
	ShouldPromote(status int, html string) bool
}

// ErrTransient marks timeouts, connection failures and retryable statuses.
var ErrTransient = errors.New("transient fetch error")

// TransientFetchError wraps a network level failure for one URL.
type TransientFetchError struct {
	URL string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// Is reports ErrTransient.
func (e *TransientFetchError) Is(target error) bool { return target == ErrTransient }

// StatusError reports a non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Is reports ErrTransient for retryable statuses.
func (e *StatusError) Is(target error) bool {
	return target == ErrTransient && e.Temporary()
}
