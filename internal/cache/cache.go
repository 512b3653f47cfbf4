// Package cache defines the content cache consulted before any network fetch.
package cache

import (
	"context"
)

// DynamicPrefix namespaces rendered pages so they never collide with static fetches
// of the same URL.
const DynamicPrefix = "dynamic::"

// Store holds HTML keyed by cache key. Entries older than the backend's max age
// are reported as absent.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, html string) error
}

// Key returns the cache key for url, namespaced when the page was rendered.
func Key(url string, dynamic bool) string {
	if dynamic {
		return DynamicPrefix + url
	}
	return url
}

// Nop never stores anything.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) (string, bool, error) { return "", false, nil }

// Put discards html.
func (Nop) Put(context.Context, string, string) error { return nil }
