// Package memory contains an in-memory crawl event publisher for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/leadcrawl/internal/crawler"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID    string
	Event crawler.CrawlCompleted
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// PublishCrawlCompleted records the event under a pseudo ID.
func (p *Publisher) PublishCrawlCompleted(_ context.Context, event crawler.CrawlCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	event.URLs = append([]string(nil), event.URLs...)
	p.messages = append(p.messages, PublishedMessage{
		ID:    fmt.Sprintf("memory-%d", len(p.messages)+1),
		Event: event,
	})
	return nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
