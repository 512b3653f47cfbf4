// Package pubsub publishes crawl completion events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/leadcrawl/internal/crawler"
	"github.com/JakeFAU/leadcrawl/internal/logging"
	"github.com/JakeFAU/leadcrawl/internal/telemetry"
)

// EventTypeCrawlCompleted is set as the event_type attribute of every message.
const EventTypeCrawlCompleted = "crawl.completed"

// Config names the destination topic.
type Config struct {
	ProjectID string
	TopicID   string
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

var _ crawler.Publisher = (*Publisher)(nil)

// New creates a Publisher for an existing topic handle. The caller owns the client.
func New(topic *pubsub.Topic, logger *zap.Logger) *Publisher {
	return &Publisher{topic: topic, logger: logging.OrNop(logger)}
}

// Dial connects to Pub/Sub and verifies the topic exists. Close releases the client.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("pubsub.project_id and pubsub.topic_id are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err == nil && !ok {
		err = fmt.Errorf("topic %q does not exist", cfg.TopicID)
	}
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.OrNop(logger).Warn("failed to close pubsub client", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	p := New(topic, logger)
	p.client = client
	return p, nil
}

// PublishCrawlCompleted marshals the event to JSON and waits for the server ack.
func (p *Publisher) PublishCrawlCompleted(ctx context.Context, event crawler.CrawlCompleted) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type": EventTypeCrawlCompleted,
			"session_id": event.SessionID,
		},
	}
	telemetry.Inject(ctx, msg.Attributes)

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	p.logger.Debug("crawl event published",
		zap.String("session_id", event.SessionID),
		zap.String("message_id", id),
	)
	return nil
}

// Close flushes pending messages and closes the client when Dial created it.
func (p *Publisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
