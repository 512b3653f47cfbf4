// Package rediscache shares cached pages between processes through Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/leadcrawl/internal/hash/sha256"
)

// Client is the subset of the go-redis client the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Config controls the redis cache.
type Config struct {
	Addr   string
	Prefix string
	MaxAge time.Duration
}

// Store implements cache.Store with SET ... EX.
type Store struct {
	client Client
	prefix string
	maxAge time.Duration
}

// New dials addr and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, cfg Config) *Store {
	return &Store{client: client, prefix: cfg.Prefix, maxAge: cfg.MaxAge}
}

func (s *Store) key(k string) string {
	return s.prefix + sha256.Short(k, 24)
}

// Get returns the entry for key; Redis expiry makes stale entries absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Put stores html with the configured TTL.
func (s *Store) Put(ctx context.Context, key, html string) error {
	if err := s.client.Set(ctx, s.key(key), html, s.maxAge).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
