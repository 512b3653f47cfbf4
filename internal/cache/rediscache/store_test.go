package rediscache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	failGet error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.(string)
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Close() error { return nil }

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	store := NewWithClient(client, Config{Prefix: "lc:", MaxAge: time.Hour})
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "http://example.com/")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "http://example.com/", "<html></html>"))
	got, ok, err := store.Get(ctx, "http://example.com/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<html></html>", got)

	require.Len(t, client.ttls, 1)
	for key, ttl := range client.ttls {
		assert.Equal(t, time.Hour, ttl)
		assert.Len(t, key, len("lc:")+24)
	}
}

func TestStoreGetError(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.failGet = errors.New("connection reset")
	store := NewWithClient(client, Config{})

	_, ok, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
