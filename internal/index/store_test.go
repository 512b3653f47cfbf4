package index

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/leadcrawl/internal/storage"
)

var indexedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func smallConfig() Config {
	return Config{ChunkSize: 8, ChunkOverlap: 2, Dim: 64}
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, smallConfig(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	_, err := Open(t.TempDir(), Config{ChunkSize: 4, ChunkOverlap: 4, Dim: 8}, nil)
	require.ErrorIs(t, err, ErrInvalidChunkConfig)

	_, err = Open(t.TempDir(), Config{ChunkSize: 4, ChunkOverlap: 1, Dim: 0}, nil)
	require.Error(t, err)
}

func TestOpenEmptyDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "index")
	s := openStore(t, dir)

	assert.Zero(t, s.Len())
	assert.Equal(t, 64, s.Dim())
	assert.Equal(t, dir, s.Dir())
	assert.DirExists(t, dir)
	assert.Empty(t, s.Query("anything", QueryOptions{TopK: 5}))
}

func TestIndexPagePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	n, err := s.IndexPage(context.Background(), "https://acme.example/about",
		"Acme builds industrial robots for warehouses and ships them worldwide every single week",
		map[string]any{"source": "crawl"}, indexedAt)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.Len())
	for _, f := range s.Files() {
		assert.FileExists(t, f)
	}

	before := s.Query("industrial robots", QueryOptions{TopK: 3})
	require.NotEmpty(t, before)

	reopened := openStore(t, dir)
	assert.Equal(t, 2, reopened.Len())
	after := reopened.Query("industrial robots", QueryOptions{TopK: 3})
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].URL, after[i].URL)
		assert.Equal(t, before[i].ChunkIndex, after[i].ChunkIndex)
		assert.Equal(t, before[i].Text, after[i].Text)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-6)
		assert.Equal(t, before[i].Metadata, after[i].Metadata)
	}
}

func TestIndexPageBlankContent(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	n, err := s.IndexPage(context.Background(), "https://acme.example/", "   \n\t", nil, indexedAt)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, s.Len())
	assert.NoFileExists(t, filepath.Join(dir, EmbeddingsFile))
}

func TestIndexPageReservedKeysWin(t *testing.T) {
	s := openStore(t, t.TempDir())

	_, err := s.IndexPage(context.Background(), "https://acme.example/pricing", "pricing plans for teams",
		map[string]any{
			KeyURL:    "https://evil.example/",
			KeyDomain: "evil.example",
			KeyText:   "overwritten",
			"lang":    "en",
		}, indexedAt)
	require.NoError(t, err)

	results := s.Query("pricing plans", QueryOptions{TopK: 1})
	require.Len(t, results, 1)
	got := results[0]
	assert.Equal(t, "https://acme.example/pricing", got.URL)
	assert.Equal(t, "acme.example", got.Domain)
	assert.Equal(t, "pricing plans for teams", got.Text)
	assert.Equal(t, "2024-05-01T12:00:00Z", got.Timestamp)
	assert.Equal(t, 0, got.ChunkIndex)
	assert.Equal(t, map[string]any{"lang": "en"}, got.Metadata)
}

func TestIndexPageDefaultsTimestampToNow(t *testing.T) {
	s := openStore(t, t.TempDir())
	s.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600)) }

	_, err := s.IndexPage(context.Background(), "https://acme.example/", "hello world", nil, time.Time{})
	require.NoError(t, err)

	results := s.Query("hello", QueryOptions{TopK: 1})
	require.Len(t, results, 1)
	assert.Equal(t, "2025-01-02T02:04:05Z", results[0].Timestamp)
}

func TestIndexPageCanceledContext(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.IndexPage(ctx, "https://acme.example/", "hello world", nil, indexedAt)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Len())
	assert.NoFileExists(t, filepath.Join(dir, MetadataFile))
}

func TestOpenRecoversFromRowMismatch(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	_, err := s.IndexPage(context.Background(), "https://acme.example/", "one two three", nil, indexedAt)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte("[]"), 0o600))

	_, _, err = load(dir, 64)
	require.ErrorIs(t, err, ErrIndexCorruption)

	core, logs := observer.New(zap.WarnLevel)
	reopened, err := Open(dir, smallConfig(), zap.New(core))
	require.NoError(t, err)
	assert.Zero(t, reopened.Len())
	assert.Equal(t, 1, logs.FilterMessage("index files unusable, starting empty").Len())

	n, err := reopened.IndexPage(context.Background(), "https://acme.example/", "fresh start", nil, indexedAt)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, openStore(t, dir).Len())
}

func TestOpenRecoversFromDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	_, err := s.IndexPage(context.Background(), "https://acme.example/", "one two three", nil, indexedAt)
	require.NoError(t, err)

	_, _, err = load(dir, 128)
	require.ErrorIs(t, err, ErrIndexCorruption)

	wider, err := Open(dir, Config{ChunkSize: 8, ChunkOverlap: 2, Dim: 128}, nil)
	require.NoError(t, err)
	assert.Zero(t, wider.Len())
}

func TestOpenRecoversFromGarbageFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EmbeddingsFile), []byte("garbage"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte("{not json"), 0o600))

	_, _, err := load(dir, 64)
	require.ErrorIs(t, err, ErrIndexCorruption)
	assert.Zero(t, openStore(t, dir).Len())
}

func TestOpenRecoversFromOversizedShape(t *testing.T) {
	dir := t.TempDir()
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': (999999999999999, 4), }"
	require.NoError(t, os.WriteFile(filepath.Join(dir, EmbeddingsFile), rawNPY(header, make([]byte, 32)), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte("[]"), 0o600))

	_, _, err := load(dir, 4)
	require.ErrorIs(t, err, ErrIndexCorruption)

	s, err := Open(dir, Config{ChunkSize: 8, ChunkOverlap: 2, Dim: 4}, nil)
	require.NoError(t, err)
	assert.Zero(t, s.Len())
}

// metadataFailingBlobs writes embeddings through to disk and fails every metadata write.
type metadataFailingBlobs struct {
	storage.BlobStore
}

func (b metadataFailingBlobs) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	if path == MetadataFile {
		return "", errors.New("disk full")
	}
	return b.BlobStore.PutObject(ctx, path, contentType, r)
}

func TestIndexPageRestoresEmbeddingsWhenMetadataWriteFails(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	_, err := s.IndexPage(context.Background(), "https://acme.example/", "one two three", nil, indexedAt)
	require.NoError(t, err)

	s.blobs = metadataFailingBlobs{BlobStore: s.blobs}
	_, err = s.IndexPage(context.Background(), "https://acme.example/next", "four five six", nil, indexedAt)
	require.Error(t, err)
	assert.Equal(t, 1, s.Len())

	vectors, meta, err := load(dir, 64)
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Len(t, meta, 1)
	assert.Equal(t, 1, openStore(t, dir).Len())
}

func TestConcurrentQueriesDuringWrites(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.IndexPage(context.Background(), "https://acme.example/p", "robots warehouse logistics page", map[string]any{"n": i}, indexedAt)
			assert.NoError(t, err)
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Query("warehouse", QueryOptions{TopK: 2})
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 4, openStore(t, dir).Len())
}
