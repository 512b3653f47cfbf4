package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/logging"
	"github.com/JakeFAU/leadcrawl/internal/metrics"
	"github.com/JakeFAU/leadcrawl/internal/storage"
	"github.com/JakeFAU/leadcrawl/internal/storage/local"
)

// File names inside the index directory.
const (
	EmbeddingsFile = "embeddings.npy"
	MetadataFile   = "metadata.json"
)

// Reserved metadata keys. Caller metadata never overrides them.
const (
	KeyURL        = "url"
	KeyDomain     = "domain"
	KeyTimestamp  = "timestamp"
	KeyChunkIndex = "chunk_index"
	KeyText       = "text"
)

// ErrIndexCorruption reports on-disk files that do not describe the same rows.
var ErrIndexCorruption = errors.New("index corruption")

// Config sizes chunks and embeddings.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Dim          int
}

// DefaultConfig returns 400-token chunks with 40 tokens of overlap and 384 dimensions.
func DefaultConfig() Config {
	return Config{ChunkSize: 400, ChunkOverlap: 40, Dim: 384}
}

// Store is an append-only vector index persisted as embeddings.npy and metadata.json.
// Writes are serialized; queries run concurrently with each other.
type Store struct {
	dir      string
	blobs    storage.BlobStore
	chunker  *Chunker
	embedder *Embedder
	logger   *zap.Logger
	now      func() time.Time

	writeMu sync.Mutex
	mu      sync.RWMutex
	vectors [][]float32
	meta    []map[string]any
}

// Open loads the index in dir, creating the directory when missing. Files that cannot
// be read or disagree with each other are logged and replaced by an empty index on the
// next write.
func Open(dir string, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension %d must be positive", cfg.Dim)
	}
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	blobs, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("open index directory: %w", err)
	}

	s := &Store{
		dir:      dir,
		blobs:    blobs,
		chunker:  chunker,
		embedder: NewEmbedder(cfg.Dim),
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
	vectors, meta, err := load(dir, cfg.Dim)
	if err != nil {
		s.logger.Warn("index files unusable, starting empty",
			zap.String("dir", dir),
			zap.Error(err),
		)
		vectors, meta = nil, nil
	}
	s.vectors = vectors
	s.meta = meta
	metrics.SetIndexRows(len(vectors))
	s.logger.Debug("index opened", zap.String("dir", dir), zap.Int("rows", len(vectors)))
	return s, nil
}

func load(dir string, dim int) ([][]float32, []map[string]any, error) {
	var vectors [][]float32
	f, err := os.Open(filepath.Join(dir, EmbeddingsFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, nil, fmt.Errorf("%w: open %s: %v", ErrIndexCorruption, EmbeddingsFile, err)
	default:
		var cols int
		vectors, cols, err = readNPY(f, dim)
		_ = f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrIndexCorruption, EmbeddingsFile, err)
		}
		if cols != dim {
			return nil, nil, fmt.Errorf("%w: %s has dimension %d, want %d", ErrIndexCorruption, EmbeddingsFile, cols, dim)
		}
	}

	var meta []map[string]any
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, nil, fmt.Errorf("%w: read %s: %v", ErrIndexCorruption, MetadataFile, err)
	default:
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, nil, fmt.Errorf("%w: decode %s: %v", ErrIndexCorruption, MetadataFile, err)
		}
	}

	if len(vectors) != len(meta) {
		return nil, nil, fmt.Errorf("%w: %d embeddings but %d metadata entries", ErrIndexCorruption, len(vectors), len(meta))
	}
	for i, entry := range meta {
		if entry == nil {
			return nil, nil, fmt.Errorf("%w: metadata entry %d is not an object", ErrIndexCorruption, i)
		}
	}
	return vectors, meta, nil
}

// Dir returns the index directory.
func (s *Store) Dir() string { return s.dir }

// Dim returns the embedding dimension.
func (s *Store) Dim() int { return s.embedder.Dim() }

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Files returns the paths of the persisted index files.
func (s *Store) Files() []string {
	return []string{
		filepath.Join(s.dir, EmbeddingsFile),
		filepath.Join(s.dir, MetadataFile),
	}
}

// IndexPage chunks content, embeds every chunk and appends the rows together with their
// metadata. A zero ts means now. Blank content stores nothing. It returns the number of
// chunks written.
func (s *Store) IndexPage(ctx context.Context, pageURL, content string, metadata map[string]any, ts time.Time) (int, error) {
	if strings.TrimSpace(content) == "" {
		return 0, nil
	}
	chunks := s.chunker.Chunk(content)
	if len(chunks) == 0 {
		return 0, nil
	}
	if ts.IsZero() {
		ts = s.now()
	}
	stamp := ts.UTC().Format(time.RFC3339)
	var domain any
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		domain = u.Host
	}

	vectors := make([][]float32, len(chunks))
	entries := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		vectors[i] = s.embedder.Embed(chunk)
		entry := make(map[string]any, len(metadata)+5)
		for k, v := range metadata {
			entry[k] = v
		}
		entry[KeyURL] = pageURL
		entry[KeyDomain] = domain
		entry[KeyTimestamp] = stamp
		entry[KeyChunkIndex] = i
		entry[KeyText] = chunk
		entries[i] = entry
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("index %s: %w", pageURL, err)
	}

	s.mu.RLock()
	allVectors := append(append(make([][]float32, 0, len(s.vectors)+len(vectors)), s.vectors...), vectors...)
	allMeta := append(append(make([]map[string]any, 0, len(s.meta)+len(entries)), s.meta...), entries...)
	s.mu.RUnlock()

	// Both files are rewritten together once started.
	if err := s.persist(context.WithoutCancel(ctx), allVectors, allMeta); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.vectors = allVectors
	s.meta = allMeta
	s.mu.Unlock()

	metrics.ObserveIndexWrite(len(chunks), len(allVectors))
	s.logger.Debug("page indexed",
		zap.String("url", pageURL),
		zap.Int("chunks", len(chunks)),
		zap.Int("rows", len(allVectors)),
	)
	return len(chunks), nil
}

// persist rewrites both files. Rows are JSON-encoded before anything touches disk.
// When the metadata write fails the previous embeddings file is restored, so the pair
// on disk keeps describing the same rows.
func (s *Store) persist(ctx context.Context, vectors [][]float32, meta []map[string]any) error {
	var npy bytes.Buffer
	if err := writeNPY(&npy, vectors, s.Dim()); err != nil {
		return fmt.Errorf("encode embeddings: %w", err)
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if _, err := s.blobs.PutObject(ctx, EmbeddingsFile, "application/octet-stream", &npy); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, MetadataFile, "application/json", bytes.NewReader(metaJSON)); err != nil {
		if rerr := s.restoreEmbeddings(ctx); rerr != nil {
			s.logger.Error("restoring embeddings after failed metadata write", zap.Error(rerr))
		}
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// restoreEmbeddings rewrites embeddings.npy from the rows currently held in memory,
// which match the metadata still on disk.
func (s *Store) restoreEmbeddings(ctx context.Context) error {
	s.mu.RLock()
	prev := s.vectors
	s.mu.RUnlock()
	var npy bytes.Buffer
	if err := writeNPY(&npy, prev, s.Dim()); err != nil {
		return err
	}
	_, err := s.blobs.PutObject(ctx, EmbeddingsFile, "application/octet-stream", &npy)
	return err
}
