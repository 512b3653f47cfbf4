// Package filecache stores cached pages as files named by a digest of the cache key.
package filecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/leadcrawl/internal/hash/sha256"
)

const (
	fileExt    = ".html"
	digestSize = 24
)

// Config controls the filesystem cache.
type Config struct {
	Dir    string
	MaxAge time.Duration
}

// Store is a directory of sha256(key)[:24].html files. File mtime is the entry age.
type Store struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

// New creates the cache directory if needed and verifies it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("cache directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create cache directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat cache directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("cache path %s is not a directory", cfg.Dir)
	}

	marker := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(marker, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("cache directory is not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return nil, fmt.Errorf("remove cache write check: %w", err)
	}
	return &Store{dir: cfg.Dir, maxAge: cfg.MaxAge, now: time.Now}, nil
}

// Path returns the file that holds key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, sha256.Short(key, digestSize)+fileExt)
}

// Get returns the cached page, treating entries older than MaxAge as absent.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	path := s.Path(key)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("stat cache entry: %w", err)
	}
	if s.expired(info) {
		return "", false, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from a digest inside the cache dir.
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cache entry: %w", err)
	}
	return string(data), true, nil
}

// Put replaces the entry for key atomically.
func (s *Store) Put(_ context.Context, key, html string) error {
	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(html); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

func (s *Store) expired(info fs.FileInfo) bool {
	return s.maxAge > 0 && s.now().Sub(info.ModTime()) > s.maxAge
}

// CleanupStats summarizes a Cleanup pass.
type CleanupStats struct {
	Expired     int
	Evicted     int
	BytesFreed  int64
	BytesRemain int64
	FilesRemain int
}

// Cleanup deletes entries older than maxAge (when > 0), then evicts the oldest
// remaining entries until the directory holds at most maxBytes (when > 0).
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration, maxBytes int64) (CleanupStats, error) {
	type entry struct {
		path string
		size int64
		mod  time.Time
	}
	var (
		stats   CleanupStats
		entries []entry
	)
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return stats, fmt.Errorf("list cache directory: %w", err)
	}
	now := s.now()
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if de.IsDir() || filepath.Ext(de.Name()) != fileExt {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		if maxAge > 0 && now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return stats, fmt.Errorf("remove expired entry: %w", err)
			}
			stats.Expired++
			stats.BytesFreed += info.Size()
			continue
		}
		entries = append(entries, entry{path: path, size: info.Size(), mod: info.ModTime()})
		stats.BytesRemain += info.Size()
	}

	if maxBytes > 0 && stats.BytesRemain > maxBytes {
		sort.Slice(entries, func(i, j int) bool { return entries[i].mod.Before(entries[j].mod) })
		for len(entries) > 0 && stats.BytesRemain > maxBytes {
			victim := entries[0]
			entries = entries[1:]
			if err := os.Remove(victim.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return stats, fmt.Errorf("evict entry: %w", err)
			}
			stats.Evicted++
			stats.BytesFreed += victim.size
			stats.BytesRemain -= victim.size
		}
	}
	stats.FilesRemain = len(entries)
	return stats, nil
}
