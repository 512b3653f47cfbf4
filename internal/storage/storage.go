// Package storage defines the blob store abstraction used to export index snapshots.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// BlobStore saves named objects and returns a URI for each.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Snapshot uploads files under prefix/<stamp>/<basename> and returns the URIs in input
// order. The stamp is at, formatted as 20060102T150405Z.
func Snapshot(ctx context.Context, store BlobStore, prefix string, at time.Time, files []string) ([]string, error) {
	dir := path.Join(strings.Trim(prefix, "/"), at.UTC().Format("20060102T150405Z"))
	uris := make([]string, 0, len(files))
	for _, file := range files {
		uri, err := uploadFile(ctx, store, path.Join(dir, filepath.Base(file)), file)
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func uploadFile(ctx context.Context, store BlobStore, objectPath, file string) (string, error) {
	// #nosec G304 -- file paths come from the index store.
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	uri, err := store.PutObject(ctx, objectPath, contentTypeFor(file), f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", file, err)
	}
	return uri, nil
}

func contentTypeFor(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
