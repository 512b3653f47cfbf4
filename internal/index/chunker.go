// Package index implements a small on-disk vector index over crawled page text.
//
// Text is split into overlapping word windows by a Chunker, each window is mapped to a
// fixed-size hashed bag-of-words vector by an Embedder, and the Store keeps the vectors
// as a NumPy matrix next to a JSON metadata array so the files stay readable by other
// tools.
package index

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChunkConfig is returned when chunk size and overlap cannot produce progress.
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// Chunker splits text into windows of whitespace-delimited tokens.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates size > 0 and 0 <= overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	switch {
	case size <= 0:
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunkConfig, size)
	case overlap < 0:
		return nil, fmt.Errorf("%w: chunk overlap %d cannot be negative", ErrInvalidChunkConfig, overlap)
	case overlap >= size:
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than size %d", ErrInvalidChunkConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window length in tokens.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of tokens shared by neighbouring windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk returns the windows of text joined by single spaces. The last window may be
// shorter than Size and the stream ends as soon as a window reaches the final token.
func (c *Chunker) Chunk(text string) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	step := c.size - c.overlap
	chunks := make([]string, 0, len(tokens)/step+1)
	for start := 0; start < len(tokens); start += step {
		end := min(start+c.size, len(tokens))
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
