package index

import (
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_-]+`)

// Embedder maps text to a unit-length hashed bag-of-words vector.
type Embedder struct {
	dim int
}

// NewEmbedder returns an embedder producing dim-sized vectors.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{dim: dim}
}

// Dim returns the vector size.
func (e *Embedder) Dim() int { return e.dim }

// Embed lowercases text, counts each token in slot xxhash64(token) mod Dim and
// L2-normalizes the counts. Text without tokens yields the zero vector.
func (e *Embedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return vec
	}
	dim := uint64(e.dim)
	for _, token := range tokens {
		vec[xxhash.Sum64String(token)%dim]++
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}

// IsZero reports whether every component of vec is zero.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
