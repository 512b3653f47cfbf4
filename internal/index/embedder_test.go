package index

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestEmbedIsUnitLengthAndDeterministic(t *testing.T) {
	e := NewEmbedder(384)
	a := e.Embed("Contact our sales team for pricing")
	b := NewEmbedder(384).Embed("Contact our sales team for pricing")

	require.Len(t, a, 384)
	assert.InDelta(t, 1.0, norm(a), 1e-6)
	assert.Equal(t, a, b)
}

func TestEmbedNormalizesCase(t *testing.T) {
	e := NewEmbedder(64)
	assert.Equal(t, e.Embed("Hello World"), e.Embed("hello world"))
}

func TestEmbedRepeatedTokenMatchesSingle(t *testing.T) {
	e := NewEmbedder(64)
	assert.Equal(t, e.Embed("pricing"), e.Embed("pricing pricing pricing"))
}

func TestEmbedZeroVectorWithoutTokens(t *testing.T) {
	e := NewEmbedder(32)
	vec := e.Embed("!!! ... ???")
	require.Len(t, vec, 32)
	assert.True(t, IsZero(vec))
	assert.True(t, IsZero(e.Embed("")))
}

func TestEmbedUnicodeTokens(t *testing.T) {
	e := NewEmbedder(32)
	vec := e.Embed("café à-propos")
	assert.False(t, IsZero(vec))
	assert.InDelta(t, 1.0, norm(vec), 1e-6)
}

func TestDotOfIdenticalVectors(t *testing.T) {
	e := NewEmbedder(128)
	vec := e.Embed("enterprise software pricing")
	assert.InDelta(t, 1.0, dot(vec, vec), 1e-6)
}
