package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	s := openStore(t, t.TempDir())
	pages := []struct {
		url     string
		content string
		ts      time.Time
	}{
		{"https://www.Acme.example/pricing", "pricing plans and pricing tiers", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{"https://globex.example/careers", "careers and open engineering roles", time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)},
		{"https://initech.example/pricing", "pricing for enterprise support", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, p := range pages {
		_, err := s.IndexPage(context.Background(), p.url, p.content, nil, p.ts)
		require.NoError(t, err)
	}
	return s
}

func urls(results []QueryResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.URL
	}
	return out
}

func TestQueryRanksByScore(t *testing.T) {
	s := seedStore(t)

	results := s.Query("pricing", QueryOptions{TopK: 5})
	require.Len(t, results, 3)
	assert.Equal(t, "https://www.Acme.example/pricing", results[0].URL)
	assert.Equal(t, "https://initech.example/pricing", results[1].URL)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestQueryTopKFloorIsOne(t *testing.T) {
	s := seedStore(t)
	assert.Len(t, s.Query("pricing", QueryOptions{}), 1)
	assert.Len(t, s.Query("pricing", QueryOptions{TopK: -3}), 1)
	assert.Len(t, s.Query("pricing", QueryOptions{TopK: 2}), 2)
}

func TestQueryBlankOrTokenlessText(t *testing.T) {
	s := seedStore(t)
	assert.Empty(t, s.Query("", QueryOptions{TopK: 5}))
	assert.Empty(t, s.Query("   ", QueryOptions{TopK: 5}))
	assert.Empty(t, s.Query("?!.", QueryOptions{TopK: 5}))
}

func TestQueryDomainFilter(t *testing.T) {
	s := seedStore(t)

	results := s.Query("pricing", QueryOptions{TopK: 5, Domain: "ACME"})
	assert.Equal(t, []string{"https://www.Acme.example/pricing"}, urls(results))
	assert.Equal(t, "www.Acme.example", results[0].Domain)

	assert.Empty(t, s.Query("pricing", QueryOptions{TopK: 5, Domain: "umbrella"}))
}

func TestQueryDateFilterInclusive(t *testing.T) {
	s := seedStore(t)

	results := s.Query("pricing careers", QueryOptions{
		TopK:  5,
		Start: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	assert.ElementsMatch(t, []string{"https://globex.example/careers", "https://initech.example/pricing"}, urls(results))

	results = s.Query("pricing", QueryOptions{TopK: 5, End: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, []string{"https://www.Acme.example/pricing"}, urls(results))
}

func TestQueryDateFilterExcludesUnparsableTimestamps(t *testing.T) {
	s := seedStore(t)
	s.meta[0][KeyTimestamp] = "last tuesday"

	results := s.Query("pricing", QueryOptions{TopK: 5, Start: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, []string{"https://initech.example/pricing"}, urls(results))

	// Without a date filter the row is still eligible.
	assert.Len(t, s.Query("pricing", QueryOptions{TopK: 5}), 3)
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	s := openStore(t, t.TempDir())
	for _, u := range []string{"https://a.example/", "https://b.example/", "https://c.example/"} {
		_, err := s.IndexPage(context.Background(), u, "identical words here", nil, indexedAt)
		require.NoError(t, err)
	}

	results := s.Query("identical words here", QueryOptions{TopK: 3})
	assert.Equal(t, []string{"https://a.example/", "https://b.example/", "https://c.example/"}, urls(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-05-01T10:30:00Z", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-05-01T10:30:00+02:00", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
		{"2024-05-01T10:30:00", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{" 2024-05-01T10:30 ", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %s", tt.in, got)
	}

	_, err := ParseTime("")
	assert.Error(t, err)
	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
