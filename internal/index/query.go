package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/leadcrawl/internal/metrics"
)

// QueryOptions narrows a query. Zero Start or End leaves that side unbounded.
type QueryOptions struct {
	TopK   int
	Domain string
	Start  time.Time
	End    time.Time
}

// QueryResult is one ranked chunk. Metadata holds caller-supplied keys only.
type QueryResult struct {
	URL        string         `json:"url"`
	Score      float64        `json:"score"`
	Text       string         `json:"text"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Domain     string         `json:"domain,omitempty"`
	ChunkIndex int            `json:"chunk_index"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type scoredRow struct {
	row   int
	score float64
}

// Query embeds text, filters rows by domain and date, then ranks the survivors by dot
// product and returns at most max(1, TopK) of them. Blank text, a zero query vector or
// an empty index yield no results.
func (s *Store) Query(text string, opts QueryOptions) []QueryResult {
	started := time.Now()
	results := s.query(text, opts)
	metrics.ObserveIndexQuery(len(results), time.Since(started))
	return results
}

func (s *Store) query(text string, opts QueryOptions) []QueryResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	vec := s.embedder.Embed(text)
	if IsZero(vec) {
		return nil
	}
	domain := strings.ToLower(strings.TrimSpace(opts.Domain))
	dateFilter := !opts.Start.IsZero() || !opts.End.IsZero()

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]scoredRow, 0, len(s.meta))
	for i, entry := range s.meta {
		if domain != "" {
			rowDomain, _ := entry[KeyDomain].(string)
			if rowDomain == "" || !strings.Contains(strings.ToLower(rowDomain), domain) {
				continue
			}
		}
		if dateFilter {
			raw, _ := entry[KeyTimestamp].(string)
			ts, err := ParseTime(raw)
			if err != nil {
				continue
			}
			if !opts.Start.IsZero() && ts.Before(opts.Start) {
				continue
			}
			if !opts.End.IsZero() && ts.After(opts.End) {
				continue
			}
		}
		scored = append(scored, scoredRow{row: i, score: dot(s.vectors[i], vec)})
	}
	if len(scored) == 0 {
		return nil
	}

	sort.SliceStable(scored, func(a, b int) bool { return scored[a].score > scored[b].score })
	scored = scored[:min(max(1, opts.TopK), len(scored))]

	results := make([]QueryResult, len(scored))
	for i, item := range scored {
		results[i] = toResult(s.meta[item.row], item.score)
	}
	return results
}

func toResult(entry map[string]any, score float64) QueryResult {
	res := QueryResult{Score: score}
	res.URL, _ = entry[KeyURL].(string)
	res.Text, _ = entry[KeyText].(string)
	res.Timestamp, _ = entry[KeyTimestamp].(string)
	res.Domain, _ = entry[KeyDomain].(string)
	res.ChunkIndex = asInt(entry[KeyChunkIndex])
	for k, v := range entry {
		switch k {
		case KeyURL, KeyText, KeyTimestamp, KeyDomain, KeyChunkIndex:
			continue
		}
		if res.Metadata == nil {
			res.Metadata = make(map[string]any)
		}
		res.Metadata[k] = v
	}
	return res
}

// asInt accepts the int written in memory and the float64 decoded from JSON.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	}
	return 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTime reads an ISO-8601 timestamp or date. Values without a zone are UTC and a
// bare date means midnight.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
