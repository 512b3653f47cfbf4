package crawler

import (
	"time"
)

// State is the lifecycle position of a crawl session.
type State int32

// Session states, in order.
const (
	StateIdle State = iota
	StateSeeded
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeded:
		return "seeded"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Task is a frontier entry.
type Task struct {
	URL            string
	Depth          int
	DiscoveredFrom string
}

// Result is the outcome of one crawl. Pages maps canonical URL to HTML; Order lists
// the same URLs in fetch order.
type Result struct {
	SessionID string            `json:"session_id"`
	Seed      string            `json:"seed"`
	Pages     map[string]string `json:"-"`
	Order     []string          `json:"order"`
}

// PageRecord is emitted to the PageSink for every page kept in a Result.
type PageRecord struct {
	SessionID     string    `json:"session_id"`
	URL           string    `json:"url"`
	FinalURL      string    `json:"final_url"`
	Status        int       `json:"status"`
	Source        string    `json:"source"`
	Depth         int       `json:"depth"`
	Bytes         int       `json:"bytes"`
	ContentSHA256 string    `json:"content_sha256"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// CrawlCompleted is published once per finished session.
type CrawlCompleted struct {
	SessionID  string    `json:"session_id"`
	Seed       string    `json:"seed"`
	Pages      int       `json:"pages"`
	URLs       []string  `json:"urls"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
