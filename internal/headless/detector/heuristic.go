// Package detector decides when a statically fetched page should be re-rendered in a
// headless browser.
package detector

import (
	"strings"
)

// DefaultMinBody is the body size below which script-heavy pages are promoted.
const DefaultMinBody = 2048

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	MinBody int
}

// NewHeuristic creates a new detector. A zero minBody uses DefaultMinBody.
func NewHeuristic(minBody int) *Heuristic {
	if minBody <= 0 {
		minBody = DefaultMinBody
	}
	return &Heuristic{MinBody: minBody}
}

var spaMarkers = []string{
	`id="__next"`,
	`id="root"></div>`,
	`id="app"></div>`,
	"data-reactroot",
	"ng-version=",
}

// ShouldPromote reports whether html looks like an unrendered single page app shell:
// empty, small and dominated by script tags, or carrying a known framework mount point.
// Only 200 responses are considered.
func (h *Heuristic) ShouldPromote(status int, html string) bool {
	if status != 200 {
		return false
	}
	if strings.TrimSpace(html) == "" {
		return true
	}
	lower := strings.ToLower(html)
	if len(lower) < h.MinBody && scriptDensityHigh(lower) {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover at least a quarter of the
// lowercased document.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag: the rest of the document counts as script.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			next = contentStart + relEnd + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
