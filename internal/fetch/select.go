package fetch

import (
	"github.com/JakeFAU/leadcrawl/internal/canonical"
)

// UseDynamic reports whether rawURL should be rendered in a browser. With dynamic
// rendering enabled, an empty allowlist selects every host.
func UseDynamic(rawURL string, enabled bool, allowlist []string) bool {
	if !enabled {
		return false
	}
	set := canonical.NewDomainSet(allowlist)
	if set.Empty() {
		return true
	}
	return set.MatchURL(rawURL)
}

// HintsFor returns the selector hints configured for rawURL's host.
func HintsFor(rawURL string, hints map[string][]string) []string {
	if len(hints) == 0 {
		return nil
	}
	if h, ok := hints[canonical.Host(rawURL)]; ok {
		return h
	}
	if h, ok := hints[canonical.Hostname(rawURL)]; ok {
		return h
	}
	return hints["*"]
}
