package canonical

import (
	"net/url"
	"strings"
)

// Host returns the lowercased host[:port] of a URL, or "" when it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// Hostname returns the lowercased host without port, or "".
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Origin returns scheme://host[:port] for rawURL, or "".
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// HasExtension reports whether the URL path ends with one of exts (".pdf" style,
// compared case-insensitively).
func HasExtension(rawURL string, exts []string) bool {
	if len(exts) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(p, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// ContainsKeyword reports whether the decoded, lowercased path contains any keyword.
func ContainsKeyword(rawURL string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(p, kw) {
			return true
		}
	}
	return false
}

// DomainSet matches hosts against exact names and "*.suffix" / ".suffix" wildcards.
// A nil DomainSet matches nothing.
type DomainSet struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainSet compiles patterns; it returns nil when no usable pattern is given.
func NewDomainSet(patterns []string) *DomainSet {
	set := &DomainSet{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			set.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			set.addSuffix(strings.TrimPrefix(value, "."))
		default:
			set.exact[value] = struct{}{}
		}
	}
	if len(set.exact) == 0 && len(set.suffixes) == 0 {
		return nil
	}
	return set
}

func (s *DomainSet) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range s.suffixes {
		if existing == suffix {
			return
		}
	}
	s.suffixes = append(s.suffixes, suffix)
}

// Empty reports whether the set has no patterns.
func (s *DomainSet) Empty() bool {
	return s == nil
}

// Match reports whether host (with or without port) is covered by the set.
func (s *DomainSet) Match(host string) bool {
	if s == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := s.exact[host]; ok {
		return true
	}
	name := host
	if h, _, ok := strings.Cut(host, ":"); ok && !strings.HasPrefix(host, "[") {
		name = h
	}
	if _, ok := s.exact[name]; ok {
		return true
	}
	for _, suffix := range s.suffixes {
		if name == suffix || strings.HasSuffix(name, "."+suffix) {
			return true
		}
	}
	return false
}

// MatchURL is Match applied to the host of rawURL.
func (s *DomainSet) MatchURL(rawURL string) bool {
	return s.Match(Host(rawURL))
}
