// Package canonical normalizes crawl URLs so that equivalent addresses compare equal.
package canonical

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMalformedURL marks URLs that cannot be canonicalized. Such URLs are dropped
// from a crawl permanently.
var ErrMalformedURL = errors.New("malformed url")

// DefaultTrackingParams are always stripped, in addition to every utm_* key.
var DefaultTrackingParams = []string{"fbclid", "gclid", "gbraid", "wbraid", "msclkid"}

// Options tunes query handling. Keys are matched case-insensitively.
type Options struct {
	// AllowedQueryParams, when non-empty, is the only set of keys that survive.
	AllowedQueryParams []string
	// BlockedQueryParams are stripped on top of the tracking parameters.
	BlockedQueryParams []string
}

// Canonicalizer is a pure URL normalizer; it is safe for concurrent use.
type Canonicalizer struct {
	allowed map[string]struct{}
	blocked map[string]struct{}
}

// New builds a Canonicalizer from opts.
func New(opts Options) *Canonicalizer {
	c := &Canonicalizer{blocked: toSet(DefaultTrackingParams)}
	for k := range toSet(opts.BlockedQueryParams) {
		c.blocked[k] = struct{}{}
	}
	if len(opts.AllowedQueryParams) > 0 {
		c.allowed = toSet(opts.AllowedQueryParams)
	}
	return c
}

// Default is a Canonicalizer with only the built-in tracking rules.
var Default = New(Options{})

// Canonicalize returns the canonical form of raw or an error wrapping ErrMalformedURL.
//
// Scheme and host are lowercased, default ports and user info are dropped, the
// fragment is removed, tracking parameters are stripped while the remaining pairs
// keep their order and exact encoding, and trailing slashes are trimmed from any
// path longer than "/". The result is a fixed point: canonicalizing it again
// returns it unchanged.
func (c *Canonicalizer) Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", ErrMalformedURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrMalformedURL, raw)
	}
	if strings.Contains(host, ":") {
		host = bracketIPv6(host)
	} else {
		host = strings.ToLower(host)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 0 || port > 65535 {
			return "", fmt.Errorf("%w: invalid port %q", ErrMalformedURL, p)
		}
		if !isDefaultPort(scheme, port) {
			host = host + ":" + strconv.Itoa(port)
		}
	}

	var b strings.Builder
	b.Grow(len(raw))
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(normalizePath(u.EscapedPath()))
	if q := c.filterQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), nil
}

// bracketIPv6 lowercases an IPv6 literal and re-escapes its zone, which
// url.URL.Hostname returns decoded.
func bracketIPv6(host string) string {
	addr, zone, hasZone := strings.Cut(host, "%")
	addr = strings.ToLower(addr)
	if !hasZone {
		return "[" + addr + "]"
	}
	return "[" + addr + "%25" + url.PathEscape(zone) + "]"
}

// Canonicalize runs the Default canonicalizer.
func Canonicalize(raw string) (string, error) {
	return Default.Canonicalize(raw)
}

// IsTrackingParam reports whether key is stripped by c.
func (c *Canonicalizer) IsTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := c.blocked[key]
	return ok
}

func (c *Canonicalizer) filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	kept := make([]string, 0, strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		key = strings.ToLower(key)
		if c.allowed != nil {
			if _, ok := c.allowed[key]; !ok {
				continue
			}
		}
		if c.IsTrackingParam(key) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
