package crawler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/leadcrawl/internal/canonical"
	"github.com/JakeFAU/leadcrawl/internal/fetch"
)

// DefaultContactKeywords mark links worth visiting first.
var DefaultContactKeywords = []string{"contact", "about", "à propos", "qui sommes", "nous contacter"}

// ErrInvalidOptions is returned by Crawl for unusable settings.
var ErrInvalidOptions = errors.New("invalid crawl options")

// Options configure one crawl invocation.
type Options struct {
	MaxDepth    int
	MaxPages    int
	Concurrency int
	DeepContact bool
	// ContactKeywords defaults to DefaultContactKeywords when nil.
	ContactKeywords []string
	// AllowedDomains defaults to the seed's host.
	AllowedDomains       []string
	PathFilters          []string
	DisallowedExtensions []string
	RequestDelay         time.Duration
	SitemapDiscovery     bool
	Canonical            canonical.Options
	Fetch                fetch.Options
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxDepth:         2,
		MaxPages:         5,
		Concurrency:      6,
		DeepContact:      true,
		SitemapDiscovery: true,
		Fetch: fetch.Options{
			Timeout:  15 * time.Second,
			UseCache: true,
		},
	}
}

type compiledOptions struct {
	Options
	pathFilters []*regexp.Regexp
	extensions  []string
	keywords    []string
	domains     *canonical.DomainSet
}

func (o Options) compile(root string) (compiledOptions, error) {
	if o.MaxDepth < 0 {
		return compiledOptions{}, fmt.Errorf("%w: max_depth must be >= 0", ErrInvalidOptions)
	}
	if o.MaxPages <= 0 {
		return compiledOptions{}, fmt.Errorf("%w: max_pages must be > 0", ErrInvalidOptions)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	c := compiledOptions{Options: o}
	for _, expr := range o.PathFilters {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return compiledOptions{}, fmt.Errorf("%w: path filter %q: %v", ErrInvalidOptions, expr, err)
		}
		c.pathFilters = append(c.pathFilters, re)
	}
	for _, ext := range o.DisallowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extensions = append(c.extensions, ext)
	}
	c.keywords = o.ContactKeywords
	if c.keywords == nil {
		c.keywords = DefaultContactKeywords
	}
	c.domains = canonical.NewDomainSet(o.AllowedDomains)
	if c.domains.Empty() {
		c.domains = canonical.NewDomainSet([]string{canonical.Host(root)})
	}
	c.Fetch.Concurrency = c.Concurrency
	return c, nil
}
