package app

import (
	"time"

	"github.com/JakeFAU/leadcrawl/internal/crawler"
	"github.com/JakeFAU/leadcrawl/internal/fetch"
)

// Overrides adjusts the configured options for a single call. Zero fields keep the
// configured value; pointer fields distinguish "unset" from false.
type Overrides struct {
	MaxDepth         *int
	MaxPages         int
	Concurrency      int
	DeepContact      *bool
	AllowedDomains   []string
	PathFilters      []string
	RequestDelay     time.Duration
	Timeout          time.Duration
	UseCache         *bool
	DynamicRendering *bool
	DynamicAllowlist []string
}

func (o Overrides) applyFetch(opts fetch.Options) fetch.Options {
	if o.Concurrency > 0 {
		opts.Concurrency = o.Concurrency
	}
	if o.Timeout > 0 {
		opts.Timeout = o.Timeout
	}
	if o.UseCache != nil {
		opts.UseCache = *o.UseCache
	}
	if o.DynamicRendering != nil {
		opts.DynamicRendering = *o.DynamicRendering
	}
	if len(o.DynamicAllowlist) > 0 {
		opts.DynamicAllowlist = o.DynamicAllowlist
	}
	return opts
}

func (o Overrides) applyCrawl(opts crawler.Options) crawler.Options {
	if o.MaxDepth != nil {
		opts.MaxDepth = *o.MaxDepth
	}
	if o.MaxPages > 0 {
		opts.MaxPages = o.MaxPages
	}
	if o.Concurrency > 0 {
		opts.Concurrency = o.Concurrency
	}
	if o.DeepContact != nil {
		opts.DeepContact = *o.DeepContact
	}
	if len(o.AllowedDomains) > 0 {
		opts.AllowedDomains = o.AllowedDomains
	}
	if len(o.PathFilters) > 0 {
		opts.PathFilters = o.PathFilters
	}
	if o.RequestDelay > 0 {
		opts.RequestDelay = o.RequestDelay
	}
	opts.Fetch = o.applyFetch(opts.Fetch)
	return opts
}
