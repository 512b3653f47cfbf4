// Package config loads the typed service configuration from viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/leadcrawl/internal/logging"
)

// EnvPrefix is prepended to environment overrides, e.g. LEADCRAWL_CRAWLER_MAX_PAGES.
const EnvPrefix = "LEADCRAWL"

// DefaultUserAgent identifies the crawler to remote hosts and robots.txt groups.
const DefaultUserAgent = "LeadHunter/1.0"

// Config is the root configuration object.
type Config struct {
	Logging  logging.Config `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Dynamic  DynamicConfig  `mapstructure:"dynamic"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Index    IndexConfig    `mapstructure:"index"`
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// CrawlerConfig controls frontier behavior.
type CrawlerConfig struct {
	MaxDepth             int           `mapstructure:"max_depth"`
	MaxPages             int           `mapstructure:"max_pages"`
	Concurrency          int           `mapstructure:"concurrency"`
	DeepContact          bool          `mapstructure:"deep_contact"`
	ContactKeywords      []string      `mapstructure:"contact_keywords"`
	AllowedDomains       []string      `mapstructure:"allowed_domains"`
	PathFilters          []string      `mapstructure:"path_filters"`
	DisallowedExtensions []string      `mapstructure:"disallowed_extensions"`
	AllowedQueryParams   []string      `mapstructure:"allowed_query_params"`
	BlockedQueryParams   []string      `mapstructure:"blocked_query_params"`
	RequestDelay         time.Duration `mapstructure:"request_delay"`
	SitemapDiscovery     bool          `mapstructure:"sitemap_discovery"`
}

// FetchConfig controls static HTTP fetches.
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// DynamicConfig controls headless rendering. AutoPromote re-renders static pages that
// look like an empty JS shell.
type DynamicConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Allowlist      []string      `mapstructure:"allowlist"`
	SelectorHints  []string      `mapstructure:"selector_hints"`
	Timeout        time.Duration `mapstructure:"timeout"`
	HintTimeout    time.Duration `mapstructure:"hint_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxParallel    int           `mapstructure:"max_parallel"`
	ExecPath       string        `mapstructure:"exec_path"`
	AutoPromote    bool          `mapstructure:"auto_promote"`
	PromoteMinBody int           `mapstructure:"promote_min_body"`
}

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Respect    bool          `mapstructure:"respect"`
	FailClosed bool          `mapstructure:"fail_closed"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// CacheConfig controls the content cache.
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Backend     string        `mapstructure:"backend"`
	Dir         string        `mapstructure:"dir"`
	MaxAge      time.Duration `mapstructure:"max_age"`
	MaxSizeMB   int64         `mapstructure:"max_size_mb"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
}

// IndexConfig controls the vector store.
type IndexConfig struct {
	Dir          string `mapstructure:"dir"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	Dim          int    `mapstructure:"dim"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	APIKey         string        `mapstructure:"api_key"`
}

// DatabaseConfig controls the optional Postgres page record sink.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig controls crawl completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// GCSConfig controls index snapshot uploads.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Cache backends understood by the CLI and API wiring.
const (
	CacheBackendFS     = "fs"
	CacheBackendBadger = "badger"
	CacheBackendRedis  = "redis"
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 5)
	v.SetDefault("crawler.concurrency", 6)
	v.SetDefault("crawler.deep_contact", true)
	v.SetDefault("crawler.contact_keywords", []string{"contact", "about", "à propos", "qui sommes", "nous contacter"})
	v.SetDefault("crawler.allowed_domains", []string{})
	v.SetDefault("crawler.path_filters", []string{})
	v.SetDefault("crawler.disallowed_extensions", []string{".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".zip", ".mp4", ".css", ".js"})
	v.SetDefault("crawler.allowed_query_params", []string{})
	v.SetDefault("crawler.blocked_query_params", []string{})
	v.SetDefault("crawler.request_delay", "0s")
	v.SetDefault("crawler.sitemap_discovery", true)

	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.retry_base_delay", "500ms")
	v.SetDefault("fetch.retry_max_delay", "5s")
	v.SetDefault("fetch.max_body_bytes", 10*1024*1024)

	v.SetDefault("dynamic.enabled", false)
	v.SetDefault("dynamic.allowlist", []string{})
	v.SetDefault("dynamic.timeout", "30s")
	v.SetDefault("dynamic.hint_timeout", "5s")
	v.SetDefault("dynamic.idle_timeout", "5s")
	v.SetDefault("dynamic.max_parallel", 2)
	v.SetDefault("dynamic.auto_promote", false)
	v.SetDefault("dynamic.promote_min_body", 2048)

	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.fail_closed", false)
	v.SetDefault("robots.timeout", "10s")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", CacheBackendFS)
	v.SetDefault("cache.dir", ".cache/leadcrawl")
	v.SetDefault("cache.max_age", "720h")
	v.SetDefault("cache.max_size_mb", 500)
	v.SetDefault("cache.redis_prefix", "leadcrawl:cache:")

	v.SetDefault("index.dir", "data/index")
	v.SetDefault("index.chunk_size", 400)
	v.SetDefault("index.chunk_overlap", 40)
	v.SetDefault("index.dim", 384)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.request_timeout", "120s")

	v.SetDefault("database.table", "crawl_pages")
}

// ConfigureEnv enables LEADCRAWL_* overrides on v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load applies defaults to v, decodes it and validates the result.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a config file (any format viper understands) plus env overrides.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	ConfigureEnv(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return Load(v)
}

func (c *Config) normalize() {
	c.Crawler.ContactKeywords = normalizeList(c.Crawler.ContactKeywords)
	c.Crawler.AllowedDomains = normalizeList(c.Crawler.AllowedDomains)
	c.Dynamic.Allowlist = normalizeList(c.Dynamic.Allowlist)
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		c.Fetch.UserAgent = DefaultUserAgent
	}
	exts := make([]string, 0, len(c.Crawler.DisallowedExtensions))
	for _, ext := range normalizeList(c.Crawler.DisallowedExtensions) {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Crawler.DisallowedExtensions = exts
}

// HintsByHost parses selector_hints entries of the form "host=selector[,selector...]".
// Hosts are lowercased; entries without "=" are ignored.
func (d DynamicConfig) HintsByHost() map[string][]string {
	hints := make(map[string][]string, len(d.SelectorHints))
	for _, entry := range d.SelectorHints {
		host, selectors, ok := strings.Cut(entry, "=")
		host = strings.ToLower(strings.TrimSpace(host))
		if !ok || host == "" {
			continue
		}
		hints[host] = append(hints[host], splitSelectors([]string{selectors})...)
	}
	return hints
}

// Validate reports every invalid setting, joined.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, errors.New("crawler.max_depth must be >= 0"))
	}
	if c.Crawler.MaxPages <= 0 {
		errs = append(errs, errors.New("crawler.max_pages must be > 0"))
	}
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, errors.New("crawler.concurrency must be > 0"))
	}
	if c.Crawler.RequestDelay < 0 {
		errs = append(errs, errors.New("crawler.request_delay must be >= 0"))
	}
	for _, pattern := range c.Crawler.PathFilters {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("crawler.path_filters: invalid pattern %q: %w", pattern, err))
		}
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be > 0"))
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, errors.New("fetch.max_retries must be >= 0"))
	}
	if c.Dynamic.Timeout <= 0 {
		errs = append(errs, errors.New("dynamic.timeout must be > 0"))
	}
	for _, entry := range c.Dynamic.SelectorHints {
		if host, _, ok := strings.Cut(entry, "="); !ok || strings.TrimSpace(host) == "" {
			errs = append(errs, fmt.Errorf("dynamic.selector_hints: entry %q must look like host=selector", entry))
		}
	}
	if c.Dynamic.PromoteMinBody < 0 {
		errs = append(errs, errors.New("dynamic.promote_min_body must be >= 0"))
	}
	if c.Dynamic.MaxParallel < 0 {
		errs = append(errs, errors.New("dynamic.max_parallel must be >= 0"))
	}
	switch c.Cache.Backend {
	case CacheBackendFS, CacheBackendBadger:
		if c.Cache.Dir == "" {
			errs = append(errs, fmt.Errorf("cache.dir is required for the %s backend", c.Cache.Backend))
		}
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend))
	}
	if c.Cache.MaxAge < 0 {
		errs = append(errs, errors.New("cache.max_age must be >= 0"))
	}
	if c.Index.ChunkSize <= 0 {
		errs = append(errs, errors.New("index.chunk_size must be > 0"))
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, errors.New("index.chunk_overlap must be >= 0 and < index.chunk_size"))
	}
	if c.Index.Dim <= 0 {
		errs = append(errs, errors.New("index.dim must be > 0"))
	}
	return errors.Join(errs...)
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// splitSelectors flattens comma separated selector lists.
func splitSelectors(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
