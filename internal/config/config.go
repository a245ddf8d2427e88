// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/animebite-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are route prefixes the metrics endpoint must not shadow.
var reservedRoutes = []string{"/api", "/healthz", "/proxy/status"}

// Browser fingerprint the media CDN expects. The CDN validates Referer and
// Origin against the player-embedding site; change these when it moves.
const (
	defaultBrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultAcceptLanguage   = "en-US,en;q=0.9"
	defaultStreamReferer    = "https://rapid-cloud.co/"
	defaultStreamOrigin     = "https://rapid-cloud.co"
	defaultImageReferer     = "https://hianime.to/"
	defaultImageAccept      = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	CatalogURL    string `kong:"name='catalog-url',help='Metadata API base URL (overrides config).',env='CATALOG_BASE_URL'"`
	PublicBaseURL string `kong:"name='public-base-url',help='Absolute origin prefixed to rewritten playlist URLs (overrides config).',env='PUBLIC_BASE_URL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Stream   StreamConfig   `toml:"stream"`
	Image    ImageConfig    `toml:"image"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"` // players fetch segments in bursts; defaults to 2x rps
}

// UpstreamConfig holds settings shared by every outbound connection.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"` // response-header timeout; bodies may stream longer
	IdleConnections int `toml:"idle_connections"`
	MaxRetries      int `toml:"max_retries"`
	RetryBackoffMS  int `toml:"retry_backoff_ms"`
}

// StreamConfig holds the media CDN fingerprint and manifest rewriting options.
type StreamConfig struct {
	PublicBaseURL        string `toml:"public_base_url"`
	Referer              string `toml:"referer"`
	Origin               string `toml:"origin"`
	UserAgent            string `toml:"user_agent"`
	Accept               string `toml:"accept"`
	AcceptLanguage       string `toml:"accept_language"`
	RewriteURIAttributes bool   `toml:"rewrite_uri_attributes"`
	ChunkBytes           int    `toml:"chunk_bytes"`
}

// ImageConfig holds the image CDN fingerprint.
type ImageConfig struct {
	Referer            string `toml:"referer"`
	UserAgent          string `toml:"user_agent"`
	Accept             string `toml:"accept"`
	AcceptLanguage     string `toml:"accept_language"`
	CacheMaxAgeSeconds int    `toml:"cache_max_age_seconds"`
}

// CatalogConfig holds metadata API settings.
type CatalogConfig struct {
	BaseURL           string `toml:"base_url"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	CacheTTLSeconds   int    `toml:"cache_ttl_seconds"` // 0 disables the response cache
	CacheMaxEntries   int    `toml:"cache_max_entries"`
	RequestsPerSecond int    `toml:"requests_per_second"` // 0 means unlimited
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/animebite-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.CatalogURL != "" {
		c.Catalog.BaseURL = cli.CatalogURL
	}
	if cli.PublicBaseURL != "" {
		c.Stream.PublicBaseURL = cli.PublicBaseURL
	}
}

func (c *Config) validate() error {
	// Catalog URL: required and must be HTTPS.
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url is required")
	}
	u, err := url.Parse(c.Catalog.BaseURL)
	if err != nil {
		return fmt.Errorf("catalog.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("catalog.base_url must use HTTPS; got %q", c.Catalog.BaseURL)
	}

	if p := c.Stream.PublicBaseURL; p != "" {
		pu, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("stream.public_base_url is not a valid URL: %w", err)
		}
		if (pu.Scheme != "http" && pu.Scheme != "https") || pu.Host == "" {
			return fmt.Errorf("stream.public_base_url must be an absolute http(s) origin; got %q", p)
		}
		if pu.RawQuery != "" || pu.Fragment != "" {
			return fmt.Errorf("stream.public_base_url must not carry a query or fragment; got %q", p)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxRetries < 0 || c.Upstream.MaxRetries > 5 {
		return fmt.Errorf("upstream.max_retries must be 0–5; got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.RetryBackoffMS < 0 {
		return fmt.Errorf("upstream.retry_backoff_ms must be non-negative; got %d", c.Upstream.RetryBackoffMS)
	}
	if c.Stream.ChunkBytes < 0 {
		return fmt.Errorf("stream.chunk_bytes must be non-negative; got %d", c.Stream.ChunkBytes)
	}
	if c.Image.CacheMaxAgeSeconds < 0 {
		return fmt.Errorf("image.cache_max_age_seconds must be non-negative; got %d", c.Image.CacheMaxAgeSeconds)
	}
	if c.Catalog.TimeoutSeconds < 0 {
		return fmt.Errorf("catalog.timeout_seconds must be non-negative; got %d", c.Catalog.TimeoutSeconds)
	}
	if c.Catalog.CacheTTLSeconds < 0 {
		return fmt.Errorf("catalog.cache_ttl_seconds must be non-negative; got %d", c.Catalog.CacheTTLSeconds)
	}
	if c.Catalog.CacheMaxEntries < 0 {
		return fmt.Errorf("catalog.cache_max_entries must be non-negative; got %d", c.Catalog.CacheMaxEntries)
	}
	if c.Catalog.RequestsPerSecond < 0 {
		return fmt.Errorf("catalog.requests_per_second must be non-negative; got %d", c.Catalog.RequestsPerSecond)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit.burst must be non-negative; got %d", c.Server.RateLimit.Burst)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. The exceptions are
// catalog.cache_ttl_seconds, catalog.requests_per_second and
// upstream.max_retries, where 0 is a meaningful "off".
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; every proxied route is a GET
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = int(math.Ceil(2 * c.Server.RateLimit.RequestsPerSecond))
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.RetryBackoffMS == 0 {
		c.Upstream.RetryBackoffMS = 250
	}
	c.Stream.PublicBaseURL = strings.TrimRight(c.Stream.PublicBaseURL, "/")
	if c.Stream.Referer == "" {
		c.Stream.Referer = defaultStreamReferer
	}
	if c.Stream.Origin == "" {
		c.Stream.Origin = defaultStreamOrigin
	}
	if c.Stream.UserAgent == "" {
		c.Stream.UserAgent = defaultBrowserUserAgent
	}
	if c.Stream.Accept == "" {
		c.Stream.Accept = "*/*"
	}
	if c.Stream.AcceptLanguage == "" {
		c.Stream.AcceptLanguage = defaultAcceptLanguage
	}
	if c.Stream.ChunkBytes == 0 {
		c.Stream.ChunkBytes = 32 * 1024
	}
	if c.Image.Referer == "" {
		c.Image.Referer = defaultImageReferer
	}
	if c.Image.UserAgent == "" {
		c.Image.UserAgent = defaultBrowserUserAgent
	}
	if c.Image.Accept == "" {
		c.Image.Accept = defaultImageAccept
	}
	if c.Image.AcceptLanguage == "" {
		c.Image.AcceptLanguage = defaultAcceptLanguage
	}
	if c.Image.CacheMaxAgeSeconds == 0 {
		c.Image.CacheMaxAgeSeconds = 86400
	}
	c.Catalog.BaseURL = strings.TrimRight(c.Catalog.BaseURL, "/")
	if c.Catalog.TimeoutSeconds == 0 {
		c.Catalog.TimeoutSeconds = 20
	}
	if c.Catalog.CacheMaxEntries == 0 {
		c.Catalog.CacheMaxEntries = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
