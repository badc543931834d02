// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/pageproxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Prefix    string   `kong:"help='Proxy path prefix (overrides config).',env='PROXY_PREFIX'"`
	AllowHost []string `kong:"help='Allowed upstream hostname, repeatable (overrides config).',env='ALLOW_HOSTS'"`
	LogLevel  string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
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
}

// ProxyConfig holds the rewriting proxy settings.
type ProxyConfig struct {
	// Prefix is the path the proxy entry point is served under; every
	// rewritten reference points back at it.
	Prefix string `toml:"prefix"`
	// AllowHosts restricts which upstream hostnames may be fetched.
	// Empty means permissive.
	AllowHosts []string `toml:"allow_hosts"`
	// MaxTransformBytes caps how much of an HTML or CSS body is buffered
	// for rewriting; larger bodies pass through untransformed.
	MaxTransformBytes int64 `toml:"max_transform_bytes"`
	// UserAgent is sent upstream when the client supplied none.
	UserAgent string `toml:"user_agent"`
	// AuthToken, when set, requires Authorization: Bearer <token> on proxy
	// requests.
	AuthToken string `toml:"auth_token"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
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
// /etc/pageproxy/config.toml then configs/config.toml; if none exists the
// defaults apply, so the proxy runs with an empty (permissive) allow-list out
// of the box.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

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
	if cli.Prefix != "" {
		c.Proxy.Prefix = cli.Prefix
	}
	if len(cli.AllowHost) > 0 {
		c.Proxy.AllowHosts = cli.AllowHost
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// reservedRoutes are paths the proxy prefix and metrics path may not shadow.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Proxy.MaxTransformBytes < 0 {
		return fmt.Errorf("proxy.max_transform_bytes must be non-negative; got %d", c.Proxy.MaxTransformBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Proxy prefix.
	if p := c.Proxy.Prefix; p != "" {
		if p[0] != '/' {
			return fmt.Errorf("proxy.prefix must start with '/'; got %q", p)
		}
		if strings.ContainsAny(p, "?#") {
			return fmt.Errorf("proxy.prefix must not contain '?' or '#'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("proxy.prefix %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	// Allow-list entries must be bare hostnames, not URLs.
	for _, h := range c.Proxy.AllowHosts {
		if h == "" || strings.ContainsAny(h, "/:@ ") {
			return fmt.Errorf("proxy.allow_hosts entry %q is not a bare hostname", h)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range append(reservedRoutes, c.Proxy.Prefix) {
			if reserved != "" && (p == reserved || strings.HasPrefix(p, reserved+"/")) {
				return fmt.Errorf("metrics.path %q conflicts with route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 * 1024 * 1024 // 1 MB; the proxy accepts no meaningful request bodies
	}
	if c.Proxy.Prefix == "" {
		c.Proxy.Prefix = "/go"
	}
	if c.Proxy.MaxTransformBytes == 0 {
		c.Proxy.MaxTransformBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.UserAgent == "" {
		c.Proxy.UserAgent = "pageproxy/1.0"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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

// WarnPermissions logs a warning if the config file is readable by group or
// others (it may hold the auth token).
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
