// Package config handles TOML configuration loading and validation.
package config

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/webproxy/config.toml",
	"configs/config.toml",
}

// DefaultUserAgent is the User-Agent header sent to every origin server.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"

const defaultAdminPort = 9090

// Relay modes.
const (
	RelayModeLine   = "line"
	RelayModeLength = "length"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Port      int    `kong:"arg,required,help='Port the proxy listens on.'"`
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	AdminPort int    `kong:"help='Admin HTTP port for health and metrics (overrides config).',env='ADMIN_PORT'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Relay    RelayConfig    `toml:"relay"`
	Errors   ErrorsConfig   `toml:"errors"`
	Log      LogConfig      `toml:"log"`
	Admin    AdminConfig    `toml:"admin"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds proxy listener settings.
type ServerConfig struct {
	Host      string          `toml:"host"`
	Port      int             `toml:"port"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig throttles accepted connections.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// UpstreamConfig holds origin connection settings.
type UpstreamConfig struct {
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"` // 0 means "use default" (30s)
	UserAgent          string `toml:"user_agent"`
}

// RelayConfig controls how responses are copied back to the client.
type RelayConfig struct {
	Mode    string `toml:"mode"`
	MaxLine int    `toml:"max_line"`
}

// ErrorsConfig controls the generated error pages.
type ErrorsConfig struct {
	EscapeHTML bool `toml:"escape_html"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AdminConfig holds the admin HTTP endpoint settings.
type AdminConfig struct {
	Enabled   bool            `toml:"enabled"`
	Host      string          `toml:"host"`
	Port      int             `toml:"port"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/webproxy/config.toml then configs/config.toml. Running without any
// config file is allowed; defaults then apply.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
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
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.AdminPort != 0 {
		c.Admin.Enabled = true
		c.Admin.Port = cli.AdminPort
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1–65535; got %d", c.Server.Port)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be 0–65535; got %d", c.Admin.Port)
	}
	if adminPort := cmp.Or(c.Admin.Port, defaultAdminPort); c.Admin.Enabled && adminPort == c.Server.Port {
		return fmt.Errorf("admin.port %d collides with server.port", adminPort)
	}
	if c.Upstream.DialTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.dial_timeout_seconds must be non-negative; got %d", c.Upstream.DialTimeoutSeconds)
	}
	if strings.ContainsAny(c.Upstream.UserAgent, "\r\n") {
		return fmt.Errorf("upstream.user_agent must be a single line")
	}
	if c.Relay.MaxLine < 0 || (c.Relay.MaxLine > 0 && c.Relay.MaxLine < 2) {
		return fmt.Errorf("relay.max_line must be at least 2; got %d", c.Relay.MaxLine)
	}
	for name, rl := range map[string]RateLimitConfig{"server": c.Server.RateLimit, "admin": c.Admin.RateLimit} {
		if rl.Enabled && rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("%s.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", name, rl.RequestsPerSecond)
		}
		if rl.Burst < 0 {
			return fmt.Errorf("%s.rate_limit.burst must be non-negative; got %d", name, rl.Burst)
		}
	}

	switch strings.ToLower(c.Relay.Mode) {
	case RelayModeLine, RelayModeLength, "":
		// valid
	default:
		return fmt.Errorf("relay.mode must be one of: line, length; got %q", c.Relay.Mode)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 1
	}
	if c.Upstream.DialTimeoutSeconds == 0 {
		c.Upstream.DialTimeoutSeconds = 30
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	c.Relay.Mode = strings.ToLower(c.Relay.Mode)
	if c.Relay.Mode == "" {
		c.Relay.Mode = RelayModeLine
	}
	if c.Relay.MaxLine == 0 {
		c.Relay.MaxLine = 8192
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = defaultAdminPort
	}
	if c.Admin.RateLimit.Enabled && c.Admin.RateLimit.Burst == 0 {
		c.Admin.RateLimit.Burst = 1
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

// Addr returns the proxy listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file that was loaded, or "" when none was.
func (c *Config) FilePath() string { return c.filePath }

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
