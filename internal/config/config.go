// Package config loads cideldill's server/client configuration from a
// YAML file with environment-variable overrides, using a package-level
// singleton-with-overrides pattern.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/curtcox/cideldill/internal/portfile"
)

// Config is the root configuration object for the breakpoint server and,
// where applicable, the demo client.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Debug    DebugConfig    `yaml:"debug"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig controls the HTTP control plane.
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
	PollTimeoutSec   int      `yaml:"poll_timeout_sec"`
	MCPMode          string   `yaml:"mcp_mode"` // "", "stdio", "sse"
}

// DatabaseConfig controls where the CID store and call log persist.
type DatabaseConfig struct {
	Path   string `yaml:"path"`   // empty -> derive a timestamped path under .cideldill/breakpoint_dbs
	Memory bool   `yaml:"memory"` // true -> ":memory:"
}

// DebugConfig controls the default breakpoint behavior and REPL namespace
// limits.
type DebugConfig struct {
	DefaultBehavior string `yaml:"default_behavior"` // "stop" or "go" (also accepts "continue" on the wire)
	MaxPlaceholder  int    `yaml:"max_placeholder_depth"`
}

// NotifyConfig controls which breakpoint manager observer sinks the
// server installs in addition to the always-on log sink.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"` // empty -> no webhook sink installed
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton Config, loading it from
// CONFIG_PATH (default "config.yaml") on first use and applying
// environment overrides exactly once.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// LoadConfig reads and parses a YAML config file. A missing or unreadable
// file is returned as an error; Get falls back to defaults in that case.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Host = getEnv("CIDELDILL_HOST", c.Server.Host)
	if v := getEnvInt("CIDELDILL_PORT", 0); v > 0 {
		c.Server.Port = v
	}
	if v := getEnvInt("CIDELDILL_POLL_TIMEOUT_SEC", 0); v > 0 {
		c.Server.PollTimeoutSec = v
	}
	c.Server.MCPMode = getEnv("CIDELDILL_MCP_MODE", c.Server.MCPMode)

	c.Database.Path = getEnv("CIDELDILL_DB_PATH", c.Database.Path)
	c.Database.Memory = getEnvBool("CIDELDILL_DB_MEMORY", c.Database.Memory)

	c.Debug.DefaultBehavior = getEnv("CIDELDILL_DEFAULT_BEHAVIOR", c.Debug.DefaultBehavior)
	if v := getEnvInt("CIDELDILL_MAX_PLACEHOLDER_DEPTH", 0); v > 0 {
		c.Debug.MaxPlaceholder = v
	}

	c.Notify.WebhookURL = getEnv("CIDELDILL_WEBHOOK_URL", c.Notify.WebhookURL)
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Server.PollTimeoutSec == 0 {
		c.Server.PollTimeoutSec = 25
	}
	// The long-poll handler (GET /api/poll/<pause_id>) can legitimately
	// hold the connection open for PollTimeoutSec; http.Server.WriteTimeout
	// must never sever that response first, or the poll loses its answer
	// and the in-flight call is aborted instead of re-polled.
	if c.Server.WriteTimeoutSec <= c.Server.PollTimeoutSec {
		c.Server.WriteTimeoutSec = c.Server.PollTimeoutSec + 10
	}
	if c.Debug.DefaultBehavior == "" {
		c.Debug.DefaultBehavior = "stop"
	}
	if c.Debug.MaxPlaceholder == 0 {
		c.Debug.MaxPlaceholder = 2
	}
}

// ResolveDBPath returns the sqlite3 path (or ":memory:") the CID store
// and call log should open: a user-supplied path, ":memory:", or a
// timestamped file under .cideldill/breakpoint_dbs/.
func (c *Config) ResolveDBPath() string {
	if c.Database.Memory {
		return ":memory:"
	}
	if c.Database.Path != "" {
		return c.Database.Path
	}
	dir := filepath.Join(".cideldill", "breakpoint_dbs")
	return filepath.Join(dir, fmt.Sprintf("breakpoints-%d.sqlite3", time.Now().Unix()))
}

// DiscoverServerURL resolves the base URL a proxy client should talk to:
// CIDELDILL_SERVER_URL if set, else the port recorded by the server at
// startup via internal/portfile.
func DiscoverServerURL() (string, error) {
	if url := os.Getenv("CIDELDILL_SERVER_URL"); url != "" {
		return url, nil
	}
	port, err := portfile.Read()
	if err != nil {
		return "", fmt.Errorf("config: discover server url: %w", err)
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
