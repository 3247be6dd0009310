// Package config loads overrider settings from .overrider.kdl, .env files
// and OVERRIDER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kdl "github.com/sblinch/kdl-go"
)

// ConfigFileName is the name of the overrider configuration file.
const ConfigFileName = ".overrider.kdl"

// EnvFileName is loaded from the config directory and the working directory.
const EnvFileName = ".env"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full overrider configuration.
type Config struct {
	Proxy     *ProxyConfig     `kdl:"proxy"`
	Store     *StoreConfig     `kdl:"store"`
	Overrides *OverridesConfig `kdl:"overrides"`
	Render    *RenderConfig    `kdl:"render"`
	Filter    *FilterConfig    `kdl:"filter"`

	// Path is the file the config was read from, if any.
	Path string `kdl:"-"`
}

// ProxyConfig configures the editing reverse proxy.
type ProxyConfig struct {
	Target      string `kdl:"target"`
	Host        string `kdl:"host"`
	Port        int    `kdl:"port"`
	AutoRestart bool   `kdl:"auto-restart"`
	MaxRestarts int    `kdl:"max-restarts"`
}

// StoreConfig selects where saved overrides are kept.
type StoreConfig struct {
	// Backend is "file" or "redis".
	Backend  string `kdl:"backend"`
	Dir      string `kdl:"dir"`
	RedisURL string `kdl:"redis-url"`
	// TTL is a Go duration; empty keeps redis records forever.
	TTL string `kdl:"ttl"`
}

// OverridesConfig controls how stored overrides are used.
type OverridesConfig struct {
	// AutoApply applies stored overrides when a page session starts.
	AutoApply bool `kdl:"auto-apply"`
	// Persist stores every save-node dump for the page.
	Persist bool `kdl:"persist"`
}

// RenderConfig configures page fetching for apply.
type RenderConfig struct {
	Enabled    bool   `kdl:"enabled"`
	ChromePath string `kdl:"chrome-path"`
	Headless   bool   `kdl:"headless"`
	Timeout    string `kdl:"timeout"`
	UserAgent  string `kdl:"user-agent"`
}

// FilterConfig extends the attribute names hidden from edit-node.
type FilterConfig struct {
	Attributes []string `kdl:"attributes"`
}

// DefaultConfig returns a config with defaults for every section.
func DefaultConfig() *Config {
	return &Config{
		Proxy: &ProxyConfig{
			Host:        "127.0.0.1",
			Port:        7777,
			AutoRestart: true,
			MaxRestarts: 5,
		},
		Store: &StoreConfig{
			Backend: "file",
			Dir:     ".overrider/store",
		},
		Overrides: &OverridesConfig{
			AutoApply: true,
			Persist:   true,
		},
		Render: &RenderConfig{
			Headless: true,
			Timeout:  "30s",
		},
		Filter: &FilterConfig{},
	}
}

// Load finds the config file from dir upwards, loads .env files, applies
// environment overrides and validates the result.
func Load(dir string) (*Config, error) {
	cfg := DefaultConfig()
	if path := FindConfigFile(dir); path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return nil, err
		}
		if err := LoadEnvFile(filepath.Join(filepath.Dir(path), EnvFileName)); err != nil {
			return nil, err
		}
	}
	if err := LoadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile searches for .overrider.kdl starting from dir and walking up.
func FindConfigFile(dir string) string {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(absDir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(absDir)
		if parent == absDir {
			return ""
		}
		absDir = parent
	}
}

// LoadConfigFile loads configuration from a specific file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := ParseConfig(string(data))
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// ParseConfig parses KDL over the defaults.
func ParseConfig(data string) (*Config, error) {
	cfg := DefaultConfig()
	if err := kdl.Unmarshal([]byte(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fill()
	return cfg, nil
}

// fill restores sections a config file explicitly emptied.
func (c *Config) fill() {
	def := DefaultConfig()
	if c.Proxy == nil {
		c.Proxy = def.Proxy
	}
	if c.Store == nil {
		c.Store = def.Store
	}
	if c.Overrides == nil {
		c.Overrides = def.Overrides
	}
	if c.Render == nil {
		c.Render = def.Render
	}
	if c.Filter == nil {
		c.Filter = def.Filter
	}
}

// LoadEnvFile loads KEY=value pairs from path without replacing variables
// that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from OVERRIDER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	c.fill()

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, name, v)
		}
		*dst = b
		return nil
	}

	str("OVERRIDER_TARGET", &c.Proxy.Target)
	str("OVERRIDER_HOST", &c.Proxy.Host)
	if v, ok := lookup("OVERRIDER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: OVERRIDER_PORT=%q is not a number", ErrInvalid, v)
		}
		c.Proxy.Port = port
	}
	str("OVERRIDER_STORE", &c.Store.Backend)
	str("OVERRIDER_STORE_DIR", &c.Store.Dir)
	str("OVERRIDER_REDIS_URL", &c.Store.RedisURL)
	str("OVERRIDER_STORE_TTL", &c.Store.TTL)
	str("OVERRIDER_CHROME_PATH", &c.Render.ChromePath)
	str("OVERRIDER_RENDER_TIMEOUT", &c.Render.Timeout)

	for name, dst := range map[string]*bool{
		"OVERRIDER_AUTO_RESTART": &c.Proxy.AutoRestart,
		"OVERRIDER_AUTO_APPLY":   &c.Overrides.AutoApply,
		"OVERRIDER_PERSIST":      &c.Overrides.Persist,
		"OVERRIDER_RENDER":       &c.Render.Enabled,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("OVERRIDER_FILTER"); ok {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Filter.Attributes = append(c.Filter.Attributes, name)
			}
		}
	}
	return nil
}

// Validate checks ranges, enums and durations.
func (c *Config) Validate() error {
	c.fill()
	if c.Proxy.Port < 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("%w: proxy port %d out of range", ErrInvalid, c.Proxy.Port)
	}
	if c.Proxy.Target != "" {
		u, err := url.Parse(c.Proxy.Target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: proxy target %q must be an absolute URL", ErrInvalid, c.Proxy.Target)
		}
	}
	switch c.Store.Backend {
	case "", "file":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("%w: store backend redis requires redis-url", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalid, c.Store.Backend)
	}
	if _, err := c.Store.TTLDuration(); err != nil {
		return err
	}
	if _, err := c.Render.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// Addr returns host:port for the proxy listener.
func (p *ProxyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// TTLDuration parses TTL; empty means no expiry.
func (s *StoreConfig) TTLDuration() (time.Duration, error) {
	return parseDuration("store ttl", s.TTL)
}

// TimeoutDuration parses Timeout; empty means the fetcher default.
func (r *RenderConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("render timeout", r.Timeout)
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s %q is not a duration", ErrInvalid, field, v)
	}
	return d, nil
}

// WriteDefaultConfig writes a documented default configuration file.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// Overrider configuration

// Editing proxy: serves the target site with the in-page agent injected
proxy {
    // target "http://localhost:3000"
    host "127.0.0.1"
    port 7777
    auto-restart true   // restart the listener if it stops unexpectedly
    max-restarts 5
}

// Where saved overrides are kept
store {
    backend "file"              // "file" or "redis"
    dir ".overrider/store"
    // redis-url "redis://localhost:6379/0"
    // ttl "720h"
}

// How stored overrides are used
overrides {
    auto-apply true   // apply stored overrides when a page connects
    persist true      // store the overrides on every save-node
}

// Page fetching for "overrider apply"
render {
    enabled false     // render pages in headless Chrome
    // chrome-path "/usr/bin/chromium"
    headless true
    timeout "30s"
}

// Extra attributes hidden from edit-node
filter {
    // attributes "data-testid" "data-cy"
}
`
	return os.WriteFile(path, []byte(defaultKDL), 0644)
}
