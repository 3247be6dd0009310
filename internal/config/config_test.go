package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.Proxy.Addr() != "127.0.0.1:7777" {
		t.Errorf("Addr() = %q; want 127.0.0.1:7777", cfg.Proxy.Addr())
	}
	if cfg.Store.Backend != "file" || !cfg.Overrides.AutoApply {
		t.Errorf("unexpected defaults: store=%+v overrides=%+v", cfg.Store, cfg.Overrides)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`
proxy {
    target "http://localhost:3000"
    port 8080
    auto-restart false
}
store {
    backend "redis"
    redis-url "redis://localhost:6379/1"
    ttl "1h"
}
overrides {
    auto-apply false
}
filter {
    attributes "data-testid" "data-cy"
}
`)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Proxy.Target != "http://localhost:3000" || cfg.Proxy.Port != 8080 || cfg.Proxy.AutoRestart {
		t.Errorf("proxy = %+v", cfg.Proxy)
	}
	if cfg.Proxy.Host != "127.0.0.1" {
		t.Errorf("proxy host default lost: %q", cfg.Proxy.Host)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisURL != "redis://localhost:6379/1" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if ttl, _ := cfg.Store.TTLDuration(); ttl != time.Hour {
		t.Errorf("TTLDuration() = %v; want 1h", ttl)
	}
	if cfg.Overrides.AutoApply {
		t.Error("auto-apply should be false")
	}
	if want := []string{"data-testid", "data-cy"}; !reflect.DeepEqual(cfg.Filter.Attributes, want) {
		t.Errorf("filter attributes = %v; want %v", cfg.Filter.Attributes, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	if _, err := ParseConfig(`proxy { port "`); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Proxy.Port = 70000 }},
		{"target", func(c *Config) { c.Proxy.Target = "localhost" }},
		{"backend", func(c *Config) { c.Store.Backend = "s3" }},
		{"redis without url", func(c *Config) { c.Store.Backend = "redis" }},
		{"ttl", func(c *Config) { c.Store.TTL = "soon" }},
		{"timeout", func(c *Config) { c.Render.Timeout = "-1s" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v; want ErrInvalid", err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OVERRIDER_TARGET":     "http://example.test",
		"OVERRIDER_PORT":       "9000",
		"OVERRIDER_STORE":      "redis",
		"OVERRIDER_REDIS_URL":  "redis://r:6379/0",
		"OVERRIDER_AUTO_APPLY": "false",
		"OVERRIDER_RENDER":     "1",
		"OVERRIDER_FILTER":     "data-a, data-b,,",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() = %v", err)
	}
	if cfg.Proxy.Target != "http://example.test" || cfg.Proxy.Port != 9000 {
		t.Errorf("proxy = %+v", cfg.Proxy)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisURL != "redis://r:6379/0" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Overrides.AutoApply || !cfg.Render.Enabled {
		t.Errorf("overrides=%+v render=%+v", cfg.Overrides, cfg.Render)
	}
	if want := []string{"data-a", "data-b"}; !reflect.DeepEqual(cfg.Filter.Attributes, want) {
		t.Errorf("filter = %v; want %v", cfg.Filter.Attributes, want)
	}

	env["OVERRIDER_PORT"] = "eighty"
	if err := DefaultConfig().ApplyEnv(lookup); !errors.Is(err, ErrInvalid) {
		t.Errorf("ApplyEnv(bad port) = %v; want ErrInvalid", err)
	}
}

func TestFindConfigFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(nested); got != "" {
		t.Fatalf("FindConfigFile() = %q before writing", got)
	}

	path := filepath.Join(root, ConfigFileName)
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig() = %v", err)
	}
	if got := FindConfigFile(nested); got != path {
		t.Errorf("FindConfigFile() = %q; want %q", got, path)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile(default) = %v", err)
	}
	if cfg.Path != path || cfg.Proxy.Port != 7777 || cfg.Store.Dir != ".overrider/store" {
		t.Errorf("default file parsed as %+v / %+v", cfg.Proxy, cfg.Store)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`proxy { port 7000 }`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, EnvFileName), []byte("OVERRIDER_STORE_DIR=from-env\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OVERRIDER_STORE_DIR", "")
	os.Unsetenv("OVERRIDER_STORE_DIR")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Proxy.Port != 7000 {
		t.Errorf("port = %d; want 7000", cfg.Proxy.Port)
	}
	if cfg.Store.Dir != "from-env" {
		t.Errorf("store dir = %q; want from-env", cfg.Store.Dir)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), EnvFileName)); err != nil {
		t.Errorf("LoadEnvFile(missing) = %v", err)
	}
}
