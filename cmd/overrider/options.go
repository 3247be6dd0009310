package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/overrider/internal/config"
	"github.com/standardbeagle/overrider/internal/proxy"
	"github.com/standardbeagle/overrider/internal/render"
	"github.com/standardbeagle/overrider/internal/session"
	"github.com/standardbeagle/overrider/internal/store"
)

// projectDir returns the --dir flag or the working directory.
func projectDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, err := projectDir(cmd)
	if err != nil {
		return nil, err
	}
	return config.Load(dir)
}

func openStore(cfg *config.Config) (store.Store, error) {
	ttl, err := cfg.Store.TTLDuration()
	if err != nil {
		return nil, err
	}
	// A relative store dir is relative to the config file.
	dir := cfg.Store.Dir
	if dir != "" && !filepath.IsAbs(dir) && cfg.Path != "" {
		dir = filepath.Join(filepath.Dir(cfg.Path), dir)
	}
	s, err := store.Open(store.Options{
		Backend:  cfg.Store.Backend,
		Dir:      dir,
		RedisURL: cfg.Store.RedisURL,
		TTL:      ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	return s, nil
}

func fetcher(cfg *config.Config) (render.Fetcher, error) {
	timeout, err := cfg.Render.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	opts := render.DefaultOptions()
	opts.Render = cfg.Render.Enabled
	opts.ChromePath = cfg.Render.ChromePath
	opts.Headless = cfg.Render.Headless
	if cfg.Render.UserAgent != "" {
		opts.UserAgent = cfg.Render.UserAgent
	}
	if timeout > 0 {
		opts.Timeout = timeout
	}
	return render.New(opts), nil
}

// proxyConfig maps the loaded config onto proxy settings. Target is left to
// the caller when cfg has none.
func proxyConfig(cfg *config.Config, s store.Store, sessions *session.Registry) proxy.Config {
	return proxy.Config{
		TargetURL:          cfg.Proxy.Target,
		Host:               cfg.Proxy.Host,
		ListenPort:         cfg.Proxy.Port,
		AutoRestart:        cfg.Proxy.AutoRestart,
		MaxRestarts:        cfg.Proxy.MaxRestarts,
		Store:              s,
		AutoApply:          cfg.Overrides.AutoApply,
		Persist:            cfg.Overrides.Persist,
		Sessions:           sessions,
		FilteredAttributes: cfg.Filter.Attributes,
	}
}
