package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/overrider/internal/proxy"
	"github.com/standardbeagle/overrider/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a site through the editing proxy",
	Long: `Serve a target site through a reverse proxy that injects the overrider
agent into every HTML page.

Each browser tab opened through the proxy starts an editing session. Saved
edits are stored per page and applied again the next time the page loads.

Examples:
  overrider serve --target http://localhost:3000
  overrider serve --target http://localhost:3000 --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("target", "", "Target URL to proxy (overrides proxy.target)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides proxy.port)")
	serveCmd.Flags().String("host", "", "Listen host (overrides proxy.host)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("target"); v != "" {
		cfg.Proxy.Target = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Proxy.Port = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Proxy.Host = v
	}
	if cfg.Proxy.Target == "" {
		return errors.New("no target: pass --target or set proxy.target in .overrider.kdl")
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := fetcher(cfg)
	if err != nil {
		return err
	}

	pcfg := proxyConfig(cfg, s, session.NewRegistry())
	pcfg.Fetcher = f
	srv, err := proxy.NewServer(pcfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s -> %s\n", accent.Sprint(appName), good.Sprint(srv.URL()), cfg.Proxy.Target)
	if cfg.Path != "" {
		subtle.Fprintf(out, "config: %s\n", cfg.Path)
	}
	subtle.Fprintf(out, "store: %s", cfg.Store.Backend)
	if !cfg.Overrides.AutoApply {
		warn.Fprint(out, " (auto-apply off)")
	}
	fmt.Fprintln(out)

	<-ctx.Done()
	log.Println("Shutdown signal received, stopping proxy...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("Proxy shutdown error: %v", err)
	}
	return nil
}
