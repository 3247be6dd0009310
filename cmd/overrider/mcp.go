package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/overrider/internal/debug"
	"github.com/standardbeagle/overrider/internal/proxy"
	"github.com/standardbeagle/overrider/internal/session"
	"github.com/standardbeagle/overrider/internal/tools"
)

const mcpInstructions = `Element editor for live web pages.

Start a proxy for the site under development, open the returned URL in a
browser, then inspect and edit elements by their data-id attribute.

Available tools:
- proxy: Start, stop and list editing proxies
- sessions: List connected pages and render their current markup
- node: Select and edit elements of a connected page
- overrides: Read, store and apply saved overrides per page, folder or globally`

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Run an MCP server over stdio exposing the proxy, sessions, node and
overrides tools. When proxy.target is configured, a proxy for it is started
immediately.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessions := session.NewRegistry()
	defaults := proxyConfig(cfg, s, sessions)
	defaults.TargetURL = ""
	defaults.Fetcher = f

	t := &tools.Tools{
		Sessions:      sessions,
		Store:         s,
		Proxies:       proxy.NewManager(),
		ProxyDefaults: defaults,
	}

	if cfg.Proxy.Target != "" {
		pcfg := defaults
		pcfg.TargetURL = cfg.Proxy.Target
		if srv, err := t.Proxies.Create(ctx, pcfg); err != nil {
			log.Printf("[WARN] proxy for %s not started: %v", cfg.Proxy.Target, err)
		} else {
			log.Printf("Proxy %s -> %s", srv.URL(), cfg.Proxy.Target)
		}
	}

	server := mcp.NewServer(
		&mcp.Implementation{Name: appName, Version: appVersion},
		&mcp.ServerOptions{Instructions: mcpInstructions},
	)
	tools.Register(server, t)

	// Stdout carries the protocol.
	log.SetOutput(os.Stderr)
	if debug.IsEnabled() {
		if err := debug.SetLogFile("mcp.log"); err != nil {
			log.Printf("[WARN] %v", err)
		}
	}
	log.Printf("Starting %s v%s", appName, appVersion)

	runErr := server.Run(ctx, &mcp.StdioTransport{})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := t.Proxies.Shutdown(shutdownCtx); err != nil {
		log.Printf("Proxy manager shutdown error: %v", err)
	}
	sessions.CloseAll()

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	log.Println("Server shutdown complete")
	return nil
}
