package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/standardbeagle/overrider/internal/debug"
)

const (
	appName    = "overrider"
	appVersion = "0.1.0"
)

var (
	accent = color.New(color.FgHiCyan, color.Bold)
	subtle = color.New(color.FgHiBlack)
	good   = color.New(color.FgGreen)
	bad    = color.New(color.FgRed)
	warn   = color.New(color.FgYellow)
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Inspect and edit live pages through a reverse proxy",
	Long: `overrider serves a site through a reverse proxy that injects an element
editor. Pages opened through the proxy can be inspected and edited from the
browser, an embedding host page, or an AI agent over MCP. Edits are saved as
overrides and re-applied whenever the page is loaded again.

Examples:
  overrider serve --target http://localhost:3000
  overrider apply http://localhost:3000/pricing --out pricing.html
  overrider mcp
  overrider init`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if d, _ := cmd.Flags().GetBool("debug"); d {
			debug.Enable()
		}
		if !term.IsTerminal(int(os.Stderr.Fd())) {
			color.NoColor = true
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringP("dir", "C", "", "Project directory to read .overrider.kdl and .env from (default: current directory)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		bad.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
