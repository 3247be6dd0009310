package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/overrider/internal/config"
	"github.com/standardbeagle/overrider/internal/dom"
	"github.com/standardbeagle/overrider/internal/overrider"
	"github.com/standardbeagle/overrider/internal/render"
	"github.com/standardbeagle/overrider/internal/store"
)

var applyCmd = &cobra.Command{
	Use:   "apply <url-or-file>",
	Short: "Apply saved overrides to a page and write the result",
	Long: `Load a page, apply overrides to it and write the edited markup.

Overrides come from --overrides (a JSON or YAML file) or, by default, from
the store: the global, folder and page records for --url, which defaults to
the page URL.

Examples:
  overrider apply http://localhost:3000/pricing --out pricing.html
  overrider apply page.html --overrides edits.yaml
  overrider apply page.html --url http://localhost:3000/pricing
  overrider apply http://localhost:3000/app --render`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().String("overrides", "", "Overrides file (JSON or YAML) instead of the store")
	applyCmd.Flags().String("url", "", "Page URL to resolve stored overrides for (default: the source URL)")
	applyCmd.Flags().StringP("out", "o", "", "Output file (default: stdout)")
	applyCmd.Flags().Bool("render", false, "Render the page in headless Chrome before applying")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	source := args[0]
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetBool("render"); v {
		cfg.Render.Enabled = true
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	set, err := loadOverrides(ctx, cmd, cfg, source)
	if err != nil {
		return err
	}

	f, err := fetcher(cfg)
	if err != nil {
		return err
	}
	page, err := render.Load(ctx, source, f)
	if err != nil {
		return err
	}

	html, report, err := applyOverrides(page.HTML, set)
	if err != nil {
		return err
	}

	outPath, _ := cmd.Flags().GetString("out")
	if outPath == "" {
		_, err = io.WriteString(cmd.OutOrStdout(), html)
	} else {
		err = os.WriteFile(outPath, []byte(html), 0644)
	}
	if err != nil {
		return err
	}

	printReport(cmd.ErrOrStderr(), report)
	return nil
}

// loadOverrides reads --overrides or resolves the stored records for the
// page.
func loadOverrides(ctx context.Context, cmd *cobra.Command, cfg *config.Config, source string) (overrider.OverrideSet, error) {
	if path, _ := cmd.Flags().GetString("overrides"); path != "" {
		return store.ReadFile(path)
	}

	pageURL, _ := cmd.Flags().GetString("url")
	if pageURL == "" {
		if !render.IsURL(source) {
			return overrider.OverrideSet{}, errors.New("--url or --overrides required for a file source")
		}
		pageURL = source
	}

	s, err := openStore(cfg)
	if err != nil {
		return overrider.OverrideSet{}, err
	}
	defer s.Close()

	set, err := store.Resolve(ctx, s, pageURL)
	if errors.Is(err, store.ErrNotFound) {
		return overrider.OverrideSet{}, fmt.Errorf("no overrides stored for %s", store.NormalizeURL(pageURL))
	}
	if err != nil {
		return overrider.OverrideSet{}, err
	}
	return *set, nil
}

// applyOverrides applies set to markup and returns the edited document.
func applyOverrides(markup string, set overrider.OverrideSet) (string, overrider.ApplyReport, error) {
	doc, err := dom.ParseHTMLString(markup)
	if err != nil {
		return "", overrider.ApplyReport{}, err
	}
	report := overrider.New(doc).ApplyOverrides(set)
	html, err := doc.HTML()
	if err != nil {
		return "", report, err
	}
	return html, report, nil
}

func printReport(w io.Writer, report overrider.ApplyReport) {
	good.Fprintf(w, "applied %d", len(report.Applied))
	if len(report.Failed) == 0 {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprint(w, ", ")
	bad.Fprintf(w, "failed %d\n", len(report.Failed))

	failed := append([]string(nil), report.Failed...)
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(w, "  %s %s\n", warn.Sprint(id), subtle.Sprint(report.Errors[id]))
	}
}
