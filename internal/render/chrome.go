package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeFetcher renders pages in a fresh Chrome process per fetch.
type ChromeFetcher struct {
	// ExecPath overrides Chrome auto-detection.
	ExecPath  string
	UserAgent string
	Timeout   time.Duration
	Headless  bool
}

func (f *ChromeFetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(1280, 900),
	}
	if f.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if f.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.UserAgent))
	}
	if f.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.ExecPath))
	}
	return opts
}

func (f *ChromeFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	start := time.Now()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	defer allocCancel()

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tctx, cancel := context.WithTimeout(allocCtx, timeout)
	defer cancel()

	bctx, bcancel := chromedp.NewContext(tctx)
	defer bcancel()

	var html, finalURL string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return nil, fmt.Errorf("browser fetch %s: %w", url, err)
	}

	return &Page{
		HTML:      "<!DOCTYPE html>\n" + html,
		FinalURL:  finalURL,
		Rendered:  true,
		FetchTime: time.Since(start),
	}, nil
}
