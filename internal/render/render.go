// Package render loads page source for offline override application, either
// with a plain HTTP GET or by rendering the page in headless Chrome so
// script-generated markup is included.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultUserAgent = "overrider/1.0 (+https://github.com/standardbeagle/overrider)"

// ErrStatus is returned for non-2xx HTTP responses.
var ErrStatus = errors.New("unexpected HTTP status")

// Page is fetched page source.
type Page struct {
	HTML      string
	FinalURL  string
	Rendered  bool
	FetchTime time.Duration
}

// Fetcher retrieves the markup of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Options selects a fetcher.
type Options struct {
	Render     bool
	UserAgent  string
	Timeout    time.Duration
	ChromePath string
	Headless   bool
}

// DefaultOptions returns plain HTTP fetching with a 30s timeout.
func DefaultOptions() Options {
	return Options{
		UserAgent: defaultUserAgent,
		Timeout:   30 * time.Second,
		Headless:  true,
	}
}

// New returns a ChromeFetcher when opts.Render is set, else an HTTPFetcher.
func New(opts Options) Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Render {
		return &ChromeFetcher{
			ExecPath:  opts.ChromePath,
			UserAgent: opts.UserAgent,
			Timeout:   opts.Timeout,
			Headless:  opts.Headless,
		}
	}
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: opts.Timeout},
		UserAgent: opts.UserAgent,
	}
}

// IsURL reports whether source should be fetched rather than read from disk.
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Load fetches source with f when it is a URL and reads it from disk
// otherwise.
func Load(ctx context.Context, source string, f Fetcher) (*Page, error) {
	if IsURL(source) {
		return f.Fetch(ctx, source)
	}
	start := time.Now()
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	return &Page{HTML: string(data), FinalURL: source, FetchTime: time.Since(start)}, nil
}

// HTTPFetcher issues one GET per fetch.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrStatus, url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Page{
		HTML:      string(body),
		FinalURL:  resp.Request.URL.String(),
		FetchTime: time.Since(start),
	}, nil
}
