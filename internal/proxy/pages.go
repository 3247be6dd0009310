package proxy

import (
	"net/url"
	"sync"
	"time"
)

// PageCache keeps the most recent un-injected HTML served for each page so
// a session can mirror exactly what the browser received.
type PageCache struct {
	mu      sync.Mutex
	entries map[string]*cachedPage
	order   []string // oldest first
	max     int
	ttl     time.Duration
	now     func() time.Time
}

type cachedPage struct {
	html     []byte
	storedAt time.Time
}

// NewPageCache creates a cache holding at most max pages for ttl each.
func NewPageCache(max int, ttl time.Duration) *PageCache {
	if max <= 0 {
		max = 100
	}
	return &PageCache{
		entries: make(map[string]*cachedPage),
		max:     max,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores html for key, evicting the oldest page when full.
func (c *PageCache) Put(key string, html []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.remove(key)
	}
	for len(c.order) >= c.max {
		c.remove(c.order[0])
	}
	buf := make([]byte, len(html))
	copy(buf, html)
	c.entries[key] = &cachedPage{html: buf, storedAt: c.now()}
	c.order = append(c.order, key)
}

// Get returns the cached html for key if it has not expired.
func (c *PageCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(p.storedAt) > c.ttl {
		c.remove(key)
		return nil, false
	}
	return p.html, true
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *PageCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// pageKey identifies a page by path and query, independent of the host it
// was requested through.
func pageKey(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}
