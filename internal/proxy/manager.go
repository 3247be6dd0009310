package proxy

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrProxyExists is returned when trying to create a proxy with an existing ID.
	ErrProxyExists = errors.New("proxy already exists")
	// ErrProxyNotFound is returned when a proxy ID is not found.
	ErrProxyNotFound = errors.New("proxy not found")
	// ErrProxyAmbiguous is returned when a fuzzy lookup matches multiple proxies.
	ErrProxyAmbiguous = errors.New("proxy ID is ambiguous - multiple matches")
	// ErrShuttingDown is returned by Create after Shutdown.
	ErrShuttingDown = errors.New("proxy manager is shutting down")
)

// Manager runs several proxies with lock-free lookups.
type Manager struct {
	proxies      sync.Map // map[string]*Server
	activeCount  atomic.Int64
	totalStarted atomic.Int64

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
}

// NewManager creates a new proxy manager.
func NewManager() *Manager {
	return &Manager{}
}

// Create creates and starts a new proxy server.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Server, error) {
	if m.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	srv, err := NewServer(cfg)
	if err != nil {
		return nil, err
	}
	if _, exists := m.proxies.Load(srv.ID); exists {
		return nil, ErrProxyExists
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	if _, loaded := m.proxies.LoadOrStore(srv.ID, srv); loaded {
		srv.Stop(ctx)
		return nil, ErrProxyExists
	}
	m.activeCount.Add(1)
	m.totalStarted.Add(1)
	return srv, nil
}

// Get retrieves a proxy by ID. Without an exact match, a proxy whose
// ":"-separated ID has id as one component is returned, so "3000" finds
// "localhost:3000".
func (m *Manager) Get(id string) (*Server, error) {
	if val, ok := m.proxies.Load(id); ok {
		return val.(*Server), nil
	}

	var matches []*Server
	m.proxies.Range(func(key, value any) bool {
		for _, part := range strings.Split(key.(string), ":") {
			if part == id {
				matches = append(matches, value.(*Server))
				break
			}
		}
		return true
	})

	switch len(matches) {
	case 0:
		return nil, ErrProxyNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, ErrProxyAmbiguous
	}
}

// Stop stops a proxy server and removes it from the registry.
func (m *Manager) Stop(ctx context.Context, id string) error {
	srv, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := srv.Stop(ctx); err != nil {
		return err
	}
	if _, loaded := m.proxies.LoadAndDelete(srv.ID); loaded {
		m.activeCount.Add(-1)
	}
	return nil
}

// List returns all managed proxy servers ordered by ID.
func (m *Manager) List() []*Server {
	var result []*Server
	m.proxies.Range(func(_, value any) bool {
		result = append(result, value.(*Server))
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ActiveCount returns the number of running proxies.
func (m *Manager) ActiveCount() int64 {
	return m.activeCount.Load()
}

// TotalStarted returns the total number of proxies ever started.
func (m *Manager) TotalStarted() int64 {
	return m.totalStarted.Load()
}

// StopAll stops every proxy in parallel and returns the stopped IDs. New
// proxies may be created afterwards.
func (m *Manager) StopAll(ctx context.Context) ([]string, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		stopped []string
	)

	for _, srv := range m.List() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := m.Stop(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			stopped = append(stopped, id)
		}(srv.ID)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), stopped...), errors.Join(append(errs, ctx.Err())...)
	}

	sort.Strings(stopped)
	return stopped, errors.Join(errs...)
}

// Shutdown stops all proxies and refuses new ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.shutdownOnce.Do(func() {
		m.shuttingDown.Store(true)
		_, err = m.StopAll(ctx)
	})
	return err
}
