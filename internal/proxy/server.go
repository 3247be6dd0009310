// Package proxy serves a target site through a reverse proxy that injects
// the page agent, mirrors each connected page in a session and exposes a
// small control API.
package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/standardbeagle/overrider/internal/debug"
	"github.com/standardbeagle/overrider/internal/proxy/scripts"
	"github.com/standardbeagle/overrider/internal/render"
	"github.com/standardbeagle/overrider/internal/session"
	"github.com/standardbeagle/overrider/internal/store"
)

const (
	// BasePath prefixes every route the proxy handles itself.
	BasePath = "/__overrider"

	defaultMaxRestarts = 5
	restartWindow      = time.Minute
	storeTimeout       = 5 * time.Second
)

// Config holds configuration for creating a proxy server.
type Config struct {
	// ID defaults to the target host.
	ID         string
	TargetURL  string
	Host       string
	ListenPort int

	AutoRestart bool
	MaxRestarts int

	// Store persists saved overrides; nil disables persistence.
	Store store.Store
	// AutoApply applies stored overrides when a page session starts.
	AutoApply bool
	// Persist writes every save-node dump to the page scope.
	Persist bool

	// Sessions is shared with other proxies when set.
	Sessions *session.Registry
	// Fetcher loads a page mirror when the page was not served through
	// the proxy. Defaults to a plain HTTP fetcher.
	Fetcher render.Fetcher

	FilteredAttributes []string

	// ReattachGrace is how long a session outlives its websocket so a
	// reconnecting agent can resume it. Zero means 30s, negative closes
	// sessions with their connection.
	ReattachGrace time.Duration
}

// Server is a reverse proxy that injects the page agent and bridges it to
// per-page sessions.
type Server struct {
	ID         string
	TargetURL  *url.URL
	ListenAddr string

	cfg        Config
	sessions   *session.Registry
	pages      *PageCache
	fetcher    render.Fetcher
	handler    http.Handler
	proxy      *httputil.ReverseProxy
	wsUpgrader websocket.Upgrader
	live       sync.Map // session id -> *pageSession

	httpServer *http.Server
	running    atomic.Bool
	startTime  time.Time
	requestSeq atomic.Int64
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	lastError  atomic.Value // string

	ready     chan struct{}
	readyOnce sync.Once

	restarts   []time.Time
	restartsMu sync.Mutex
}

// NewServer creates a proxy server. Call Start to listen, or mount Handler.
func NewServer(cfg Config) (*Server, error) {
	targetURL, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if targetURL.Scheme == "" || targetURL.Host == "" {
		return nil, fmt.Errorf("invalid target URL %q: scheme and host are required", cfg.TargetURL)
	}
	if cfg.ID == "" {
		cfg.ID = targetURL.Host
	}
	if cfg.ListenPort < 0 {
		cfg.ListenPort = 7777
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewRegistry()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = render.New(render.DefaultOptions())
	}

	s := &Server{
		ID:         cfg.ID,
		TargetURL:  targetURL,
		ListenAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.ListenPort)),
		cfg:        cfg,
		sessions:   cfg.Sessions,
		pages:      NewPageCache(100, 30*time.Minute),
		fetcher:    cfg.Fetcher,
		ready:      make(chan struct{}),
		restarts:   make([]time.Time, 0, cfg.MaxRestarts),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // development proxy
			},
		},
	}

	s.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(targetURL)
			pr.SetXForwarded()
		},
		ModifyResponse: s.modifyResponse,
		ErrorHandler:   s.errorHandler,
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get(scripts.AgentPath, s.handleAgent)
	r.Get(BasePath+"/ws", s.handleWebSocket)
	r.Route(BasePath+"/api", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sessions/{id}/html", s.handleSessionHTML)
		r.Post("/sessions/{id}/commands", s.handleSessionCommand)
		r.Post("/sessions/{id}/apply", s.handleSessionApply)
		r.Get("/overrides", s.handleGetOverrides)
		r.Put("/overrides", s.handlePutOverrides)
		r.Delete("/overrides", s.handleDeleteOverrides)
		r.Get("/overrides/{scope}", s.handleListOverrides)
		r.Get("/stats", s.handleStats)
	})
	r.Handle("/*", http.HandlerFunc(s.handleProxy))
	return r
}

// Handler returns the proxy's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Sessions returns the registry of connected pages.
func (s *Server) Sessions() *session.Registry { return s.sessions }

// Start begins serving.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("proxy server already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	// Try to bind to requested port first
	listener, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		if !isAddressInUse(err) {
			cancel()
			return fmt.Errorf("failed to listen on %s: %w", s.ListenAddr, err)
		}
		// Port is taken; let the OS pick one
		listener, err = net.Listen("tcp", net.JoinHostPort(s.cfg.Host, "0"))
		if err != nil {
			cancel()
			return fmt.Errorf("failed to find available port: %w", err)
		}
		log.Printf("[WARN] %s in use, proxy %s listening on %s", s.ListenAddr, s.ID, listener.Addr())
	}

	s.ListenAddr = listener.Addr().String()
	s.httpServer = s.newHTTPServer(ctx)
	s.startTime = time.Now()
	s.running.Store(true)

	s.readyOnce.Do(func() {
		close(s.ready)
	})

	debug.Info("proxy", "%s: %s -> %s", s.ID, s.ListenAddr, s.TargetURL)
	go s.runServer(ctx, listener)
	return nil
}

func (s *Server) newHTTPServer(ctx context.Context) *http.Server {
	return &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// runServer serves until shutdown, restarting after unexpected failures
// when auto-restart is enabled.
func (s *Server) runServer(ctx context.Context, listener net.Listener) {
	for {
		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()

		err := srv.Serve(listener)

		if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		s.running.Store(false)
		s.lastError.Store(err.Error())
		debug.Warn("proxy", "%s: server stopped: %v", s.ID, err)

		if !s.cfg.AutoRestart {
			return
		}
		if !s.shouldRestart() {
			s.lastError.Store(fmt.Sprintf("max restarts exceeded: %v", err))
			return
		}
		s.recordRestart()

		newListener, restartErr := net.Listen("tcp", s.ListenAddr)
		if restartErr != nil {
			s.lastError.Store(fmt.Sprintf("restart failed: %v (original: %v)", restartErr, err))
			return
		}
		listener = newListener

		s.mu.Lock()
		s.httpServer = s.newHTTPServer(ctx)
		s.mu.Unlock()
		s.running.Store(true)
		log.Printf("[WARN] proxy %s restarted on %s", s.ID, s.ListenAddr)
	}
}

// shouldRestart checks the restart rate limit.
func (s *Server) shouldRestart() bool {
	s.restartsMu.Lock()
	defer s.restartsMu.Unlock()
	s.restarts = recentRestarts(s.restarts, time.Now().Add(-restartWindow))
	return len(s.restarts) < s.cfg.MaxRestarts
}

func (s *Server) recordRestart() {
	s.restartsMu.Lock()
	defer s.restartsMu.Unlock()
	s.restarts = append(s.restarts, time.Now())
}

func recentRestarts(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// isAddressInUse checks if the error is due to address already in use.
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "bind") && strings.Contains(msg, "in use")
}

// Stop closes every page session and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return fmt.Errorf("proxy server not running")
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.releaseAll()

	err := s.httpServer.Shutdown(ctx)
	s.running.Store(false)
	return err
}

// IsRunning returns true if the proxy is listening.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// URL returns the public base URL of the proxy.
func (s *Server) URL() string {
	return "http://" + s.ListenAddr
}

func (s *Server) owns(pageURL string) bool {
	u, err := url.Parse(pageURL)
	return err == nil && u.Host == s.TargetURL.Host
}

// Stats holds proxy statistics.
type Stats struct {
	ID            string        `json:"id"`
	TargetURL     string        `json:"target_url"`
	ListenAddr    string        `json:"listen_addr"`
	Running       bool          `json:"running"`
	Uptime        time.Duration `json:"uptime"`
	TotalRequests int64         `json:"total_requests"`
	Sessions      int           `json:"sessions"`
	CachedPages   int           `json:"cached_pages"`
	LastError     string        `json:"last_error,omitempty"`
	RestartCount  int           `json:"restart_count"`
	AutoRestart   bool          `json:"auto_restart"`
}

// Stats returns proxy statistics.
func (s *Server) Stats() Stats {
	st := Stats{
		ID:            s.ID,
		TargetURL:     s.TargetURL.String(),
		ListenAddr:    s.ListenAddr,
		Running:       s.running.Load(),
		TotalRequests: s.requestSeq.Load(),
		CachedPages:   s.pages.Len(),
		AutoRestart:   s.cfg.AutoRestart,
	}
	if !s.startTime.IsZero() {
		st.Uptime = time.Since(s.startTime)
	}
	for _, sess := range s.sessions.List() {
		if s.owns(sess.URL) {
			st.Sessions++
		}
	}
	if v := s.lastError.Load(); v != nil {
		st.LastError = v.(string)
	}

	s.restartsMu.Lock()
	st.RestartCount = len(recentRestarts(append([]time.Time(nil), s.restarts...), time.Now().Add(-restartWindow)))
	s.restartsMu.Unlock()
	return st
}

// handleProxy forwards everything that is not an overrider route.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	seq := s.requestSeq.Add(1)
	debug.Trace("proxy", "%s: req-%d %s %s", s.ID, seq, r.Method, r.URL)
	s.proxy.ServeHTTP(w, r)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, scripts.Agent())
}

// modifyResponse records and injects HTML responses.
func (s *Server) modifyResponse(resp *http.Response) error {
	if !ShouldInject(resp.Header.Get("Content-Type")) {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		// Pass through untouched
		debug.Warn("proxy", "%s: decode body: %v", s.ID, err)
		return nil
	}

	if resp.StatusCode == http.StatusOK && resp.Request != nil && resp.Request.Method == http.MethodGet {
		s.pages.Put(pageKey(resp.Request.URL), body)
	}

	modified := InjectAgent(body)
	resp.Body = io.NopCloser(bytes.NewReader(modified))
	resp.ContentLength = int64(len(modified))
	resp.Header.Set("Content-Length", strconv.Itoa(len(modified)))
	resp.Header.Del("Content-Encoding")
	return nil
}

func (s *Server) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	debug.Warn("proxy", "%s: %s %s: %v", s.ID, r.Method, r.URL, err)
	http.Error(w, fmt.Sprintf("overrider: target %s unavailable: %v", s.TargetURL.Host, err), http.StatusBadGateway)
}

// decodeBody undoes a gzip or deflate Content-Encoding.
func decodeBody(encoding string, raw []byte) ([]byte, error) {
	encoding = strings.ToLower(encoding)
	var r io.ReadCloser
	switch {
	case strings.Contains(encoding, "gzip"):
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		r = gz
	case strings.Contains(encoding, "deflate"):
		r = flate.NewReader(bytes.NewReader(raw))
	default:
		return raw, nil
	}
	defer r.Close()
	return io.ReadAll(r)
}
