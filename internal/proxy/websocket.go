package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/overrider/internal/debug"
	"github.com/standardbeagle/overrider/internal/dom"
	"github.com/standardbeagle/overrider/internal/overrider"
	"github.com/standardbeagle/overrider/internal/protocol"
	"github.com/standardbeagle/overrider/internal/session"
	"github.com/standardbeagle/overrider/internal/store"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 << 20

	// ActionSession is sent to the agent first on every connection.
	ActionSession = "session"

	defaultReattachGrace = 30 * time.Second
)

var (
	errAttached = errors.New("session already has a connection")

	tokenPattern = regexp.MustCompile(`^[A-Za-z0-9-]{8,64}$`)
)

// pageSession is a session together with the connection state that lets a
// page agent reconnect to it after a dropped websocket.
type pageSession struct {
	sess   *session.Session
	cancel context.CancelFunc

	mu       sync.Mutex
	attached bool
	expired  bool
	timer    *time.Timer
	pending  *protocol.Message
}

func (ps *pageSession) takePending() *protocol.Message {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	msg := ps.pending
	ps.pending = nil
	return msg
}

func (ps *pageSession) setPending(msg protocol.Message) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pending = &msg
}

// sessionHello tells the agent which session it is talking to.
type sessionHello struct {
	ID      string `json:"id"`
	Resumed bool   `json:"resumed"`
	Editing bool   `json:"editing"`
}

// handleWebSocket bridges one page agent to a session. An agent that
// reconnects with the token of a session still inside its grace period is
// re-attached to it; otherwise a new session mirrors the page markup the
// proxy served (or fetches it).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageURL, key, err := s.resolvePage(q.Get("url"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token := q.Get("session")
	if !tokenPattern.MatchString(token) {
		token = ""
	}

	ps, err := s.claim(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	resumed := ps != nil

	var doc *dom.HTMLDocument
	if !resumed {
		doc, err = s.mirror(r.Context(), key, pageURL)
		if err != nil {
			debug.Warn("proxy", "%s: mirror %s: %v", s.ID, pageURL, err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if resumed {
			s.detach(ps)
		}
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	if !resumed {
		ps, err = s.open(r.Context(), token, pageURL, doc)
		if err != nil {
			debug.Error("proxy", "%s: session: %v", s.ID, err)
			return
		}
	}
	sess := ps.sess
	defer s.detach(ps)
	debug.Log("proxy", "%s: session %s attached for %s (resumed=%v)", s.ID, sess.ID, pageURL, resumed)

	hello := sessionHello{ID: sess.ID, Resumed: resumed}
	sess.Exec(r.Context(), func(o *overrider.Overrider) error {
		hello.Editing = o.Editing()
		return nil
	})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(protocol.Message{Action: ActionSession, Data: hello}); err != nil {
		return
	}

	// One writer per connection
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.pump(conn, ps, stop)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Log("proxy", "%s: session %s read: %v", s.ID, sess.ID, err)
			}
			break
		}
		if err := sess.Submit(r.Context(), raw); err != nil {
			break
		}
	}

	close(stop)
	conn.Close()
	<-writerDone
	debug.Log("proxy", "%s: session %s detached", s.ID, sess.ID)
}

// pump writes session output to conn until stop closes, the session ends or
// a write fails. A message that could not be written is kept for the next
// connection.
func (s *Server) pump(conn *websocket.Conn, ps *pageSession, stop <-chan struct{}) {
	defer conn.Close()
	write := func(msg protocol.Message) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			debug.Log("proxy", "%s: session %s write: %v", s.ID, ps.sess.ID, err)
			ps.setPending(msg)
			return false
		}
		return true
	}

	if msg := ps.takePending(); msg != nil && !write(*msg) {
		return
	}
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-ps.sess.Outbound():
			if !ok || !write(msg) {
				return
			}
		}
	}
}

// open creates, registers and starts a session for one page load. The
// session outlives the request; it ends when its grace period expires
// without a reconnect or the proxy stops.
func (s *Server) open(ctx context.Context, token, pageURL string, doc *dom.HTMLDocument) (*pageSession, error) {
	sess, err := session.New(session.Config{
		ID:                 token,
		URL:                pageURL,
		Document:           doc,
		Overrides:          s.storedOverrides(ctx, pageURL),
		FilteredAttributes: s.cfg.FilteredAttributes,
		OnSave:             s.persist,
	})
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Register(sess); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ps := &pageSession{sess: sess, cancel: cancel, attached: true}
	s.live.Store(sess.ID, ps)
	go sess.Run(runCtx)
	return ps, nil
}

// claim re-attaches the live session registered under token, if any.
func (s *Server) claim(token string) (*pageSession, error) {
	if token == "" {
		return nil, nil
	}
	v, ok := s.live.Load(token)
	if !ok {
		return nil, nil
	}
	ps := v.(*pageSession)

	select {
	case <-ps.sess.Done():
		s.release(ps)
		return nil, nil
	default:
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.expired {
		return nil, nil
	}
	if ps.attached {
		return nil, errAttached
	}
	ps.attached = true
	if ps.timer != nil {
		ps.timer.Stop()
		ps.timer = nil
	}
	return ps, nil
}

// detach marks ps unattached and closes it once the grace period passes
// without a reconnect.
func (s *Server) detach(ps *pageSession) {
	grace := s.cfg.ReattachGrace
	if grace == 0 {
		grace = defaultReattachGrace
	}

	ps.mu.Lock()
	ps.attached = false
	if grace < 0 {
		ps.mu.Unlock()
		s.release(ps)
		return
	}
	ps.timer = time.AfterFunc(grace, func() {
		ps.mu.Lock()
		idle := !ps.attached
		ps.mu.Unlock()
		if idle {
			s.release(ps)
		}
	})
	ps.mu.Unlock()
}

// release closes ps for good.
func (s *Server) release(ps *pageSession) {
	ps.mu.Lock()
	if ps.expired {
		ps.mu.Unlock()
		return
	}
	ps.expired = true
	if ps.timer != nil {
		ps.timer.Stop()
		ps.timer = nil
	}
	ps.mu.Unlock()

	ps.sess.Close()
	ps.cancel()
	s.live.CompareAndDelete(ps.sess.ID, ps)
	s.sessions.Unregister(ps.sess.ID)
	debug.Log("proxy", "%s: session %s closed", s.ID, ps.sess.ID)
}

// releaseAll closes every session this proxy opened.
func (s *Server) releaseAll() {
	s.live.Range(func(_, v any) bool {
		s.release(v.(*pageSession))
		return true
	})
}

// resolvePage maps the page address reported by the agent onto the target
// site. It returns the target URL of the page and its cache key.
func (s *Server) resolvePage(href string) (string, string, error) {
	if href == "" {
		return "", "", errors.New("url query parameter is required")
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", "", fmt.Errorf("invalid page url: %w", err)
	}
	key := pageKey(u)
	target := *s.TargetURL
	target.Path = u.Path
	target.RawPath = u.RawPath
	target.RawQuery = u.RawQuery
	target.Fragment = ""
	return target.String(), key, nil
}

// mirror parses the markup the proxy last served for key, fetching the page
// from the target when it is not cached.
func (s *Server) mirror(ctx context.Context, key, pageURL string) (*dom.HTMLDocument, error) {
	if html, ok := s.pages.Get(key); ok {
		return dom.ParseHTMLString(string(html))
	}
	page, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	s.pages.Put(key, []byte(page.HTML))
	return dom.ParseHTMLString(page.HTML)
}

func (s *Server) storedOverrides(ctx context.Context, pageURL string) *overrider.OverrideSet {
	if s.cfg.Store == nil || !s.cfg.AutoApply {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	set, err := store.Resolve(ctx, s.cfg.Store, pageURL)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			debug.Warn("proxy", "%s: load overrides for %s: %v", s.ID, pageURL, err)
		}
		return nil
	}
	return set
}

// persist runs on the session goroutine for every save-node.
func (s *Server) persist(pageURL string, dump overrider.Dump) {
	if s.cfg.Store == nil || !s.cfg.Persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	rec, err := s.cfg.Store.Put(ctx, store.ScopePage, pageURL, dump.Overrides())
	if err != nil {
		debug.Error("proxy", "%s: save overrides for %s: %v", s.ID, pageURL, err)
		return
	}
	debug.Log("proxy", "%s: saved %d overrides for %s (save #%d)", s.ID, rec.Overrides.Len(), pageURL, rec.Saves)
}
