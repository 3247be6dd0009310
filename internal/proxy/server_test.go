package proxy

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/overrider/internal/overrider"
	"github.com/standardbeagle/overrider/internal/proxy/scripts"
	"github.com/standardbeagle/overrider/internal/store"
)

const testPage = `<!DOCTYPE html><html><head><title>T</title></head><body>
<div data-id="n1" class="card">hello</div>
<a data-id="n2" href="/next">next</a>
</body></html>`

func newTarget(t *testing.T, gz bool) *httptest.Server {
	t.Helper()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data.json":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"ok":true}`)
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			if gz {
				w.Header().Set("Content-Encoding", "gzip")
				zw := gzip.NewWriter(w)
				io.WriteString(zw, testPage)
				zw.Close()
				return
			}
			io.WriteString(w, testPage)
		}
	}))
	t.Cleanup(target.Close)
	return target
}

type harness struct {
	srv    *Server
	front  *httptest.Server
	target *httptest.Server
	store  store.Store
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	target := newTarget(t, true)
	st := store.NewFileStore(t.TempDir())
	cfg := Config{
		TargetURL: target.URL,
		Store:     st,
		AutoApply: true,
		Persist:   true,

		ReattachGrace: 50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	front := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.releaseAll()
		srv.Sessions().CloseAll()
		front.Close()
	})
	return &harness{srv: srv, front: front, target: target, store: st}
}

type wireMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

func (h *harness) dial(t *testing.T, page string) *websocket.Conn {
	t.Helper()
	return h.dialSession(t, page, "")
}

// dialSession connects an agent that identifies its page load with token.
func (h *harness) dialSession(t *testing.T, page, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.front.URL, "http") + BasePath + "/ws?url=" + url.QueryEscape(h.front.URL+page)
	if token != "" {
		wsURL += "&session=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one with action arrives.
func readUntil(t *testing.T, conn *websocket.Conn, action string) (wireMessage, []wireMessage) {
	t.Helper()
	var seen []wireMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v (seen %d messages)", action, err, len(seen))
		}
		seen = append(seen, msg)
		if msg.Action == action {
			return msg, seen
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("WriteMessage(%s) error = %v", msg, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_InjectsAgent(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.front.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.Header.Get("Content-Encoding") != "" {
		t.Error("Content-Encoding should be dropped after injection")
	}
	if !bytes.Contains(body, []byte(scripts.Tag())) {
		t.Errorf("agent not injected: %s", body)
	}
	if !bytes.Contains(body, []byte(`<div data-id="n1" class="card">hello</div>`)) {
		t.Error("page content lost")
	}
	if h.srv.pages.Len() != 1 {
		t.Errorf("cached pages = %d; want 1", h.srv.pages.Len())
	}

	resp, err = http.Get(h.front.URL + "/data.json")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `{"ok":true}` {
		t.Errorf("non-HTML body modified: %s", body)
	}

	resp, err = http.Get(h.front.URL + scripts.AgentPath)
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "javascript") || string(body) != scripts.Agent() {
		t.Errorf("agent script not served: %s", resp.Header.Get("Content-Type"))
	}
}

func TestServer_TargetDown(t *testing.T) {
	srv, err := NewServer(Config{TargetURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d; want 502", rec.Code)
	}
}

func TestNewServer_InvalidTarget(t *testing.T) {
	for _, target := range []string{"", "localhost:3000", "://bad"} {
		if _, err := NewServer(Config{TargetURL: target}); err == nil {
			t.Errorf("NewServer(%q) should fail", target)
		}
	}
}

func TestWebSocket_EditAndSave(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "/")

	send(t, conn, `{"action":"select-node","id":"n1"}`)
	msg, _ := readUntil(t, conn, "edit-node")
	var snap overrider.NodeSnapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID != "n1" || snap.TagName != "div" || snap.HTMLContent != "hello" {
		t.Errorf("edit-node = %+v", snap)
	}

	send(t, conn, `{"action":"set-tag-name","tagName":"span"}`)
	_, seen := readUntil(t, conn, "edit-node")
	var patched bool
	for _, m := range seen {
		if m.Action == "patch" && strings.Contains(string(m.Data), `"op":"replace-tag"`) {
			patched = true
		}
	}
	if !patched {
		t.Error("expected a replace-tag patch before edit-node")
	}

	send(t, conn, `{"action":"set-inline-css"}`)
	send(t, conn, `{"action":"bogus"}`)
	send(t, conn, `{"action":"save-node"}`)
	readUntil(t, conn, "save-overrides")

	pageURL := h.target.URL + "/"
	rec, err := h.store.Get(context.Background(), store.ScopePage, pageURL)
	if err != nil {
		t.Fatalf("store.Get(%s) error = %v", pageURL, err)
	}
	p, ok := rec.Overrides.Nodes["n1"]
	if !ok || p.TagName == nil || *p.TagName != "span" {
		t.Errorf("stored overrides = %+v", rec.Overrides)
	}

	// The mirror reflects the edit.
	sessions := h.srv.Sessions().List()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d; want 1", len(sessions))
	}
	html, err := sessions[0].HTML(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, `<span data-id="n1" class="card"`) {
		t.Errorf("mirror = %s", html)
	}
	if strings.Contains(html, `href="/next"`) {
		t.Error("mirror links should be stripped")
	}
}

func TestWebSocket_ErrorsReachHost(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "/")

	send(t, conn, `{"action":"set-html-content","htmlContent":"x"}`)
	msg, _ := readUntil(t, conn, "error")
	if !strings.Contains(string(msg.Data), "set-html-content") || !strings.Contains(string(msg.Data), overrider.ErrNoSelection.Error()) {
		t.Errorf("error data = %s", msg.Data)
	}
}

func TestWebSocket_AutoApply(t *testing.T) {
	h := newHarness(t, nil)
	span := "span"
	_, err := h.store.Put(context.Background(), store.ScopePage, h.target.URL+"/", overrider.OverrideSet{
		Nodes: map[string]overrider.OverridePayload{"n1": {TagName: &span}},
	})
	if err != nil {
		t.Fatal(err)
	}

	conn := h.dial(t, "/")
	msg, seen := readUntil(t, conn, "apply-report")
	var report overrider.ApplyReport
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		t.Fatal(err)
	}
	if !report.OK() || len(report.Applied) != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(seen) < 3 || seen[0].Action != ActionSession || seen[1].Action != "patch" {
		t.Errorf("expected session then patches before apply-report, got %v", seen)
	}
}

func TestWebSocket_MissingURL(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := http.Get(h.front.URL + BasePath + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", resp.StatusCode)
	}
}

func TestWebSocket_SessionClosesWithConnection(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "/")
	waitFor(t, "session registration", func() bool { return h.srv.Sessions().ActiveCount() == 1 })

	conn.Close()
	waitFor(t, "session removal", func() bool { return h.srv.Sessions().ActiveCount() == 0 })
}

func readHello(t *testing.T, conn *websocket.Conn) sessionHello {
	t.Helper()
	msg, _ := readUntil(t, conn, ActionSession)
	var hello sessionHello
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		t.Fatal(err)
	}
	return hello
}

func TestWebSocket_ReconnectResumesSession(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.ReattachGrace = 5 * time.Second
		cfg.Persist = false
	})
	const token = "3f2a9c1e-page-load"

	conn := h.dialSession(t, "/", token)
	if hello := readHello(t, conn); hello.ID != token || hello.Resumed || hello.Editing {
		t.Errorf("first hello = %+v", hello)
	}
	send(t, conn, `{"action":"initOverride"}`)
	readUntil(t, conn, "editing")
	send(t, conn, `{"action":"select-node","id":"n1"}`)
	readUntil(t, conn, "edit-node")
	send(t, conn, `{"action":"set-tag-name","tagName":"span"}`)
	readUntil(t, conn, "edit-node")
	conn.Close()

	// Another agent cannot take a session that is still attached, so wait
	// for the server to notice the drop.
	var again *websocket.Conn
	waitFor(t, "reattach", func() bool {
		wsURL := "ws" + strings.TrimPrefix(h.front.URL, "http") + BasePath + "/ws?url=" + url.QueryEscape(h.front.URL+"/") + "&session=" + token
		c, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			if resp != nil && resp.StatusCode != http.StatusConflict {
				t.Fatalf("reconnect status = %d", resp.StatusCode)
			}
			return false
		}
		again = c
		return true
	})
	t.Cleanup(func() { again.Close() })

	hello := readHello(t, again)
	if hello.ID != token || !hello.Resumed || !hello.Editing {
		t.Errorf("resumed hello = %+v", hello)
	}
	if n := h.srv.Sessions().ActiveCount(); n != 1 {
		t.Errorf("active sessions = %d; want 1", n)
	}

	send(t, again, `{"action":"save-node"}`)
	msg, _ := readUntil(t, again, "save-overrides")
	var dump overrider.Dump
	if err := json.Unmarshal(msg.Data, &dump); err != nil {
		t.Fatal(err)
	}
	if nd, ok := dump.Nodes["n1"]; !ok || nd.TagName != "span" || !nd.IsModified {
		t.Errorf("save-overrides = %s", msg.Data)
	}
}

func TestWebSocket_UnknownTokenStartsFresh(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dialSession(t, "/", "not-seen-before")
	if hello := readHello(t, conn); hello.Resumed || hello.ID != "not-seen-before" {
		t.Errorf("hello = %+v", hello)
	}

	// Malformed tokens are ignored and a random id is used.
	bad := h.dialSession(t, "/", "x")
	if hello := readHello(t, bad); hello.Resumed || hello.ID == "x" || hello.ID == "" {
		t.Errorf("hello = %+v", hello)
	}
}

func TestModifyResponse_BadGzipPassesThrough(t *testing.T) {
	garbage := []byte("this is not gzip at all")
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(garbage)
	}))
	t.Cleanup(target.Close)

	srv, err := NewServer(Config{TargetURL: target.URL})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !bytes.Equal(rec.Body.Bytes(), garbage) {
		t.Errorf("body = %q; want %q", rec.Body.Bytes(), garbage)
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Error("Content-Encoding should be left alone")
	}
	if srv.pages.Len() != 0 {
		t.Error("undecodable page should not be cached")
	}
}

func TestAPI_Sessions(t *testing.T) {
	h := newHarness(t, nil)
	h.dial(t, "/")
	waitFor(t, "session registration", func() bool { return h.srv.Sessions().ActiveCount() == 1 })

	var list struct {
		Count    int `json:"count"`
		Sessions []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"sessions"`
	}
	getJSON(t, h.front.URL+BasePath+"/api/sessions", http.StatusOK, &list)
	if list.Count != 1 || list.Sessions[0].URL != h.target.URL+"/" {
		t.Fatalf("sessions = %+v", list)
	}
	id := list.Sessions[0].ID

	resp, err := http.Post(h.front.URL+BasePath+"/api/sessions/"+id+"/commands", "application/json",
		strings.NewReader(`{"action":"select-node","id":"n1"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("select-node status = %d", resp.StatusCode)
	}

	resp, err = http.Post(h.front.URL+BasePath+"/api/sessions/"+id+"/commands", "application/json",
		strings.NewReader(`{"action":"select-node","id":"missing"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("select missing status = %d; want 422", resp.StatusCode)
	}

	resp, err = http.Get(h.front.URL + BasePath + "/api/sessions/" + id + "/html")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `data-id="n1"`) {
		t.Errorf("html = %s", body)
	}

	getJSON(t, h.front.URL+BasePath+"/api/sessions/nope", http.StatusNotFound, nil)
}

func TestAPI_Overrides(t *testing.T) {
	h := newHarness(t, nil)
	pageURL := url.QueryEscape(h.target.URL + "/docs/a")
	base := h.front.URL + BasePath + "/api/overrides"

	getJSON(t, base+"?url="+pageURL, http.StatusNotFound, nil)
	getJSON(t, base, http.StatusBadRequest, nil)

	req, _ := http.NewRequest(http.MethodPut, base+"?url="+pageURL, strings.NewReader(`{"n1":{"inlineCSS":"color: red"}}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPut, base+"?scope=global", strings.NewReader(`{"globalCSS":"body{}"}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var merged overrider.OverrideSet
	getJSON(t, base+"?url="+pageURL, http.StatusOK, &merged)
	if merged.Len() != 1 || merged.GlobalCSS == nil || *merged.GlobalCSS != "body{}" {
		t.Errorf("merged = %+v", merged)
	}

	var rec store.Record
	getJSON(t, base+"?scope=page&url="+pageURL, http.StatusOK, &rec)
	if rec.Scope != store.ScopePage || rec.Overrides.Len() != 1 {
		t.Errorf("record = %+v", rec)
	}

	var list struct {
		Count int `json:"count"`
	}
	getJSON(t, base+"/page", http.StatusOK, &list)
	if list.Count != 1 {
		t.Errorf("page records = %d; want 1", list.Count)
	}
	getJSON(t, base+"/nonsense", http.StatusBadRequest, nil)

	req, _ = http.NewRequest(http.MethodDelete, base+"?url="+pageURL, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d", resp.StatusCode)
	}
	getJSON(t, base+"?scope=page&url="+pageURL, http.StatusNotFound, nil)
}

func TestAPI_NoStore(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Store = nil })
	getJSON(t, h.front.URL+BasePath+"/api/overrides?url=x", http.StatusServiceUnavailable, nil)
}

func getJSON(t *testing.T, u string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s status = %d; want %d (%s)", u, resp.StatusCode, wantStatus, body)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", u, err)
		}
	}
}

func TestServer_AutoRestart(t *testing.T) {
	target := newTarget(t, false)
	srv, err := NewServer(Config{
		TargetURL:   target.URL,
		Host:        "127.0.0.1",
		ListenPort:  0,
		AutoRestart: true,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop(ctx)
	<-srv.Ready()

	// Simulate a crash
	srv.mu.Lock()
	srv.httpServer.Close()
	srv.mu.Unlock()

	waitFor(t, "restart", func() bool { return srv.Stats().RestartCount == 1 && srv.IsRunning() })

	resp, err := http.Get(srv.URL() + "/")
	if err != nil {
		t.Fatalf("GET after restart: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status after restart = %d", resp.StatusCode)
	}
}

func TestServer_NoAutoRestart(t *testing.T) {
	target := newTarget(t, false)
	srv, err := NewServer(Config{TargetURL: target.URL, Host: "127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv.mu.Lock()
	srv.httpServer.Close()
	srv.mu.Unlock()

	waitFor(t, "stop", func() bool { return !srv.IsRunning() })
	if srv.Stats().LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestManager(t *testing.T) {
	target := newTarget(t, false)
	m := NewManager()
	ctx := context.Background()

	srv, err := m.Create(ctx, Config{ID: "site:3000", TargetURL: target.URL, Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.Create(ctx, Config{ID: "site:3000", TargetURL: target.URL, Host: "127.0.0.1"}); !errors.Is(err, ErrProxyExists) {
		t.Errorf("duplicate Create() = %v; want ErrProxyExists", err)
	}

	for _, id := range []string{"site:3000", "site", "3000"} {
		got, err := m.Get(id)
		if err != nil || got != srv {
			t.Errorf("Get(%q) = %v, %v", id, got, err)
		}
	}
	if _, err := m.Get("other"); !errors.Is(err, ErrProxyNotFound) {
		t.Errorf("Get(other) = %v; want ErrProxyNotFound", err)
	}

	if _, err := m.Create(ctx, Config{ID: "site:4000", TargetURL: target.URL, Host: "127.0.0.1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("site"); !errors.Is(err, ErrProxyAmbiguous) {
		t.Errorf("Get(site) = %v; want ErrProxyAmbiguous", err)
	}
	if m.ActiveCount() != 2 || m.TotalStarted() != 2 {
		t.Errorf("counts = %d/%d", m.ActiveCount(), m.TotalStarted())
	}

	stopped, err := m.StopAll(ctx)
	if err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if len(stopped) != 2 || m.ActiveCount() != 0 || len(m.List()) != 0 {
		t.Errorf("StopAll() = %v, active = %d", stopped, m.ActiveCount())
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(ctx, Config{TargetURL: target.URL}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Create after Shutdown = %v; want ErrShuttingDown", err)
	}
}
