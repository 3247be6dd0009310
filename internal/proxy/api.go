package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/standardbeagle/overrider/internal/overrider"
	"github.com/standardbeagle/overrider/internal/protocol"
	"github.com/standardbeagle/overrider/internal/session"
	"github.com/standardbeagle/overrider/internal/store"
)

const maxBodySize = 4 << 20

var errNoStore = errors.New("no override store configured")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := []session.Info{}
	for _, sess := range s.sessions.List() {
		if s.owns(sess.URL) {
			infos = append(infos, sess.Info())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": infos,
		"count":    len(infos),
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := s.sessions.Get(id)
	if !ok || !s.owns(sess.URL) {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		writeJSON(w, http.StatusOK, sess.Info())
	}
}

func (s *Server) handleSessionHTML(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	html, err := sess.HTML(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, html)
}

// handleSessionCommand runs one wire message on a session and reports the
// outcome synchronously. Notifications still go to the page agent.
func (s *Server) handleSessionCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd, err := protocol.Decode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := sess.Dispatch(r.Context(), cmd); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, session.ErrClosed) {
			status = http.StatusGone
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// handleSessionApply applies the stored overrides for the session's page.
func (s *Server) handleSessionApply(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	set, err := s.resolveOverrides(r.Context(), sess.URL)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	report, err := applyOn(r.Context(), sess, *set)
	if err != nil {
		writeError(w, http.StatusGone, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func applyOn(ctx context.Context, sess *session.Session, set overrider.OverrideSet) (overrider.ApplyReport, error) {
	var report overrider.ApplyReport
	err := sess.Exec(ctx, func(o *overrider.Overrider) error {
		report = o.ApplyOverrides(set)
		return nil
	})
	return report, err
}

func (s *Server) resolveOverrides(ctx context.Context, pageURL string) (*overrider.OverrideSet, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return store.Resolve(ctx, s.cfg.Store, pageURL)
}

// overridesQuery reads url and scope. An empty scope means the merged view
// for reads and the page scope for writes.
func overridesQuery(r *http.Request) (pageURL, scope string, err error) {
	q := r.URL.Query()
	pageURL, scope = q.Get("url"), q.Get("scope")
	if scope != store.ScopeGlobal && pageURL == "" {
		return "", "", errors.New("url query parameter is required")
	}
	return pageURL, scope, nil
}

func (s *Server) handleGetOverrides(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	pageURL, scope, err := overridesQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if scope == "" {
		set, err := s.resolveOverrides(r.Context(), pageURL)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, set)
		return
	}
	rec, err := s.cfg.Store.Get(r.Context(), scope, pageURL)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePutOverrides(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	pageURL, scope, err := overridesQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if scope == "" {
		scope = store.ScopePage
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	set, err := store.ParseOverrides(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.cfg.Store.Put(r.Context(), scope, pageURL, set)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteOverrides(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	pageURL, scope, err := overridesQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if scope == "" {
		scope = store.ScopePage
	}
	if err := s.cfg.Store.Delete(r.Context(), scope, pageURL); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	recs, err := s.cfg.Store.List(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recs,
		"count":   len(recs),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidScope):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
