package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrAmbiguous is returned by Resolve when no id is given and more than
	// one session is live.
	ErrAmbiguous = errors.New("several sessions are active; pass a session id")
)

// Registry tracks live sessions with lock-free lookups.
type Registry struct {
	sessions sync.Map // map[string]*Session

	totalRegistered   atomic.Int64
	totalUnregistered atomic.Int64
	activeCount       atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds s. Ids must be unique.
func (r *Registry) Register(s *Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if _, loaded := r.sessions.LoadOrStore(s.ID, s); loaded {
		return fmt.Errorf("session %q already exists", s.ID)
	}
	r.totalRegistered.Add(1)
	r.activeCount.Add(1)
	return nil
}

// Unregister removes the session with id.
func (r *Registry) Unregister(id string) error {
	if _, loaded := r.sessions.LoadAndDelete(id); !loaded {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	r.totalUnregistered.Add(1)
	r.activeCount.Add(-1)
	return nil
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Resolve returns the session with id, or the only live session when id is
// empty.
func (r *Registry) Resolve(id string) (*Session, error) {
	if id != "" {
		s, ok := r.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return s, nil
	}
	all := r.List()
	switch len(all) {
	case 0:
		return nil, fmt.Errorf("%w: no page is connected", ErrNotFound)
	case 1:
		return all[0], nil
	default:
		return nil, ErrAmbiguous
	}
}

// List returns all sessions, oldest first.
func (r *Registry) List() []*Session {
	var out []*Session
	r.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ByURL returns the sessions editing url.
func (r *Registry) ByURL(url string) []*Session {
	var out []*Session
	for _, s := range r.List() {
		if s.URL == url {
			out = append(out, s)
		}
	}
	return out
}

// CloseAll stops every session.
func (r *Registry) CloseAll() {
	r.sessions.Range(func(_, v any) bool {
		v.(*Session).Close()
		return true
	})
}

// ActiveCount returns the number of registered sessions.
func (r *Registry) ActiveCount() int64 { return r.activeCount.Load() }

// TotalRegistered returns how many sessions were ever registered.
func (r *Registry) TotalRegistered() int64 { return r.totalRegistered.Load() }

// TotalUnregistered returns how many sessions were removed.
func (r *Registry) TotalUnregistered() int64 { return r.totalUnregistered.Load() }
