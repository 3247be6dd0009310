// Package session runs one overrider per connected page. Every inbound
// message and every host call is processed on the session goroutine, in
// arrival order, and each runs to completion before the next starts.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/standardbeagle/overrider/internal/debug"
	"github.com/standardbeagle/overrider/internal/dom"
	"github.com/standardbeagle/overrider/internal/overrider"
	"github.com/standardbeagle/overrider/internal/protocol"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

const (
	defaultInboxSize  = 64
	defaultOutboxSize = 256
)

var (
	// ErrClosed is returned when submitting to a session that has stopped.
	ErrClosed = errors.New("session closed")

	// ErrNoDocument is returned by New without a document.
	ErrNoDocument = errors.New("session requires a document")
)

// Config describes a new session.
type Config struct {
	// ID defaults to a random UUID.
	ID  string
	URL string

	// Document is the server-side mirror of the page.
	Document *dom.HTMLDocument

	// Overrides are applied once when the loop starts.
	Overrides *overrider.OverrideSet

	// FilteredAttributes extends the edit-node attribute filter.
	FilteredAttributes []string

	// OnSave is called on the session goroutine for every save-node.
	OnSave func(url string, dump overrider.Dump)

	InboxSize  int
	OutboxSize int
}

type job struct {
	raw  []byte
	fn   func(*overrider.Overrider) error
	done chan error
}

// Session owns one Overrider and the goroutine that drives it.
type Session struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"started_at"`

	ov      *overrider.Overrider
	mirror  *dom.HTMLDocument
	initial *overrider.OverrideSet
	onSave  func(string, overrider.Dump)

	inbox   chan job
	outbox  chan protocol.Message
	pending []dom.Patch

	closeOnce sync.Once
	closing   chan struct{}
	stopped   chan struct{}

	processed atomic.Int64
	failed    atomic.Int64

	mu       sync.RWMutex
	status   Status
	lastSeen time.Time
	selected string
	nodes    int
}

// New builds a session. Call Run to start processing.
func New(cfg Config) (*Session, error) {
	if cfg.Document == nil {
		return nil, ErrNoDocument
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutboxSize
	}

	now := time.Now()
	s := &Session{
		ID:        cfg.ID,
		URL:       cfg.URL,
		StartedAt: now,
		mirror:    cfg.Document,
		initial:   cfg.Overrides,
		onSave:    cfg.OnSave,
		inbox:     make(chan job, cfg.InboxSize),
		outbox:    make(chan protocol.Message, cfg.OutboxSize),
		closing:   make(chan struct{}),
		stopped:   make(chan struct{}),
		status:    StatusActive,
		lastSeen:  now,
	}

	rec := dom.NewRecorder(cfg.Document, func(p dom.Patch) {
		s.pending = append(s.pending, p)
	})
	s.ov = overrider.New(rec,
		overrider.WithEmitter(s.emit),
		overrider.WithFilteredAttributes(cfg.FilteredAttributes...),
	)
	// Link stripping at construction only concerns the mirror; the agent
	// strips its own copy.
	s.pending = nil
	return s, nil
}

// Run processes jobs until ctx is cancelled or Close is called.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.setStatus(StatusClosed)
	defer close(s.outbox)

	if s.initial != nil {
		report := s.ov.ApplyOverrides(*s.initial)
		debug.Log("session", "%s: auto-applied %d overrides (%d failed)", s.ID, len(report.Applied), len(report.Failed))
		s.flush(ctx)
		s.send(ctx, protocol.Message{Action: protocol.ActionApplyReport, Data: report})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closing:
			return nil
		case j := <-s.inbox:
			err := s.handle(ctx, j)
			if j.done != nil {
				j.done <- err
			}
		}
	}
}

// Close stops the loop. Pending jobs are dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// Outbound carries messages for the page agent. It is closed when Run returns.
func (s *Session) Outbound() <-chan protocol.Message { return s.outbox }

// Submit queues one raw wire message.
func (s *Session) Submit(ctx context.Context, raw []byte) error {
	return s.enqueue(ctx, job{raw: raw})
}

// Exec runs fn on the session goroutine and waits for it. Events and patches
// produced by fn are delivered like those of wire messages.
func (s *Session) Exec(ctx context.Context, fn func(*overrider.Overrider) error) error {
	done := make(chan error, 1)
	if err := s.enqueue(ctx, job{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch runs one command through Exec.
func (s *Session) Dispatch(ctx context.Context, cmd overrider.Command) error {
	return s.Exec(ctx, func(o *overrider.Overrider) error { return o.Dispatch(cmd) })
}

func (s *Session) enqueue(ctx context.Context, j job) error {
	select {
	case <-s.closing:
		return ErrClosed
	case <-s.stopped:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- j:
		return nil
	case <-s.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) handle(ctx context.Context, j job) error {
	var err error
	if j.fn != nil {
		err = j.fn(s.ov)
	} else {
		err = s.handleRaw(ctx, j.raw)
	}
	s.flush(ctx)

	s.processed.Add(1)
	if err != nil {
		s.failed.Add(1)
	}

	s.mu.Lock()
	s.lastSeen = time.Now()
	s.selected = s.ov.SelectedID()
	s.nodes = s.ov.Store().Len()
	s.mu.Unlock()
	return err
}

func (s *Session) handleRaw(ctx context.Context, raw []byte) error {
	cmd, err := protocol.Decode(raw)
	if errors.Is(err, protocol.ErrUnknownAction) {
		debug.Log("session", "%s: ignoring %v", s.ID, err)
		return nil
	}
	if err != nil {
		debug.Warn("session", "%s: %v", s.ID, err)
		s.send(ctx, protocol.Error("", err))
		return err
	}

	debug.Trace("session", "%s: %s", s.ID, cmd.Action())
	if err := s.ov.Dispatch(cmd); err != nil {
		debug.Log("session", "%s: %s failed: %v", s.ID, cmd.Action(), err)
		s.flush(ctx)
		s.send(ctx, protocol.Error(cmd.Action(), err))
		return err
	}
	return nil
}

// emit runs inside Dispatch, on the session goroutine.
func (s *Session) emit(e overrider.Event) {
	ctx := context.Background()
	s.flush(ctx)

	if save, ok := e.(overrider.SaveOverridesEvent); ok && s.onSave != nil {
		s.onSave(s.URL, save.Dump)
	}

	msg, err := protocol.Encode(e)
	if err != nil {
		debug.Error("session", "%s: %v", s.ID, err)
		return
	}
	s.send(ctx, msg)
}

func (s *Session) flush(ctx context.Context) {
	if len(s.pending) == 0 {
		return
	}
	ps := s.pending
	s.pending = nil
	s.send(ctx, protocol.Patches(ps))
}

// send blocks while the outbox is full, so a slow reader applies back
// pressure to the loop instead of losing ordered patches.
func (s *Session) send(ctx context.Context, msg protocol.Message) {
	select {
	case s.outbox <- msg:
	case <-s.closing:
	case <-ctx.Done():
	}
}

// HTML renders the current mirror document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var out string
	err := s.Exec(ctx, func(*overrider.Overrider) error {
		var err error
		out, err = s.mirror.HTML()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("render session %s: %w", s.ID, err)
	}
	return out, nil
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Info is a point-in-time summary of a session.
type Info struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen"`
	Selected  string    `json:"selected,omitempty"`
	Nodes     int       `json:"nodes"`
	Processed int64     `json:"processed"`
	Failed    int64     `json:"failed"`
}

// Info returns a summary safe to call from any goroutine.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:        s.ID,
		URL:       s.URL,
		Status:    s.status,
		StartedAt: s.StartedAt,
		LastSeen:  s.lastSeen,
		Selected:  s.selected,
		Nodes:     s.nodes,
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
	}
}
