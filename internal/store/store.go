// Package store persists saved override sets. A record is addressed by a
// scope and a page URL: page records match one normalized URL, folder
// records match every page under a path prefix, and the global record
// matches every page.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/standardbeagle/overrider/internal/overrider"
)

// Scopes, from least to most specific.
const (
	ScopeGlobal = "global"
	ScopeFolder = "folder"
	ScopePage   = "page"
)

// Backend names accepted by Open.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// StoreDir is the default store directory, relative to the project root.
const StoreDir = ".overrider/store"

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("overrides not found")

	// ErrInvalidScope is returned for scopes other than global, folder or page.
	ErrInvalidScope = errors.New("invalid scope: must be global, folder, or page")

	// ErrUnknownBackend is returned by Open for unsupported backends.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Record is one persisted override set.
type Record struct {
	Scope     string                `json:"scope"`
	Key       string                `json:"key"`
	Overrides overrider.OverrideSet `json:"overrides"`
	Saves     int                   `json:"saves"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, scope, url string) (*Record, error)
	Put(ctx context.Context, scope, url string, set overrider.OverrideSet) (*Record, error)
	Delete(ctx context.Context, scope, url string) error
	List(ctx context.Context, scope string) ([]*Record, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Dir      string
	RedisURL string
	TTL      time.Duration
}

// Open returns the backend named in opts.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		dir := opts.Dir
		if dir == "" {
			dir = StoreDir
		}
		return NewFileStore(dir), nil
	case BackendRedis:
		return NewRedisStore(opts.RedisURL, opts.TTL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// ScopeKey returns the canonical key url is stored under in scope.
func ScopeKey(scope, url string) (string, error) {
	switch scope {
	case ScopeGlobal:
		return "", nil
	case ScopeFolder:
		return FolderKey(url), nil
	case ScopePage:
		return NormalizeURL(url), nil
	default:
		return "", ErrInvalidScope
	}
}

func newRecord(scope, key string, set overrider.OverrideSet, prev *Record) *Record {
	now := time.Now().UTC()
	r := &Record{
		Scope:     scope,
		Key:       key,
		Overrides: set,
		Saves:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev != nil {
		r.CreatedAt = prev.CreatedAt
		r.Saves = prev.Saves + 1
	}
	return r
}

// Resolve merges the global, folder and page records that apply to url.
// More specific scopes replace node entries and global CSS of broader ones.
// It returns ErrNotFound when no scope has a record.
func Resolve(ctx context.Context, s Store, url string) (*overrider.OverrideSet, error) {
	merged := overrider.OverrideSet{Nodes: make(map[string]overrider.OverridePayload)}
	found := false
	for _, scope := range []string{ScopeGlobal, ScopeFolder, ScopePage} {
		rec, err := s.Get(ctx, scope, url)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		if rec.Overrides.GlobalCSS != nil {
			css := *rec.Overrides.GlobalCSS
			merged.GlobalCSS = &css
		}
		for id, p := range rec.Overrides.Nodes {
			merged.Nodes[id] = p
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	return &merged, nil
}
