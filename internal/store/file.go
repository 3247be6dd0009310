package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/standardbeagle/overrider/internal/overrider"
)

// FileStore keeps one JSON file per record under dir/<scope>/.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore returns a store rooted at dir. Directories are created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(scope, key string) string {
	return filepath.Join(s.dir, scope, HashKey(key)+".json")
}

func (s *FileStore) Get(_ context.Context, scope, url string) (*Record, error) {
	key, err := ScopeKey(scope, url)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := loadRecord(s.path(scope, key))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, scope, key)
	}
	return rec, nil
}

func (s *FileStore) Put(_ context.Context, scope, url string, set overrider.OverrideSet) (*Record, error) {
	key, err := ScopeKey(scope, url)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(scope, key)
	prev, err := loadRecord(path)
	if err != nil {
		return nil, err
	}
	rec := newRecord(scope, key, set, prev)
	if err := saveRecord(path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) Delete(_ context.Context, scope, url string) error {
	key, err := ScopeKey(scope, url)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(scope, key)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s %s", ErrNotFound, scope, key)
		}
		return fmt.Errorf("failed to remove store file: %w", err)
	}
	return nil
}

// List returns every record in scope, ordered by key.
func (s *FileStore) List(_ context.Context, scope string) ([]*Record, error) {
	if _, err := ScopeKey(scope, ""); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, scope))
	if errors.Is(err, os.ErrNotExist) {
		return []*Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	records := make([]*Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := loadRecord(filepath.Join(s.dir, scope, e.Name()))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *FileStore) Close() error { return nil }

// loadRecord returns nil, nil when path does not exist.
func loadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse store file %s: %w", filepath.Base(path), err)
	}
	if rec.Overrides.Nodes == nil {
		rec.Overrides.Nodes = make(map[string]overrider.OverridePayload)
	}
	return &rec, nil
}

// saveRecord writes through a temp file and rename so readers never see a
// partial file.
func saveRecord(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
