package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittosync/pkg/content"
)

// Config holds memory store options.
type Config struct {
	// ReadOnly refuses every Create.
	ReadOnly bool `mapstructure:"read_only"`
}

// MemoryContentStore implements content.Store using in-memory storage.
//
// It is designed for tests and ephemeral deployments. Individual paths can be
// marked read-only to exercise rejected writes.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Content slices are only ever
// appended to, so an open reader never observes a later write.
type MemoryContentStore struct {
	mu       sync.RWMutex
	files    map[string]*entry
	readOnly map[string]bool
	frozen   bool

	// now is replaceable in tests.
	now func() time.Time
}

type entry struct {
	data    []byte
	modTime time.Time
}

var _ content.Store = (*MemoryContentStore)(nil)

// NewMemoryContentStore creates an empty in-memory store.
func NewMemoryContentStore(ctx context.Context, cfg Config) (*MemoryContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryContentStore{
		files:    make(map[string]*entry),
		readOnly: make(map[string]bool),
		frozen:   cfg.ReadOnly,
		now:      time.Now,
	}, nil
}

// Put stores data at path, bypassing read-only marks. Used to seed content.
func (s *MemoryContentStore) Put(path string, data []byte) error {
	cleaned, err := content.CleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[cleaned] = &entry{data: bytes.Clone(data), modTime: s.now()}
	return nil
}

// SetReadOnly marks a single path as write-protected (or clears the mark).
func (s *MemoryContentStore) SetReadOnly(path string, readOnly bool) {
	cleaned, err := content.CleanPath(path)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if readOnly {
		s.readOnly[cleaned] = true
	} else {
		delete(s.readOnly, cleaned)
	}
}

// Stat returns information about path.
func (s *MemoryContentStore) Stat(ctx context.Context, path string) (content.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return content.FileInfo{}, err
	}

	cleaned, err := content.CleanPath(path)
	if err != nil {
		return content.FileInfo{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.files[cleaned]
	if !ok {
		return content.FileInfo{}, fmt.Errorf("content %s: %w", cleaned, content.ErrContentNotFound)
	}
	return content.FileInfo{Path: cleaned, Size: int64(len(e.data)), ModTime: e.modTime}, nil
}

// Open returns a reader over a snapshot of path's content.
func (s *MemoryContentStore) Open(ctx context.Context, path string) (io.ReadCloser, content.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, content.FileInfo{}, err
	}

	cleaned, err := content.CleanPath(path)
	if err != nil {
		return nil, content.FileInfo{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.files[cleaned]
	if !ok {
		return nil, content.FileInfo{}, fmt.Errorf("content %s: %w", cleaned, content.ErrContentNotFound)
	}

	// Committed slices are never mutated, so the reader can share them.
	info := content.FileInfo{Path: cleaned, Size: int64(len(e.data)), ModTime: e.modTime}
	return io.NopCloser(bytes.NewReader(e.data)), info, nil
}

// Create returns a writer whose content replaces path.
//
// The existing content is truncated immediately. Written bytes become visible
// on every Write, so a writer closed early leaves partial content, matching the
// filesystem backend.
func (s *MemoryContentStore) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cleaned, err := content.CleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen || s.readOnly[cleaned] {
		return nil, fmt.Errorf("content %s: %w", cleaned, content.ErrReadOnly)
	}
	s.files[cleaned] = &entry{modTime: s.now()}

	return &writer{store: s, path: cleaned}, nil
}

// IsWritable reports whether Create would succeed for path.
func (s *MemoryContentStore) IsWritable(ctx context.Context, path string) bool {
	if ctx.Err() != nil {
		return false
	}

	cleaned, err := content.CleanPath(path)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.frozen && !s.readOnly[cleaned]
}

// List returns every stored file sorted by path.
func (s *MemoryContentStore) List(ctx context.Context) ([]content.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	files := make([]content.FileInfo, 0, len(s.files))
	for p, e := range s.files {
		files = append(files, content.FileInfo{Path: p, Size: int64(len(e.data)), ModTime: e.modTime})
	}
	s.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// writer appends to a store entry. Readers hold a slice header bounded by the
// length at open time, so appending into spare capacity never changes what
// they observe.
type writer struct {
	store  *MemoryContentStore
	path   string
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write %s: writer closed", w.path)
	}

	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	var prev []byte
	if e, ok := w.store.files[w.path]; ok {
		prev = e.data
	}
	w.store.files[w.path] = &entry{data: append(prev, p...), modTime: w.store.now()}
	return len(p), nil
}

func (w *writer) Close() error {
	w.closed = true
	return nil
}
