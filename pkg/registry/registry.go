package registry

import (
	"sync"

	"github.com/marmos91/dittosync/internal/protocol/arp"
)

// Entry is one distributable file.
type Entry struct {
	Path     string
	Size     int64
	Checksum uint32
}

// Registry is the provider's ordered, duplicate-suppressing list of files it
// offers to requesters. It is shared by every session and is safe for
// concurrent use.
//
// Lifecycle:
// Filled by Scan (or Add) when the provider starts serving, updated with
// Upsert as uploads complete, emptied with Clear when serving ends.
//
// Example usage:
//
//	reg := registry.New()
//	reg.Add(registry.Entry{Path: "a.txt", Size: 10, Checksum: 0xAAAA})
//	for _, e := range reg.Snapshot() { ... }
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int // path -> position in entries
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Add appends e unless its path is already registered or cannot be encoded
// in a requestsubmit. The first entry for a path wins; Add reports whether e
// was added.
func (r *Registry) Add(e Entry) bool {
	if arp.ValidatePath(e.Path) != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[e.Path]; exists {
		return false
	}
	r.index[e.Path] = len(r.entries)
	r.entries = append(r.entries, e)
	return true
}

// Upsert replaces the entry for e.Path in place, or appends it. Paths that
// cannot be encoded are refused and Upsert returns false.
func (r *Registry) Upsert(e Entry) bool {
	if arp.ValidatePath(e.Path) != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, exists := r.index[e.Path]; exists {
		r.entries[i] = e
		return true
	}
	r.index[e.Path] = len(r.entries)
	r.entries = append(r.entries, e)
	return true
}

// Lookup returns the entry registered for path.
func (r *Registry) Lookup(path string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, exists := r.index[path]
	if !exists {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Snapshot returns a copy of all entries in registration order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes every entry. Enumerations already running keep their snapshot.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
	r.index = make(map[string]int)
}
