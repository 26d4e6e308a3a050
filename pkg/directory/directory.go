// Package directory routes transport events to the session that owns a
// connection.
package directory

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittosync/pkg/session"
)

// Handle identifies one transport connection.
type Handle uint64

// Directory maps connection handles to sessions.
//
// The transport knows a connection only by its Handle; every inbound event
// (data, disconnect) is routed through Find.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Directory struct {
	mu       sync.RWMutex
	sessions map[Handle]*session.Session
	next     atomic.Uint64
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{sessions: make(map[Handle]*session.Session)}
}

// NextHandle allocates a handle that has never been returned before.
func (d *Directory) NextHandle() Handle {
	return Handle(d.next.Add(1))
}

// Insert binds h to s. A stale session already bound to h is replaced and
// returned.
func (d *Directory) Insert(h Handle, s *session.Session) (stale *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stale = d.sessions[h]
	d.sessions[h] = s
	return stale
}

// Remove unbinds h and returns the session it was bound to.
func (d *Directory) Remove(h Handle) (*session.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[h]
	if ok {
		delete(d.sessions, h)
	}
	return s, ok
}

// Find returns the session bound to h.
func (d *Directory) Find(h Handle) (*session.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sessions[h]
	return s, ok
}

// Len returns the number of bound handles.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Range calls fn for every binding until fn returns false. fn runs on a
// snapshot, so it may call back into the directory.
func (d *Directory) Range(fn func(h Handle, s *session.Session) bool) {
	d.mu.RLock()
	snapshot := make(map[Handle]*session.Session, len(d.sessions))
	for h, s := range d.sessions {
		snapshot[h] = s
	}
	d.mu.RUnlock()

	for h, s := range snapshot {
		if !fn(h, s) {
			return
		}
	}
}
