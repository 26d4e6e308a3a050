package session

import "sync"

// Admission is the provider-wide set of paths currently being uploaded.
//
// One Admission is shared by every provider session of a server and injected
// at construction. Reserve checks and claims a path in one step, so of two
// sessions racing to upload the same path exactly one is admitted.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Admission struct {
	mu   sync.Mutex
	held map[string]string // path -> owning session ID
}

// NewAdmission creates an empty admission set.
func NewAdmission() *Admission {
	return &Admission{held: make(map[string]string)}
}

// Reserve claims path for owner. It returns false if path is already held by
// any session, including owner itself.
func (a *Admission) Reserve(path, owner string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, busy := a.held[path]; busy {
		return false
	}
	a.held[path] = owner
	return true
}

// Release frees path if owner holds it and reports whether it did.
func (a *Admission) Release(path, owner string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.held[path] != owner {
		return false
	}
	delete(a.held, path)
	return true
}

// ReleaseAll frees every path held by owner and returns how many were freed.
func (a *Admission) ReleaseAll(owner string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for path, o := range a.held {
		if o == owner {
			delete(a.held, path)
			n++
		}
	}
	return n
}

// Owner returns the session holding path.
func (a *Admission) Owner(path string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	owner, ok := a.held[path]
	return owner, ok
}

// Len returns the number of reserved paths.
func (a *Admission) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}
