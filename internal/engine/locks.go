package engine

import "sync"

// systemLocks serializes mutating operations per system id. Submit,
// approve, reject, edit, task completion and lifecycle transitions for the
// same system never interleave; the second operation observes the first's
// committed result.
type systemLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSystemLocks() *systemLocks {
	return &systemLocks{locks: map[string]*sync.Mutex{}}
}

func (l *systemLocks) lock(systemID string) func() {
	l.mu.Lock()
	m, ok := l.locks[systemID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[systemID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
