package lockgroup

import (
	"sync"

	"github.com/mit-pdos/go-lockgroup/syncutil"
)

// Resource is an object that needs exclusive access.
//
// Mutex must return the same lock on every call. CurrentGroup and
// SetCurrentGroup are only called while that lock is held, and the lock is
// only held for the duration of one check-and-set, never across a wait.
type Resource interface {
	Mutex() sync.Locker
	CurrentGroup() GroupID
	SetCurrentGroup(id GroupID)
}

// Lockable is a Resource ready to be embedded in domain objects.
// The zero value is unclaimed.
type Lockable struct {
	mu    syncutil.Mutex
	group GroupID
}

var _ Resource = (*Lockable)(nil)

func (l *Lockable) Mutex() sync.Locker {
	return &l.mu
}

func (l *Lockable) CurrentGroup() GroupID {
	return l.group
}

func (l *Lockable) SetCurrentGroup(id GroupID) {
	l.group = id
}
