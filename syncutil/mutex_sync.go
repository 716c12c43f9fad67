//go:build !deadlock

// Package syncutil provides the mutex used for resource slots and the
// coordinator. Build with -tags=deadlock to swap in a deadlock detector.
package syncutil

import "sync"

// DeadlockEnabled reports whether the deadlock detector is compiled in.
const DeadlockEnabled = false

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}
