//go:build deadlock

// Package syncutil provides the mutex used for resource slots and the
// coordinator. Build with -tags=deadlock to swap in a deadlock detector.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled reports whether the deadlock detector is compiled in.
const DeadlockEnabled = true

func init() {
	// resource slot mutexes are only ever held for a pointer check
	deadlock.Opts.DeadlockTimeout = 10 * time.Second
}

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	deadlock.Mutex
}
