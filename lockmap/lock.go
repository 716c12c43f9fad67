// lockmap is a sharded map from addresses to lock coordinator resources.
//
// The API is as if LockMap held a lockgroup.Lockable for every possible uint64
// (which we think of as "addresses", but they could be any abstract location);
// LockMap.Resource(a) returns the resource associated with a, always the
// same one. Claiming and releasing it is up to the lockgroup coordinator.
//
// The implementation doesn't actually maintain all of these resources; it
// instead maintains a fixed collection of shards so that shard i is
// responsible for the resources of all a such that a % NSHARD = i, created on
// first use. Looking up a resource requires synchronizing with any threads
// accessing the same shard.
package lockmap

import (
	"github.com/mit-pdos/go-lockgroup/lockgroup"
	"github.com/mit-pdos/go-lockgroup/syncutil"
	"github.com/mit-pdos/go-lockgroup/util"
)

type lockShard struct {
	mu    *syncutil.Mutex
	state map[uint64]*lockgroup.Lockable
}

func mkLockShard() *lockShard {
	state := make(map[uint64]*lockgroup.Lockable)
	mu := new(syncutil.Mutex)
	a := &lockShard{
		mu:    mu,
		state: state,
	}
	return a
}

func (lmap *lockShard) resource(addr uint64) *lockgroup.Lockable {
	lmap.mu.Lock()
	state, ok := lmap.state[addr]
	if !ok {
		// Allocate a new resource
		state = new(lockgroup.Lockable)
		lmap.state[addr] = state
		util.DPrintf(15, "lockmap: new resource %d\n", addr)
	}
	lmap.mu.Unlock()
	return state
}

func (lmap *lockShard) len() int {
	lmap.mu.Lock()
	n := len(lmap.state)
	lmap.mu.Unlock()
	return n
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	var shards []*lockShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLockShard())
	}
	a := &LockMap{
		shards: shards,
	}
	return a
}

// Resource returns the resource for flataddr.
func (lmap *LockMap) Resource(flataddr uint64) *lockgroup.Lockable {
	shard := lmap.shards[flataddr%NSHARD]
	return shard.resource(flataddr)
}

// Len reports how many addresses have a resource.
func (lmap *LockMap) Len() int {
	n := 0
	for _, shard := range lmap.shards {
		n += shard.len()
	}
	return n
}
