package lockgroup

import "fmt"

// GroupID names a lock group. It is a generation-checked index into the
// coordinator's group arena: once a group is freed every GroupID that names
// it goes stale, so resources never need to be cleared when a group ends.
// The zero GroupID names no group.
type GroupID struct {
	index uint32
	gen   uint32
}

// IsZero reports whether id names no group.
func (id GroupID) IsZero() bool {
	return id.gen == 0
}

func (id GroupID) String() string {
	if id.IsZero() {
		return "group(none)"
	}
	return fmt.Sprintf("group(%d.%d)", id.index, id.gen)
}

// arena owns every live group. Guarded by the coordinator mutex.
type arena struct {
	slots  []*group
	gens   []uint32
	unused []uint32
}

func (a *arena) alloc() *group {
	var i uint32
	if n := len(a.unused); n > 0 {
		i = a.unused[n-1]
		a.unused = a.unused[:n-1]
	} else {
		i = uint32(len(a.slots))
		a.slots = append(a.slots, nil)
		a.gens = append(a.gens, 0)
	}
	a.gens[i]++
	if a.gens[i] == 0 {
		// skip the zero generation on wraparound
		a.gens[i]++
	}
	g := &group{
		id:   GroupID{index: i, gen: a.gens[i]},
		wake: make(chan struct{}),
	}
	a.slots[i] = g
	return g
}

// get returns the live group named by id, or nil if id is zero or stale.
func (a *arena) get(id GroupID) *group {
	if id.IsZero() || int(id.index) >= len(a.slots) {
		return nil
	}
	g := a.slots[id.index]
	if g == nil || g.id != id {
		return nil
	}
	return g
}

func (a *arena) free(g *group) {
	if a.slots[g.id.index] != g {
		panic("arena: free of unknown group")
	}
	a.slots[g.id.index] = nil
	a.unused = append(a.unused, g.id.index)
}

func (a *arena) live() int {
	return len(a.slots) - len(a.unused)
}
