package lockgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArenaStaleIDs(t *testing.T) {
	assert := assert.New(t)
	var a arena

	g1 := a.alloc()
	assert.False(g1.id.IsZero())
	assert.Equal(g1, a.get(g1.id))

	a.free(g1)
	assert.Nil(a.get(g1.id), "freed group must not resolve")

	g2 := a.alloc()
	assert.Equal(g1.id.index, g2.id.index, "slot should be reused")
	assert.NotEqual(g1.id, g2.id, "reused slot gets a new generation")
	assert.Nil(a.get(g1.id), "old id stays stale after reuse")
	assert.Equal(g2, a.get(g2.id))
	assert.Equal(1, a.live())
}

func TestArenaZeroID(t *testing.T) {
	var a arena
	a.alloc()
	assert.Nil(t, a.get(GroupID{}))
	assert.Nil(t, a.get(GroupID{index: 7, gen: 1}), "out of range")
	assert.Equal(t, "group(none)", GroupID{}.String())
}

func TestBetterOrdering(t *testing.T) {
	assert := assert.New(t)
	c := New()
	g1 := c.groups.alloc()
	g2 := c.groups.alloc()
	now := c.now()

	hi := &Handle{holder: StaticHolder(5), group: g1.id, created: now}
	lo := &Handle{holder: StaticHolder(1), group: g2.id, created: now.Add(-1)}
	assert.True(c.betterLocked(hi, lo), "priority first")
	assert.False(c.betterLocked(lo, hi))

	early := &Handle{holder: StaticHolder(1), group: g1.id, created: now}
	late := &Handle{holder: StaticHolder(1), group: g2.id, created: now.Add(1)}
	assert.True(c.betterLocked(early, late), "earlier handle wins a priority tie")
	assert.False(c.betterLocked(late, early))
	assert.Zero(g1.tieBreak, "tie-break is only assigned when needed")

	a := &Handle{holder: StaticHolder(1), group: g2.id, created: now}
	b := &Handle{holder: StaticHolder(1), group: g1.id, created: now}
	assert.True(c.betterLocked(a, b), "first group numbered wins")
	assert.False(c.betterLocked(b, a), "numbers are stable once assigned")
	assert.Less(g2.tieBreak, g1.tieBreak)
}

func TestCycleWalk(t *testing.T) {
	assert := assert.New(t)
	c := New()
	g1 := c.groups.alloc()
	g2 := c.groups.alloc()
	g3 := c.groups.alloc()

	assert.Nil(c.cycleLocked(g1, g2), "g2 is running")

	g2.waitingOn = g3.id
	g3.waitingOn = g1.id
	assert.Equal([]*group{g1, g2, g3}, c.cycleLocked(g1, g2))

	// a loop that does not involve g1
	g3.waitingOn = g2.id
	assert.Nil(c.cycleLocked(g1, g2))
}

func TestContainsThroughSubgroups(t *testing.T) {
	assert := assert.New(t)
	c := New()
	g1 := c.groups.alloc()
	g2 := c.groups.alloc()
	g3 := c.groups.alloc()
	h1 := &Handle{group: g1.id}
	h2 := &Handle{group: g2.id}
	g1.queue = []*Handle{h1}
	g2.queue = []*Handle{h2}

	assert.True(c.containsLocked(g1, g1))
	assert.False(c.containsLocked(g1, g2))

	h1.own(g2.id)
	h2.own(g3.id)
	h2.own(g3.id)
	assert.Len(h2.subgroups, 1, "own is idempotent")
	assert.True(c.containsLocked(g1, g3), "transitive")
	assert.False(c.containsLocked(g3, g1))

	c.groups.free(g2)
	assert.False(c.containsLocked(g1, g3), "stale subgroups are skipped")
}
