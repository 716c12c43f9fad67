package lockgroup

import "github.com/sirupsen/logrus"

// group is the set of resources claimed together by one thread's chain of
// nested steps, plus the groups its handles have merged. Every field is
// guarded by the coordinator mutex.
type group struct {
	id    GroupID
	owner *Thread

	// queue[0] is the outermost step; later entries are nested steps of
	// the same thread.
	queue []*Handle

	// waitingOn is set only while the owner is blocked in AddResource.
	waitingOn GroupID
	willWait  bool

	// tieBreak is 0 until the group first needs it.
	tieBreak uint64

	// resources this group claimed, possibly since handed to another group
	claimed []Resource
	// the group whose chain most recently merged this one
	mergedInto GroupID
	// set once a chain on another thread merges this group
	preempted bool

	// wake is closed (and replaced) to wake every goroutine blocked on
	// this group.
	wake chan struct{}
}

func (g *group) pulse() {
	close(g.wake)
	g.wake = make(chan struct{})
}

// chainLocked calls fn for root and every live group reachable from it
// through its handles' owned subgroups, each group once. fn returns false
// to stop the walk early; chainLocked then returns false too.
func (c *Coordinator) chainLocked(root *group, fn func(*group) bool) bool {
	seen := map[GroupID]struct{}{}
	stack := []*group{root}
	for len(stack) > 0 {
		g := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[g.id]; ok {
			continue
		}
		seen[g.id] = struct{}{}
		if !fn(g) {
			return false
		}
		for _, h := range g.queue {
			for _, id := range h.subgroups {
				if sub := c.groups.get(id); sub != nil {
					stack = append(stack, sub)
				}
			}
		}
	}
	return true
}

// containsLocked reports whether x is root or is merged into root's chain.
func (c *Coordinator) containsLocked(root, x *group) bool {
	if x == nil {
		return false
	}
	return !c.chainLocked(root, func(g *group) bool {
		return g != x
	})
}

// cycleLocked follows the wait-for chain starting at other. If it leads back
// into g's chain it returns the groups on the cycle, g first; otherwise nil.
// A loop among other groups that never reaches g is not g's problem and is
// reported as no cycle.
func (c *Coordinator) cycleLocked(g, other *group) []*group {
	cycle := []*group{g}
	seen := map[GroupID]struct{}{}
	for x := other; x != nil; x = c.rootLocked(c.groups.get(x.waitingOn)) {
		if c.containsLocked(g, x) {
			if x != g {
				cycle = append(cycle, x)
			}
			return cycle
		}
		if _, ok := seen[x.id]; ok {
			return nil
		}
		seen[x.id] = struct{}{}
		cycle = append(cycle, x)
	}
	return nil
}

// rootLocked returns the top of the merge tree x belongs to: the outermost
// live group whose chain contains x. Whoever wants a resource of x has to
// deal with that group, not with x.
func (c *Coordinator) rootLocked(x *group) *group {
	if x == nil {
		return nil
	}
	seen := map[GroupID]struct{}{x.id: {}}
	for {
		p := c.groups.get(x.mergedInto)
		if p == nil || !c.containsLocked(p, x) {
			return x
		}
		if _, ok := seen[p.id]; ok {
			return x
		}
		seen[p.id] = struct{}{}
		x = p
	}
}

// bestLocked returns the winning handle among all handles of the groups.
func (c *Coordinator) bestLocked(groups []*group) *Handle {
	var best *Handle
	for _, g := range groups {
		for _, h := range g.queue {
			if best == nil || c.betterLocked(h, best) {
				best = h
			}
		}
	}
	return best
}

// betterLocked reports whether a strictly beats b: higher holder priority,
// then earlier creation, then the lower tie-break number of the two groups,
// handed out on first use.
func (c *Coordinator) betterLocked(a, b *Handle) bool {
	if pa, pb := a.holder.Priority(), b.holder.Priority(); pa != pb {
		return pa > pb
	}
	if !a.created.Equal(b.created) {
		return a.created.Before(b.created)
	}
	ga, gb := c.groups.get(a.group), c.groups.get(b.group)
	if ga == gb || ga == nil || gb == nil {
		return false
	}
	c.tieBreakLocked(ga)
	c.tieBreakLocked(gb)
	return ga.tieBreak < gb.tieBreak
}

func (c *Coordinator) tieBreakLocked(g *group) {
	if g.tieBreak == 0 {
		g.tieBreak = c.tieBreak.Inc()
	}
}

// mergeLocked folds other into h's owned subgroups and returns the
// interrupts h owes to every handle of other's chain it has not yet
// interrupted.
func (c *Coordinator) mergeLocked(h *Handle, g, other *group) []interrupt {
	if other != g {
		h.own(other.id)
		other.mergedInto = g.id
	}
	var list []interrupt
	c.chainLocked(other, func(x *group) bool {
		if x.owner != h.th {
			x.preempted = true
		}
		for _, victim := range x.queue {
			if victim == h {
				continue
			}
			if _, ok := h.interrupted[victim]; ok {
				continue
			}
			h.interrupted[victim] = struct{}{}
			list = append(list, interrupt{
				by:         h.holder,
				of:         victim.holder,
				sameThread: x.owner == h.th,
			})
		}
		return true
	})
	return list
}

// handOffLocked runs when g ends. If a live chain merged g, the resources g
// still claims and the groups its last handle merged pass to the group that
// merged it, so the merged chain keeps them until it ends too.
func (c *Coordinator) handOffLocked(g *group, last *Handle) {
	p := c.groups.get(g.mergedInto)
	if p == nil || !c.containsLocked(p, g) {
		return
	}
	n := 0
	for _, r := range g.claimed {
		mu := r.Mutex()
		mu.Lock()
		if r.CurrentGroup() == g.id {
			r.SetCurrentGroup(p.id)
			p.claimed = append(p.claimed, r)
			n++
		}
		mu.Unlock()
	}
	root := p.queue[0]
	for _, id := range last.subgroups {
		sub := c.groups.get(id)
		if sub == nil || sub == p {
			continue
		}
		root.own(id)
		if sub.mergedInto == g.id {
			sub.mergedInto = p.id
		}
	}
	c.stats.handOffs.Inc()
	c.log.WithFields(logrus.Fields{
		"group":     g.id,
		"to":        p.id,
		"resources": n,
	}).Debug("handed off merged resources")
}
