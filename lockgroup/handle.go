package lockgroup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Handle is one step of a thread's chain of acquisitions.
type Handle struct {
	c       *Coordinator
	th      *Thread
	holder  Holder
	group   GroupID
	created time.Time

	// groups this step has merged into its chain
	subgroups []GroupID
	// handles this step has already sent an interrupt to
	interrupted map[*Handle]struct{}

	released bool
}

func (h *Handle) Holder() Holder {
	return h.holder
}

func (h *Handle) Group() GroupID {
	return h.group
}

// Subgroups returns the groups this step has merged, in merge order.
func (h *Handle) Subgroups() []GroupID {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return append([]GroupID(nil), h.subgroups...)
}

// Preempted reports whether a chain on another thread has merged this
// handle's group. Once set it stays set until the group ends. A group is
// only ever merged while it waits in AddResource, so a step that checks
// Preempted after its last AddResource returned sees the final answer.
func (h *Handle) Preempted() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	g := h.c.groups.get(h.group)
	return g != nil && g.preempted
}

func (h *Handle) own(id GroupID) {
	for _, s := range h.subgroups {
		if s == id {
			return
		}
	}
	h.subgroups = append(h.subgroups, id)
}

// AddResource claims r for this step's group, waiting at most timeout.
// On ErrTimedOut the resources the chain already holds stay held.
func (h *Handle) AddResource(r Resource, timeout time.Duration) error {
	ctx, cancel := timeoutContext(timeout)
	defer cancel()
	return h.AddResourceContext(ctx, r)
}

// AddResourceContext is AddResource with the time budget taken from ctx.
// An expired deadline yields an error matching both ErrTimedOut and
// context.DeadlineExceeded; cancellation yields context.Canceled.
func (h *Handle) AddResourceContext(ctx context.Context, r Resource) error {
	c := h.c
	for {
		c.mu.Lock()
		g, v := h.liveGroupLocked("AddResource")
		if v != nil {
			c.mu.Unlock()
			panic(v)
		}

		other := c.claimLocked(g, r)
		if other == nil {
			c.mu.Unlock()
			c.stats.claims.Inc()
			c.metrics.outcome(outcomeClaimed)
			return nil
		}

		if c.containsLocked(g, other) {
			list := c.mergeLocked(h, g, other)
			c.mu.Unlock()
			c.stats.reentrant.Inc()
			c.metrics.outcome(outcomeReentrant)
			c.deliver(list)
			return nil
		}

		// a merged group's resources belong to the chain that merged it
		other = c.rootLocked(other)

		if cycle := c.cycleLocked(g, other); cycle != nil {
			c.stats.cycles.Inc()
			winner := c.bestLocked(cycle)
			wg := c.groups.get(winner.group)
			if c.containsLocked(g, wg) {
				list := c.mergeLocked(h, g, other)
				c.mu.Unlock()
				c.stats.wins.Inc()
				c.metrics.outcome(outcomeWon)
				c.log.WithFields(logrus.Fields{
					"group":  g.id,
					"merged": other.id,
					"cycle":  len(cycle),
				}).Debug("won deadlock cycle")
				c.deliver(list)
				return nil
			}
			c.stats.losses.Inc()
			c.metrics.outcome(outcomeLost)
			c.log.WithFields(logrus.Fields{
				"group":  g.id,
				"winner": wg.id,
				"cycle":  len(cycle),
			}).Debug("lost deadlock cycle")
			wg.willWait = false
			if w := c.groups.get(wg.waitingOn); w != nil {
				w.pulse()
			}
		} else {
			c.stats.waits.Inc()
			c.metrics.outcome(outcomeWaited)
		}

		g.waitingOn = other.id
		g.willWait = true
		wake := other.wake
		c.mu.Unlock()

		c.log.WithFields(logrus.Fields{
			"group":      g.id,
			"waiting_on": other.id,
		}).Trace("waiting")

		select {
		case <-wake:
			c.mu.Lock()
			picked := !g.willWait
			g.waitingOn = GroupID{}
			g.willWait = false
			c.mu.Unlock()
			if picked {
				c.log.WithField("group", g.id).Trace("woken as cycle winner")
			}
		case <-ctx.Done():
			c.mu.Lock()
			g.waitingOn = GroupID{}
			g.willWait = false
			c.mu.Unlock()
			return c.expired(ctx)
		}
	}
}

func (c *Coordinator) expired(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		c.stats.timeouts.Inc()
		c.metrics.outcome(outcomeTimeout)
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return err
}

// claimLocked claims r for g if nobody holds it and returns nil, or returns
// the live group that holds it.
func (c *Coordinator) claimLocked(g *group, r Resource) *group {
	mu := r.Mutex()
	mu.Lock()
	defer mu.Unlock()
	if other := c.groups.get(r.CurrentGroup()); other != nil && len(other.queue) > 0 {
		return other
	}
	r.SetCurrentGroup(g.id)
	g.claimed = append(g.claimed, r)
	return nil
}

func (h *Handle) liveGroupLocked(op string) (*group, *ContractViolation) {
	if h.released {
		return nil, violation(op, "handle already released")
	}
	g := h.c.groups.get(h.group)
	if g == nil || h.th.group != h.group {
		return nil, violation(op, fmt.Sprintf("%v is not the current group of its thread", h.group))
	}
	return g, nil
}

// Release ends this step. It must be the most recent live step of its
// thread. When the last step of a group is released the group ends and every
// thread waiting on it wakes. The resources it claimed become free, unless a
// live chain merged the group: then that chain keeps them.
func (h *Handle) Release() {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	g, v := h.liveGroupLocked("Release")
	if v != nil {
		panic(v)
	}
	n := len(g.queue)
	if g.queue[n-1] != h {
		panic(violation("Release", "handle released out of order"))
	}
	g.queue[n-1] = nil
	g.queue = g.queue[:n-1]
	h.released = true

	if n := len(g.queue); n > 0 {
		// merges made by a nested step last as long as the group
		top := g.queue[n-1]
		for _, id := range h.subgroups {
			top.own(id)
		}
		return
	}
	c.handOffLocked(g, h)
	h.th.group = GroupID{}
	c.groups.free(g)
	g.pulse()
	c.metrics.groupEnded()
}
