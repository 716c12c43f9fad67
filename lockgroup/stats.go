package lockgroup

import "go.uber.org/atomic"

// Stats is a snapshot of a coordinator's counters.
type Stats struct {
	Acquisitions uint64 // steps started
	Claims       uint64 // resources claimed without contention
	Reentrant    uint64 // resources already held by the caller's chain
	Waits        uint64 // waits behind a busy group
	Cycles       uint64 // deadlock cycles detected
	Wins         uint64
	Losses       uint64
	Timeouts     uint64
	Interrupts   uint64 // interrupt pairs delivered
	HandOffs     uint64 // merged groups that ended inside a live chain
	LiveGroups   int
}

type counters struct {
	acquisitions atomic.Uint64
	claims       atomic.Uint64
	reentrant    atomic.Uint64
	waits        atomic.Uint64
	cycles       atomic.Uint64
	wins         atomic.Uint64
	losses       atomic.Uint64
	timeouts     atomic.Uint64
	interrupts   atomic.Uint64
	handOffs     atomic.Uint64
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	live := c.groups.live()
	c.mu.Unlock()
	return Stats{
		Acquisitions: c.stats.acquisitions.Load(),
		Claims:       c.stats.claims.Load(),
		Reentrant:    c.stats.reentrant.Load(),
		Waits:        c.stats.waits.Load(),
		Cycles:       c.stats.cycles.Load(),
		Wins:         c.stats.wins.Load(),
		Losses:       c.stats.losses.Load(),
		Timeouts:     c.stats.timeouts.Load(),
		Interrupts:   c.stats.interrupts.Load(),
		HandOffs:     c.stats.handOffs.Load(),
		LiveGroups:   live,
	}
}
