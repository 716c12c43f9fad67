package lockgroup

// Holder is a logical unit of work that wants exclusive access to resources.
//
// Priority decides who wins a cycle; higher wins. The two callbacks report
// that a handle of this holder interrupted another holder's work
// (OnInterrupting) or had its own work interrupted (OnInterrupted). For one
// event the coordinator calls the interrupter's OnInterrupting first, then
// the victim's OnInterrupted. sameThread is true when both handles belong to
// the same thread's chain, i.e. a nested step and an earlier step.
//
// All three methods run on whichever goroutine detected the conflict.
// Priority is evaluated with the coordinator's lock held and must be cheap.
// The callbacks run after the lock is dropped; they must return promptly and
// must not call back into the coordinator.
type Holder interface {
	Priority() int
	OnInterrupting(other Holder, sameThread bool)
	OnInterrupted(other Holder, sameThread bool)
}

// StaticHolder is a Holder with a fixed priority that ignores interrupts.
type StaticHolder int

func (h StaticHolder) Priority() int { return int(h) }

func (StaticHolder) OnInterrupting(Holder, bool) {}

func (StaticHolder) OnInterrupted(Holder, bool) {}

// HolderFuncs adapts plain functions to the Holder interface. Nil callbacks
// are skipped.
type HolderFuncs struct {
	Prio         int
	Interrupting func(other Holder, sameThread bool)
	Interrupted  func(other Holder, sameThread bool)
}

func (h *HolderFuncs) Priority() int {
	return h.Prio
}

func (h *HolderFuncs) OnInterrupting(other Holder, sameThread bool) {
	if h.Interrupting != nil {
		h.Interrupting(other, sameThread)
	}
}

func (h *HolderFuncs) OnInterrupted(other Holder, sameThread bool) {
	if h.Interrupted != nil {
		h.Interrupted(other, sameThread)
	}
}

// interrupt is one OnInterrupting/OnInterrupted pair, collected while the
// coordinator lock is held and delivered after it is dropped.
type interrupt struct {
	by         Holder
	of         Holder
	sameThread bool
}

func (c *Coordinator) deliver(list []interrupt) {
	for _, i := range list {
		i.by.OnInterrupting(i.of, i.sameThread)
		i.of.OnInterrupted(i.by, i.sameThread)
		c.metrics.interrupt(i.sameThread)
	}
	c.stats.interrupts.Add(uint64(len(list)))
}
