// Package lockgroup coordinates exclusive access to a dynamically discovered
// set of resources without requiring a global lock order.
//
// A unit of work (a Holder) running on a Thread acquires its first Resource
// with Thread.Acquire and adds more with Handle.AddResource. Everything a
// thread's chain of nested steps has claimed belongs to one lock group; a
// resource stays claimed until the last handle of its group is released, so
// the chain behaves like a two-phase-locking transaction.
//
// When a resource is claimed by another group the caller either waits for
// that group to finish or, if waiting would close a cycle of groups each
// waiting on the next, the cycle is resolved on the spot: the handle with the
// highest priority in the cycle wins (ties go to the earliest handle, then to
// the group that was first handed a tie-break number). A winning chain merges
// the losing groups into itself and proceeds; their holders are told through
// OnInterrupted that their work was preempted. A losing chain wakes the winner
// and waits. If a merged group ends while the chain that merged it is still
// running, the resources it claimed pass to that chain.
//
// Holders whose chains are merely queued behind a busy group always wait their
// turn; only genuine cycles are arbitrated by priority.
//
// Handles must be released in reverse order of creation, by the thread that
// created them. Breaking that rule panics with a *ContractViolation.
package lockgroup
