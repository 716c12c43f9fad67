package twophase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/mit-pdos/go-lockgroup/buf"
	"github.com/mit-pdos/go-lockgroup/common"
	"github.com/mit-pdos/go-lockgroup/disk"
	"github.com/mit-pdos/go-lockgroup/lockgroup"
	"github.com/mit-pdos/go-lockgroup/lockmap"
	"github.com/mit-pdos/go-lockgroup/util"
)

// ErrAborted is returned by a transaction that another thread's chain
// preempted. Nothing it wrote reaches the disk; retry with a new transaction.
var ErrAborted = errors.New("twophase: transaction aborted")

// TwoPhase is a two-phase-locking transaction over a disk. Every block it
// touches is claimed through the lock coordinator and stays claimed until
// Commit or Abort. Writes are buffered and reach the disk on Commit.
type TwoPhase struct {
	id       uuid.UUID
	th       *lockgroup.Thread
	locks    *lockmap.LockMap
	d        disk.Disk
	priority int

	handle   *lockgroup.Handle
	acquired []common.Bnum
	bufs     map[common.Bnum]*buf.Buf

	// canceled when another thread's chain preempts the transaction, so a
	// wait in progress returns instead of blocking on the preempting chain
	ctx         context.Context
	cancel      context.CancelFunc
	aborted     atomic.Bool
	preemptions atomic.Uint64
}

var _ lockgroup.Holder = (*TwoPhase)(nil)

// Start a transaction on thread th. Higher priority transactions win lock
// cycles.
func Begin(th *lockgroup.Thread, locks *lockmap.LockMap, d disk.Disk, priority int) *TwoPhase {
	ctx, cancel := context.WithCancel(context.Background())
	trans := &TwoPhase{
		id:       uuid.New(),
		th:       th,
		locks:    locks,
		d:        d,
		priority: priority,
		acquired: make([]common.Bnum, 0),
		bufs:     make(map[common.Bnum]*buf.Buf),
		ctx:      ctx,
		cancel:   cancel,
	}
	util.DPrintf(1, "tp Begin: %v prio %d\n", trans.id, priority)
	return trans
}

func (twophase *TwoPhase) Id() uuid.UUID {
	return twophase.id
}

// Aborted reports whether the transaction was preempted.
func (twophase *TwoPhase) Aborted() bool {
	return twophase.aborted.Load()
}

// Acquire claims blkno for this transaction, waiting at most timeout.
func (twophase *TwoPhase) Acquire(bnum common.Bnum, timeout time.Duration) error {
	if twophase.aborted.Load() {
		return ErrAborted
	}
	for _, acq := range twophase.acquired {
		if bnum == acq {
			return nil
		}
	}
	res := twophase.locks.Resource(bnum)
	ctx, cancel := twophase.waitContext(timeout)
	defer cancel()
	var err error
	if twophase.handle == nil {
		var h *lockgroup.Handle
		h, err = twophase.th.AcquireContext(ctx, res, twophase)
		if err == nil {
			twophase.handle = h
		}
	} else {
		err = twophase.handle.AddResourceContext(ctx, res)
	}
	if err != nil {
		if twophase.aborted.Load() {
			return ErrAborted
		}
		return fmt.Errorf("unable to lock block %d: %w", bnum, err)
	}
	twophase.acquired = append(twophase.acquired, bnum)
	util.DPrintf(5, "%v: acquire: %v\n", twophase.id, bnum)
	if twophase.aborted.Load() {
		// preempted while waiting
		return ErrAborted
	}
	return nil
}

func (twophase *TwoPhase) waitContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout < 0 {
		return context.WithCancel(twophase.ctx)
	}
	return context.WithTimeout(twophase.ctx, timeout)
}

// ReadBuf locks blkno and returns this transaction's copy of it.
func (twophase *TwoPhase) ReadBuf(bnum common.Bnum, timeout time.Duration) (*buf.Buf, error) {
	if err := twophase.Acquire(bnum, timeout); err != nil {
		return nil, err
	}
	if b, ok := twophase.bufs[bnum]; ok {
		return b, nil
	}
	blk, err := twophase.d.Read(bnum)
	if err != nil {
		return nil, fmt.Errorf("unable to read block %d: %w", bnum, err)
	}
	b := buf.MkBufLoad(bnum, blk)
	twophase.bufs[bnum] = b
	return b, nil
}

// OverWrite replaces the contents of blkno without reading it
func (twophase *TwoPhase) OverWrite(bnum common.Bnum, data disk.Block, timeout time.Duration) error {
	if uint64(len(data)) != disk.BlockSize {
		return disk.ErrBlockSize
	}
	if err := twophase.Acquire(bnum, timeout); err != nil {
		return err
	}
	b := buf.MkBufLoad(bnum, data)
	b.SetDirty()
	twophase.bufs[bnum] = b
	return nil
}

// NDirty reports how many blocks Commit would write.
func (twophase *TwoPhase) NDirty() uint64 {
	var n uint64
	for _, b := range twophase.bufs {
		if b.IsDirty() {
			n++
		}
	}
	return n
}

// Commit writes every dirty block and releases all locks. A preempted
// transaction writes nothing and returns ErrAborted.
func (twophase *TwoPhase) Commit() error {
	util.DPrintf(1, "tp Commit %v\n", twophase.id)
	defer twophase.release()

	// the interrupt may still be in flight; the group's flag is not
	if twophase.aborted.Load() || (twophase.handle != nil && twophase.handle.Preempted()) {
		twophase.aborted.Store(true)
		return ErrAborted
	}
	if twophase.NDirty() == 0 {
		return nil
	}
	for _, bnum := range twophase.acquired {
		b, ok := twophase.bufs[bnum]
		if !ok || !b.IsDirty() {
			continue
		}
		if err := b.WriteDirect(twophase.d); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	if err := twophase.d.Barrier(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Abort drops every buffered write and releases all locks.
func (twophase *TwoPhase) Abort() {
	util.DPrintf(1, "tp Abort %v\n", twophase.id)
	twophase.release()
}

func (twophase *TwoPhase) release() {
	if twophase.handle != nil {
		twophase.handle.Release()
		twophase.handle = nil
	}
	twophase.acquired = twophase.acquired[:0]
	twophase.bufs = make(map[common.Bnum]*buf.Buf)
}

func (twophase *TwoPhase) Priority() int {
	return twophase.priority
}

func (twophase *TwoPhase) OnInterrupting(other lockgroup.Holder, sameThread bool) {
	util.DPrintf(3, "%v: interrupting %v same thread %v\n", twophase.id, other, sameThread)
}

// OnInterrupted marks the transaction aborted when a chain on another thread
// took over its blocks and cancels any wait it is blocked in. A transaction
// is only preempted while it waits, so no commit can be in progress.
func (twophase *TwoPhase) OnInterrupted(other lockgroup.Holder, sameThread bool) {
	if sameThread {
		return
	}
	twophase.aborted.Store(true)
	twophase.preemptions.Inc()
	twophase.cancel()
	util.DPrintf(1, "%v: preempted by %v\n", twophase.id, other)
}

func (twophase *TwoPhase) String() string {
	return fmt.Sprintf("tp(%v, prio %d)", twophase.id, twophase.priority)
}
