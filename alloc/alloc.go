package alloc

import (
	"errors"
	"time"

	"github.com/mit-pdos/go-lockgroup/buf"
	"github.com/mit-pdos/go-lockgroup/common"
	"github.com/mit-pdos/go-lockgroup/syncutil"
	"github.com/mit-pdos/go-lockgroup/twophase"
	"github.com/mit-pdos/go-lockgroup/util"
)

// ErrFull is returned when every number in the bitmap is in use
var ErrFull = errors.New("alloc: no free numbers")

// Allocator uses an on-disk bit map to allocate and free numbers. Bit 0
// corresponds to number 0, bit 1 to 1, and so on. Number 0 is never handed
// out. Bitmap blocks are locked through the caller's transaction, so an
// allocation becomes visible only when that transaction commits.
type Alloc struct {
	lock  *syncutil.Mutex // protects next
	start common.Bnum
	len   uint64 // bitmap blocks
	max   uint64 // numbers available
	next  uint64 // first number to try
}

func MkAlloc(start common.Bnum, len uint64) *Alloc {
	return MkMaxAlloc(start, len, len*common.NBITBLOCK)
}

// MkMaxAlloc limits the allocator to numbers below max, which must fit in
// len bitmap blocks.
func MkMaxAlloc(start common.Bnum, len uint64, max uint64) *Alloc {
	if max > len*common.NBITBLOCK || max == 0 {
		panic("MkMaxAlloc")
	}
	a := &Alloc{
		lock:  new(syncutil.Mutex),
		start: start,
		len:   len,
		max:   max,
		next:  0,
	}
	return a
}

func (a *Alloc) Max() uint64 {
	return a.max
}

func (a *Alloc) incNext() uint64 {
	a.lock.Lock()
	a.next = a.next + 1
	if a.next >= a.max {
		a.next = 1
	}
	num := a.next
	a.lock.Unlock()
	return num
}

// Returns a free number with its bitmap block locked by tp
func (a *Alloc) findFreeBit(tp *twophase.TwoPhase, timeout time.Duration) (*buf.Buf, uint64, error) {
	num := a.incNext()
	start := num
	for {
		b, err := a.lockBit(tp, num, timeout)
		if err != nil {
			return nil, 0, err
		}
		bit := num % common.NBITBLOCK
		util.DPrintf(10, "findFreeBit: s %d blk %d num %d\n", start, b.Blkno, num)
		if !b.BitGet(bit) {
			return b, num, nil
		}
		num = a.incNext()
		if num == start {
			return nil, 0, ErrFull
		}
	}
}

// Lock the bitmap block holding bit n
func (a *Alloc) lockBit(tp *twophase.TwoPhase, n uint64, timeout time.Duration) (*buf.Buf, error) {
	i := n / common.NBITBLOCK
	if i >= a.len {
		panic("lockBit")
	}
	b, err := tp.ReadBuf(a.start+i, timeout)
	if err != nil {
		return nil, err
	}
	util.DPrintf(15, "lockBit: %d\n", b.Blkno)
	return b, nil
}

func (a *Alloc) AllocNum(tp *twophase.TwoPhase, timeout time.Duration) (uint64, error) {
	b, num, err := a.findFreeBit(tp, timeout)
	if err != nil {
		return 0, err
	}
	b.BitPut(num%common.NBITBLOCK, true)
	return num, nil
}

// MarkUsed reserves num without searching for it
func (a *Alloc) MarkUsed(tp *twophase.TwoPhase, num uint64, timeout time.Duration) error {
	if num == 0 || num >= a.max {
		panic("MarkUsed")
	}
	b, err := a.lockBit(tp, num, timeout)
	if err != nil {
		return err
	}
	b.BitPut(num%common.NBITBLOCK, true)
	return nil
}

func (a *Alloc) FreeNum(tp *twophase.TwoPhase, num uint64, timeout time.Duration) error {
	if num == 0 || num >= a.max {
		panic("FreeNum")
	}
	b, err := a.lockBit(tp, num, timeout)
	if err != nil {
		return err
	}
	b.BitPut(num%common.NBITBLOCK, false)
	return nil
}

// IsUsed reports whether num is allocated
func (a *Alloc) IsUsed(tp *twophase.TwoPhase, num uint64, timeout time.Duration) (bool, error) {
	if num >= a.max {
		return false, nil
	}
	b, err := a.lockBit(tp, num, timeout)
	if err != nil {
		return false, err
	}
	return b.BitGet(num % common.NBITBLOCK), nil
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(1); i <= 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

// NumFree counts unallocated numbers, locking every bitmap block
func (a *Alloc) NumFree(tp *twophase.TwoPhase, timeout time.Duration) (uint64, error) {
	var used uint64
	for i := uint64(0); i < a.len; i++ {
		b, err := tp.ReadBuf(a.start+i, timeout)
		if err != nil {
			return 0, err
		}
		for _, x := range b.Data {
			used += popCnt(x)
		}
	}
	// bit 0 and bits at or past max are never set
	return a.max - 1 - used, nil
}
