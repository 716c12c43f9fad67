// Package ledger keeps account balances on a disk, one account per block,
// and moves money between accounts in two-phase-locking transactions.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/mit-pdos/go-lockgroup/alloc"
	"github.com/mit-pdos/go-lockgroup/buf"
	"github.com/mit-pdos/go-lockgroup/common"
	"github.com/mit-pdos/go-lockgroup/disk"
	"github.com/mit-pdos/go-lockgroup/lockgroup"
	"github.com/mit-pdos/go-lockgroup/lockmap"
	"github.com/mit-pdos/go-lockgroup/twophase"
	"github.com/mit-pdos/go-lockgroup/util"
)

var (
	ErrNotFormatted      = errors.New("ledger: disk is not formatted")
	ErrDiskTooSmall      = errors.New("ledger: disk too small")
	ErrNoAccount         = errors.New("ledger: no such account")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrOverflow          = errors.New("ledger: balance overflow")
	ErrNotEmpty          = errors.New("ledger: account balance is not zero")
)

// superblock fields
const (
	sbMagic     uint64 = 0
	sbAccounts  uint64 = 8
	sbBitmapLen uint64 = 16
)

// account block fields
const (
	acctBalance uint64 = 0
	acctOpen    uint64 = 8
)

const DefaultMaxRetries uint64 = 100

type Ledger struct {
	c     *lockgroup.Coordinator
	locks *lockmap.LockMap
	d     disk.Disk
	alloc *alloc.Alloc

	naccounts uint64
	dataStart common.Bnum

	log        *logrus.Entry
	maxRetries uint64
	stats      counters
}

type counters struct {
	commits   atomic.Uint64
	aborts    atomic.Uint64
	timeouts  atomic.Uint64
	failures  atomic.Uint64
	exhausted atomic.Uint64
}

// Stats counts transaction outcomes.
type Stats struct {
	Commits   uint64
	Aborts    uint64 // preempted attempts, each retried
	Timeouts  uint64
	Failures  uint64 // refused: no account, insufficient funds, overflow
	Exhausted uint64 // operations that ran out of retries
}

type Option func(*Ledger)

// WithCoordinator shares c instead of creating a coordinator per ledger.
func WithCoordinator(c *lockgroup.Coordinator) Option {
	return func(l *Ledger) {
		l.c = c
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(l *Ledger) {
		l.log = log
	}
}

// WithMaxRetries bounds how often a preempted operation is retried.
func WithMaxRetries(n uint64) Option {
	return func(l *Ledger) {
		l.maxRetries = n
	}
}

// DiskBlocks is the disk size needed for naccounts accounts.
func DiskBlocks(naccounts uint64) uint64 {
	return 1 + bitmapLen(naccounts) + naccounts
}

func bitmapLen(naccounts uint64) uint64 {
	return util.RoundUp(naccounts+1, common.NBITBLOCK)
}

func mkLedger(d disk.Disk, naccounts uint64, opts []Option) *Ledger {
	l := &Ledger{
		locks:      lockmap.MkLockMap(),
		d:          d,
		naccounts:  naccounts,
		dataStart:  common.BITMAPSTART + bitmapLen(naccounts),
		log:        logrus.NewEntry(logrus.StandardLogger()),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.c == nil {
		l.c = lockgroup.New(lockgroup.WithLogger(l.log))
	}
	l.log = l.log.WithField("component", "ledger")
	l.alloc = alloc.MkMaxAlloc(common.BITMAPSTART, bitmapLen(naccounts), naccounts+1)
	return l
}

// Format writes an empty ledger with room for naccounts accounts to d.
func Format(d disk.Disk, naccounts uint64, opts ...Option) (*Ledger, error) {
	if naccounts == 0 {
		return nil, fmt.Errorf("format: need at least one account")
	}
	sz, err := d.Size()
	if err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	if sz < DiskBlocks(naccounts) {
		return nil, fmt.Errorf("format: %d blocks for %d accounts: %w", sz, naccounts, ErrDiskTooSmall)
	}
	zero := make(disk.Block, disk.BlockSize)
	for bn := common.BITMAPSTART; bn < DiskBlocks(naccounts); bn++ {
		if err := d.Write(bn, zero); err != nil {
			return nil, fmt.Errorf("format: %w", err)
		}
	}
	sb := buf.MkBuf(common.SUPERBLK, make(disk.Block, disk.BlockSize))
	sb.Uint64Put(sbMagic, common.LEDGERMAGIC)
	sb.Uint64Put(sbAccounts, naccounts)
	sb.Uint64Put(sbBitmapLen, bitmapLen(naccounts))
	if err := sb.WriteDirect(d); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	if err := d.Barrier(); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	return mkLedger(d, naccounts, opts), nil
}

// Open loads a ledger that Format wrote to d.
func Open(d disk.Disk, opts ...Option) (*Ledger, error) {
	blk, err := d.Read(common.SUPERBLK)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	sb := buf.MkBuf(common.SUPERBLK, blk)
	if sb.Uint64Get(sbMagic) != common.LEDGERMAGIC {
		return nil, ErrNotFormatted
	}
	naccounts := sb.Uint64Get(sbAccounts)
	if sb.Uint64Get(sbBitmapLen) != bitmapLen(naccounts) {
		return nil, fmt.Errorf("open: bad bitmap length: %w", ErrNotFormatted)
	}
	sz, err := d.Size()
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if sz < DiskBlocks(naccounts) {
		return nil, ErrDiskTooSmall
	}
	return mkLedger(d, naccounts, opts), nil
}

func (l *Ledger) Coordinator() *lockgroup.Coordinator {
	return l.c
}

// NewThread returns a thread for one goroutine's use of the ledger.
func (l *Ledger) NewThread() *lockgroup.Thread {
	return l.c.NewThread()
}

func (l *Ledger) NumAccounts() uint64 {
	return l.naccounts
}

func (l *Ledger) Stats() Stats {
	return Stats{
		Commits:   l.stats.commits.Load(),
		Aborts:    l.stats.aborts.Load(),
		Timeouts:  l.stats.timeouts.Load(),
		Failures:  l.stats.failures.Load(),
		Exhausted: l.stats.exhausted.Load(),
	}
}

func (l *Ledger) acctBlock(acct uint64) common.Bnum {
	return l.dataStart + acct - 1
}

// account locks acct's block and returns it if the account is open
func (l *Ledger) account(tp *twophase.TwoPhase, acct uint64, timeout time.Duration) (*buf.Buf, error) {
	if acct == 0 || acct > l.naccounts {
		return nil, fmt.Errorf("account %d: %w", acct, ErrNoAccount)
	}
	b, err := tp.ReadBuf(l.acctBlock(acct), timeout)
	if err != nil {
		return nil, err
	}
	if b.Uint64Get(acctOpen) == 0 {
		return nil, fmt.Errorf("account %d: %w", acct, ErrNoAccount)
	}
	return b, nil
}

// run executes op in a fresh transaction until it commits, fails for a reason
// other than preemption, or runs out of retries. Each retry runs at a higher
// priority so a repeatedly preempted operation eventually wins its cycles.
func (l *Ledger) run(th *lockgroup.Thread, prio int, op func(tp *twophase.TwoPhase) error) error {
	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxInterval = 20 * time.Millisecond
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		tp := twophase.Begin(th, l.locks, l.d, prio+attempt)
		attempt++
		err := op(tp)
		if err == nil {
			err = tp.Commit()
		} else {
			tp.Abort()
		}
		switch {
		case err == nil:
			l.stats.commits.Inc()
			return nil
		case errors.Is(err, twophase.ErrAborted):
			l.stats.aborts.Inc()
			util.DPrintf(2, "%v: aborted, attempt %d\n", tp.Id(), attempt)
			return err
		case errors.Is(err, lockgroup.ErrTimedOut):
			l.stats.timeouts.Inc()
		default:
			l.stats.failures.Inc()
		}
		return backoff.Permanent(err)
	}, backoff.WithMaxRetries(b, l.maxRetries))
	if errors.Is(err, twophase.ErrAborted) {
		l.stats.exhausted.Inc()
		l.log.WithField("attempts", attempt).Warn("gave up on preempted operation")
	}
	return err
}

// OpenAccount allocates an account holding balance and returns its number.
func (l *Ledger) OpenAccount(th *lockgroup.Thread, balance uint64, timeout time.Duration) (uint64, error) {
	var acct uint64
	err := l.run(th, 0, func(tp *twophase.TwoPhase) error {
		n, err := l.alloc.AllocNum(tp, timeout)
		if err != nil {
			return err
		}
		b, err := tp.ReadBuf(l.acctBlock(n), timeout)
		if err != nil {
			return err
		}
		b.Uint64Put(acctBalance, balance)
		b.Uint64Put(acctOpen, 1)
		acct = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	util.DPrintf(1, "OpenAccount: %d balance %d\n", acct, balance)
	return acct, nil
}

// CloseAccount frees an account whose balance is zero.
func (l *Ledger) CloseAccount(th *lockgroup.Thread, acct uint64, timeout time.Duration) error {
	return l.run(th, 0, func(tp *twophase.TwoPhase) error {
		b, err := l.account(tp, acct, timeout)
		if err != nil {
			return err
		}
		if b.Uint64Get(acctBalance) != 0 {
			return fmt.Errorf("account %d: %w", acct, ErrNotEmpty)
		}
		b.Uint64Put(acctOpen, 0)
		return l.alloc.FreeNum(tp, acct, timeout)
	})
}

func (l *Ledger) Balance(th *lockgroup.Thread, acct uint64, timeout time.Duration) (uint64, error) {
	var bal uint64
	err := l.run(th, 0, func(tp *twophase.TwoPhase) error {
		b, err := l.account(tp, acct, timeout)
		if err != nil {
			return err
		}
		bal = b.Uint64Get(acctBalance)
		return nil
	})
	return bal, err
}

// Transfer moves amount from one account to another. Both accounts are
// locked in argument order, so concurrent transfers form lock cycles that
// the coordinator resolves by priority; preempted transfers are retried.
func (l *Ledger) Transfer(th *lockgroup.Thread, from, to, amount uint64, prio int, timeout time.Duration) error {
	return l.run(th, prio, func(tp *twophase.TwoPhase) error {
		fb, err := l.account(tp, from, timeout)
		if err != nil {
			return err
		}
		tb, err := l.account(tp, to, timeout)
		if err != nil {
			return err
		}
		fbal := fb.Uint64Get(acctBalance)
		if fbal < amount {
			return fmt.Errorf("account %d has %d, need %d: %w", from, fbal, amount, ErrInsufficientFunds)
		}
		if from == to {
			return nil
		}
		tbal := tb.Uint64Get(acctBalance)
		if util.SumOverflows(tbal, amount) {
			return fmt.Errorf("account %d: %w", to, ErrOverflow)
		}
		fb.Uint64Put(acctBalance, fbal-amount)
		tb.Uint64Put(acctBalance, tbal+amount)
		return nil
	})
}

// Total sums every open account in one transaction, so the result is a
// consistent snapshot even while transfers run.
func (l *Ledger) Total(th *lockgroup.Thread, prio int, timeout time.Duration) (uint64, error) {
	var total uint64
	err := l.run(th, prio, func(tp *twophase.TwoPhase) error {
		total = 0
		for acct := uint64(1); acct <= l.naccounts; acct++ {
			b, err := tp.ReadBuf(l.acctBlock(acct), timeout)
			if err != nil {
				return err
			}
			if b.Uint64Get(acctOpen) == 0 {
				continue
			}
			bal := b.Uint64Get(acctBalance)
			if util.SumOverflows(total, bal) {
				return ErrOverflow
			}
			total += bal
		}
		return nil
	})
	return total, err
}
