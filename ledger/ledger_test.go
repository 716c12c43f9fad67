package ledger

import (
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-lockgroup/alloc"
	"github.com/mit-pdos/go-lockgroup/disk"
	"github.com/mit-pdos/go-lockgroup/lockgroup"
)

const inf = lockgroup.Infinite

func newTestLedger(t *testing.T, naccounts uint64, opts ...Option) (*Ledger, disk.Disk) {
	d := disk.NewMemDisk(DiskBlocks(naccounts))
	l, err := Format(d, naccounts, opts...)
	require.NoError(t, err)
	return l, d
}

func TestFormatOpen(t *testing.T) {
	assert := assert.New(t)

	_, err := Open(disk.NewMemDisk(4))
	assert.ErrorIs(err, ErrNotFormatted)

	_, err = Format(disk.NewMemDisk(4), 10)
	assert.ErrorIs(err, ErrDiskTooSmall)

	_, d := newTestLedger(t, 10)
	l, err := Open(d)
	require.NoError(t, err)
	assert.Equal(uint64(10), l.NumAccounts())
}

func TestAccounts(t *testing.T) {
	assert := assert.New(t)
	l, _ := newTestLedger(t, 10)
	th := l.NewThread()

	a, err := l.OpenAccount(th, 100, inf)
	require.NoError(t, err)
	b, err := l.OpenAccount(th, 50, inf)
	require.NoError(t, err)
	assert.NotEqual(a, b)

	require.NoError(t, l.Transfer(th, a, b, 30, 0, inf))
	bal, err := l.Balance(th, a, inf)
	assert.NoError(err)
	assert.Equal(uint64(70), bal)
	bal, _ = l.Balance(th, b, inf)
	assert.Equal(uint64(80), bal)

	assert.ErrorIs(l.Transfer(th, a, b, 1000, 0, inf), ErrInsufficientFunds)
	assert.ErrorIs(l.Transfer(th, a, 0, 1, 0, inf), ErrNoAccount)
	assert.ErrorIs(l.Transfer(th, a, 11, 1, 0, inf), ErrNoAccount)
	_, err = l.Balance(th, 5, inf)
	assert.ErrorIs(err, ErrNoAccount, "never opened")
	require.NoError(t, l.Transfer(th, a, a, 70, 0, inf), "self transfer is a no-op")

	assert.ErrorIs(l.CloseAccount(th, a, inf), ErrNotEmpty)
	require.NoError(t, l.Transfer(th, a, b, 70, 0, inf))
	require.NoError(t, l.CloseAccount(th, a, inf))
	_, err = l.Balance(th, a, inf)
	assert.ErrorIs(err, ErrNoAccount)

	total, err := l.Total(th, 0, inf)
	assert.NoError(err)
	assert.Equal(uint64(150), total)

	st := l.Stats()
	assert.Equal(uint64(6), st.Failures)
	assert.Zero(st.Aborts)
	assert.True(th.Group().IsZero(), "every operation releases its locks")
}

func TestOverflow(t *testing.T) {
	l, _ := newTestLedger(t, 2)
	th := l.NewThread()
	a, err := l.OpenAccount(th, 1, inf)
	require.NoError(t, err)
	b, err := l.OpenAccount(th, math.MaxUint64, inf)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Transfer(th, a, b, 1, 0, inf), ErrOverflow)
	bal, _ := l.Balance(th, a, inf)
	assert.Equal(t, uint64(1), bal, "refused transfer changes nothing")
}

func TestFull(t *testing.T) {
	l, _ := newTestLedger(t, 2)
	th := l.NewThread()
	for i := 0; i < 2; i++ {
		_, err := l.OpenAccount(th, 0, inf)
		require.NoError(t, err)
	}
	_, err := l.OpenAccount(th, 0, inf)
	assert.ErrorIs(t, err, alloc.ErrFull)
}

func TestTimeout(t *testing.T) {
	l, _ := newTestLedger(t, 2)
	th := l.NewThread()
	a, err := l.OpenAccount(th, 10, inf)
	require.NoError(t, err)

	// another thread holds a's block
	other := l.NewThread()
	h, err := other.Acquire(l.locks.Resource(l.acctBlock(a)), lockgroup.StaticHolder(0), 0)
	require.NoError(t, err)

	_, err = l.Balance(th, a, 10*time.Millisecond)
	assert.ErrorIs(t, err, lockgroup.ErrTimedOut)
	assert.Equal(t, uint64(1), l.Stats().Timeouts)
	h.Release()

	bal, err := l.Balance(th, a, inf)
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), bal)
}

func TestPersistsOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.img")
	d, err := disk.NewFileDisk(path, DiskBlocks(4))
	require.NoError(t, err)
	l, err := Format(d, 4)
	require.NoError(t, err)
	th := l.NewThread()
	a, _ := l.OpenAccount(th, 40, inf)
	b, _ := l.OpenAccount(th, 2, inf)
	require.NoError(t, l.Transfer(th, a, b, 15, 0, inf))
	require.NoError(t, d.Close())

	d, err = disk.NewFileDisk(path, DiskBlocks(4))
	require.NoError(t, err)
	defer d.Close()
	l, err = Open(d)
	require.NoError(t, err)
	th = l.NewThread()
	bal, err := l.Balance(th, b, inf)
	assert.NoError(t, err)
	assert.Equal(t, uint64(17), bal)
	total, _ := l.Total(th, 0, inf)
	assert.Equal(t, uint64(42), total)
}

// Workers move money between random pairs of accounts, locking both in
// argument order, while an auditor sums all accounts. Every audit and the
// final total must see the starting amount.
func TestConcurrentTransfersConserveTotal(t *testing.T) {
	const (
		naccounts = 6
		nworkers  = 8
		ntransfer = 100
		start     = 1000
	)
	c := lockgroup.New()
	l, _ := newTestLedger(t, naccounts, WithCoordinator(c), WithMaxRetries(100000))
	setup := l.NewThread()
	accts := make([]uint64, naccounts)
	for i := range accts {
		n, err := l.OpenAccount(setup, start, inf)
		require.NoError(t, err)
		accts[i] = n
	}

	var wg sync.WaitGroup
	for i := 0; i < nworkers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(i)))
			th := l.NewThread()
			for j := 0; j < ntransfer; j++ {
				from := accts[rnd.Intn(naccounts)]
				to := accts[rnd.Intn(naccounts)]
				err := l.Transfer(th, from, to, uint64(rnd.Intn(50)), rnd.Intn(3), inf)
				if err != nil {
					assert.ErrorIs(t, err, ErrInsufficientFunds)
				}
			}
		}(i)
	}

	stop := make(chan struct{})
	audited := make(chan int)
	go func() {
		th := l.NewThread()
		n := 0
		for {
			select {
			case <-stop:
				audited <- n
				return
			default:
			}
			total, err := l.Total(th, 1, inf)
			if assert.NoError(t, err) {
				assert.Equal(t, uint64(naccounts*start), total)
			}
			n++
		}
	}()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(60 * time.Second):
		t.Fatal("transfers did not finish")
	}
	close(stop)
	assert.NotZero(t, <-audited)

	total, err := l.Total(setup, 0, inf)
	assert.NoError(t, err)
	assert.Equal(t, uint64(naccounts*start), total)
	assert.Zero(t, l.Stats().Exhausted)
	assert.Zero(t, c.Stats().LiveGroups)
}
