package lockmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-lockgroup/lockgroup"
	"github.com/mit-pdos/go-lockgroup/syncutil"
)

func TestSameResource(t *testing.T) {
	assert := assert.New(t)
	lmap := MkLockMap()
	r := lmap.Resource(5)
	assert.Same(r, lmap.Resource(5))
	assert.NotSame(r, lmap.Resource(5+NSHARD), "same shard, different address")
	assert.Equal(2, lmap.Len())
}

func TestShardUsesSyncutilMutex(t *testing.T) {
	var mu *syncutil.Mutex = mkLockShard().mu
	require.NotNil(t, mu)
	mu.Lock()
	mu.Unlock()
}

func TestConcurrentLookup(t *testing.T) {
	lmap := MkLockMap()
	var wg sync.WaitGroup
	got := make([]*lockgroup.Lockable, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = lmap.Resource(1000)
		}(i)
	}
	wg.Wait()
	for _, r := range got {
		assert.Same(t, got[0], r)
	}
}

func TestExclusion(t *testing.T) {
	lmap := MkLockMap()
	c := lockgroup.New()

	h1, err := c.NewThread().Acquire(lmap.Resource(1), lockgroup.StaticHolder(0), 0)
	require.NoError(t, err)
	_, err = c.NewThread().Acquire(lmap.Resource(1), lockgroup.StaticHolder(0), 0)
	assert.ErrorIs(t, err, lockgroup.ErrTimedOut)

	h2, err := c.NewThread().Acquire(lmap.Resource(2), lockgroup.StaticHolder(0), 0)
	require.NoError(t, err)
	h2.Release()
	h1.Release()
}
