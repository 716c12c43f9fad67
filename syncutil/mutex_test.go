package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutexIsLocker(t *testing.T) {
	var mu Mutex
	var l sync.Locker = &mu
	l.Lock()
	l.Unlock()
}

func TestMutexExcludes(t *testing.T) {
	var mu Mutex
	var wg sync.WaitGroup
	n := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mu.Lock()
				n++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, n)
}
