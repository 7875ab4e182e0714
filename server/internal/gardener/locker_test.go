package gardener

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsExclusivePerBlock(t *testing.T) {
	locker := NewLocker()

	release, ok := locker.TryAcquire("bb_1")
	require.True(t, ok)
	assert.True(t, locker.IsLocked("bb_1"))

	_, ok = locker.TryAcquire("bb_1")
	assert.False(t, ok, "a second acquire on the same block must fail while held")

	release()
	assert.False(t, locker.IsLocked("bb_1"))

	_, ok = locker.TryAcquire("bb_1")
	assert.True(t, ok, "lock must be reacquirable after release")
}

func TestTryAcquireDoesNotSerializeDistinctBlocks(t *testing.T) {
	locker := NewLocker()

	_, ok1 := locker.TryAcquire("bb_1")
	_, ok2 := locker.TryAcquire("bb_2")

	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestConcurrentAcquireOnlyOneWinner(t *testing.T) {
	locker := NewLocker()
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := locker.TryAcquire("bb_contended"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}
