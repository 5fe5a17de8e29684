package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, Epoch, clock.Peek())
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(24*time.Hour), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClockStep(time.Minute)
	clock.Now()
	clock.Now()
	assert.Equal(t, Epoch.Add(2*time.Minute), clock.Peek())

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestSequentialIDs_Sequence(t *testing.T) {
	ids := NewSequentialIDs("song")
	assert.Equal(t, "song-0001", ids.Generate())
	assert.Equal(t, "song-0002", ids.Generate())

	assert.Equal(t, "id-0001", NewSequentialIDs("").Generate())
}

func TestSequentialIDs_ConcurrentUnique(t *testing.T) {
	ids := NewSequentialIDs("x")

	const n = 200
	var mu sync.Mutex
	seen := make(map[string]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ids.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
}
