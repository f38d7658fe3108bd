package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_Now(t *testing.T) {
	clock := NewDeterministicClock()

	first := clock.Now()
	second := clock.Now()
	assert.Equal(t, ClockBase.Add(time.Second), first)
	assert.Equal(t, time.Second, second.Sub(first))

	clock.Reset()
	assert.Equal(t, first, clock.Now())
}

func TestDeterministicClock_ConcurrentReadsAreDistinct(t *testing.T) {
	clock := NewDeterministicClock()
	const workers, reads = 20, 50

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range reads {
				now := clock.Now()
				mu.Lock()
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*reads)
	assert.True(t, seen[ClockBase.Add(workers*reads*time.Second)], "last tick")
}
