package service

import (
	"sync"
	"testing"
	"time"

	"swarg/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_StrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 123456789, time.UTC)
	c := &Clock{now: func() time.Time { return frozen }}

	first := c.Now()
	second := c.Now()
	assert.Equal(t, frozen.Truncate(time.Microsecond), first)
	assert.Equal(t, first.Add(time.Microsecond), second)
}

func TestClock_WallClockGoingBackwards(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	i := 0
	c := &Clock{now: func() time.Time { t := times[i]; i++; return t }}

	a := c.Now()
	b := c.Now()
	assert.True(t, b.After(a))
}

func TestClock_ConcurrentCallersNeverCollide(t *testing.T) {
	c := NewClock()
	const n = 200

	var mu sync.Mutex
	seen := make(map[time.Time]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := c.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}

func TestLanes_SamePairSerializes(t *testing.T) {
	var l lanes
	to := models.UserReceiver(2)

	unlock := l.lock(1, to)
	acquired := make(chan struct{})
	go func() {
		release := l.lock(1, to)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the lane was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lane never released")
	}
}
