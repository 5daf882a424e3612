package service

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"swarg/internal/models"
)

// Clock hands out strictly increasing UTC timestamps with microsecond
// precision, the finest resolution Postgres keeps.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a Clock backed by the wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns max(wall clock, previous + 1µs).
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

const laneStripes = 256

// lanes serializes work per (sender, conversation) pair using a fixed set of
// striped mutexes. Unrelated pairs may share a stripe.
type lanes struct {
	stripes [laneStripes]sync.Mutex
}

func (l *lanes) lock(senderID uint, to models.Receiver) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatUint(uint64(senderID), 10)))
	_, _ = h.Write([]byte{'>'})
	_, _ = h.Write([]byte(to.ConversationID()))

	mu := &l.stripes[h.Sum32()%laneStripes]
	mu.Lock()
	return mu.Unlock
}
