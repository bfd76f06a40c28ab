package event

import (
	"sync"
	"time"
)

// TimeLayout is the envelope timestamp format (UTC, microseconds).
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Clock hands out timestamps that never go backwards, even if the wall
// clock does.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock returns a clock over now; nil means time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Stamp returns the next timestamp.
func (c *Clock) Stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// Format renders t as an envelope timestamp.
func Format(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
