package host

import "sync/atomic"

// SeqClock issues log sequence numbers.
type SeqClock interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock. Every journal entry is stamped with
// a strictly increasing seq from it, so replay sees the commit order
// without relying on wall time.
//
// Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start. NewRuntime uses it to
// continue from the last journaled seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued value.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
