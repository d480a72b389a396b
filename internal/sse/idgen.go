package sse

import "sync/atomic"

// IDGenerator hands out event ids.
type IDGenerator interface {
	// Next returns the current value and advances the counter.
	Next() uint64
}

// Counter is a monotonic IDGenerator safe for concurrent use. The zero value
// starts at 0.
type Counter struct {
	n atomic.Uint64
}

// Next implements IDGenerator.
func (c *Counter) Next() uint64 {
	return c.n.Add(1) - 1
}

// IDFunc adapts a function to IDGenerator.
type IDFunc func() uint64

// Next implements IDGenerator.
func (f IDFunc) Next() uint64 {
	return f()
}
