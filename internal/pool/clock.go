package pool

import "sync/atomic"

// Epoch is the counter of completed rounds.
//
// Safe for concurrent reads; only the round holder advances it.
type Epoch struct {
	n atomic.Uint64
}

// Next advances the epoch and returns the new value.
func (e *Epoch) Next() uint64 {
	return e.n.Add(1)
}

// Current returns the epoch without advancing it.
func (e *Epoch) Current() uint64 {
	return e.n.Load()
}
