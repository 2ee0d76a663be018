// Package testutil holds helpers shared by package tests: a consumer that
// records published deltas and a pool with a fixed id.
package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/deltapivot/internal/gnode"
	"github.com/roach88/deltapivot/internal/scalar"
)

// DeltaLog is a gnode consumer that records every delta it receives as
// "key status" lines, one slice per delta.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeltaLog struct {
	mu     sync.Mutex
	rounds [][]string
}

// NewDeltaLog creates an empty log.
func NewDeltaLog() *DeltaLog {
	return &DeltaLog{}
}

// OnDelta implements gnode.Consumer.
func (l *DeltaLog) OnDelta(d *gnode.Delta) error {
	lines := make([]string, d.Len())
	for i := range d.Len() {
		lines[i] = fmt.Sprintf("%s %s", scalar.Format(d.Keys[i]), d.Status[i])
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rounds = append(l.rounds, lines)
	return nil
}

// Len returns the number of deltas recorded.
func (l *DeltaLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rounds)
}

// Last returns the most recent delta, or nil.
func (l *DeltaLog) Last() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rounds) == 0 {
		return nil
	}
	return append([]string(nil), l.rounds[len(l.rounds)-1]...)
}

// Rounds returns a copy of every recorded delta.
func (l *DeltaLog) Rounds() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]string, len(l.rounds))
	for i, r := range l.rounds {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Reset forgets everything recorded.
func (l *DeltaLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rounds = nil
}
