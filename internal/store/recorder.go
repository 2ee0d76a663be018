package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/deltapivot/internal/gnode"
	"github.com/roach88/deltapivot/internal/scalar"
)

// Recorder buffers the deltas of one or more nodes as journal rounds and
// writes them on Flush. Attach one consumer per node with Consumer.
//
// OnDelta runs inside a pool round, so the epoch recorded is the one in
// flight: epoch() + 1 where epoch reports completed rounds.
type Recorder struct {
	store  *Store
	poolID string
	epoch  func() uint64

	mu      sync.Mutex
	pending []Round
}

// NewRecorder creates a recorder for a pool. epoch must return the
// number of completed rounds of that pool.
func NewRecorder(s *Store, poolID string, epoch func() uint64) *Recorder {
	return &Recorder{store: s, poolID: poolID, epoch: epoch}
}

// Consumer returns a delta consumer journaling under source.
func (r *Recorder) Consumer(source string) gnode.Consumer {
	return gnode.ConsumerFunc(func(d *gnode.Delta) error {
		r.record(source, d)
		return nil
	})
}

func (r *Recorder) record(source string, d *gnode.Delta) {
	round := Round{
		PoolID:  r.poolID,
		Epoch:   r.epoch() + 1,
		Source:  source,
		Changes: make([]Change, d.Len()),
	}
	for i := range d.Len() {
		st := d.Status[i]
		switch st {
		case gnode.StatusInserted:
			round.Inserted++
		case gnode.StatusUpdated:
			round.Updated++
		case gnode.StatusUnchanged:
			round.Unchanged++
		case gnode.StatusDeleted:
			round.Deleted++
		}
		round.Changes[i] = Change{Seq: i, PKey: scalar.Format(d.Keys[i]), Status: st.String()}
	}

	r.mu.Lock()
	r.pending = append(r.pending, round)
	r.mu.Unlock()
}

// Pending returns the number of buffered rounds.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush writes buffered rounds in order. Rounds that fail stay buffered
// for the next flush, together with every round after them.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for i, round := range batch {
		if err := r.store.WriteRound(ctx, round); err != nil {
			r.mu.Lock()
			r.pending = append(batch[i:], r.pending...)
			r.mu.Unlock()
			return err
		}
	}
	if len(batch) > 0 {
		slog.Debug("journal flushed", "pool_id", r.poolID, "rounds", len(batch))
	}
	return nil
}
