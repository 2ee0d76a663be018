// Package gnode implements the keyed table source driven by the pool.
//
// A Node queues batches per input port. On Process it flattens everything
// queued since the previous round into one operation per key, merges the
// result into its master store, classifies every touched cell, and hands
// the row-aligned Delta to its consumers.
//
// Send, HasPending and MakeInputPort are safe from any goroutine. Process
// and ClearOutputPorts are called by the pool under its round lock.
package gnode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/deltapivot/internal/batch"
	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/config"
	"github.com/roach88/deltapivot/internal/master"
	"github.com/roach88/deltapivot/internal/pkey"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/transition"
)

var (
	// ErrUnknownPort is returned by Send for a port that was never made.
	ErrUnknownPort = errors.New("gnode: unknown input port")
	// ErrUnknownColumn is returned by Send for a row naming a column
	// outside the schema.
	ErrUnknownColumn = errors.New("gnode: unknown column")
	// ErrKindMismatch is returned by Send for a cell whose kind differs
	// from its column.
	ErrKindMismatch = errors.New("gnode: kind mismatch")
)

// Consumer receives the delta of every round that touched at least one row.
type Consumer interface {
	OnDelta(d *Delta) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(d *Delta) error

func (f ConsumerFunc) OnDelta(d *Delta) error { return f(d) }

// Node is a keyed table source.
type Node struct {
	name    string
	schema  column.Schema
	index   string
	keyCol  int
	workers int
	master  *master.Store

	inMu  sync.Mutex
	ports [][]*batch.Batch

	delta     *Delta
	summary   Summary
	consumers []Consumer
}

type nodeOptions struct {
	capacity int
	workers  int
}

// Option configures a Node.
type Option func(*nodeOptions)

// WithCapacity caps the master store at rows slots. Zero means no cap.
func WithCapacity(rows int) Option {
	return func(o *nodeOptions) {
		o.capacity = rows
	}
}

// WithWorkers bounds the column fan-out of transition classification.
func WithWorkers(n int) Option {
	return func(o *nodeOptions) {
		o.workers = n
	}
}

// New creates a node named name over schema, keyed by the index column.
// It panics if index is not in schema.
func New(name string, schema column.Schema, index string, opts ...Option) *Node {
	keyCol, ok := schema.Index(index)
	if !ok {
		panic(fmt.Sprintf("gnode: index column %q not in schema", index))
	}
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Node{
		name:    name,
		schema:  schema,
		index:   index,
		keyCol:  keyCol,
		workers: o.workers,
		master:  master.New(schema, master.WithCapacity(o.capacity)),
		ports:   make([][]*batch.Batch, 1),
		delta:   newDelta(schema),
	}
}

func (n *Node) Name() string { return n.name }

// Schema returns the table schema.
func (n *Node) Schema() column.Schema { return n.schema }

// IndexColumn returns the primary key column name.
func (n *Node) IndexColumn() string { return n.index }

// Master returns the node's master store. Reads are safe between rounds,
// including from the pool's notify callback.
func (n *Node) Master() *master.Store { return n.master }

// Summary returns the row counts of the last round.
func (n *Node) Summary() Summary { return n.summary }

// AddConsumer registers c. Consumers are called in registration order and
// must be added before the node takes part in a round.
func (n *Node) AddConsumer(c Consumer) {
	n.consumers = append(n.consumers, c)
}

// MakeInputPort adds an input port and returns its number. Port 0 always
// exists.
func (n *Node) MakeInputPort() int {
	n.inMu.Lock()
	defer n.inMu.Unlock()
	n.ports = append(n.ports, nil)
	return len(n.ports) - 1
}

// Send queues b on port. Rows are validated against the schema here so a
// bad batch is rejected before it can reach a round. An empty or nil batch
// is not queued.
func (n *Node) Send(port int, b *batch.Batch) error {
	if err := n.validate(b); err != nil {
		return err
	}
	n.inMu.Lock()
	defer n.inMu.Unlock()
	if port < 0 || port >= len(n.ports) {
		return fmt.Errorf("port %d: %w", port, ErrUnknownPort)
	}
	if b.Len() == 0 {
		return nil
	}
	n.ports[port] = append(n.ports[port], b)
	return nil
}

func (n *Node) validate(b *batch.Batch) error {
	if b == nil {
		return nil
	}
	keyKind := n.schema.Kind(n.index)
	for i, r := range b.Rows {
		key := r.Get(n.index)
		if !scalar.IsValid(key) || scalar.IsNaN(key) {
			return fmt.Errorf("row %d: key %s: %w", i, scalar.Format(key), pkey.ErrInvalidKey)
		}
		if k := scalar.KindOf(key); k != keyKind {
			return fmt.Errorf("row %d: key is %s, index column %q is %s: %w", i, k, n.index, keyKind, ErrKindMismatch)
		}
		for col, v := range r.Values {
			idx, ok := n.schema.Index(col)
			if !ok {
				return fmt.Errorf("row %d: %q: %w", i, col, ErrUnknownColumn)
			}
			if !scalar.IsValid(v) {
				continue
			}
			if k, want := scalar.KindOf(v), n.schema.Def(idx).Kind; k != want {
				return fmt.Errorf("row %d: column %q is %s, got %s: %w", i, col, want, k, ErrKindMismatch)
			}
		}
	}
	return nil
}

// HasPending reports whether any port holds a queued batch.
func (n *Node) HasPending() bool {
	n.inMu.Lock()
	defer n.inMu.Unlock()
	for _, p := range n.ports {
		if len(p) > 0 {
			return true
		}
	}
	return false
}

func (n *Node) drain() [][]*batch.Batch {
	n.inMu.Lock()
	defer n.inMu.Unlock()
	queued := n.ports
	n.ports = make([][]*batch.Batch, len(queued))
	return queued
}

// Process runs one round over every batch queued so far. A round that
// would bind more new keys than the master store can hold fails before any
// row is merged, and its batches are dropped.
func (n *Node) Process(ctx context.Context) error {
	n.delta.clear()
	n.summary = Summary{}

	rows := n.flatten(n.drain())
	if err := n.checkCapacity(rows); err != nil {
		return fmt.Errorf("gnode %s: %w", n.name, err)
	}
	for _, fr := range rows {
		if err := n.apply(fr); err != nil {
			return fmt.Errorf("gnode %s: %w", n.name, err)
		}
	}

	d := n.delta
	if err := transition.ClassifyTable(d.Existed, d.Previous, d.Current, d.Transitions, n.workers); err != nil {
		return fmt.Errorf("gnode %s: %w", n.name, err)
	}
	n.settleStatus()

	if config.Tracing(config.StageGnode) {
		config.Tracer(config.StageGnode).Debug("gnode round",
			"source", n.name,
			"rows", d.Len(),
			"inserted", n.summary.Inserted,
			"updated", n.summary.Updated,
			"unchanged", n.summary.Unchanged,
			"deleted", n.summary.Deleted,
		)
	}

	if d.Len() == 0 {
		return nil
	}
	var errs []error
	for _, c := range n.consumers {
		if err := c.OnDelta(d); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("gnode %s: consumer: %w", n.name, err)
	}
	return nil
}

// checkCapacity replays the round's slot use in apply order: an erased key
// frees a slot for later rows, a new key takes one.
func (n *Node) checkCapacity(rows []*flatRow) error {
	free := n.master.Headroom()
	if free < 0 {
		return nil
	}
	for _, fr := range rows {
		_, existed := n.master.Lookup(fr.key)
		switch {
		case existed && fr.op == batch.OpDelete:
			free++
		case !existed && fr.op == batch.OpInsert:
			if free == 0 {
				return fmt.Errorf("round needs a slot for key %s: %w", scalar.Format(fr.key), column.ErrCapacityExceeded)
			}
			free--
		}
	}
	return nil
}

func (n *Node) apply(fr *flatRow) error {
	h, existed := n.master.Lookup(fr.key)
	prev := n.noneRow()
	if existed {
		prev = n.master.Row(h)
	}

	if fr.op == batch.OpDelete {
		if !existed {
			return nil
		}
		n.master.Erase(fr.key)
		return n.record(fr, existed, prev, n.noneRow(), StatusDeleted)
	}

	base := prev
	if fr.reset {
		base = n.noneRow()
	}
	cur := merge(base, fr.cells)
	cur[n.keyCol] = fr.key

	status := StatusUpdated
	if !existed {
		status = StatusInserted
		var err error
		if h, _, err = n.master.LookupOrCreate(fr.key); err != nil {
			return err
		}
	}
	n.master.SetRow(h, cur)
	return n.record(fr, existed, prev, cur, status)
}

func (n *Node) record(fr *flatRow, existed bool, prev, cur []scalar.Scalar, st RowStatus) error {
	if err := n.delta.append(fr.key, existed, fr.cells, prev, cur); err != nil {
		return fmt.Errorf("record delta row %s: %w", scalar.Format(fr.key), err)
	}
	n.delta.Status = append(n.delta.Status, st)
	return nil
}

// settleStatus marks deleted rows in the transitions table and splits rows
// that existed into updated and unchanged. A row is unchanged when every
// cell kept its value or stayed invalid.
func (n *Node) settleStatus() {
	d := n.delta
	cols := n.schema.Len()
	for row, st := range d.Status {
		switch st {
		case StatusDeleted:
			for c := range cols {
				d.Transitions.ColumnAt(c).Set(row, transition.NeqTrueToDeleted.Scalar())
			}
		case StatusUpdated:
			if sameRow(d.Previous.Row(row), d.Current.Row(row)) {
				d.Status[row] = StatusUnchanged
			}
		}
		n.summary.add(d.Status[row])
	}
}

func sameRow(prev, cur []scalar.Scalar) bool {
	for i := range prev {
		pv, cv := scalar.IsValid(prev[i]), scalar.IsValid(cur[i])
		if pv != cv || (pv && !scalar.Equal(prev[i], cur[i])) {
			return false
		}
	}
	return true
}

// ClearOutputPorts clears the delta tables, keeping their capacity.
func (n *Node) ClearOutputPorts() {
	n.delta.clear()
}

func (n *Node) noneRow() []scalar.Scalar {
	row := make([]scalar.Scalar, n.schema.Len())
	fillNone(row)
	return row
}
