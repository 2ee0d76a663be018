// Package pool implements the update scheduler: it owns the registry of
// sources, accepts batches for them, and drives processing rounds.
//
// Thread-safety model:
//   - Submit, RegisterSource, UnregisterSource, Epoch: safe from any goroutine
//   - RunPending, RunPendingSource: safe from any goroutine; at most one
//     round is in flight per pool and callers queue on the round lock
//   - Run: drives rounds from one goroutine until Shutdown or ctx is done
//
// The round lock is released before the notify callback runs, so the
// callback may read published state but must not start a round itself on
// the same goroutine.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/deltapivot/internal/batch"
	"github.com/roach88/deltapivot/internal/config"
)

// SourceID identifies a registered source. IDs start at 1 and are never
// reused by a pool.
type SourceID uint64

// Source is a unit of data driven once per round.
//
// Send must be safe to call concurrently with Process; batches sent while a
// round is in flight may be left for the next round.
type Source interface {
	Name() string
	Send(port int, b *batch.Batch) error
	HasPending() bool
	Process(ctx context.Context) error
	ClearOutputPorts()
}

// Pool is the update scheduler.
type Pool struct {
	id      string
	workers int
	notify  func()

	round sync.Mutex // held for the whole of a round

	mu      sync.Mutex // guards the fields below
	sources map[SourceID]Source
	order   []SourceID
	nextID  SourceID
	closed  bool
	signal  chan struct{} // buffered, size 1

	epoch Epoch
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers bounds how many sources are processed concurrently.
// Zero or less means runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(p *Pool) {
		p.workers = n
	}
}

// WithNotify sets the callback invoked once after every round.
func WithNotify(fn func()) Option {
	return func(p *Pool) {
		p.notify = fn
	}
}

// WithIDGenerator sets the generator for the pool instance id.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pool) {
		p.id = g.Generate()
	}
}

// New creates a pool with no sources at epoch 0.
func New(opts ...Option) *Pool {
	p := &Pool{
		sources: make(map[SourceID]Source),
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.id == "" {
		p.id = UUIDv7Generator{}.Generate()
	}
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	slog.Info("pool created", "pool_id", p.id, "workers", p.workers)
	return p
}

// ID returns the pool instance id.
func (p *Pool) ID() string { return p.id }

// Epoch returns the number of completed rounds.
func (p *Pool) Epoch() uint64 { return p.epoch.Current() }

// RegisterSource adds src and returns its id. Sources are processed in
// registration order.
func (p *Pool) RegisterSource(src Source) (SourceID, error) {
	if src == nil {
		panic("pool: register nil source")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPoolClosed
	}
	p.nextID++
	id := p.nextID
	p.sources[id] = src
	p.order = append(p.order, id)

	slog.Info("source registered", "pool_id", p.id, "source_id", id, "source", src.Name())
	return id, nil
}

// UnregisterSource removes a source. Later rounds skip it; a round already
// in flight is unaffected. Unknown ids are ignored.
func (p *Pool) UnregisterSource(id SourceID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	src, ok := p.sources[id]
	if !ok {
		return
	}
	delete(p.sources, id)
	for i, sid := range p.order {
		if sid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	slog.Info("source unregistered", "pool_id", p.id, "source_id", id, "source", src.Name())
}

// Source returns a registered source.
func (p *Pool) Source(id SourceID) (Source, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[id]
	return src, ok
}

// Sources returns the registered ids in registration order.
func (p *Pool) Sources() []SourceID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SourceID(nil), p.order...)
}

// Submit hands b to a source port for the next round. It never processes
// synchronously and never waits for a round in flight.
func (p *Pool) Submit(id SourceID, port int, b *batch.Batch) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	src, ok := p.sources[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("submit to source %d: %w", id, ErrUnknownSource)
	}

	if err := src.Send(port, b); err != nil {
		return fmt.Errorf("submit to source %d (%s): %w", id, src.Name(), err)
	}
	if config.Tracing(config.StagePool) {
		config.Tracer(config.StagePool).Debug("batch submitted", "pool_id", p.id, "source_id", id, "port", port, "rows", b.Len())
	}
	p.wake()
	return nil
}

func (p *Pool) wake() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

type entry struct {
	id  SourceID
	src Source
}

// pending snapshots the sources with pending input, in registration order.
// When only is non-zero the snapshot is restricted to that source.
func (p *Pool) pending(only SourceID) []entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []entry
	for _, id := range p.order {
		if only != 0 && id != only {
			continue
		}
		if src := p.sources[id]; src.HasPending() {
			out = append(out, entry{id: id, src: src})
		}
	}
	return out
}

// RunPending runs one round: every source with pending input is processed
// exactly once, processed sources have their output ports cleared, the
// epoch advances, and notify is called once. The epoch advances and notify
// runs even when no source is pending or some sources fail; failures are
// returned joined, each as a *SourceError.
func (p *Pool) RunPending(ctx context.Context) error {
	return p.runRound(ctx, 0)
}

// RunPendingSource runs a round restricted to one source. It is a no-op
// when id is not registered.
func (p *Pool) RunPendingSource(ctx context.Context, id SourceID) error {
	if _, ok := p.Source(id); !ok {
		if config.Tracing(config.StagePool) {
			config.Tracer(config.StagePool).Debug("round skipped for unknown source", "pool_id", p.id, "source_id", id)
		}
		return nil
	}
	return p.runRound(ctx, id)
}

func (p *Pool) runRound(ctx context.Context, only SourceID) error {
	p.round.Lock()
	work := p.pending(only)
	epoch := p.epoch.Current() + 1

	errs := make([]error, len(work))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, w := range work {
		g.Go(func() error {
			if err := w.src.Process(ctx); err != nil {
				errs[i] = &SourceError{SourceID: w.id, Name: w.src.Name(), Epoch: epoch, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, w := range work {
		w.src.ClearOutputPorts()
	}
	p.epoch.Next()
	p.round.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		slog.Warn("round completed with failures", "pool_id", p.id, "epoch", epoch, "failed", len(FailedSources(err)))
	}
	if config.Tracing(config.StagePool) {
		config.Tracer(config.StagePool).Debug("round completed", "pool_id", p.id, "epoch", epoch, "processed", len(work))
	}

	if p.notify != nil {
		p.notify()
	}
	return err
}

// Run drives rounds whenever work is submitted. It returns nil after
// Shutdown and ctx.Err() when ctx is done. Round failures are logged and
// the loop continues.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("pool running", "pool_id", p.id)
	for {
		select {
		case <-ctx.Done():
			slog.Info("pool stopping: context cancelled", "pool_id", p.id)
			return ctx.Err()
		case _, ok := <-p.signal:
			if !ok {
				slog.Info("pool stopping: shut down", "pool_id", p.id)
				return nil
			}
			if err := p.RunPending(ctx); err != nil {
				slog.Error("round failed", "pool_id", p.id, "epoch", p.Epoch(), "error", err)
			}
		}
	}
}

// Shutdown rejects further submits and registrations and stops Run.
// Rounds may still be run explicitly to drain pending input.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.signal)
	slog.Info("pool shut down", "pool_id", p.id, "epoch", p.epoch.Current())
}
