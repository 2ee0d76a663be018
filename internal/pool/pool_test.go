package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deltapivot/internal/batch"
	"github.com/roach88/deltapivot/internal/scalar"
)

// fakeSource counts batches and rounds. Process merges everything sent
// since the previous round.
type fakeSource struct {
	name  string
	fail  error
	log   *[]string
	logMu *sync.Mutex

	mu        sync.Mutex
	pending   int
	merged    []int
	processed atomic.Int32
	cleared   atomic.Int32
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Send(port int, b *batch.Batch) error {
	if port != 0 {
		return errors.New("no such port")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending += b.Len()
	return nil
}

func (s *fakeSource) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

func (s *fakeSource) Process(context.Context) error {
	s.mu.Lock()
	s.merged = append(s.merged, s.pending)
	s.pending = 0
	s.mu.Unlock()
	s.processed.Add(1)
	if s.log != nil {
		s.logMu.Lock()
		*s.log = append(*s.log, s.name)
		s.logMu.Unlock()
	}
	return s.fail
}

func (s *fakeSource) ClearOutputPorts() { s.cleared.Add(1) }

func oneRow() *batch.Batch {
	return batch.New().Insert(map[string]scalar.Scalar{"k": scalar.Int64(1)})
}

func newTestPool(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	p := New(append([]Option{WithIDGenerator(NewFixedGenerator("pool-1"))}, opts...)...)
	t.Cleanup(p.Shutdown)
	return p
}

func TestRunPending_ZeroPendingStillAdvances(t *testing.T) {
	var notified int
	p := newTestPool(t, WithNotify(func() { notified++ }))

	require.NoError(t, p.RunPending(context.Background()))
	assert.Equal(t, uint64(1), p.Epoch())
	assert.Equal(t, 1, notified)
}

func TestRunPending_MergesBatchesIntoOneProcess(t *testing.T) {
	p := newTestPool(t)
	src := &fakeSource{name: "a"}
	id, err := p.RegisterSource(src)
	require.NoError(t, err)
	assert.Equal(t, SourceID(1), id)

	for range 3 {
		require.NoError(t, p.Submit(id, 0, oneRow()))
	}
	assert.Equal(t, int32(0), src.processed.Load(), "submit never processes")

	require.NoError(t, p.RunPending(context.Background()))
	assert.Equal(t, int32(1), src.processed.Load())
	assert.Equal(t, []int{3}, src.merged)
	assert.Equal(t, int32(1), src.cleared.Load())

	require.NoError(t, p.RunPending(context.Background()))
	assert.Equal(t, int32(1), src.processed.Load(), "idle source is skipped")
	assert.Equal(t, uint64(2), p.Epoch())
}

func TestRunPending_RegistrationOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	p := newTestPool(t, WithWorkers(1))

	var ids []SourceID
	for _, name := range []string{"c", "a", "b"} {
		id, err := p.RegisterSource(&fakeSource{name: name, log: &order, logMu: &mu})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := len(ids) - 1; i >= 0; i-- {
		require.NoError(t, p.Submit(ids[i], 0, oneRow()))
	}

	require.NoError(t, p.RunPending(context.Background()))
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestRunPendingSource(t *testing.T) {
	var notified int
	p := newTestPool(t, WithNotify(func() { notified++ }))
	a := &fakeSource{name: "a"}
	b := &fakeSource{name: "b"}
	ida, _ := p.RegisterSource(a)
	idb, _ := p.RegisterSource(b)
	require.NoError(t, p.Submit(ida, 0, oneRow()))
	require.NoError(t, p.Submit(idb, 0, oneRow()))

	require.NoError(t, p.RunPendingSource(context.Background(), ida))
	assert.Equal(t, int32(1), a.processed.Load())
	assert.Equal(t, int32(0), b.processed.Load())
	assert.Equal(t, uint64(1), p.Epoch())
	assert.Equal(t, 1, notified)

	// Unknown ids are a no-op: no epoch, no notify.
	require.NoError(t, p.RunPendingSource(context.Background(), 99))
	assert.Equal(t, uint64(1), p.Epoch())
	assert.Equal(t, 1, notified)
}

func TestUnregisterSource(t *testing.T) {
	p := newTestPool(t)
	a := &fakeSource{name: "a"}
	id, _ := p.RegisterSource(a)
	require.NoError(t, p.Submit(id, 0, oneRow()))

	p.UnregisterSource(id)
	p.UnregisterSource(id)
	require.NoError(t, p.RunPending(context.Background()))
	assert.Equal(t, int32(0), a.processed.Load())

	err := p.Submit(id, 0, oneRow())
	assert.ErrorIs(t, err, ErrUnknownSource)

	// IDs are never reused.
	next, err := p.RegisterSource(&fakeSource{name: "b"})
	require.NoError(t, err)
	assert.Equal(t, SourceID(2), next)
	assert.Equal(t, []SourceID{2}, p.Sources())
}

func TestRunPending_FailuresAreJoined(t *testing.T) {
	var notified int
	p := newTestPool(t, WithNotify(func() { notified++ }))
	boom := errors.New("boom")
	bad, _ := p.RegisterSource(&fakeSource{name: "bad", fail: boom})
	good := &fakeSource{name: "good"}
	gid, _ := p.RegisterSource(good)
	require.NoError(t, p.Submit(bad, 0, oneRow()))
	require.NoError(t, p.Submit(gid, 0, oneRow()))

	err := p.RunPending(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, bad, se.SourceID)
	assert.Equal(t, uint64(1), se.Epoch)
	assert.Equal(t, []SourceID{bad}, FailedSources(err))

	assert.Equal(t, int32(1), good.processed.Load())
	assert.Equal(t, uint64(1), p.Epoch(), "epoch advances despite failures")
	assert.Equal(t, 1, notified)
}

func TestSubmit_SendErrorIsWrapped(t *testing.T) {
	p := newTestPool(t)
	id, _ := p.RegisterSource(&fakeSource{name: "a"})
	err := p.Submit(id, 7, oneRow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such port")
}

func TestShutdown(t *testing.T) {
	p := newTestPool(t)
	id, _ := p.RegisterSource(&fakeSource{name: "a"})
	p.Shutdown()
	p.Shutdown()

	assert.ErrorIs(t, p.Submit(id, 0, oneRow()), ErrPoolClosed)
	_, err := p.RegisterSource(&fakeSource{name: "b"})
	assert.ErrorIs(t, err, ErrPoolClosed)
	require.NoError(t, p.RunPending(context.Background()))
}

func TestRun_DrivesRoundsUntilShutdown(t *testing.T) {
	rounds := make(chan uint64, 16)
	var p *Pool
	p = newTestPool(t, WithNotify(func() { rounds <- p.Epoch() }))
	src := &fakeSource{name: "a"}
	id, _ := p.RegisterSource(src)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.NoError(t, p.Submit(id, 0, oneRow()))
	select {
	case e := <-rounds:
		assert.Equal(t, uint64(1), e)
	case <-time.After(5 * time.Second):
		t.Fatal("no round ran")
	}

	p.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, int32(1), src.processed.Load())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	p := newTestPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

// Concurrent callers never overlap rounds and every round advances the
// epoch exactly once.
func TestRunPending_SerializesRounds(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var notified atomic.Int32
	p := newTestPool(t, WithNotify(func() { notified.Add(1) }))
	src := &overlapSource{inFlight: &inFlight, max: &maxInFlight}
	id, _ := p.RegisterSource(src)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Submit(id, 0, oneRow())
			_ = p.RunPending(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8), p.Epoch())
	assert.Equal(t, int32(8), notified.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
}

type overlapSource struct {
	inFlight, max *atomic.Int32
}

func (*overlapSource) Name() string                 { return "overlap" }
func (*overlapSource) Send(int, *batch.Batch) error { return nil }
func (*overlapSource) HasPending() bool             { return true }
func (*overlapSource) ClearOutputPorts()            {}

func (s *overlapSource) Process(context.Context) error {
	n := s.inFlight.Add(1)
	for {
		m := s.max.Load()
		if n <= m || s.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	s.inFlight.Add(-1)
	return nil
}

func TestUUIDv7Generator(t *testing.T) {
	id := UUIDv7Generator{}.Generate()
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, UUIDv7Generator{}.Generate())
}

func TestFixedGenerator_Exhausted(t *testing.T) {
	g := NewFixedGenerator("x")
	assert.Equal(t, "x", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
