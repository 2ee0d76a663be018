package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/roach88/deltapivot/internal/batch"
	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/gnode"
	"github.com/roach88/deltapivot/internal/pool"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/testutil"
)

func journalNode(name string) *gnode.Node {
	return gnode.New(name, column.NewSchema(
		column.Def{Name: "id", Kind: scalar.KindInt64},
		column.Def{Name: "v", Kind: scalar.KindString},
	), "id")
}

func row(id int64, v string) map[string]scalar.Scalar {
	return map[string]scalar.Scalar{"id": scalar.Int64(id), "v": scalar.NewString(v)}
}

func TestRecorder_JournalsPoolRounds(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := testutil.NewPool(t, "pool-1", pool.WithWorkers(2))
	rec := NewRecorder(s, p.ID(), p.Epoch)

	a, b := journalNode("a"), journalNode("b")
	log := testutil.NewDeltaLog()
	a.AddConsumer(log)
	a.AddConsumer(rec.Consumer("a"))
	b.AddConsumer(rec.Consumer("b"))
	idA, err := p.RegisterSource(a)
	if err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	idB, err := p.RegisterSource(b)
	if err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}

	// Round 1 touches both nodes, round 2 only a.
	mustSubmit(t, p, idA, batch.New().Insert(row(1, "x")).Insert(row(2, "y")))
	mustSubmit(t, p, idB, batch.New().Insert(row(9, "z")))
	if err := p.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	mustSubmit(t, p, idA, batch.New().Insert(row(1, "x")).Insert(row(2, "w")).Delete("id", scalar.Int64(1)))
	if err := p.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	if got := rec.Pending(); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := rec.Pending(); got != 0 {
		t.Errorf("Pending after flush = %d", got)
	}

	rounds, err := s.ReadRounds(ctx, "pool-1")
	if err != nil {
		t.Fatalf("ReadRounds: %v", err)
	}
	var got []string
	for _, r := range rounds {
		got = append(got, fmt.Sprintf("%d/%s i=%d u=%d n=%d d=%d",
			r.Epoch, r.Source, r.Inserted, r.Updated, r.Unchanged, r.Deleted))
	}
	want := []string{
		"1/a i=2 u=0 n=0 d=0",
		"1/b i=1 u=0 n=0 d=0",
		"2/a i=0 u=1 n=0 d=1",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("rounds =\n%v\nwant\n%v", got, want)
	}

	r, err := s.ReadRound(ctx, "pool-1", 2, "a")
	if err != nil {
		t.Fatalf("ReadRound: %v", err)
	}
	if fmt.Sprint(r.Changes) != "[{0 1 deleted} {1 2 updated}]" {
		t.Errorf("changes = %v", r.Changes)
	}

	// The journal holds what the node published, in delta order.
	journaled := make([]string, len(r.Changes))
	for i, c := range r.Changes {
		journaled[i] = c.PKey + " " + c.Status
	}
	if fmt.Sprint(journaled) != fmt.Sprint(log.Last()) {
		t.Errorf("journaled %v, published %v", journaled, log.Last())
	}
}

func TestRecorder_FailedFlushKeepsRounds(t *testing.T) {
	s := createTestStore(t)
	rec := NewRecorder(s, "pool-1", func() uint64 { return 0 })
	n := journalNode("a")
	n.AddConsumer(rec.Consumer("a"))

	if err := n.Send(0, batch.New().Insert(row(1, "x"))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := n.Process(context.Background()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Flush(ctx); err == nil {
		t.Fatal("Flush with cancelled context should fail")
	}
	if got := rec.Pending(); got != 1 {
		t.Fatalf("Pending after failed flush = %d, want 1", got)
	}

	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := s.ReadRound(context.Background(), "pool-1", 1, "a"); err != nil {
		t.Errorf("ReadRound after retry flush: %v", err)
	}
}

func mustSubmit(t *testing.T, p *pool.Pool, id pool.SourceID, b *batch.Batch) {
	t.Helper()
	if err := p.Submit(id, 0, b); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}
