package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/deltapivot/internal/batch"
	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/compiler"
	"github.com/roach88/deltapivot/internal/gnode"
	"github.com/roach88/deltapivot/internal/master"
	"github.com/roach88/deltapivot/internal/pool"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/view"
)

// DefaultPoolID is the pool id used when a scenario does not fix one.
const DefaultPoolID = "test-pool"

// Harness runs one scenario against a fresh pool and node.
type Harness struct {
	spec   *compiler.TableSpec
	pool   *pool.Pool
	node   *gnode.Node
	source pool.SourceID
	agg    *view.Aggregate
	sorted *view.Sorted

	current *RoundTrace // round being captured
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Compile the scenario's CUE tables and select the table under test
// 2. Build a pool with a fixed id and register one node for the table
// 3. For every round, submit its batches and run one pool round
// 4. Check the round's expectations against the captured delta and state
//
// An error is returned only when the scenario itself cannot run; failed
// expectations are reported in the result.
func Run(s *Scenario) (*Result, error) {
	specs, errs := compiler.LoadTables(s.Tables)
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile tables: %w", errors.Join(errs...))
	}
	spec, ok := compiler.Lookup(specs, s.Table)
	if !ok {
		return nil, fmt.Errorf("table %q not defined in %s", s.Table, s.Tables)
	}

	h, err := newHarness(s, spec)
	if err != nil {
		return nil, err
	}
	defer h.pool.Shutdown()

	ctx := context.Background()
	result := NewResult()
	for i, r := range s.Rounds {
		rt, err := h.runRound(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", i+1, err)
		}
		result.Trace = append(result.Trace, *rt)

		if rt.Error != "" && (r.Expect == nil || r.Expect.Error == "") {
			result.AddError(fmt.Sprintf("round %d: unexpected error: %s", i+1, rt.Error))
		}
		if r.Expect != nil {
			for _, msg := range h.check(r.Expect, rt) {
				result.AddError(fmt.Sprintf("round %d: %s", i+1, msg))
			}
		}
		for _, msg := range h.consistency() {
			result.AddError(fmt.Sprintf("round %d: %s", i+1, msg))
		}
	}
	result.Columns = spec.Schema.Names()
	result.Final = Snapshot(h.node.Master())
	return result, nil
}

func newHarness(s *Scenario, spec *compiler.TableSpec) (*Harness, error) {
	poolID := s.PoolID
	if poolID == "" {
		poolID = DefaultPoolID
	}

	h := &Harness{spec: spec}
	h.pool = pool.New(
		pool.WithIDGenerator(pool.NewFixedGenerator(poolID)),
		pool.WithWorkers(s.Workers),
	)
	h.node = gnode.New(spec.Name, spec.Schema, spec.Index,
		gnode.WithWorkers(s.Workers),
		gnode.WithCapacity(s.MaxRows),
	)

	maxPort := 0
	for _, r := range s.Rounds {
		for _, b := range r.Batches {
			maxPort = max(maxPort, b.Port)
		}
	}
	for range maxPort {
		h.node.MakeInputPort()
	}

	if agg := spec.Aggregate; agg != nil {
		h.agg = view.NewAggregate(spec.Schema, agg.By, agg.Value)
		h.node.AddConsumer(h.agg)
	}
	if len(spec.Sort) > 0 {
		h.sorted = view.NewSorted(spec.Schema, spec.Sort...)
		h.node.AddConsumer(h.sorted)
	}
	h.node.AddConsumer(gnode.ConsumerFunc(h.capture))

	id, err := h.pool.RegisterSource(h.node)
	if err != nil {
		return nil, err
	}
	h.source = id
	return h, nil
}

func (h *Harness) runRound(ctx context.Context, r Round) (*RoundTrace, error) {
	rt := &RoundTrace{Rows: []RowTrace{}}
	h.current = rt
	defer func() { h.current = nil }()

	var errs []error
	for _, step := range r.Batches {
		b, err := BuildBatch(h.spec.Schema, step.Rows)
		if err != nil {
			return nil, err
		}
		if err := h.pool.Submit(h.source, step.Port, b); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.pool.RunPending(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		rt.Error = err.Error()
		slog.Debug("scenario round error", "epoch", h.pool.Epoch(), "error", err)
	}

	rt.Epoch = h.pool.Epoch()
	rt.Size = h.node.Master().Size()
	return rt, nil
}

// capture records the delta of the round in flight.
func (h *Harness) capture(d *gnode.Delta) error {
	rt := h.current
	defs := h.spec.Schema.Defs()
	for i := range d.Len() {
		row := RowTrace{
			Key:    scalar.Format(d.Keys[i]),
			Status: d.Status[i].String(),
			Cells:  make([]CellTrace, len(defs)),
		}
		switch d.Status[i] {
		case gnode.StatusInserted:
			rt.Inserted++
		case gnode.StatusUpdated:
			rt.Updated++
		case gnode.StatusUnchanged:
			rt.Unchanged++
		case gnode.StatusDeleted:
			rt.Deleted++
		}
		for c, def := range defs {
			row.Cells[c] = CellTrace{
				Column:   def.Name,
				Previous: scalar.Format(d.Previous.ColumnAt(c).Get(i)),
				Current:  scalar.Format(d.Current.ColumnAt(c).Get(i)),
				Code:     d.Transition(i, def.Name).String(),
			}
		}
		rt.Rows = append(rt.Rows, row)
	}
	return nil
}

// BuildBatch converts scenario rows to the column kinds of schema.
// Columns outside the schema are passed as strings so the node rejects
// them the way it rejects any unknown column.
func BuildBatch(schema column.Schema, rows []RowStep) (*batch.Batch, error) {
	out := make([]batch.Row, 0, len(rows))
	for _, rs := range rows {
		op, err := batch.ParseOp(rs.Op)
		if err != nil {
			return nil, err
		}
		values := make(map[string]scalar.Scalar, len(rs.Values))
		for col, v := range rs.Values {
			if !schema.Has(col) {
				values[col] = scalar.NewString(fmt.Sprint(v))
				continue
			}
			s, err := scalar.FromAny(schema.Kind(col), v)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			values[col] = s
		}
		out = append(out, batch.Row{Op: op, Values: values})
	}
	return batch.New(out...), nil
}

// key converts a scenario key to the index column kind.
func (h *Harness) key(v any) (scalar.Scalar, error) {
	return scalar.FromAny(h.spec.Schema.Kind(h.spec.Index), v)
}

// consistency verifies the incremental views against a recomputation.
func (h *Harness) consistency() []string {
	var msgs []string
	m := h.node.Master()
	if err := m.Check(); err != nil {
		msgs = append(msgs, fmt.Sprintf("master store: %v", err))
	}
	if h.agg != nil {
		want := view.Recompute(m, h.spec.Aggregate.By, h.spec.Aggregate.Value)
		if formatGroups(h.agg.Groups()) != formatGroups(want) {
			msgs = append(msgs, "aggregate view diverged from recomputation")
		}
	}
	if h.sorted != nil {
		if err := h.sorted.Check(); err != nil {
			msgs = append(msgs, fmt.Sprintf("sorted view: %v", err))
		}
		if h.sorted.Len() != m.Size() {
			msgs = append(msgs, fmt.Sprintf("sorted view holds %d rows, table has %d", h.sorted.Len(), m.Size()))
		}
	}
	return msgs
}

// Snapshot renders the live rows of m in key order, cells in schema order.
func Snapshot(m *master.Store) [][]string {
	keys := slices.SortedFunc(slices.Values(m.Keys()), scalar.Compare)
	out := make([][]string, len(keys))
	for i, k := range keys {
		hd, _ := m.Lookup(k)
		row := m.Row(hd)
		cells := make([]string, len(row))
		for c, v := range row {
			cells[c] = scalar.Format(v)
		}
		out[i] = cells
	}
	return out
}
