// Package transition classifies how a cell changed between the previous
// and current snapshot of a round.
//
// Classify is pure. ClassifyTable fans out over columns; each goroutine
// reads only its own column pair and writes only its own output column, so
// no state is shared between (row, column) classifications.
package transition

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/config"
	"github.com/roach88/deltapivot/internal/scalar"
)

// Code is one transition classification.
type Code int8

const (
	// EQ means the cell did not change.
	EQ Code = iota
	// NeqFalseToTrue means the cell became valid, or the row is new.
	NeqFalseToTrue
	// NeqTrueToTrue means the value changed, or went from valid to invalid.
	NeqTrueToTrue
	// NeqTrueToDeleted marks cells of a row erased this round. Classify
	// never returns it; the gnode assigns it to deleted rows.
	NeqTrueToDeleted
)

func (c Code) String() string {
	switch c {
	case EQ:
		return "EQ"
	case NeqFalseToTrue:
		return "NEQ_FALSE_TO_TRUE"
	case NeqTrueToTrue:
		return "NEQ_TRUE_TO_TRUE"
	case NeqTrueToDeleted:
		return "NEQ_TRUE_TO_DELETED"
	default:
		return fmt.Sprintf("Code(%d)", int8(c))
	}
}

// Scalar encodes c for storage in a transitions table.
func (c Code) Scalar() scalar.Scalar { return scalar.Int8(c) }

// FromScalar decodes a transitions table cell.
func FromScalar(s scalar.Scalar) Code {
	v, ok := s.(scalar.Int8)
	if !ok {
		panic(fmt.Sprintf("transition: cell of kind %s is not a transition code", scalar.KindOf(s)))
	}
	return Code(v)
}

// Classify computes the transition of one cell.
//
// A row that did not exist before is always NeqFalseToTrue. For an existing
// row: both valid and strictly equal is EQ, invalid to valid is
// NeqFalseToTrue, anything else is NeqTrueToTrue.
func Classify(existedBefore, prevValid bool, prev scalar.Scalar, curValid bool, cur scalar.Scalar) Code {
	if !existedBefore {
		return NeqFalseToTrue
	}
	switch {
	case prevValid && curValid && scalar.Equal(prev, cur):
		return EQ
	case !prevValid && curValid:
		return NeqFalseToTrue
	default:
		return NeqTrueToTrue
	}
}

// Schema returns the transitions table schema for a data schema: same
// column names, one Int8 code per cell.
func Schema(data column.Schema) column.Schema {
	return data.Retype(scalar.KindInt8)
}

// ClassifyTable classifies every cell of prev against cur, writing codes
// into out (which must use Schema(prev.Schema()) and is cleared first).
// existed[i] tells whether row i existed before the round. Columns are
// processed concurrently, at most workers at a time. There is no
// cancellation: once started the classification runs to completion.
func ClassifyTable(existed []bool, prev, cur, out *column.Table, workers int) error {
	n := prev.Size()
	if cur.Size() != n || len(existed) != n {
		panic(fmt.Sprintf("transition: misaligned inputs: prev=%d cur=%d existed=%d", n, cur.Size(), len(existed)))
	}
	if prev.Schema().Len() != cur.Schema().Len() || out.Schema().Len() != prev.Schema().Len() {
		panic("transition: schema size mismatch between prev, cur and out")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out.Clear()
	if err := out.Extend(n); err != nil {
		return fmt.Errorf("transition: size output: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range prev.Schema().Len() {
		pc, cc, oc := prev.ColumnAt(i), cur.ColumnAt(i), out.ColumnAt(i)
		g.Go(func() error {
			classifyColumn(existed, pc, cc, oc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("transition: %w", err)
	}

	if config.Tracing(config.StageTransitions) {
		config.Tracer(config.StageTransitions).Debug("transitions classified", "rows", n, "columns", prev.Schema().Len(), "workers", workers)
	}
	return nil
}

func classifyColumn(existed []bool, prev, cur, out column.Column) {
	for row, ex := range existed {
		pv, cv := prev.Get(row), cur.Get(row)
		code := Classify(ex, scalar.IsValid(pv), pv, scalar.IsValid(cv), cv)
		out.Set(row, code.Scalar())
	}
}
