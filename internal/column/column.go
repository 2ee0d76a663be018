// Package column provides the in-memory columnar storage the engine writes
// rows into.
//
// Storage is owned here at the byte level; callers address rows by slot
// index only. A Table never shrinks its backing arrays: Clear resets the
// logical row count and keeps capacity so per-round buffers can be reused.
package column

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/deltapivot/internal/scalar"
)

// ErrCapacityExceeded is returned when a table would grow past its limit.
var ErrCapacityExceeded = errors.New("column: capacity exceeded")

// Column is the storage contract for one typed column.
type Column interface {
	Kind() scalar.Kind
	Get(row int) scalar.Scalar
	Set(row int, v scalar.Scalar)
	IsValid(row int) bool
	Size() int
	Reserve(n int) error
	Extend(n int) error
	Clear()
	Clone() Column
}

// memColumn stores cells as scalars. None marks an invalid cell.
type memColumn struct {
	kind  scalar.Kind
	cells []scalar.Scalar
}

// New returns an empty in-memory column of the given kind.
func New(kind scalar.Kind) Column {
	return &memColumn{kind: kind}
}

func (c *memColumn) Kind() scalar.Kind { return c.kind }

func (c *memColumn) Get(row int) scalar.Scalar {
	c.checkRow(row)
	v := c.cells[row]
	if v == nil {
		return scalar.None{}
	}
	return v
}

// Set stores v at row. Clear is stored as None: a cleared cell is an
// invalid cell. Storing a value of another kind is a schema violation.
func (c *memColumn) Set(row int, v scalar.Scalar) {
	c.checkRow(row)
	switch k := scalar.KindOf(v); k {
	case scalar.KindNone, scalar.KindClear:
		c.cells[row] = scalar.None{}
	case c.kind:
		c.cells[row] = v
	default:
		panic(fmt.Sprintf("column: schema mismatch: cannot store %s in %s column", k, c.kind))
	}
}

func (c *memColumn) IsValid(row int) bool {
	return scalar.IsValid(c.Get(row))
}

func (c *memColumn) Size() int { return len(c.cells) }

func (c *memColumn) Reserve(n int) error {
	if n < 0 {
		return fmt.Errorf("column: negative reserve %d", n)
	}
	if extra := n - len(c.cells); extra > 0 {
		c.cells = slices.Grow(c.cells, extra)
	}
	return nil
}

// Extend appends n invalid cells.
func (c *memColumn) Extend(n int) error {
	if n < 0 {
		return fmt.Errorf("column: negative extend %d", n)
	}
	for range n {
		c.cells = append(c.cells, scalar.None{})
	}
	return nil
}

func (c *memColumn) Clear() {
	clear(c.cells)
	c.cells = c.cells[:0]
}

func (c *memColumn) Clone() Column {
	return &memColumn{kind: c.kind, cells: slices.Clone(c.cells)}
}

func (c *memColumn) checkRow(row int) {
	if row < 0 || row >= len(c.cells) {
		panic(fmt.Sprintf("column: row %d out of range [0, %d)", row, len(c.cells)))
	}
}
