// Package batch defines the inbound unit of work handed to a source: an
// ordered list of row operations keyed by the source's index column.
package batch

import (
	"fmt"
	"maps"
	"strings"

	"github.com/roach88/deltapivot/internal/scalar"
)

// Op is the operation a row applies.
type Op uint8

const (
	// OpInsert upserts the row. A None cell keeps the previous value, a
	// Clear cell invalidates it, anything else overwrites it.
	OpInsert Op = iota
	// OpDelete erases the row with the given key.
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// ParseOp parses "insert", "upsert" or "delete".
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(s) {
	case "", "insert", "upsert":
		return OpInsert, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("unknown row op %q", s)
	}
}

// Row is one operation. Values maps column names to cells; columns left
// out behave like None.
type Row struct {
	Op     Op
	Values map[string]scalar.Scalar
}

// Get returns the cell for col, or None.
func (r Row) Get(col string) scalar.Scalar {
	if v, ok := r.Values[col]; ok && v != nil {
		return v
	}
	return scalar.None{}
}

// Batch is an ordered list of rows. A batch is owned by the source once
// sent and must not be modified afterwards.
type Batch struct {
	Rows []Row
}

// New creates a batch from rows.
func New(rows ...Row) *Batch {
	return &Batch{Rows: rows}
}

// Insert appends an upsert row.
func (b *Batch) Insert(values map[string]scalar.Scalar) *Batch {
	b.Rows = append(b.Rows, Row{Op: OpInsert, Values: maps.Clone(values)})
	return b
}

// Delete appends a delete row for the key stored under col.
func (b *Batch) Delete(col string, key scalar.Scalar) *Batch {
	b.Rows = append(b.Rows, Row{Op: OpDelete, Values: map[string]scalar.Scalar{col: key}})
	return b
}

// Len returns the row count. A nil batch is empty.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}
