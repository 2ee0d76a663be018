package gnode

import (
	"fmt"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/transition"
)

// RowStatus is the net effect of a round on one key.
type RowStatus uint8

const (
	StatusInserted RowStatus = iota
	StatusUpdated
	StatusUnchanged
	StatusDeleted
)

func (s RowStatus) String() string {
	switch s {
	case StatusInserted:
		return "inserted"
	case StatusUpdated:
		return "updated"
	case StatusUnchanged:
		return "unchanged"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("RowStatus(%d)", uint8(s))
	}
}

// Delta is the output of one round. Its tables are row aligned: row i of
// every table and slice describes Keys[i].
//
// A Delta is owned by the node. Consumers must treat it as read-only and
// must not retain it past OnDelta; the node clears and reuses it for the
// next round.
type Delta struct {
	Keys        []scalar.Scalar
	Status      []RowStatus
	Existed     []bool
	Flattened   *column.Table // net input cells of the round
	Previous    *column.Table // row before the round, None when new
	Current     *column.Table // row after the round, None when deleted
	Transitions *column.Table // one transition code per cell
}

func newDelta(schema column.Schema) *Delta {
	return &Delta{
		Flattened:   column.NewTable(schema),
		Previous:    column.NewTable(schema),
		Current:     column.NewTable(schema),
		Transitions: column.NewTable(transition.Schema(schema)),
	}
}

// Len returns the number of rows touched by the round.
func (d *Delta) Len() int { return len(d.Keys) }

// Transition returns the code for a cell.
func (d *Delta) Transition(row int, col string) transition.Code {
	return transition.FromScalar(d.Transitions.Column(col).Get(row))
}

// Row returns the index of key in the delta.
func (d *Delta) Row(key scalar.Scalar) (int, bool) {
	for i, k := range d.Keys {
		if scalar.Equal(k, key) {
			return i, true
		}
	}
	return 0, false
}

func (d *Delta) clear() {
	clear(d.Keys)
	d.Keys = d.Keys[:0]
	d.Status = d.Status[:0]
	d.Existed = d.Existed[:0]
	d.Flattened.Clear()
	d.Previous.Clear()
	d.Current.Clear()
	d.Transitions.Clear()
}

func (d *Delta) append(key scalar.Scalar, existed bool, flat, prev, cur []scalar.Scalar) error {
	for _, t := range []struct {
		tbl  *column.Table
		vals []scalar.Scalar
	}{{d.Flattened, flat}, {d.Previous, prev}, {d.Current, cur}} {
		if _, err := t.tbl.AppendRow(t.vals); err != nil {
			return err
		}
	}
	d.Keys = append(d.Keys, key)
	d.Existed = append(d.Existed, existed)
	return nil
}

// Summary counts rows of one round by status.
type Summary struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
}

func (s *Summary) add(st RowStatus) {
	switch st {
	case StatusInserted:
		s.Inserted++
	case StatusUpdated:
		s.Updated++
	case StatusUnchanged:
		s.Unchanged++
	case StatusDeleted:
		s.Deleted++
	}
}

// Total returns the number of rows counted.
func (s Summary) Total() int {
	return s.Inserted + s.Updated + s.Unchanged + s.Deleted
}
