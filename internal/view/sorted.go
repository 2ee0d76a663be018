package view

import (
	"fmt"
	"slices"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/gnode"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/sorter"
	"github.com/roach88/deltapivot/internal/transition"
)

// Sorted keeps the live rows of a table in sort order. Each round only the
// rows it touched are removed and reinserted by binary search.
type Sorted struct {
	sorter *sorter.Sorter
	cols   []string
	rows   []sorter.Element
	byKey  map[scalar.Scalar]sorter.Element
	next   int
}

// NewSorted creates a sorted view over schema. It panics if a spec names a
// column outside the schema.
func NewSorted(schema column.Schema, specs ...sorter.Spec) *Sorted {
	s := sorter.New(specs...)
	for _, c := range s.Columns() {
		if !schema.Has(c) {
			panic(fmt.Sprintf("view: sort column %q not in schema", c))
		}
	}
	return &Sorted{
		sorter: s,
		cols:   s.Columns(),
		byKey:  make(map[scalar.Scalar]sorter.Element),
	}
}

// OnDelta repositions the rows a round touched.
func (s *Sorted) OnDelta(d *gnode.Delta) error {
	for row := range d.Len() {
		key := d.Keys[row]
		old, had := s.byKey[key]
		st := d.Status[row]

		if st == gnode.StatusDeleted {
			if had {
				s.remove(old)
				delete(s.byKey, key)
			}
			continue
		}

		e := sorter.Element{
			PKey:    key,
			Row:     s.values(d.Current, row),
			Updated: st == gnode.StatusUpdated,
		}
		if had {
			if !s.moved(d, row) {
				i := s.position(old)
				s.rows[i].Updated = e.Updated
				s.byKey[key] = s.rows[i]
				continue
			}
			e.Index = old.Index
			s.remove(old)
		} else {
			e.Index = s.next
			s.next++
		}
		s.rows = s.sorter.Insert(s.rows, e)
		s.byKey[key] = e
	}
	return nil
}

// moved reports whether any sort column changed in row.
func (s *Sorted) moved(d *gnode.Delta, row int) bool {
	for _, c := range s.cols {
		if d.Transition(row, c) != transition.EQ {
			return true
		}
	}
	return false
}

func (s *Sorted) values(t *column.Table, row int) []scalar.Scalar {
	vals := make([]scalar.Scalar, len(s.cols))
	for i, c := range s.cols {
		vals[i] = t.Column(c).Get(row)
	}
	return vals
}

func (s *Sorted) position(e sorter.Element) int {
	i, found := s.sorter.Search(s.rows, e)
	if !found {
		panic(fmt.Sprintf("view: sorted row %s lost its position", scalar.Format(e.PKey)))
	}
	return i
}

func (s *Sorted) remove(e sorter.Element) {
	i := s.position(e)
	s.rows = slices.Delete(s.rows, i, i+1)
}

// Len returns the number of rows.
func (s *Sorted) Len() int { return len(s.rows) }

// Keys returns the primary keys in sort order.
func (s *Sorted) Keys() []scalar.Scalar {
	out := make([]scalar.Scalar, len(s.rows))
	for i, e := range s.rows {
		out[i] = e.PKey
	}
	return out
}

// Elements returns a copy of the sorted rows.
func (s *Sorted) Elements() []sorter.Element {
	return slices.Clone(s.rows)
}

// Check verifies the rows are in order and indexed.
func (s *Sorted) Check() error {
	if !s.sorter.IsSorted(s.rows) {
		return fmt.Errorf("view: rows out of order")
	}
	if len(s.byKey) != len(s.rows) {
		return fmt.Errorf("view: %d keys indexed, %d rows held", len(s.byKey), len(s.rows))
	}
	return nil
}
