// Package view holds consumers that maintain derived state from the deltas
// a gnode publishes, touching only the rows a round changed.
package view

import (
	"fmt"
	"math"
	"slices"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/gnode"
	"github.com/roach88/deltapivot/internal/master"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/transition"
)

// Group is one aggregate bucket. Count is the number of rows in the group,
// Sum adds their valid finite values; NaN and infinities are not summed.
type Group struct {
	Key   scalar.Scalar
	Sum   float64
	Count int
}

// Aggregate maintains a group-by sum and count over one table.
type Aggregate struct {
	by, value string
	groups    map[string]*Group
}

// NewAggregate creates an aggregate grouping schema rows by the by column
// and summing the value column. It panics if either column is missing or
// value is not numeric.
func NewAggregate(schema column.Schema, by, value string) *Aggregate {
	if !schema.Has(by) {
		panic(fmt.Sprintf("view: group column %q not in schema", by))
	}
	switch k := schema.Kind(value); k {
	case scalar.KindInt8, scalar.KindInt16, scalar.KindInt32, scalar.KindInt64,
		scalar.KindUint8, scalar.KindUint16, scalar.KindUint32, scalar.KindUint64,
		scalar.KindFloat32, scalar.KindFloat64:
	default:
		panic(fmt.Sprintf("view: value column %q is %s, not numeric", value, k))
	}
	return &Aggregate{by: by, value: value, groups: make(map[string]*Group)}
}

// OnDelta folds one round into the aggregate: the previous contribution of
// each changed row is removed and its current contribution added. Rows
// whose group and value cells are both EQ are skipped.
func (a *Aggregate) OnDelta(d *gnode.Delta) error {
	for row := range d.Len() {
		st := d.Status[row]
		if st == gnode.StatusUnchanged {
			continue
		}
		if st == gnode.StatusUpdated &&
			d.Transition(row, a.by) == transition.EQ &&
			d.Transition(row, a.value) == transition.EQ {
			continue
		}
		if d.Existed[row] {
			a.remove(d.Previous.Column(a.by).Get(row), d.Previous.Column(a.value).Get(row))
		}
		if st != gnode.StatusDeleted {
			a.add(d.Current.Column(a.by).Get(row), d.Current.Column(a.value).Get(row))
		}
	}
	return nil
}

// groupKey maps a group-by value to its bucket. Every NaN shares one
// bucket and -0 shares the bucket of +0.
func groupKey(s scalar.Scalar) string {
	if f, ok := scalar.ToFloat64(s); ok && scalar.IsFloat(s) && f == 0 {
		return "0"
	}
	return scalar.Format(s)
}

func (a *Aggregate) add(key, v scalar.Scalar) {
	gk := groupKey(key)
	g, ok := a.groups[gk]
	if !ok {
		g = &Group{Key: key}
		a.groups[gk] = g
	}
	g.Count++
	if f, ok := summable(v); ok {
		g.Sum += f
	}
}

func (a *Aggregate) remove(key, v scalar.Scalar) {
	gk := groupKey(key)
	g, ok := a.groups[gk]
	if !ok {
		panic(fmt.Sprintf("view: removing from missing group %s", gk))
	}
	g.Count--
	if f, ok := summable(v); ok {
		g.Sum -= f
	}
	if g.Count == 0 {
		delete(a.groups, gk)
	}
}

func summable(v scalar.Scalar) (float64, bool) {
	f, ok := scalar.ToFloat64(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Groups returns the groups ordered by key. A NaN group sorts first.
func (a *Aggregate) Groups() []Group {
	out := make([]Group, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, *g)
	}
	slices.SortFunc(out, func(x, y Group) int { return scalar.Compare(x.Key, y.Key) })
	return out
}

// Get returns the group for key.
func (a *Aggregate) Get(key scalar.Scalar) (Group, bool) {
	g, ok := a.groups[groupKey(key)]
	if !ok {
		return Group{}, false
	}
	return *g, true
}

// Recompute builds the aggregate from scratch over a master store. It is
// the reference the incremental result must match.
func Recompute(m *master.Store, by, value string) []Group {
	a := NewAggregate(m.Schema(), by, value)
	keys := m.Keys()
	groupKeys := m.ReadColumn(by, keys)
	values := m.ReadColumn(value, keys)
	for i := range keys {
		a.add(groupKeys[i], values[i])
	}
	return a.Groups()
}

// Total sums the value column over keys straight from the master store.
func Total(m *master.Store, value string, keys []scalar.Scalar) float64 {
	sum := m.Reduce(keys, value, func(vals []scalar.Scalar) scalar.Scalar {
		var total float64
		for _, v := range vals {
			if f, ok := summable(v); ok {
				total += f
			}
		}
		return scalar.Float64(total)
	})
	return float64(sum.(scalar.Float64))
}
