// Package sorter orders rows of scalars by a list of per-column sort
// directions.
//
// The comparator is a strict total order for every input, NaN included, so
// the same Sorter backs both Sort and the binary search used to find an
// incremental insertion position.
package sorter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/deltapivot/internal/config"
	"github.com/roach88/deltapivot/internal/scalar"
)

// Order is the sort direction of one column.
type Order uint8

const (
	Ascending Order = iota
	Descending
	AscendingAbs
	DescendingAbs
	// None treats every pair as equal on its column.
	None
)

var orderNames = [...]string{
	Ascending:     "asc",
	Descending:    "desc",
	AscendingAbs:  "asc_abs",
	DescendingAbs: "desc_abs",
	None:          "none",
}

func (o Order) String() string {
	if int(o) < len(orderNames) {
		return orderNames[o]
	}
	return fmt.Sprintf("Order(%d)", uint8(o))
}

// ParseOrder parses the names produced by Order.String.
func ParseOrder(name string) (Order, error) {
	for i, n := range orderNames {
		if strings.EqualFold(name, n) {
			return Order(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sort order %q", name)
}

func (o Order) descending() bool { return o == Descending || o == DescendingAbs }

func (o Order) absolute() bool { return o == AscendingAbs || o == DescendingAbs }

// Spec names a column and its direction.
type Spec struct {
	Column string
	Order  Order
}

// Element is one row taking part in a sort. Row holds the values of the
// sorted columns in Spec order.
type Element struct {
	PKey    scalar.Scalar
	Row     []scalar.Scalar
	Index   int
	Deleted bool
	Updated bool
}

// Sorter compares elements under a fixed list of specs.
type Sorter struct {
	specs []Spec
}

// New creates a sorter for specs.
func New(specs ...Spec) *Sorter {
	return &Sorter{specs: slices.Clone(specs)}
}

// Specs returns the sort specs.
func (s *Sorter) Specs() []Spec { return slices.Clone(s.specs) }

// Columns returns the sorted column names in spec order.
func (s *Sorter) Columns() []string {
	names := make([]string, len(s.specs))
	for i, sp := range s.specs {
		names[i] = sp.Column
	}
	return names
}

// Compare orders a and b column by column. When every column is equal the
// insertion index decides, then the primary key.
func (s *Sorter) Compare(a, b Element) int {
	if len(a.Row) != len(s.specs) || len(b.Row) != len(s.specs) {
		panic(fmt.Sprintf("sorter: row length %d/%d does not match %d sort specs", len(a.Row), len(b.Row), len(s.specs)))
	}
	for i, sp := range s.specs {
		if c := compareCell(sp.Order, a.Row[i], b.Row[i]); c != 0 {
			return c
		}
	}
	if a.Index != b.Index {
		if a.Index < b.Index {
			return -1
		}
		return 1
	}
	return scalar.Compare(a.PKey, b.PKey)
}

func compareCell(o Order, a, b scalar.Scalar) int {
	if o == None {
		return 0
	}
	if (scalar.IsFloat(a) || scalar.IsFloat(b)) && (scalar.IsNaN(a) || scalar.IsNaN(b)) {
		an, bn := scalar.IsNaN(a), scalar.IsNaN(b)
		if an && bn {
			return 0
		}
		// NaN sorts first under ascending orders and last under descending.
		c := 1
		if an {
			c = -1
		}
		if o.descending() {
			c = -c
		}
		return c
	}
	if o.absolute() {
		a, b = scalar.Abs(a), scalar.Abs(b)
	}
	c := scalar.Compare(a, b)
	if o.descending() {
		c = -c
	}
	return c
}

// Sort orders elems in place.
func (s *Sorter) Sort(elems []Element) {
	slices.SortStableFunc(elems, s.Compare)
	if config.Tracing(config.StageSort) {
		config.Tracer(config.StageSort).Debug("rows sorted", "rows", len(elems), "specs", len(s.specs))
	}
}

// Search returns the position where e belongs in sorted and whether an
// element comparing equal to e is already there.
func (s *Sorter) Search(sorted []Element, e Element) (int, bool) {
	return slices.BinarySearchFunc(sorted, e, s.Compare)
}

// Insert places e into sorted at its ordered position.
func (s *Sorter) Insert(sorted []Element, e Element) []Element {
	i, _ := s.Search(sorted, e)
	return slices.Insert(sorted, i, e)
}

// IsSorted reports whether elems is in order.
func (s *Sorter) IsSorted(elems []Element) bool {
	return slices.IsSortedFunc(elems, s.Compare)
}
