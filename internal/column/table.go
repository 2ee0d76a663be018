package column

import (
	"fmt"

	"github.com/roach88/deltapivot/internal/scalar"
)

// Def names one column and its type.
type Def struct {
	Name string
	Kind scalar.Kind
}

// Schema is an ordered, immutable list of column definitions.
type Schema struct {
	defs  []Def
	index map[string]int
}

// NewSchema builds a schema. Duplicate or empty names are a programming
// error and panic.
func NewSchema(defs ...Def) Schema {
	s := Schema{
		defs:  make([]Def, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	copy(s.defs, defs)
	for i, d := range defs {
		if d.Name == "" {
			panic(fmt.Sprintf("column: schema column %d has no name", i))
		}
		if _, dup := s.index[d.Name]; dup {
			panic(fmt.Sprintf("column: duplicate schema column %q", d.Name))
		}
		s.index[d.Name] = i
	}
	return s
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.defs) }

// Def returns the i-th column definition.
func (s Schema) Def(i int) Def { return s.defs[i] }

// Defs returns a copy of the column definitions.
func (s Schema) Defs() []Def {
	out := make([]Def, len(s.defs))
	copy(out, s.defs)
	return out
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s.defs))
	for i, d := range s.defs {
		out[i] = d.Name
	}
	return out
}

// Index returns the position of the named column.
func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Has reports whether the schema has the named column.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Kind returns the kind of the named column and panics if it is absent.
func (s Schema) Kind(name string) scalar.Kind {
	i, ok := s.index[name]
	if !ok {
		panic(fmt.Sprintf("column: schema has no column %q", name))
	}
	return s.defs[i].Kind
}

// With returns a new schema with defs appended.
func (s Schema) With(defs ...Def) Schema {
	return NewSchema(append(s.Defs(), defs...)...)
}

// Retype returns a schema with the same names where every column has kind k.
func (s Schema) Retype(k scalar.Kind) Schema {
	defs := s.Defs()
	for i := range defs {
		defs[i].Kind = k
	}
	return NewSchema(defs...)
}

// Table is a set of equally sized columns following a schema.
type Table struct {
	schema Schema
	cols   []Column
	size   int
	limit  int
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithLimit caps the number of rows the table may hold. Zero means no cap.
func WithLimit(rows int) TableOption {
	return func(t *Table) {
		t.limit = rows
	}
}

// NewTable creates an empty table for schema.
func NewTable(schema Schema, opts ...TableOption) *Table {
	t := &Table{
		schema: schema,
		cols:   make([]Column, schema.Len()),
	}
	for i, d := range schema.defs {
		t.cols[i] = New(d.Kind)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Schema returns the table schema.
func (t *Table) Schema() Schema { return t.schema }

// Size returns the number of rows.
func (t *Table) Size() int { return t.size }

// Limit returns the row cap (zero when uncapped).
func (t *Table) Limit() int { return t.limit }

// Column returns the named column. Asking for a column that is not in the
// schema is a programming error.
func (t *Table) Column(name string) Column {
	i, ok := t.schema.index[name]
	if !ok {
		panic(fmt.Sprintf("column: table has no column %q", name))
	}
	return t.cols[i]
}

// ColumnAt returns the i-th column.
func (t *Table) ColumnAt(i int) Column { return t.cols[i] }

// Reserve pre-allocates room for n rows in every column.
func (t *Table) Reserve(n int) error {
	if t.limit > 0 && n > t.limit {
		return fmt.Errorf("reserve %d rows (limit %d): %w", n, t.limit, ErrCapacityExceeded)
	}
	for _, c := range t.cols {
		if err := c.Reserve(n); err != nil {
			return err
		}
	}
	return nil
}

// Extend grows the table by n invalid rows. On error the size is unchanged.
func (t *Table) Extend(n int) error {
	if t.limit > 0 && t.size+n > t.limit {
		return fmt.Errorf("extend to %d rows (limit %d): %w", t.size+n, t.limit, ErrCapacityExceeded)
	}
	for i, c := range t.cols {
		if err := c.Extend(n); err != nil {
			// Roll back the columns already grown.
			for _, done := range t.cols[:i] {
				truncate(done, t.size)
			}
			return err
		}
	}
	t.size += n
	return nil
}

// AppendRow adds one row and returns its index.
func (t *Table) AppendRow(vals []scalar.Scalar) (int, error) {
	if err := t.Extend(1); err != nil {
		return 0, err
	}
	row := t.size - 1
	t.SetRow(row, vals)
	return row, nil
}

// SetRow overwrites every column of row.
func (t *Table) SetRow(row int, vals []scalar.Scalar) {
	if len(vals) != len(t.cols) {
		panic(fmt.Sprintf("column: row has %d values, schema has %d columns", len(vals), len(t.cols)))
	}
	for i, c := range t.cols {
		c.Set(row, vals[i])
	}
}

// ResetRow sets every column of row to None.
func (t *Table) ResetRow(row int) {
	for _, c := range t.cols {
		c.Set(row, scalar.None{})
	}
}

// Row reads every column of row.
func (t *Table) Row(row int) []scalar.Scalar {
	out := make([]scalar.Scalar, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Get(row)
	}
	return out
}

// Clear drops all rows and keeps the allocated capacity.
func (t *Table) Clear() {
	for _, c := range t.cols {
		c.Clear()
	}
	t.size = 0
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		schema: t.schema,
		cols:   make([]Column, len(t.cols)),
		size:   t.size,
		limit:  t.limit,
	}
	for i, c := range t.cols {
		out.cols[i] = c.Clone()
	}
	return out
}

// truncate shrinks a column back to n rows.
func truncate(c Column, n int) {
	if mc, ok := c.(*memColumn); ok && len(mc.cells) > n {
		clear(mc.cells[n:])
		mc.cells = mc.cells[:n]
	}
}
