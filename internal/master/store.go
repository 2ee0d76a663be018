// Package master implements the keyed master store: the canonical current
// value of every row, addressed by primary key.
//
// The store owns the key to slot mapping (through pkey.Index) and the
// column table holding row data. It is not safe for concurrent use; the
// pool's round lock serializes every mutation.
package master

import (
	"fmt"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/config"
	"github.com/roach88/deltapivot/internal/pkey"
	"github.com/roach88/deltapivot/internal/scalar"
)

// Store holds exactly one live row per distinct primary key.
//
// INVARIANTS:
//   - Size() == MappingSize() after every call
//   - the index never references a slot the table has not created
//   - a reused slot reads None in every column until written
type Store struct {
	table *column.Table
	index *pkey.Index
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	capacity int
}

// WithCapacity caps the number of row slots. Zero means no cap.
func WithCapacity(rows int) Option {
	return func(o *storeOptions) {
		o.capacity = rows
	}
}

// New creates an empty store for schema.
func New(schema column.Schema, opts ...Option) *Store {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		table: column.NewTable(schema, column.WithLimit(o.capacity)),
		index: pkey.NewIndex(),
	}
}

func (s *Store) mustInit() {
	if s == nil || s.index == nil || s.table == nil {
		panic("master: store used before initialization")
	}
}

// Schema returns the store schema.
func (s *Store) Schema() column.Schema {
	s.mustInit()
	return s.table.Schema()
}

// Lookup returns the handle of key's row. It never mutates the store.
func (s *Store) Lookup(key scalar.Scalar) (pkey.Handle, bool) {
	s.mustInit()
	return s.index.Lookup(key)
}

// LookupOrCreate returns key's row, creating it when absent. A created row
// reads None in every column. Repeated calls with the same key return the
// same handle. If storage cannot grow the call fails and nothing changes.
func (s *Store) LookupOrCreate(key scalar.Scalar) (h pkey.Handle, created bool, err error) {
	s.mustInit()
	h, created, err = s.index.LookupOrCreate(key, func(slot int, reused bool) error {
		if reused {
			s.table.ResetRow(slot)
			return nil
		}
		if slot != s.table.Size() {
			panic(fmt.Sprintf("master: index slot %d does not extend table of %d rows", slot, s.table.Size()))
		}
		return s.table.Extend(1)
	})
	if err != nil {
		return pkey.Handle{}, false, fmt.Errorf("master: bind key %s: %w", scalar.Format(key), err)
	}
	if created && config.Tracing(config.StageMaster) {
		config.Tracer(config.StageMaster).Debug("master row bound", "key", scalar.Format(key), "slot", h.Slot, "gen", h.Gen)
	}
	return h, created, nil
}

// Erase removes key and releases its slot. Erasing an absent key is a no-op.
func (s *Store) Erase(key scalar.Scalar) bool {
	s.mustInit()
	h, ok := s.index.Erase(key)
	if ok && config.Tracing(config.StageMaster) {
		config.Tracer(config.StageMaster).Debug("master row erased", "key", scalar.Format(key), "slot", h.Slot)
	}
	return ok
}

// Valid reports whether h still addresses a live row.
func (s *Store) Valid(h pkey.Handle) bool {
	s.mustInit()
	return s.index.Valid(h)
}

func (s *Store) mustValid(h pkey.Handle) {
	if !s.index.Valid(h) {
		panic(fmt.Sprintf("master: stale row handle (slot %d, gen %d)", h.Slot, h.Gen))
	}
}

// Get reads one cell. Using a stale handle or unknown column panics.
func (s *Store) Get(h pkey.Handle, col string) scalar.Scalar {
	s.mustInit()
	s.mustValid(h)
	return s.table.Column(col).Get(h.Slot)
}

// Set writes one cell.
func (s *Store) Set(h pkey.Handle, col string, v scalar.Scalar) {
	s.mustInit()
	s.mustValid(h)
	s.table.Column(col).Set(h.Slot, v)
}

// Row reads every column of h in schema order.
func (s *Store) Row(h pkey.Handle) []scalar.Scalar {
	s.mustInit()
	s.mustValid(h)
	return s.table.Row(h.Slot)
}

// SetRow overwrites every column of h.
func (s *Store) SetRow(h pkey.Handle, vals []scalar.Scalar) {
	s.mustInit()
	s.mustValid(h)
	s.table.SetRow(h.Slot, vals)
}

// ReadColumn reads col for each key, preserving key order. Keys without a
// live row read None.
func (s *Store) ReadColumn(col string, keys []scalar.Scalar) []scalar.Scalar {
	s.mustInit()
	c := s.table.Column(col)
	out := make([]scalar.Scalar, len(keys))
	for i, k := range keys {
		h, ok := s.index.Lookup(k)
		if !ok {
			out[i] = scalar.None{}
			continue
		}
		out[i] = c.Get(h.Slot)
	}
	return out
}

// Reduce reads col for keys and folds the values with fn.
func (s *Store) Reduce(keys []scalar.Scalar, col string, fn func(values []scalar.Scalar) scalar.Scalar) scalar.Scalar {
	return fn(s.ReadColumn(col, keys))
}

// Size returns the number of live rows.
func (s *Store) Size() int {
	s.mustInit()
	return s.index.Bound()
}

// MappingSize returns the number of key mappings. It equals Size.
func (s *Store) MappingSize() int {
	s.mustInit()
	return s.index.Len()
}

// Headroom returns how many new keys can be bound before storage growth
// fails: free slots plus the rows the capacity still allows. It returns -1
// when the store is uncapped.
func (s *Store) Headroom() int {
	s.mustInit()
	limit := s.table.Limit()
	if limit <= 0 {
		return -1
	}
	return s.index.FreeLen() + limit - s.table.Size()
}

// Keys returns the live keys in slot order.
func (s *Store) Keys() []scalar.Scalar {
	s.mustInit()
	live := s.index.Live()
	out := make([]scalar.Scalar, len(live))
	for i, h := range live {
		out[i], _ = s.index.Key(h.Slot)
	}
	return out
}

// Check verifies the store invariants.
func (s *Store) Check() error {
	s.mustInit()
	if err := s.index.Check(); err != nil {
		return err
	}
	if s.Size() != s.MappingSize() {
		return fmt.Errorf("master: size %d != mapping size %d", s.Size(), s.MappingSize())
	}
	if s.index.Slots() != s.table.Size() {
		return fmt.Errorf("master: index created %d slots, table holds %d rows", s.index.Slots(), s.table.Size())
	}
	return nil
}

// Clone returns a deep copy that shares nothing with s. Handles from s are
// valid in the clone.
func (s *Store) Clone() *Store {
	s.mustInit()
	return &Store{table: s.table.Clone(), index: s.index.Clone()}
}
