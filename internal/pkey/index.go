// Package pkey maps primary key values to physical row slots.
//
// Slots released by Erase go on a free-list and are handed out again by a
// later LookupOrCreate, possibly for a different key. Every slot carries a
// generation counter that is bumped on release, so a Handle taken before
// the release can be detected as stale with Valid instead of silently
// addressing another key's row.
package pkey

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/deltapivot/internal/scalar"
)

// ErrInvalidKey is returned when binding a key that can never be looked up
// again: None, Clear or NaN.
var ErrInvalidKey = errors.New("pkey: invalid primary key")

// Handle addresses one row slot at one generation.
type Handle struct {
	Slot int
	Gen  uint32
}

// PrepareFunc readies a slot for a new key before it is bound. reused is
// true when the slot comes from the free-list. Returning an error aborts
// the bind and leaves the index unchanged.
type PrepareFunc func(slot int, reused bool) error

// Index is the key to slot mapping. It is not safe for concurrent use; the
// caller serializes access.
type Index struct {
	slots map[scalar.Scalar]int
	keys  []scalar.Scalar // slot -> bound key, nil when free
	gens  []uint32
	free  []int
	bound int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{slots: make(map[scalar.Scalar]int)}
}

// Lookup returns the handle bound to key. It never mutates the index.
// A NaN key is never found, as NaN is not equal to itself.
func (x *Index) Lookup(key scalar.Scalar) (Handle, bool) {
	slot, ok := x.slots[key]
	if !ok {
		return Handle{}, false
	}
	return Handle{Slot: slot, Gen: x.gens[slot]}, true
}

// LookupOrCreate returns the handle bound to key, binding a slot first if
// the key is not present. created reports whether a new binding was made.
// prepare runs before the binding is recorded; if it fails nothing changes.
func (x *Index) LookupOrCreate(key scalar.Scalar, prepare PrepareFunc) (h Handle, created bool, err error) {
	if h, ok := x.Lookup(key); ok {
		return h, false, nil
	}
	if !scalar.IsValid(key) || scalar.IsNaN(key) {
		return Handle{}, false, fmt.Errorf("%w: %s", ErrInvalidKey, scalar.Format(key))
	}

	if n := len(x.free); n > 0 {
		slot := x.free[n-1]
		if err := prepare(slot, true); err != nil {
			return Handle{}, false, err
		}
		x.free = x.free[:n-1]
		x.bind(key, slot)
		return Handle{Slot: slot, Gen: x.gens[slot]}, true, nil
	}

	slot := len(x.keys)
	if err := prepare(slot, false); err != nil {
		return Handle{}, false, err
	}
	x.keys = append(x.keys, nil)
	x.gens = append(x.gens, 0)
	x.bind(key, slot)
	return Handle{Slot: slot, Gen: 0}, true, nil
}

func (x *Index) bind(key scalar.Scalar, slot int) {
	x.slots[key] = slot
	x.keys[slot] = key
	x.bound++
}

// Erase unbinds key and releases its slot. Erasing an absent key is a no-op.
func (x *Index) Erase(key scalar.Scalar) (Handle, bool) {
	slot, ok := x.slots[key]
	if !ok {
		return Handle{}, false
	}
	h := Handle{Slot: slot, Gen: x.gens[slot]}
	delete(x.slots, key)
	x.keys[slot] = nil
	x.gens[slot]++
	x.free = append(x.free, slot)
	x.bound--
	return h, true
}

// Valid reports whether h still addresses a bound slot at its generation.
func (x *Index) Valid(h Handle) bool {
	return h.Slot >= 0 && h.Slot < len(x.keys) && x.keys[h.Slot] != nil && x.gens[h.Slot] == h.Gen
}

// Key returns the key bound to slot.
func (x *Index) Key(slot int) (scalar.Scalar, bool) {
	if slot < 0 || slot >= len(x.keys) || x.keys[slot] == nil {
		return nil, false
	}
	return x.keys[slot], true
}

// Len returns the number of keys in the map.
func (x *Index) Len() int { return len(x.slots) }

// Bound returns the number of slots with a key bound. It always equals Len.
func (x *Index) Bound() int { return x.bound }

// Slots returns the number of slots ever created, bound or free.
func (x *Index) Slots() int { return len(x.keys) }

// FreeLen returns the number of slots waiting for reuse.
func (x *Index) FreeLen() int { return len(x.free) }

// Live returns handles of all bound slots in slot order.
func (x *Index) Live() []Handle {
	out := make([]Handle, 0, x.bound)
	for slot, k := range x.keys {
		if k != nil {
			out = append(out, Handle{Slot: slot, Gen: x.gens[slot]})
		}
	}
	return out
}

// Clone returns an independent copy with identical slots and generations.
func (x *Index) Clone() *Index {
	return &Index{
		slots: maps.Clone(x.slots),
		keys:  slices.Clone(x.keys),
		gens:  slices.Clone(x.gens),
		free:  slices.Clone(x.free),
		bound: x.bound,
	}
}

// Check verifies the internal invariants: every key maps to a slot that
// maps back to it, no free slot is bound, and the counts agree.
func (x *Index) Check() error {
	if len(x.slots) != x.bound {
		return fmt.Errorf("pkey: map holds %d keys but %d slots are bound", len(x.slots), x.bound)
	}
	for k, slot := range x.slots {
		if slot < 0 || slot >= len(x.keys) {
			return fmt.Errorf("pkey: key %s references uncreated slot %d", scalar.Format(k), slot)
		}
		if x.keys[slot] != k {
			return fmt.Errorf("pkey: slot %d is bound to %s, not %s", slot, scalar.Format(x.keys[slot]), scalar.Format(k))
		}
	}
	seen := make(map[int]bool, len(x.free))
	for _, slot := range x.free {
		if seen[slot] {
			return fmt.Errorf("pkey: slot %d is on the free-list twice", slot)
		}
		seen[slot] = true
		if x.keys[slot] != nil {
			return fmt.Errorf("pkey: free slot %d is still bound", slot)
		}
	}
	if x.bound+len(x.free) != len(x.keys) {
		return fmt.Errorf("pkey: %d bound + %d free != %d slots", x.bound, len(x.free), len(x.keys))
	}
	return nil
}
