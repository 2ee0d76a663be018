package master

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/config"
	"github.com/roach88/deltapivot/internal/scalar"
)

func newTestStore(opts ...Option) *Store {
	return New(column.NewSchema(
		column.Def{Name: "pkey", Kind: scalar.KindString},
		column.Def{Name: "x", Kind: scalar.KindInt64},
		column.Def{Name: "y", Kind: scalar.KindFloat64},
	), opts...)
}

func put(t *testing.T, s *Store, key string, x int64) {
	t.Helper()
	h, _, err := s.LookupOrCreate(scalar.NewString(key))
	require.NoError(t, err)
	s.Set(h, "pkey", scalar.NewString(key))
	s.Set(h, "x", scalar.Int64(x))
}

func keys(ks ...string) []scalar.Scalar {
	out := make([]scalar.Scalar, len(ks))
	for i, k := range ks {
		out[i] = scalar.NewString(k)
	}
	return out
}

func TestStore_ReadColumnPreservesOrder(t *testing.T) {
	s := newTestStore()
	put(t, s, "A", 1)
	put(t, s, "B", 2)

	got := s.ReadColumn("x", keys("B", "missing", "A"))
	assert.Equal(t, []scalar.Scalar{scalar.Int64(2), scalar.None{}, scalar.Int64(1)}, got)
}

func TestStore_NewRowReadsNone(t *testing.T) {
	s := newTestStore()
	h, created, err := s.LookupOrCreate(scalar.NewString("A"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, scalar.None{}, s.Get(h, "x"))
	assert.Equal(t, scalar.None{}, s.Get(h, "y"))
}

// Example: erase "A", then "B" may take A's slot but never sees A's data.
func TestStore_SlotReuseZeroesColumns(t *testing.T) {
	s := newTestStore()
	put(t, s, "A", 1)
	hA, _ := s.Lookup(scalar.NewString("A"))
	s.Set(hA, "y", scalar.Float64(9.5))

	require.True(t, s.Erase(scalar.NewString("A")))

	hB, created, err := s.LookupOrCreate(scalar.NewString("B"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, hA.Slot, hB.Slot, "freed slot is reused")
	assert.Equal(t, scalar.None{}, s.Get(hB, "y"), "reused slot must not leak the old row")

	s.Set(hB, "x", scalar.Int64(5))
	assert.Equal(t, []scalar.Scalar{scalar.Int64(5)}, s.ReadColumn("x", keys("B")))
	assert.Equal(t, []scalar.Scalar{scalar.None{}}, s.ReadColumn("x", keys("A")))
}

func TestStore_StaleHandlePanics(t *testing.T) {
	s := newTestStore()
	put(t, s, "A", 1)
	h, _ := s.Lookup(scalar.NewString("A"))
	s.Erase(scalar.NewString("A"))

	assert.False(t, s.Valid(h))
	assert.Panics(t, func() { s.Get(h, "x") })
}

func TestStore_EraseMissingIsNoop(t *testing.T) {
	s := newTestStore()
	assert.False(t, s.Erase(scalar.NewString("nope")))
	require.NoError(t, s.Check())
}

func TestStore_Reduce(t *testing.T) {
	s := newTestStore()
	put(t, s, "A", 1)
	put(t, s, "B", 2)
	put(t, s, "C", 4)

	sum := s.Reduce(keys("A", "C", "zzz"), "x", func(vals []scalar.Scalar) scalar.Scalar {
		var total int64
		for _, v := range vals {
			if n, ok := v.(scalar.Int64); ok {
				total += int64(n)
			}
		}
		return scalar.Int64(total)
	})
	assert.Equal(t, scalar.Int64(5), sum)
}

func TestStore_CapacityFailureIsAtomic(t *testing.T) {
	s := newTestStore(WithCapacity(1))
	put(t, s, "A", 1)

	_, _, err := s.LookupOrCreate(scalar.NewString("B"))
	require.ErrorIs(t, err, column.ErrCapacityExceeded)
	_, ok := s.Lookup(scalar.NewString("B"))
	assert.False(t, ok)
	assert.Equal(t, 1, s.Size())
	require.NoError(t, s.Check())

	// Freed slots are usable without growth.
	s.Erase(scalar.NewString("A"))
	put(t, s, "B", 2)
	assert.Equal(t, []scalar.Scalar{scalar.Int64(2)}, s.ReadColumn("x", keys("B")))
}

func TestStore_Headroom(t *testing.T) {
	assert.Equal(t, -1, newTestStore().Headroom())

	s := newTestStore(WithCapacity(2))
	assert.Equal(t, 2, s.Headroom())
	put(t, s, "A", 1)
	put(t, s, "B", 2)
	assert.Equal(t, 0, s.Headroom())
	s.Erase(scalar.NewString("A"))
	assert.Equal(t, 1, s.Headroom(), "a freed slot counts")
}

func TestStore_TraceWithoutVerbose(t *testing.T) {
	prevLogger := slog.Default()
	prevTrace := config.Tracing(config.StageMaster)
	t.Cleanup(func() {
		config.SetTracing(config.StageMaster, prevTrace)
		config.ConfigureLogging(os.Stderr, false)
		slog.SetDefault(prevLogger)
	})

	var buf bytes.Buffer
	config.ConfigureLogging(&buf, false)
	config.SetTracing(config.StageMaster, true)

	s := newTestStore()
	put(t, s, "A", 1)
	assert.Contains(t, buf.String(), `msg="master row bound"`)
	assert.Contains(t, buf.String(), "stage=MASTER")
}

func TestStore_UninitializedPanics(t *testing.T) {
	var s Store
	assert.Panics(t, func() { s.Lookup(scalar.Int64(1)) })

	var nilStore *Store
	assert.Panics(t, func() { nilStore.Size() })
}

func TestStore_UnknownColumnPanics(t *testing.T) {
	s := newTestStore()
	assert.Panics(t, func() { s.ReadColumn("nope", nil) })
}

func TestStore_KeysInSlotOrder(t *testing.T) {
	s := newTestStore()
	put(t, s, "A", 1)
	put(t, s, "B", 2)
	put(t, s, "C", 3)
	s.Erase(scalar.NewString("B"))
	assert.Equal(t, keys("A", "C"), s.Keys())
}

func TestStore_CloneIsIndependent(t *testing.T) {
	s := newTestStore()
	put(t, s, "A", 1)
	h, _ := s.Lookup(scalar.NewString("A"))

	cp := s.Clone()
	s.Set(h, "x", scalar.Int64(7))
	s.Erase(scalar.NewString("A"))

	assert.True(t, cp.Valid(h))
	assert.Equal(t, scalar.Int64(1), cp.Get(h, "x"))
	require.NoError(t, cp.Check())
}

func keyName(k int64) scalar.Scalar {
	return scalar.NewString(fmt.Sprintf("k%d", k))
}

func TestStore_RandomSizeInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	s := newTestStore()
	written := make(map[int64]int64)

	for step := range 3000 {
		k := rng.Int64N(40)
		name := keyName(k)
		if rng.IntN(4) == 0 {
			s.Erase(name)
			delete(written, k)
		} else {
			h, _, err := s.LookupOrCreate(name)
			require.NoError(t, err)
			v := rng.Int64()
			s.Set(h, "x", scalar.Int64(v))
			written[k] = v
		}
		require.Equal(t, s.Size(), s.MappingSize(), "step %d", step)
	}
	require.NoError(t, s.Check())
	assert.Equal(t, len(written), s.Size())
	for k, v := range written {
		assert.Equal(t, []scalar.Scalar{scalar.Int64(v)}, s.ReadColumn("x", []scalar.Scalar{keyName(k)}))
	}
}
