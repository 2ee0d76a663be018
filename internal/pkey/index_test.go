package pkey

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deltapivot/internal/scalar"
)

func noPrepare(int, bool) error { return nil }

func TestIndex_LookupOrCreateIsIdempotent(t *testing.T) {
	x := NewIndex()

	h1, created, err := x.LookupOrCreate(scalar.NewString("A"), noPrepare)
	require.NoError(t, err)
	assert.True(t, created)

	h2, created, err := x.LookupOrCreate(scalar.NewString("A"), noPrepare)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, x.Len())
}

func TestIndex_LookupMissing(t *testing.T) {
	x := NewIndex()
	_, ok := x.Lookup(scalar.Int64(1))
	assert.False(t, ok)
}

func TestIndex_EraseRecyclesSlot(t *testing.T) {
	x := NewIndex()
	a, _, err := x.LookupOrCreate(scalar.NewString("A"), noPrepare)
	require.NoError(t, err)

	_, ok := x.Erase(scalar.NewString("A"))
	require.True(t, ok)
	assert.False(t, x.Valid(a), "handle must be stale after erase")
	assert.Equal(t, 1, x.FreeLen())

	var reusedSeen bool
	b, created, err := x.LookupOrCreate(scalar.NewString("B"), func(slot int, reused bool) error {
		reusedSeen = reused
		assert.Equal(t, a.Slot, slot)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, reusedSeen)
	assert.Equal(t, a.Slot, b.Slot)
	assert.NotEqual(t, a.Gen, b.Gen)
	assert.False(t, x.Valid(a))
	assert.True(t, x.Valid(b))

	_, ok = x.Lookup(scalar.NewString("A"))
	assert.False(t, ok)
}

func TestIndex_EraseMissingIsNoop(t *testing.T) {
	x := NewIndex()
	_, ok := x.Erase(scalar.Int64(42))
	assert.False(t, ok)
	assert.Equal(t, 0, x.FreeLen())
	require.NoError(t, x.Check())
}

func TestIndex_PrepareFailureLeavesIndexUnchanged(t *testing.T) {
	x := NewIndex()
	boom := errors.New("no room")

	_, _, err := x.LookupOrCreate(scalar.Int64(1), func(int, bool) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, x.Len())
	assert.Equal(t, 0, x.Slots())

	// Same on the reuse path.
	_, _, err = x.LookupOrCreate(scalar.Int64(2), noPrepare)
	require.NoError(t, err)
	x.Erase(scalar.Int64(2))
	_, _, err = x.LookupOrCreate(scalar.Int64(3), func(int, bool) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, x.FreeLen())
	require.NoError(t, x.Check())
}

func TestIndex_RejectsUnusableKeys(t *testing.T) {
	x := NewIndex()
	for _, k := range []scalar.Scalar{scalar.None{}, scalar.Clear{}, scalar.Float64(math.NaN()), nil} {
		_, _, err := x.LookupOrCreate(k, noPrepare)
		assert.ErrorIs(t, err, ErrInvalidKey)
	}
	assert.Equal(t, 0, x.Len())
}

func TestIndex_KeyAndLive(t *testing.T) {
	x := NewIndex()
	for i := range 4 {
		_, _, err := x.LookupOrCreate(scalar.Int64(i), noPrepare)
		require.NoError(t, err)
	}
	x.Erase(scalar.Int64(1))

	live := x.Live()
	require.Len(t, live, 3)
	slots := []int{live[0].Slot, live[1].Slot, live[2].Slot}
	assert.Equal(t, []int{0, 2, 3}, slots)

	k, ok := x.Key(2)
	require.True(t, ok)
	assert.Equal(t, scalar.Int64(2), k)
	_, ok = x.Key(1)
	assert.False(t, ok)
}

// Random lookup_or_create/erase sequences keep one slot per key and the
// size counters in agreement.
func TestIndex_RandomSequenceInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	x := NewIndex()
	model := make(map[int64]bool)

	for step := range 5000 {
		k := rng.Int64N(64)
		if rng.IntN(3) == 0 {
			x.Erase(scalar.Int64(k))
			delete(model, k)
		} else {
			_, _, err := x.LookupOrCreate(scalar.Int64(k), noPrepare)
			require.NoError(t, err)
			model[k] = true
		}

		require.Equal(t, x.Len(), x.Bound(), "step %d", step)
		require.Equal(t, len(model), x.Len(), "step %d", step)
	}
	require.NoError(t, x.Check())

	owners := make(map[int]scalar.Scalar)
	for k := range model {
		h, ok := x.Lookup(scalar.Int64(k))
		require.True(t, ok)
		_, dup := owners[h.Slot]
		require.False(t, dup, "slot %d bound twice", h.Slot)
		owners[h.Slot] = scalar.Int64(k)
	}
}
