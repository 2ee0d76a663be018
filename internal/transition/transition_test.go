package transition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/scalar"
)

func TestClassify_NewRowIsAlwaysFalseToTrue(t *testing.T) {
	for _, pv := range []bool{false, true} {
		for _, cv := range []bool{false, true} {
			got := Classify(false, pv, scalar.Int64(1), cv, scalar.Int64(1))
			assert.Equal(t, NeqFalseToTrue, got, "prevValid=%v curValid=%v", pv, cv)
		}
	}
}

// Every combination of the three flags yields a defined code.
func TestClassify_Totality(t *testing.T) {
	tests := []struct {
		existed, prevValid, curValid bool
		prev, cur                    scalar.Scalar
		want                         Code
	}{
		{true, true, true, scalar.Int64(1), scalar.Int64(1), EQ},
		{true, true, true, scalar.Int64(1), scalar.Int64(2), NeqTrueToTrue},
		{true, false, true, scalar.None{}, scalar.Int64(2), NeqFalseToTrue},
		{true, true, false, scalar.Int64(1), scalar.None{}, NeqTrueToTrue},
		{true, false, false, scalar.None{}, scalar.None{}, NeqTrueToTrue},
		{false, false, false, scalar.None{}, scalar.None{}, NeqFalseToTrue},
		{false, true, false, scalar.Int64(1), scalar.None{}, NeqFalseToTrue},
		{false, true, true, scalar.Int64(1), scalar.Int64(1), NeqFalseToTrue},
	}
	for _, tt := range tests {
		got := Classify(tt.existed, tt.prevValid, tt.prev, tt.curValid, tt.cur)
		assert.Equal(t, tt.want, got, "%+v", tt)
	}
}

func TestClassify_StrictEquality(t *testing.T) {
	nan := scalar.Float64(math.NaN())
	assert.Equal(t, NeqTrueToTrue, Classify(true, true, nan, true, nan), "NaN never equals NaN")
	assert.Equal(t, NeqTrueToTrue, Classify(true, true, scalar.Int32(1), true, scalar.Int64(1)), "kinds differ")
	assert.Equal(t, EQ, Classify(true, true, scalar.NewString("a"), true, scalar.NewString("a")))
	assert.Equal(t, EQ, Classify(true, true, scalar.Float64(math.Copysign(0, -1)), true, scalar.Float64(0)))
}

func TestCode_ScalarRoundTrip(t *testing.T) {
	for _, c := range []Code{EQ, NeqFalseToTrue, NeqTrueToTrue, NeqTrueToDeleted} {
		assert.Equal(t, c, FromScalar(c.Scalar()))
	}
	assert.Equal(t, "NEQ_TRUE_TO_TRUE", NeqTrueToTrue.String())
	assert.Panics(t, func() { FromScalar(scalar.Int64(1)) })
}

func snapshotTables(t *testing.T) (*column.Table, *column.Table) {
	t.Helper()
	schema := column.NewSchema(
		column.Def{Name: "a", Kind: scalar.KindInt64},
		column.Def{Name: "b", Kind: scalar.KindString},
	)
	prev := column.NewTable(schema)
	cur := column.NewTable(schema)
	rows := []struct{ prev, cur []scalar.Scalar }{
		{[]scalar.Scalar{scalar.Int64(1), scalar.NewString("x")}, []scalar.Scalar{scalar.Int64(2), scalar.NewString("x")}},
		{[]scalar.Scalar{scalar.None{}, scalar.None{}}, []scalar.Scalar{scalar.Int64(5), scalar.NewString("y")}},
		{[]scalar.Scalar{scalar.Int64(3), scalar.NewString("z")}, []scalar.Scalar{scalar.Int64(3), scalar.None{}}},
	}
	for _, r := range rows {
		_, err := prev.AppendRow(r.prev)
		require.NoError(t, err)
		_, err = cur.AppendRow(r.cur)
		require.NoError(t, err)
	}
	return prev, cur
}

func TestClassifyTable(t *testing.T) {
	prev, cur := snapshotTables(t)
	out := column.NewTable(Schema(prev.Schema()))

	err := ClassifyTable([]bool{true, false, true}, prev, cur, out, 2)
	require.NoError(t, err)
	require.Equal(t, 3, out.Size())

	want := [][]Code{
		{NeqTrueToTrue, EQ},
		{NeqFalseToTrue, NeqFalseToTrue},
		{EQ, NeqTrueToTrue},
	}
	for row, codes := range want {
		for col, code := range codes {
			assert.Equal(t, code, FromScalar(out.ColumnAt(col).Get(row)), "row %d col %d", row, col)
		}
	}
}

func TestClassifyTable_ReusesOutput(t *testing.T) {
	prev, cur := snapshotTables(t)
	out := column.NewTable(Schema(prev.Schema()))
	for range 3 {
		require.NoError(t, ClassifyTable([]bool{true, true, true}, prev, cur, out, 1))
		assert.Equal(t, 3, out.Size())
	}
}

func TestClassifyTable_Misaligned(t *testing.T) {
	prev, cur := snapshotTables(t)
	out := column.NewTable(Schema(prev.Schema()))
	assert.Panics(t, func() {
		_ = ClassifyTable([]bool{true}, prev, cur, out, 1)
	})
}
