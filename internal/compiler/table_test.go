package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/sorter"
)

func compile(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v
}

func TestCompileTableBasic(t *testing.T) {
	v := compile(t, `
		tables: sales: {
			index: "id"
			columns: {
				id:     "int64"
				region: string
				amount: float
				paid:   bool
			}
			sort: [{column: "amount", order: "desc_abs"}, {column: "id"}]
			aggregate: {by: "region", value: "amount"}
		}
	`)

	spec, err := CompileTable(v.LookupPath(cue.ParsePath("tables.sales")))
	require.NoError(t, err)

	assert.Equal(t, "sales", spec.Name)
	assert.Equal(t, "id", spec.Index)
	assert.Equal(t, []column.Def{
		{Name: "id", Kind: scalar.KindInt64},
		{Name: "region", Kind: scalar.KindString},
		{Name: "amount", Kind: scalar.KindFloat64},
		{Name: "paid", Kind: scalar.KindBool},
	}, spec.Schema.Defs())
	assert.Equal(t, []sorter.Spec{
		{Column: "amount", Order: sorter.DescendingAbs},
		{Column: "id", Order: sorter.Ascending},
	}, spec.Sort)
	assert.Equal(t, &AggregateSpec{By: "region", Value: "amount"}, spec.Aggregate)
}

func TestCompileTableMissingIndex(t *testing.T) {
	v := compile(t, `tables: t: columns: {a: "int64"}`)
	_, err := CompileTable(v.LookupPath(cue.ParsePath("tables.t")))

	require.Error(t, err)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "index", ce.Field)
	assert.Contains(t, err.Error(), "required")
}

func TestCompileTableNoColumns(t *testing.T) {
	v := compile(t, `tables: t: {index: "a", columns: {}}`)
	_, err := CompileTable(v.LookupPath(cue.ParsePath("tables.t")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one column")
}

func TestCompileTableUnknownKind(t *testing.T) {
	v := compile(t, `tables: t: {index: "a", columns: {a: "decimal"}}`)
	_, err := CompileTable(v.LookupPath(cue.ParsePath("tables.t")))

	require.Error(t, err)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "type", ce.Field)
	assert.Contains(t, ce.Message, "decimal")
}

func TestCompileTableBadOrder(t *testing.T) {
	v := compile(t, `tables: t: {index: "a", columns: {a: "int64"}, sort: [{column: "a", order: "sideways"}]}`)
	_, err := CompileTable(v.LookupPath(cue.ParsePath("tables.t")))

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "sort.order", ce.Field)
}

func TestCompileTablesCollectsAll(t *testing.T) {
	v := compile(t, `
		tables: {
			good: {index: "k", columns: {k: "string", n: "int32"}}
			floaty: {index: "f", columns: {f: "float64"}}
			broken: {columns: {x: "int64"}}
		}
	`)

	specs, errs := CompileTables(v)
	require.Len(t, specs, 1)
	assert.Equal(t, "good", specs[0].Name)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "table floaty")
	assert.Contains(t, errs[0].Error(), ErrIndexKind)
	assert.Contains(t, errs[1].Error(), "table broken")
}

func TestCompileTablesNoTables(t *testing.T) {
	v := compile(t, `other: 1`)
	specs, errs := CompileTables(v)
	assert.Empty(t, specs)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no tables defined")
}

func TestValidate(t *testing.T) {
	schema := column.NewSchema(
		column.Def{Name: "id", Kind: scalar.KindInt64},
		column.Def{Name: "name", Kind: scalar.KindString},
		column.Def{Name: "score", Kind: scalar.KindFloat32},
	)

	tests := []struct {
		name  string
		spec  TableSpec
		codes []string
	}{
		{
			name: "valid",
			spec: TableSpec{Index: "id", Schema: schema,
				Sort:      []sorter.Spec{{Column: "score", Order: sorter.Descending}},
				Aggregate: &AggregateSpec{By: "name", Value: "score"}},
		},
		{
			name:  "index missing",
			spec:  TableSpec{Index: "nope", Schema: schema},
			codes: []string{ErrIndexMissing},
		},
		{
			name:  "float index",
			spec:  TableSpec{Index: "score", Schema: schema},
			codes: []string{ErrIndexKind},
		},
		{
			name:  "unknown sort column",
			spec:  TableSpec{Index: "id", Schema: schema, Sort: []sorter.Spec{{Column: "x"}, {Column: "y"}}},
			codes: []string{ErrSortColumnMissing, ErrSortColumnMissing},
		},
		{
			name:  "aggregate columns",
			spec:  TableSpec{Index: "id", Schema: schema, Aggregate: &AggregateSpec{By: "x", Value: "name"}},
			codes: []string{ErrAggregateColumn, ErrAggregateValueKind},
		},
		{
			name:  "aggregate value missing",
			spec:  TableSpec{Index: "id", Schema: schema, Aggregate: &AggregateSpec{By: "name", Value: "y"}},
			codes: []string{ErrAggregateColumn},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.spec)
			var codes []string
			for _, e := range errs {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.codes, codes)
		})
	}
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "index", Message: "bad", Code: ErrIndexKind}
	assert.Equal(t, "[E202] index: bad", err.Error())
}

func TestLoadTablesDirectory(t *testing.T) {
	specs, errs := LoadTables(filepath.Join("testdata", "defs"))
	require.Empty(t, errs)
	require.Len(t, specs, 2)

	sales, ok := Lookup(specs, "sales")
	require.True(t, ok)
	assert.Equal(t, scalar.KindDate, sales.Schema.Kind("when"))
	assert.Equal(t, []string{"amount", "id"}, []string{sales.Sort[0].Column, sales.Sort[1].Column})

	stock, ok := Lookup(specs, "stock")
	require.True(t, ok)
	assert.Equal(t, "sku", stock.Index)
	assert.Equal(t, scalar.KindInt64, stock.Schema.Kind("on_hand"))
	assert.Nil(t, stock.Aggregate)

	_, ok = Lookup(specs, "missing")
	assert.False(t, ok)
}

func TestLoadTablesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.cue")
	require.NoError(t, os.WriteFile(path, []byte(`tables: t: {index: "k", columns: {k: "uint16"}}`), 0o644))

	specs, errs := LoadTables(path)
	require.Empty(t, errs)
	require.Len(t, specs, 1)
	assert.Equal(t, scalar.KindUint16, specs[0].Schema.Kind("k"))
}

func TestLoadTablesSyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte(`tables: {`), 0o644))

	_, errs := LoadTables(path)
	require.Len(t, errs, 1)
	var ce *CompileError
	require.True(t, errors.As(errs[0], &ce))
	assert.Equal(t, path, ce.Pos.Filename())
}

func TestLoadTablesMissingPath(t *testing.T) {
	_, errs := LoadTables(filepath.Join(t.TempDir(), "nope"))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], os.ErrNotExist)
}

func TestFindCUEFiles(t *testing.T) {
	files, err := FindCUEFiles(filepath.Join("testdata", "defs"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
