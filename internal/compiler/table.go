// Package compiler turns CUE table definitions into engine schemas.
//
// A definitions file declares tables under the top-level "tables" field:
//
//	tables: sales: {
//		index: "id"
//		columns: {
//			id:     "int64"
//			region: "string"
//			amount: "float64"
//		}
//		sort: [{column: "amount", order: "desc"}]
//		aggregate: {by: "region", value: "amount"}
//	}
//
// Column order follows declaration order. A column kind is either a kind
// name string or a CUE type (string, int, float, bool).
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/deltapivot/internal/column"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/sorter"
)

// TableSpec is a compiled table definition.
type TableSpec struct {
	Name      string
	Index     string
	Schema    column.Schema
	Sort      []sorter.Spec
	Aggregate *AggregateSpec
}

// AggregateSpec declares a group-by sum/count view.
type AggregateSpec struct {
	By    string
	Value string
}

// CompileTable parses one table struct, e.g. the value at "tables.sales".
func CompileTable(v cue.Value) (*TableSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &TableSpec{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	index, err := requiredString(v, "index")
	if err != nil {
		return nil, err
	}
	spec.Index = index

	defs, err := parseColumns(v)
	if err != nil {
		return nil, err
	}
	spec.Schema, err = newSchema(v, defs)
	if err != nil {
		return nil, err
	}

	if spec.Sort, err = parseSort(v); err != nil {
		return nil, err
	}
	if spec.Aggregate, err = parseAggregate(v); err != nil {
		return nil, err
	}
	return spec, nil
}

// CompileTables compiles every table under "tables" in declaration order.
// It keeps going after a failing table and returns all errors.
func CompileTables(root cue.Value) ([]TableSpec, []error) {
	tables := root.LookupPath(cue.ParsePath("tables"))
	if !tables.Exists() {
		return nil, []error{&CompileError{Field: "tables", Message: "no tables defined", Pos: root.Pos()}}
	}
	iter, err := tables.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var specs []TableSpec
	var errs []error
	for iter.Next() {
		spec, err := CompileTable(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", iter.Label(), err))
			continue
		}
		if verrs := Validate(spec); len(verrs) > 0 {
			for _, ve := range verrs {
				errs = append(errs, fmt.Errorf("table %s: %w", spec.Name, ve))
			}
			continue
		}
		specs = append(specs, *spec)
	}
	return specs, errs
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func parseColumns(v cue.Value) ([]column.Def, error) {
	cols := v.LookupPath(cue.ParsePath("columns"))
	if !cols.Exists() {
		return nil, &CompileError{Field: "columns", Message: "columns is required", Pos: v.Pos()}
	}
	iter, err := cols.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var defs []column.Def
	for iter.Next() {
		kind, err := extractKind(iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, column.Def{Name: iter.Label(), Kind: kind})
	}
	if len(defs) == 0 {
		return nil, &CompileError{Field: "columns", Message: "at least one column is required", Pos: cols.Pos()}
	}
	return defs, nil
}

// newSchema builds the schema, turning the constructor's panics on empty or
// duplicate names into a CompileError.
func newSchema(v cue.Value, defs []column.Def) (schema column.Schema, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CompileError{Field: "columns", Message: fmt.Sprint(r), Pos: v.Pos()}
		}
	}()
	return column.NewSchema(defs...), nil
}

// extractKind reads a column kind from a kind name or a CUE type.
func extractKind(v cue.Value) (scalar.Kind, error) {
	if name, err := v.String(); err == nil {
		k, err := scalar.ParseKind(name)
		if err != nil {
			return 0, &CompileError{Field: "type", Message: err.Error(), Pos: v.Pos()}
		}
		return k, nil
	}
	switch v.IncompleteKind() {
	case cue.StringKind:
		return scalar.KindString, nil
	case cue.IntKind:
		return scalar.KindInt64, nil
	case cue.FloatKind, cue.NumberKind:
		return scalar.KindFloat64, nil
	case cue.BoolKind:
		return scalar.KindBool, nil
	default:
		return 0, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func parseSort(v cue.Value) ([]sorter.Spec, error) {
	sv := v.LookupPath(cue.ParsePath("sort"))
	if !sv.Exists() {
		return nil, nil
	}
	iter, err := sv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var specs []sorter.Spec
	for iter.Next() {
		col, err := requiredString(iter.Value(), "column")
		if err != nil {
			return nil, err
		}
		order := sorter.Ascending
		if ov := iter.Value().LookupPath(cue.ParsePath("order")); ov.Exists() {
			name, err := ov.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if order, err = sorter.ParseOrder(name); err != nil {
				return nil, &CompileError{Field: "sort.order", Message: err.Error(), Pos: ov.Pos()}
			}
		}
		specs = append(specs, sorter.Spec{Column: col, Order: order})
	}
	return specs, nil
}

func parseAggregate(v cue.Value) (*AggregateSpec, error) {
	av := v.LookupPath(cue.ParsePath("aggregate"))
	if !av.Exists() {
		return nil, nil
	}
	by, err := requiredString(av, "by")
	if err != nil {
		return nil, err
	}
	value, err := requiredString(av, "value")
	if err != nil {
		return nil, err
	}
	return &AggregateSpec{By: by, Value: value}, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
