package compiler

import (
	"fmt"

	"github.com/roach88/deltapivot/internal/scalar"
)

// Validation error codes (E200-E299)
const (
	ErrIndexMissing       = "E201" // index column not declared
	ErrIndexKind          = "E202" // index column kind cannot hold keys
	ErrSortColumnMissing  = "E203" // sort names an undeclared column
	ErrAggregateColumn    = "E204" // aggregate names an undeclared column
	ErrAggregateValueKind = "E205" // aggregate value column is not numeric
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks cross-field rules of a compiled table. It returns every
// problem found rather than stopping at the first.
func Validate(spec *TableSpec) []ValidationError {
	var errs []ValidationError
	schema := spec.Schema

	if !schema.Has(spec.Index) {
		errs = append(errs, ValidationError{
			Field:   "index",
			Message: fmt.Sprintf("index column %q is not declared", spec.Index),
			Code:    ErrIndexMissing,
		})
	} else if k := schema.Kind(spec.Index); k == scalar.KindFloat32 || k == scalar.KindFloat64 {
		// NaN cannot be a primary key and float equality is not a stable identity.
		errs = append(errs, ValidationError{
			Field:   "index",
			Message: fmt.Sprintf("index column %q is %s, use an integer, string, date or time column", spec.Index, k),
			Code:    ErrIndexKind,
		})
	}

	for i, s := range spec.Sort {
		if !schema.Has(s.Column) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("sort[%d].column", i),
				Message: fmt.Sprintf("sort column %q is not declared", s.Column),
				Code:    ErrSortColumnMissing,
			})
		}
	}

	if agg := spec.Aggregate; agg != nil {
		if !schema.Has(agg.By) {
			errs = append(errs, ValidationError{
				Field:   "aggregate.by",
				Message: fmt.Sprintf("group column %q is not declared", agg.By),
				Code:    ErrAggregateColumn,
			})
		}
		if !schema.Has(agg.Value) {
			errs = append(errs, ValidationError{
				Field:   "aggregate.value",
				Message: fmt.Sprintf("value column %q is not declared", agg.Value),
				Code:    ErrAggregateColumn,
			})
		} else if !isNumeric(schema.Kind(agg.Value)) {
			errs = append(errs, ValidationError{
				Field:   "aggregate.value",
				Message: fmt.Sprintf("value column %q is %s, not numeric", agg.Value, schema.Kind(agg.Value)),
				Code:    ErrAggregateValueKind,
			})
		}
	}
	return errs
}

func isNumeric(k scalar.Kind) bool {
	return k >= scalar.KindInt8 && k <= scalar.KindFloat64
}
