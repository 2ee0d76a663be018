// Package scalar defines the cell value type shared by every other package.
//
// A Scalar is a closed sum type: only the types declared in this package
// implement it, and every operation (equality, ordering, rendering) is an
// exhaustive type switch over them. None is the invalid/null value, Clear is
// the explicit "unset this cell" marker carried by update batches.
//
// Two comparisons exist and they are deliberately different:
//   - Equal is strict: different kinds are never equal and NaN != NaN. It is
//     what transition classification uses.
//   - Compare is a total order (NaN sorts lowest, NaN == NaN) used for
//     tie-breaking and ordered traversal.
package scalar
