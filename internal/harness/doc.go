// Package harness provides conformance testing for table definitions.
//
// The harness compiles a CUE table, feeds scenario rounds through a real
// pool and gnode, and checks each round's delta and the resulting state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	tables: path/to/tables.cue   # relative to the scenario file
//	table: sales
//	pool_id: fixed-pool          # optional, defaults to "test-pool"
//	rounds:
//	  - batches:
//	      - port: 0
//	        rows:
//	          - {op: insert, values: {id: 1, region: east, amount: 10}}
//	          - {op: delete, values: {id: 2}}
//	    expect:
//	      size: 1
//	      summary: {inserted: 1, deleted: 1}
//	      rows: [{id: 1, amount: 10}]
//	      absent: [2]
//	      changes: [{key: 1, status: inserted}]
//	      transitions: [{key: 1, column: amount, code: NEQ_FALSE_TO_TRUE}]
//	      groups: [{key: east, sum: 10, count: 1}]
//	      order: [1]
//
// Cell values are converted to the column kind. null is None and "<clear>"
// requests an explicit Clear. Float columns accept .nan, .inf and -.inf.
//
// # Expectations
//
//   - size: live rows in the master store after the round
//   - summary: row counts by status for the round
//   - rows: subset match on current master values, located by the index column
//   - absent: keys that must not be live
//   - changes: row status of keys the round touched
//   - transitions: cell transition codes of the round
//   - groups: the full aggregate view, in key order (requires aggregate)
//   - order: the sorted view's keys (requires sort)
//   - error: a substring the round's submit error must contain; the round
//     is still run so later rounds see the accepted batches
//
// # Golden Files
//
// RunWithGolden renders every round's delta as a text trace and compares
// it with testdata/golden/{name}.golden via goldie.
package harness
