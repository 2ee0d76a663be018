package harness

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a result as the text compared against golden files.
// The rendering is deterministic: rows follow delta order, cells follow
// schema order and the final table is in key order.
//
//	scenario: sales-basic
//	round 1 epoch=1 size=1 inserted=1 updated=0 unchanged=0 deleted=0
//	  1 inserted
//	    id: none -> 1 NEQ_FALSE_TO_TRUE
//	final: id region
//	  1 "east"
func FormatTrace(name string, r *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for i, rt := range r.Trace {
		fmt.Fprintf(&buf, "round %d epoch=%d size=%d inserted=%d updated=%d unchanged=%d deleted=%d\n",
			i+1, rt.Epoch, rt.Size, rt.Inserted, rt.Updated, rt.Unchanged, rt.Deleted)
		for _, row := range rt.Rows {
			fmt.Fprintf(&buf, "  %s %s\n", row.Key, row.Status)
			for _, c := range row.Cells {
				fmt.Fprintf(&buf, "    %s: %s -> %s %s\n", c.Column, c.Previous, c.Current, c.Code)
			}
		}
		if rt.Error != "" {
			fmt.Fprintf(&buf, "  error: %s\n", rt.Error)
		}
	}
	fmt.Fprintf(&buf, "final: %s\n", strings.Join(r.Columns, " "))
	for _, row := range r.Final {
		fmt.Fprintf(&buf, "  %s\n", strings.Join(row, " "))
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also assert on expectations.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, FormatTrace(name, result))
}
