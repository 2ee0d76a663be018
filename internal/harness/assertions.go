package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/view"
)

// AssertionError is returned when an expectation fails.
type AssertionError struct {
	Type     string // expectation field, e.g. "size" or "rows"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// check evaluates every expectation of a round and returns the failures.
func (h *Harness) check(e *Expect, rt *RoundTrace) []string {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if e.Size != nil && *e.Size != rt.Size {
		add(&AssertionError{Type: "size", Expected: fmt.Sprint(*e.Size), Actual: fmt.Sprint(rt.Size)})
	}
	if e.Summary != nil {
		want := fmt.Sprintf("inserted=%d updated=%d unchanged=%d deleted=%d",
			e.Summary.Inserted, e.Summary.Updated, e.Summary.Unchanged, e.Summary.Deleted)
		got := fmt.Sprintf("inserted=%d updated=%d unchanged=%d deleted=%d",
			rt.Inserted, rt.Updated, rt.Unchanged, rt.Deleted)
		if want != got {
			add(&AssertionError{Type: "summary", Expected: want, Actual: got})
		}
	}
	for _, row := range e.Rows {
		add(h.checkRow(row))
	}
	for _, k := range e.Absent {
		add(h.checkAbsent(k))
	}
	for _, c := range e.Changes {
		add(h.checkChange(rt, c))
	}
	for _, tr := range e.Transitions {
		add(h.checkTransition(rt, tr))
	}
	if e.Groups != nil {
		add(h.checkGroups(e.Groups))
	}
	if e.Order != nil {
		add(h.checkOrder(e.Order))
	}
	if e.Error != "" && !strings.Contains(rt.Error, e.Error) {
		add(&AssertionError{Type: "error", Expected: fmt.Sprintf("error containing %q", e.Error), Actual: fmt.Sprintf("%q", rt.Error)})
	}

	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return msgs
}

// checkRow is a subset match of current master values for one key.
func (h *Harness) checkRow(want map[string]any) error {
	raw, ok := want[h.spec.Index]
	if !ok {
		return fmt.Errorf("rows: expectation without index column %q", h.spec.Index)
	}
	key, err := h.key(raw)
	if err != nil {
		return fmt.Errorf("rows: key: %w", err)
	}
	m := h.node.Master()
	hd, ok := m.Lookup(key)
	if !ok {
		return &AssertionError{Type: "rows", Expected: fmt.Sprintf("row %s", scalar.Format(key)), Actual: "no such row"}
	}
	for col, v := range want {
		if !h.spec.Schema.Has(col) {
			return fmt.Errorf("rows: unknown column %q", col)
		}
		w, err := scalar.FromAny(h.spec.Schema.Kind(col), v)
		if err != nil {
			return fmt.Errorf("rows: column %q: %w", col, err)
		}
		if w == (scalar.Clear{}) {
			w = scalar.None{}
		}
		got := m.Get(hd, col)
		if !sameCell(w, got) {
			return &AssertionError{
				Type:     "rows",
				Expected: fmt.Sprintf("%s.%s = %s", scalar.Format(key), col, scalar.Format(w)),
				Actual:   scalar.Format(got),
			}
		}
	}
	return nil
}

func (h *Harness) checkAbsent(raw any) error {
	key, err := h.key(raw)
	if err != nil {
		return fmt.Errorf("absent: key: %w", err)
	}
	if _, ok := h.node.Master().Lookup(key); ok {
		return &AssertionError{Type: "absent", Expected: fmt.Sprintf("no row %s", scalar.Format(key)), Actual: "row is live"}
	}
	return nil
}

func (h *Harness) findRow(rt *RoundTrace, raw any) (*RowTrace, string, error) {
	key, err := h.key(raw)
	if err != nil {
		return nil, "", err
	}
	k := scalar.Format(key)
	for i := range rt.Rows {
		if rt.Rows[i].Key == k {
			return &rt.Rows[i], k, nil
		}
	}
	return nil, k, nil
}

func (h *Harness) checkChange(rt *RoundTrace, c ChangeExpect) error {
	row, k, err := h.findRow(rt, c.Key)
	if err != nil {
		return fmt.Errorf("changes: key: %w", err)
	}
	if row == nil {
		return &AssertionError{Type: "changes", Expected: fmt.Sprintf("%s %s", k, c.Status), Actual: "key not in delta"}
	}
	if row.Status != c.Status {
		return &AssertionError{Type: "changes", Expected: fmt.Sprintf("%s %s", k, c.Status), Actual: row.Status}
	}
	return nil
}

func (h *Harness) checkTransition(rt *RoundTrace, tr TransitionExpect) error {
	row, k, err := h.findRow(rt, tr.Key)
	if err != nil {
		return fmt.Errorf("transitions: key: %w", err)
	}
	want := fmt.Sprintf("%s.%s %s", k, tr.Column, tr.Code)
	if row == nil {
		return &AssertionError{Type: "transitions", Expected: want, Actual: "key not in delta"}
	}
	for _, cell := range row.Cells {
		if cell.Column == tr.Column {
			if cell.Code != tr.Code {
				return &AssertionError{Type: "transitions", Expected: want, Actual: cell.Code}
			}
			return nil
		}
	}
	return fmt.Errorf("transitions: unknown column %q", tr.Column)
}

func (h *Harness) checkGroups(want []GroupExpect) error {
	if h.agg == nil {
		return fmt.Errorf("groups: table %s has no aggregate", h.spec.Name)
	}
	by := h.spec.Schema.Kind(h.spec.Aggregate.By)
	groups := make([]view.Group, len(want))
	for i, g := range want {
		k, err := scalar.FromAny(by, g.Key)
		if err != nil {
			return fmt.Errorf("groups: key: %w", err)
		}
		groups[i] = view.Group{Key: k, Sum: g.Sum, Count: g.Count}
	}
	if w, got := formatGroups(groups), formatGroups(h.agg.Groups()); w != got {
		return &AssertionError{Type: "groups", Expected: w, Actual: got}
	}
	return nil
}

func (h *Harness) checkOrder(want []any) error {
	if h.sorted == nil {
		return fmt.Errorf("order: table %s has no sort", h.spec.Name)
	}
	ws := make([]string, len(want))
	for i, raw := range want {
		k, err := h.key(raw)
		if err != nil {
			return fmt.Errorf("order: key: %w", err)
		}
		ws[i] = scalar.Format(k)
	}
	keys := h.sorted.Keys()
	gs := make([]string, len(keys))
	for i, k := range keys {
		gs[i] = scalar.Format(k)
	}
	if w, got := strings.Join(ws, " "), strings.Join(gs, " "); w != got {
		return &AssertionError{Type: "order", Expected: "[" + w + "]", Actual: "[" + got + "]"}
	}
	return nil
}

// sameCell is strict equality except that NaN matches NaN.
func sameCell(want, got scalar.Scalar) bool {
	if scalar.IsNaN(want) && scalar.IsNaN(got) {
		return scalar.KindOf(want) == scalar.KindOf(got)
	}
	return scalar.Equal(want, got)
}

func formatGroups(groups []view.Group) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = fmt.Sprintf("%s count=%d sum=%g", scalar.Format(g.Key), g.Count, g.Sum)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
