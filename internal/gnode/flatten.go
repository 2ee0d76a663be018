package gnode

import (
	"github.com/roach88/deltapivot/internal/batch"
	"github.com/roach88/deltapivot/internal/scalar"
)

// flatRow is the net operation of a round on one key.
type flatRow struct {
	key   scalar.Scalar
	op    batch.Op
	reset bool            // a delete preceded the surviving insert
	cells []scalar.Scalar // schema order; None means untouched
}

// flatten merges queued batches into one operation per key. Ports are read
// in order, then batches in submit order, then rows in batch order; keys
// keep the position of their first appearance. A later insert overlays the
// cells it sets, a delete discards everything before it.
func (n *Node) flatten(queued [][]*batch.Batch) []*flatRow {
	byKey := make(map[scalar.Scalar]*flatRow)
	var order []*flatRow
	for _, port := range queued {
		for _, b := range port {
			for _, r := range b.Rows {
				key := r.Get(n.index)
				fr, seen := byKey[key]
				if !seen {
					fr = &flatRow{key: key, op: r.Op, cells: n.noneRow()}
					byKey[key] = fr
					order = append(order, fr)
				}
				switch r.Op {
				case batch.OpDelete:
					fr.op = batch.OpDelete
					fr.reset = false
					fillNone(fr.cells)
				case batch.OpInsert:
					if seen && fr.op == batch.OpDelete {
						fr.reset = true
					}
					fr.op = batch.OpInsert
					n.overlay(fr.cells, r)
				}
				fr.cells[n.keyCol] = key
			}
		}
	}
	return order
}

func (n *Node) overlay(cells []scalar.Scalar, r batch.Row) {
	for col, v := range r.Values {
		if _, none := v.(scalar.None); none || v == nil {
			continue
		}
		i, _ := n.schema.Index(col)
		cells[i] = v
	}
}

// merge applies flattened cells on top of base: None keeps the base value,
// Clear invalidates it, anything else overwrites it.
func merge(base, cells []scalar.Scalar) []scalar.Scalar {
	out := make([]scalar.Scalar, len(base))
	for i, v := range cells {
		switch v.(type) {
		case scalar.None:
			out[i] = base[i]
		case scalar.Clear:
			out[i] = scalar.None{}
		default:
			out[i] = v
		}
	}
	return out
}

func fillNone(row []scalar.Scalar) {
	for i := range row {
		row[i] = scalar.None{}
	}
}
