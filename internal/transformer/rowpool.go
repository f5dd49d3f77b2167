// Package transformer holds the in-memory side of the pipeline: pooled rows
// passed from the JSON readers to the staging writer, an in-memory staging
// area, and a reference derivation of the star schema.
package transformer

import "sync"

// Row is a pooled positional row bound for a staging table.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - Sending a Row on a channel transfers ownership.
//   - The final consumer (the staging writer) calls Free once the batch
//     holding r.V has been copied. RowCopier implementations must not keep
//     r.V after CopyRows returns.
//
// On cancellation paths call Drop instead of Free: an upstream stage may
// still be unwinding, and a re-pooled Row could be handed out again while a
// reader still holds it.
type Row struct {
	V    []any
	Line int // 1-based record index within its source object
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount and every slot nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop releases the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
