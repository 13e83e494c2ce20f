package vdevq

import "github.com/google/btree"

const btreeDegree = 16

// Identity breaks every tie, so each index is a strict total order and a
// request has exactly one position to scan from.

func lessDeadline(a, b *Request) bool {
	if da, db := a.deadline.Load(), b.deadline.Load(); da != db {
		return da < db
	}
	if a.offset != b.offset {
		return a.offset < b.offset
	}
	return a.id < b.id
}

func lessOffset(a, b *Request) bool {
	if a.offset != b.offset {
		return a.offset < b.offset
	}
	return a.id < b.id
}

func lessUnit(a, b Unit) bool {
	if a.Offset() != b.Offset() {
		return a.Offset() < b.Offset()
	}
	return a.ID() < b.ID()
}

// requestIndex is an ordered set of queued requests.
type requestIndex struct {
	t *btree.BTreeG[*Request]
}

func newRequestIndex(less btree.LessFunc[*Request]) *requestIndex {
	return &requestIndex{t: btree.NewG(btreeDegree, less)}
}

func (ix *requestIndex) insert(r *Request) { ix.t.ReplaceOrInsert(r) }
func (ix *requestIndex) remove(r *Request) { ix.t.Delete(r) }
func (ix *requestIndex) len() int          { return ix.t.Len() }

func (ix *requestIndex) first() *Request {
	r, _ := ix.t.Min()
	return r
}

// prev returns the request ordered immediately before r, or nil.
func (ix *requestIndex) prev(r *Request) *Request {
	var out *Request
	ix.t.DescendLessOrEqual(r, func(it *Request) bool {
		if it == r {
			return true
		}
		out = it
		return false
	})
	return out
}

// next returns the request ordered immediately after r, or nil.
func (ix *requestIndex) next(r *Request) *Request {
	var out *Request
	ix.t.AscendGreaterOrEqual(r, func(it *Request) bool {
		if it == r {
			return true
		}
		out = it
		return false
	})
	return out
}

func (ix *requestIndex) each(fn func(r *Request) bool) { ix.t.Ascend(fn) }

// unitIndex is the ordered set of dispatched, incomplete units.
type unitIndex struct {
	t *btree.BTreeG[Unit]
}

func newUnitIndex() *unitIndex {
	return &unitIndex{t: btree.NewG[Unit](btreeDegree, lessUnit)}
}

func (ix *unitIndex) insert(u Unit) { ix.t.ReplaceOrInsert(u) }
func (ix *unitIndex) len() int      { return ix.t.Len() }

// remove deletes u and reports whether it was present.
func (ix *unitIndex) remove(u Unit) bool {
	_, ok := ix.t.Delete(u)
	return ok
}

func (ix *unitIndex) has(u Unit) bool { return ix.t.Has(u) }
