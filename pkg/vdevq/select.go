package vdevq

import "github.com/marmos91/vdevq/internal/logger"

// run is a candidate aggregate: the members from fio to lio in ix order.
type run struct {
	ix       *requestIndex
	fio, lio *Request
}

// selectLocked picks the next unit of work under the admission limit,
// moves it to the pending index and appends it to b for dispatch. It
// returns nil when nothing is admitted. Requests bypassed on the way are
// appended to b as well.
func (q *Queue) selectLocked(limit int, b *batch) Unit {
	for {
		seed := q.deadline.first()
		if seed == nil {
			return nil
		}
		if q.pending.len() >= limit {
			q.throttle("limit")
			return nil
		}
		if seed.Deadline() > q.nowTicks() && q.pending.len() >= q.cfg.FuturePending {
			q.stats.FutureThrottled++
			q.throttle("future")
			return nil
		}

		rn := q.extend(seed)
		if rn.fio != rn.lio {
			if a := q.aggregate(rn, b); a != nil {
				return a
			}
		}

		// Single request, or aggregation abandoned for lack of memory.
		r := rn.fio
		q.dequeue(r)
		if r.noData() {
			r.state = stateBypassed
			q.stats.Dropped++
			b.dropped = append(b.dropped, r)
			continue
		}
		r.state = statePending
		q.issue(r, b)
		return r
	}
}

// extend grows a run around seed: backwards, then forwards, through
// requests of the same type whose inherited flags match, keeping the span
// within AggregationLimit and each gap within the type's gap limit.
//
// Placeholders never start a run. For writes a real request is reached
// across a chain of placeholders only if the distance from the nearest real
// member is within WriteGapLimit, and trailing placeholders are either kept
// (stretch) or trimmed back to the last real member.
func (q *Queue) extend(seed *Request) run {
	ix := q.offsetIndex(seed.typ)
	rn := run{ix: ix, fio: seed, lio: seed}
	if seed.Flags()&FlagDontAggregate != 0 {
		return rn
	}

	flags := seed.Flags() & FlagAggInherit
	write := seed.typ == Write
	var maxgap int64
	if !write {
		maxgap = q.cfg.ReadGapLimit
	}
	limit := q.cfg.AggregationLimit

	// firstReal and mio are the lowest and highest non-optional members.
	var firstReal, mio *Request
	if !seed.optional() {
		firstReal, mio = seed, seed
	}
	lo, hi := seed.offset, seed.offset+seed.size

	for {
		dio := ix.prev(rn.fio)
		if dio == nil || !mergeable(dio, flags) {
			break
		}
		end := max(hi, dio.offset+dio.size)
		if end-dio.offset > limit || lo-(dio.offset+dio.size) > maxgap {
			break
		}
		if write && !dio.optional() && rn.fio.optional() && firstReal != nil &&
			gap(dio, firstReal) > q.cfg.WriteGapLimit {
			break
		}
		rn.fio, lo, hi = dio, dio.offset, end
		if !dio.optional() {
			firstReal = dio
			if mio == nil {
				mio = dio
			}
		}
	}

	rn.trimLeading()
	lo, hi = rn.fio.offset, rn.end()

	for {
		dio := ix.next(rn.lio)
		if dio == nil || !mergeable(dio, flags) {
			break
		}
		end := max(hi, dio.offset+dio.size)
		if end-lo > limit || dio.offset-hi > maxgap {
			break
		}
		if write && !dio.optional() && rn.lio.optional() && mio != nil &&
			gap(mio, dio) > q.cfg.WriteGapLimit {
			break
		}
		rn.lio, hi = dio, end
		if !dio.optional() {
			mio = dio
		}
	}

	if write && mio != nil {
		q.trailing(&rn, mio)
	}
	rn.trimLeading()
	return rn
}

// trailing decides what happens to placeholders after the run. If a real
// write is reachable from lio through contiguous successors within
// WriteGapLimit of mio, the placeholders stay and the next one loses its
// optional marker so it can lead the following run. Otherwise the run ends
// at mio.
func (q *Queue) trailing(rn *run, mio *Request) {
	stretch := false
	nio := rn.lio
	for {
		dio := rn.ix.next(nio)
		if dio == nil || gap(nio, dio) != 0 || gap(mio, dio) > q.cfg.WriteGapLimit {
			break
		}
		nio = dio
		if !nio.optional() {
			stretch = true
			break
		}
	}

	if stretch {
		rn.ix.next(rn.lio).clearFlags(FlagOptional)
		return
	}
	for rn.lio != mio && rn.lio != rn.fio {
		rn.lio = rn.ix.prev(rn.lio)
	}
}

func (rn *run) trimLeading() {
	for rn.fio.optional() && rn.fio != rn.lio {
		rn.fio = rn.ix.next(rn.fio)
	}
}

// members returns the run in offset order.
func (rn *run) members() []*Request {
	out := []*Request{rn.fio}
	for r := rn.fio; r != rn.lio; {
		r = rn.ix.next(r)
		out = append(out, r)
	}
	return out
}

// end returns the highest end offset in the run.
func (rn *run) end() int64 {
	var hi int64
	for _, r := range rn.members() {
		hi = max(hi, r.offset+r.size)
	}
	return hi
}

func mergeable(r *Request, flags Flag) bool {
	f := r.Flags()
	return f&FlagAggInherit == flags && f&FlagDontAggregate == 0
}

// aggregate turns a run of two or more requests into an Aggregate, absorbs
// the members and queues the aggregate for dispatch. It returns nil, with
// the indices untouched, if no backing storage could be allocated.
func (q *Queue) aggregate(rn run, b *batch) *Aggregate {
	members := rn.members()
	lo := rn.fio.offset

	// Exact segment count and overlap over the final membership.
	hi := lo
	segs, overlap, holes := 0, false, false
	for i, m := range members {
		if i > 0 {
			switch g := m.offset - hi; {
			case g > 0:
				segs++
				holes = true
			case g < 0:
				overlap = true
			}
		}
		segs++
		hi = max(hi, m.offset+m.size)
	}
	size := hi - lo

	vectored := q.cfg.VectorEnabled && !overlap &&
		segs <= q.cfg.MaxVectorSegments && size <= q.cfg.MaxVectorBytes
	if vectored {
		if err := q.alloc.ReserveVector(segs); err != nil {
			vectored = false
			q.allocFallback("vector", err)
		}
	}

	a := &Aggregate{
		id:       allocID(),
		typ:      rn.fio.typ,
		offset:   lo,
		size:     size,
		priority: rn.fio.priority,
		flags:    rn.fio.Flags()&FlagAggInherit | FlagDontQueue,
	}
	if holes {
		a.flags |= FlagDontCache
	}

	var vb *VectorBacking
	if vectored {
		vb = &VectorBacking{segs: make([]Segment, 0, segs)}
		a.backing = vb
	} else {
		buf, err := q.alloc.AllocScratch(int(size))
		if err != nil {
			q.allocFallback("scratch", err)
			return nil
		}
		a.backing = &ScratchBacking{buf: buf}
	}

	prevEnd := lo
	for _, m := range members {
		if vb != nil {
			if g := m.offset - prevEnd; g > 0 {
				vb.segs = append(vb.segs, Segment{Kind: SegmentFiller, Data: q.filler(g)})
			}
			if m.noData() {
				vb.segs = append(vb.segs, Segment{Kind: SegmentZero, Data: q.zeros(m.size)})
			} else {
				vb.segs = append(vb.segs, Segment{Kind: SegmentData, Data: m.buf})
			}
		}
		prevEnd = max(prevEnd, m.offset+m.size)

		q.dequeue(m)
		m.parent = a
		m.setFlags(FlagDontQueue)
		m.state = stateAbsorbed
		a.priority = min(a.priority, m.priority)
		a.children = append(a.children, m)
		b.absorbed = append(b.absorbed, m)
	}

	q.stats.Aggregates++
	q.stats.Absorbed += uint64(len(members))
	if vb != nil {
		q.stats.Vectored++
	} else {
		q.stats.Buffered++
		if a.typ == Write {
			b.fills = append(b.fills, a)
		}
	}
	q.issue(a, b)
	return a
}

// issue moves u to the pending index and schedules its dispatch.
func (q *Queue) issue(u Unit, b *batch) {
	q.pending.insert(u)
	q.stats.Dispatched++
	if n := q.pending.len(); n > q.stats.MaxPendingSeen {
		q.stats.MaxPendingSeen = n
	}
	b.dispatch = append(b.dispatch, u)
}

func (q *Queue) dequeue(r *Request) {
	q.deadline.remove(r)
	q.offsetIndex(r.typ).remove(r)
}

func (q *Queue) throttle(reason string) {
	q.stats.Throttled++
	if q.metrics != nil {
		q.metrics.ObserveThrottle(reason)
	}
}

func (q *Queue) allocFallback(stage string, err error) {
	q.stats.AllocFallbacks++
	if q.metrics != nil {
		q.metrics.ObserveAllocFallback(stage)
	}
	logger.Debug("Aggregate allocation failed", logger.KeyDevice, q.name,
		logger.KeyStage, stage, logger.KeyError, err)
}

// zeros returns n bytes of the shared zero buffer.
func (q *Queue) zeros(n int64) []byte {
	if int64(len(q.zeroBuf)) < n {
		q.zeroBuf = make([]byte, max(n, q.cfg.MaxVectorBytes))
	}
	return q.zeroBuf[:n:n]
}

// filler returns n bytes of the shared read filler buffer.
func (q *Queue) filler(n int64) []byte {
	if int64(len(q.fillerBuf)) < n {
		q.fillerBuf = make([]byte, max(n, q.cfg.ReadGapLimit))
	}
	return q.fillerBuf[:n:n]
}
