package planner

import (
	"container/heap"

	"github.com/xpirt/blockimgdiff/internal/omap"
	"github.com/xpirt/blockimgdiff/rangeset"
	"github.com/xpirt/blockimgdiff/transfer"
)

// vertexState is the heuristic's mutable working copy of one transfer's
// edges; BuildGraph's GoesBefore/GoesAfter are left untouched so Step 3
// (cycle breaking) can still consult the original demands.
type vertexState struct {
	removed bool
	queued  bool // in sinkQueue or sourceQueue already
	out     *omap.Map[transfer.ID, rangeset.Block]
	in      *omap.Map[transfer.ID, rangeset.Block]
	score   int64
}

// heapItem is a (score, id) tuple pushed fresh on every score change. On
// pop, entries whose recorded score no longer matches the vertex's current
// score, or whose vertex has been removed, are discarded — the "stale
// entry" technique from the design notes, used in place of decrease-key.
//
// Open Question 2 (spec.md §9): the source's HeapItem.__bool__ returns
// true iff the item has been cleared, which reads as inverted from intent.
// We resolve this the way the design notes direct: our heapItem carries no
// such flag at all (staleness is detected purely by score/removed
// comparison against vertexState), so there is nothing here to invert.
type heapItem struct {
	score int64
	id    transfer.ID
}

type maxHeap []heapItem

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	// Stable tie-break: lower transfer ID (earlier creation/insertion
	// order) wins, per §4.4 Step 2 "Ties: vertex insertion order".
	return h[i].id < h[j].id
}
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Linearize runs the Eades-Lin-Smyth two-deque heuristic over arena's
// digraph (built by BuildGraph) and assigns Transfer.Order on every
// transfer, 0-based, in the emitted sequence.
func Linearize(arena *transfer.Arena) {
	all := arena.All()
	states := make(map[transfer.ID]*vertexState, len(all))
	for _, t := range all {
		out := omap.New[transfer.ID, rangeset.Block]()
		t.GoesBefore.Each(func(k transfer.ID, w rangeset.Block) { out.Set(k, w) })
		in := omap.New[transfer.ID, rangeset.Block]()
		t.GoesAfter.Each(func(k transfer.ID, w rangeset.Block) { in.Set(k, w) })
		var score int64
		out.Each(func(_ transfer.ID, w rangeset.Block) { score += int64(w) })
		in.Each(func(_ transfer.ID, w rangeset.Block) { score -= int64(w) })
		states[t.ID] = &vertexState{out: out, in: in, score: score}
	}

	h := &maxHeap{}
	heap.Init(h)
	for _, t := range all {
		heap.Push(h, heapItem{score: states[t.ID].score, id: t.ID})
	}

	var sinkQueue, sourceQueue []transfer.ID
	for _, t := range all {
		st := states[t.ID]
		if st.out.Len() == 0 {
			sinkQueue = append(sinkQueue, t.ID)
			st.queued = true
		} else if st.in.Len() == 0 {
			sourceQueue = append(sourceQueue, t.ID)
			st.queued = true
		}
	}

	var s1 []transfer.ID // left deque, built front-to-back by append
	var s2rev []transfer.ID // right deque, built back-to-front; reversed at the end

	remaining := len(all)

	// remove detaches v from the graph, updating its neighbors' degrees
	// and scores, and enqueues any neighbor that newly became a sink or
	// source.
	remove := func(v transfer.ID) {
		st := states[v]
		st.removed = true
		remaining--
		st.out.Each(func(m transfer.ID, w rangeset.Block) {
			ms := states[m]
			if ms.removed {
				return
			}
			ms.in.Delete(v)
			ms.score += int64(w)
			heap.Push(h, heapItem{score: ms.score, id: m})
			if !ms.queued && ms.in.Len() == 0 {
				sourceQueue = append(sourceQueue, m)
				ms.queued = true
			}
		})
		st.in.Each(func(n transfer.ID, w rangeset.Block) {
			ns := states[n]
			if ns.removed {
				return
			}
			ns.out.Delete(v)
			ns.score -= int64(w)
			heap.Push(h, heapItem{score: ns.score, id: n})
			if !ns.queued && ns.out.Len() == 0 {
				sinkQueue = append(sinkQueue, n)
				ns.queued = true
			}
		})
	}

	popValidSink := func() (transfer.ID, bool) {
		for len(sinkQueue) > 0 {
			v := sinkQueue[0]
			sinkQueue = sinkQueue[1:]
			st := states[v]
			if st.removed || st.out.Len() != 0 {
				continue
			}
			return v, true
		}
		return 0, false
	}
	popValidSource := func() (transfer.ID, bool) {
		for len(sourceQueue) > 0 {
			v := sourceQueue[0]
			sourceQueue = sourceQueue[1:]
			st := states[v]
			if st.removed || st.in.Len() != 0 {
				continue
			}
			return v, true
		}
		return 0, false
	}
	popValidHeapTop := func() (transfer.ID, bool) {
		for h.Len() > 0 {
			item := heap.Pop(h).(heapItem)
			st := states[item.id]
			if st.removed || st.score != item.score {
				continue
			}
			return item.id, true
		}
		return 0, false
	}

	for remaining > 0 {
		drainedAny := false
		for {
			v, ok := popValidSink()
			if !ok {
				break
			}
			s2rev = append(s2rev, v)
			remove(v)
			drainedAny = true
		}
		for {
			v, ok := popValidSource()
			if !ok {
				break
			}
			s1 = append(s1, v)
			remove(v)
			drainedAny = true
		}
		if remaining == 0 {
			break
		}
		if v, ok := popValidHeapTop(); ok {
			s1 = append(s1, v)
			remove(v)
			drainedAny = true
		}
		if !drainedAny {
			// Every remaining vertex is self-looped only (already excluded)
			// or the graph is empty; nothing left to do.
			break
		}
	}

	seq := make([]transfer.ID, 0, len(s1)+len(s2rev))
	seq = append(seq, s1...)
	for i := len(s2rev) - 1; i >= 0; i-- {
		seq = append(seq, s2rev[i])
	}
	for i, id := range seq {
		arena.Get(id).Order = i
	}
}
