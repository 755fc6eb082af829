package emit

import (
	"container/heap"
	"encoding/hex"
	"strconv"

	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/rangeset"
)

// stashKeyer assigns the wire-format key a stash is referenced by, and
// decides (via reference counting) whether a given StashBefore/UseStash
// pair actually needs a fresh "stash" command or can share an already-cached
// slot — the two format families (integer slots for v2, content hashes for
// v>=3) implement this identically from the writer's point of view.
type stashKeyer interface {
	// define registers a StashBefore entry (identified by its planner-level
	// key) and returns the display key to write, plus whether an
	// already-live cache entry covers it (no "stash" command needed).
	define(plannerKey string, srcRange rangeset.RangeSet) (displayKey string, alreadyCached bool, err error)
	// use consumes a UseStash entry and returns the display key, plus
	// whether this was the last outstanding reference (a "free" command is
	// due).
	use(plannerKey string) (displayKey string, shouldFree bool)
	// slotCount is the header's stash-slot count: the number of distinct
	// wire-format keys ever allocated.
	slotCount() int
}

// slotKeyer implements format version 2's integer slot ids, reused via a
// free list once their stash is consumed — the same bounded-slot-count
// scheme the on-device updater's cache allocator expects.
type slotKeyer struct {
	slotOf map[string]int
	free   intHeap
	next   int
}

func newSlotKeyer() *slotKeyer {
	return &slotKeyer{slotOf: make(map[string]int)}
}

func (k *slotKeyer) define(plannerKey string, _ rangeset.RangeSet) (string, bool, error) {
	var sid int
	if len(k.free) > 0 {
		sid = heap.Pop(&k.free).(int)
	} else {
		sid = k.next
		k.next++
	}
	k.slotOf[plannerKey] = sid
	return strconv.Itoa(sid), false, nil
}

func (k *slotKeyer) use(plannerKey string) (string, bool) {
	sid := k.slotOf[plannerKey]
	delete(k.slotOf, plannerKey)
	heap.Push(&k.free, sid)
	return strconv.Itoa(sid), true
}

func (k *slotKeyer) slotCount() int { return k.next }

type intHeap []int

func (h intHeap) Len() int            { return len(h) }
func (h intHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// hashKeyer implements format version >= 3's content-addressed stashes: the
// key is the hex SHA-1 of the stashed source blocks, so two unrelated
// transfers that happen to stash identical content share one cache entry.
// Reference counting means only the first stash of a given hash emits a
// "stash" command, and "free" fires only once the refcount drains to zero.
type hashKeyer struct {
	src           image.Image
	keyToHash     map[string]string
	refCount      map[string]int
	stashedHashes int
}

func newHashKeyer(src image.Image) *hashKeyer {
	return &hashKeyer{
		src:       src,
		keyToHash: make(map[string]string),
		refCount:  make(map[string]int),
	}
}

func (k *hashKeyer) define(plannerKey string, srcRange rangeset.RangeSet) (string, bool, error) {
	sum, err := sha1Ranges(k.src, srcRange)
	if err != nil {
		return "", false, err
	}
	h := hex.EncodeToString(sum[:])
	k.keyToHash[plannerKey] = h
	if k.refCount[h] > 0 {
		k.refCount[h]++
		return h, true, nil
	}
	k.refCount[h] = 1
	k.stashedHashes++
	return h, false, nil
}

func (k *hashKeyer) use(plannerKey string) (string, bool) {
	h := k.keyToHash[plannerKey]
	k.refCount[h]--
	if k.refCount[h] <= 0 {
		return h, true
	}
	return h, false
}

func (k *hashKeyer) slotCount() int { return k.stashedHashes }
