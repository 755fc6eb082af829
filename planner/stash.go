package planner

import (
	"sort"
	"strconv"

	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/rangeset"
	"github.com/xpirt/blockimgdiff/transfer"
)

// BreakCycles walks every transfer's originally-demanded successors
// (GoesBefore, as built by BuildGraph) and resolves any that violate the
// order Linearize assigned — xf.Order >= u.Order, meaning the heuristic
// placed a reader after its writer — using the strategy format version
// dictates (§4.4 Step 3).
func BreakCycles(arena *transfer.Arena, version FormatVersion) {
	nextStashID := 0
	for _, xf := range arena.All() {
		successors := append([]transfer.ID(nil), xf.GoesBefore.Keys()...)
		for _, uID := range successors {
			u := arena.Get(uID)
			if xf.Order < u.Order {
				continue // no violation
			}
			if version == FormatVersion1 {
				xf.TrimSrcRanges(u.TgtRanges)
				continue
			}

			w, _ := xf.GoesBefore.Get(uID)
			overlap := rangeset.Intersect(xf.SrcRanges, u.TgtRanges)
			sid := strconv.Itoa(nextStashID)
			nextStashID++
			u.StashBefore = append(u.StashBefore, transfer.Stash{Key: sid, Range: overlap})
			xf.UseStash = append(xf.UseStash, transfer.Stash{Key: sid, Range: overlap})

			xf.GoesBefore.Delete(uID)
			u.GoesAfter.Delete(xf.ID)
			xf.GoesAfter.Set(uID, w)
			u.GoesBefore.Set(xf.ID, w)
		}
	}
}

// netStashChange is Σ stash_before.size − Σ use_stash.size for t.
func netStashChange(t *transfer.Transfer) rangeset.Block {
	var n rangeset.Block
	for _, se := range t.StashBefore {
		n += se.Range.Size()
	}
	for _, ue := range t.UseStash {
		n -= ue.Range.Size()
	}
	return n
}

// RefineOrder runs a greedy topological sort over the DAG BreakCycles left
// behind, repeatedly selecting the available source with the smallest
// NetStashChange (ties broken by the transfer's prior Order), to reduce
// peak stash occupancy (§4.4 Step 4, format version >= 2).
func RefineOrder(arena *transfer.Arena) {
	all := arena.All()
	indeg := make(map[transfer.ID]int, len(all))
	priorOrder := make(map[transfer.ID]int, len(all))
	netChange := make(map[transfer.ID]rangeset.Block, len(all))
	for _, t := range all {
		indeg[t.ID] = t.GoesAfter.Len()
		priorOrder[t.ID] = t.Order
		netChange[t.ID] = netStashChange(t)
	}

	var ready []transfer.ID
	pushReady := func(id transfer.ID) {
		ready = append(ready, id)
		sort.SliceStable(ready, func(i, j int) bool {
			a, b := ready[i], ready[j]
			if netChange[a] != netChange[b] {
				return netChange[a] < netChange[b]
			}
			return priorOrder[a] < priorOrder[b]
		})
	}
	for _, t := range all {
		if indeg[t.ID] == 0 {
			pushReady(t.ID)
		}
	}

	order := 0
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		arena.Get(v).Order = order
		order++
		arena.Get(v).GoesBefore.Each(func(succ transfer.ID, _ rangeset.Block) {
			indeg[succ]--
			if indeg[succ] == 0 {
				pushReady(succ)
			}
		})
	}
	if order != len(all) {
		panic(base.AssertErrorf("planner: RefineOrder left %d transfers unordered (graph was not a DAG)", len(all)-order))
	}
}

// ReviseStashBudget walks the final sequence simulating stashed_blocks and
// downgrades any transfer whose stash would overrun the cache budget to a
// plain new transfer, removing the now-unused defining stash entries
// (§4.4 Step 5, format version >= 2, only when cacheSize is known).
func ReviseStashBudget(arena *transfer.Arena, version FormatVersion, cacheSize int64, stashThreshold float64) {
	if cacheSize <= 0 {
		return
	}
	maxAllowedBlocks := rangeset.Block(float64(cacheSize) * stashThreshold / base.BlockSize)

	all := arena.All()
	definerOf := make(map[string]transfer.ID)
	for _, t := range all {
		for _, se := range t.StashBefore {
			definerOf[se.Key] = t.ID
		}
	}

	seq := append([]*transfer.Transfer(nil), all...)
	sort.Slice(seq, func(i, j int) bool { return seq[i].Order < seq[j].Order })

	var stashedBlocks rangeset.Block
	downgrade := make(map[transfer.ID]bool)
	for _, t := range seq {
		for _, se := range t.StashBefore {
			stashedBlocks += se.Range.Size()
			if stashedBlocks > maxAllowedBlocks {
				if consumer, ok := consumerFor(all, se.Key); ok {
					downgrade[consumer] = true
				}
			}
		}
		for _, ue := range t.UseStash {
			stashedBlocks -= ue.Range.Size()
		}
		if version >= FormatVersion3 && t.Style == transfer.StyleDiff && rangeset.Overlaps(t.SrcRanges, t.TgtRanges) {
			implicit := t.SrcRanges.Size()
			if stashedBlocks+implicit > maxAllowedBlocks {
				downgrade[t.ID] = true
			}
		}
	}

	ids := make([]transfer.ID, 0, len(downgrade))
	for id := range downgrade {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		tr := arena.Get(id)
		for _, ue := range tr.UseStash {
			if definerID, ok := definerOf[ue.Key]; ok {
				stripStashKey(arena.Get(definerID), ue.Key)
			}
		}
		tr.ConvertToNew()
	}
}

func consumerFor(all []*transfer.Transfer, key string) (transfer.ID, bool) {
	for _, t := range all {
		for _, ue := range t.UseStash {
			if ue.Key == key {
				return t.ID, true
			}
		}
	}
	return 0, false
}

func stripStashKey(t *transfer.Transfer, key string) {
	out := t.StashBefore[:0]
	for _, se := range t.StashBefore {
		if se.Key != key {
			out = append(out, se)
		}
	}
	t.StashBefore = out
}
