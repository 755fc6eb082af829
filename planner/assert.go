package planner

import (
	"sort"

	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/rangeset"
	"github.com/xpirt/blockimgdiff/transfer"
)

// AssertSequenceGood simulates the final sequence against a touched bitmap
// and fails fatally if it is unsound (§4.4 Step 6): a transfer may not read,
// as source, a block already overwritten by an earlier transfer unless a
// stash captured it first; every care-map block must be written by
// exactly one transfer.
func AssertSequenceGood(tgt image.Image, arena *transfer.Arena) error {
	total := tgt.TotalBlocks()
	touched := make([]bool, total)

	seq := append([]*transfer.Transfer(nil), arena.All()...)
	sort.Slice(seq, func(i, j int) bool { return seq[i].Order < seq[j].Order })

	for _, t := range seq {
		var usedRanges []rangeset.Range
		for _, ue := range t.UseStash {
			usedRanges = append(usedRanges, ue.Range.Ranges()...)
		}
		unstashed := rangeset.Subtract(t.SrcRanges, rangeset.FromIntervals(usedRanges))
		for _, r := range clampToTotal(unstashed, total).Ranges() {
			for b := r.Start; b < r.End; b++ {
				if touched[b] {
					return base.AssertErrorf(
						"planner: transfer %d (%s) reads block %d as source after it was written", t.ID, t.TgtName, b)
				}
			}
		}
		for _, r := range t.TgtRanges.Ranges() {
			for b := r.Start; b < r.End; b++ {
				if touched[b] {
					return base.AssertErrorf(
						"planner: transfer %d (%s) writes block %d twice", t.ID, t.TgtName, b)
				}
				touched[b] = true
			}
		}
	}

	for _, r := range tgt.CareMap().Ranges() {
		for b := r.Start; b < r.End; b++ {
			if !touched[b] {
				return base.AssertErrorf("planner: care-map block %d was never written", b)
			}
		}
	}
	return nil
}

func clampToTotal(rs rangeset.RangeSet, total rangeset.Block) rangeset.RangeSet {
	if total <= 0 {
		return rangeset.New()
	}
	return rangeset.Intersect(rs, rangeset.FromPairs(0, total))
}
