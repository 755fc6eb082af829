// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package planner builds the read-after-write dependency digraph between
// transfers, linearizes it with an Eades-Lin-Smyth feedback-arc heuristic,
// breaks remaining cycles by stashing, and sanity-checks the result.
package planner

import (
	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/omap"
	"github.com/xpirt/blockimgdiff/rangeset"
	"github.com/xpirt/blockimgdiff/transfer"
)

// BuildGraph populates GoesBefore/GoesAfter on every transfer in arena: an
// edge b -> a ("b goes before a") is added whenever a.TgtRanges overlaps
// b.SrcRanges, with weight equal to the overlap size in blocks — except
// when b reads from the reserved __ZERO domain, whose weight is always 0,
// since zero-source blocks are recoverable without loss if the edge is
// later broken. Self-edges are never added.
//
// Implementation follows the design note: a single pass over blocks using
// a per-block index of "transfers using this block as source" avoids the
// naive O(n^2) all-pairs join.
func BuildGraph(arena *transfer.Arena) {
	all := arena.All()

	blockToSrcUsers := make(map[rangeset.Block][]transfer.ID)
	for _, b := range all {
		for _, r := range b.SrcRanges.Ranges() {
			for blk := r.Start; blk < r.End; blk++ {
				blockToSrcUsers[blk] = append(blockToSrcUsers[blk], b.ID)
			}
		}
	}

	for _, a := range all {
		weights := omap.New[transfer.ID, rangeset.Block]()
		for _, r := range a.TgtRanges.Ranges() {
			for blk := r.Start; blk < r.End; blk++ {
				for _, bID := range blockToSrcUsers[blk] {
					if bID == a.ID {
						continue
					}
					cur, _ := weights.Get(bID)
					weights.Set(bID, cur+1)
				}
			}
		}
		for _, bID := range weights.Keys() {
			w, _ := weights.Get(bID)
			b := arena.Get(bID)
			if b.SrcName == image.ZeroDomain {
				w = 0
			}
			b.GoesBefore.Set(a.ID, w)
			a.GoesAfter.Set(bID, w)
		}
	}
}
