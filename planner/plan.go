package planner

import (
	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/transfer"
)

// Plan runs the full dependency-planning pipeline over arena (already
// populated by transfer.Enumerate against tgt and src): build the digraph,
// linearize it, break remaining cycles, and — for format versions that
// support stashing — refine the order and revise it against the cache
// budget. It finishes with AssertSequenceGood, returning its error (a
// planner bug) rather than panicking, so callers can decide how to report
// it.
func Plan(tgt image.Image, arena *transfer.Arena, version FormatVersion, cacheSize int64, stashThreshold float64) error {
	if !version.Valid() {
		return base.AssertErrorf("planner: unsupported format version %d", version)
	}

	BuildGraph(arena)
	Linearize(arena)
	BreakCycles(arena, version)

	if version >= FormatVersion2 {
		RefineOrder(arena)
		ReviseStashBudget(arena, version, cacheSize, stashThreshold)
	}

	return AssertSequenceGood(tgt, arena)
}
