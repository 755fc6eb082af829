// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package transfer defines the Transfer record the dependency planner and
// emitter operate on, and the enumeration pass that builds the initial
// transfer list from a pair of images.
package transfer

import (
	"github.com/xpirt/blockimgdiff/internal/omap"
	"github.com/xpirt/blockimgdiff/rangeset"
)

// ID is a stable, arena-relative index identifying a Transfer. Using a
// 32-bit index rather than a pointer keeps the dependency digraph free of
// reference cycles and trivially copyable (see DESIGN.md, "cyclic transfer
// graph").
type ID int32

// Style is the kind of command a Transfer will eventually emit.
type Style int

const (
	// StyleZero transfers write zeroed blocks.
	StyleZero Style = iota
	// StyleNew transfers write blocks taken from the new-data blob.
	StyleNew
	// StyleDiff is the pre-resolution style: a candidate for move/bsdiff/
	// imgdiff, not yet decided because that decision needs block contents.
	StyleDiff
	// StyleMove transfers copy source blocks verbatim (content-identical).
	StyleMove
	// StyleBSDiff transfers apply a bsdiff binary patch.
	StyleBSDiff
	// StyleImgDiff transfers apply an imgdiff (zip-aware) binary patch.
	StyleImgDiff
)

func (s Style) String() string {
	switch s {
	case StyleZero:
		return "zero"
	case StyleNew:
		return "new"
	case StyleDiff:
		return "diff"
	case StyleMove:
		return "move"
	case StyleBSDiff:
		return "bsdiff"
	case StyleImgDiff:
		return "imgdiff"
	default:
		return "unknown"
	}
}

// Stash is one entry of a Transfer's StashBefore or UseStash list: a
// planner-assigned key pairing a StashBefore entry with the UseStash entry
// that consumes it (the emitter maps it to an integer slot id for format
// version 2, or the hex SHA-1 of the stashed blocks for version >= 3), and
// the range of source blocks stashed. Both lists hold source block numbers;
// the emitter maps a UseStash range to positions within SrcRanges itself.
type Stash struct {
	Key   string
	Range rangeset.RangeSet
}

// Transfer is one planned unit of work: copy, zero, or diff a target range
// against an optional source range.
type Transfer struct {
	ID ID

	TgtName, SrcName     string
	TgtRanges, SrcRanges rangeset.RangeSet
	Style                Style

	// Intact is true iff both TgtRanges and SrcRanges are monotonic — safe
	// for imgdiff. Captured at creation; cleared by TrimSrcRanges, since a
	// trim can discard ordering information.
	Intact bool

	// GoesBefore[y] = weight means this transfer must execute before y
	// (this transfer reads, as source, blocks y later overwrites).
	GoesBefore *omap.Map[ID, rangeset.Block]
	// GoesAfter[x] = weight means this transfer must execute after x.
	GoesAfter *omap.Map[ID, rangeset.Block]

	// StashBefore lists blocks this transfer must snapshot into the cache
	// before executing (source blocks another transfer will need after
	// this one overwrites them).
	StashBefore []Stash
	// UseStash lists stashes this transfer consumes in place of reading
	// directly from (now-overwritten) source blocks.
	UseStash []Stash

	// Order is this transfer's position in the final linearization,
	// assigned by the planner.
	Order int

	// PatchStart and PatchLen locate this transfer's patch bytes within
	// the emitted patch blob, set during emission.
	PatchStart, PatchLen int64
}

// New creates a Transfer. Intact is derived from the monotonicity of the
// supplied ranges, per §4.
func New(id ID, tgtName, srcName string, tgtRanges, srcRanges rangeset.RangeSet, style Style) *Transfer {
	return &Transfer{
		ID:         id,
		TgtName:    tgtName,
		SrcName:    srcName,
		TgtRanges:  tgtRanges,
		SrcRanges:  srcRanges,
		Style:      style,
		Intact:     tgtRanges.Monotonic() && srcRanges.Monotonic(),
		GoesBefore: omap.New[ID, rangeset.Block](),
		GoesAfter:  omap.New[ID, rangeset.Block](),
		Order:      -1,
	}
}

// ConvertToNew downgrades a diff-family transfer to a plain new transfer:
// its source blocks are no longer needed (and may have been trimmed,
// stashed around, or simply be too expensive to chase further), so any
// stashes it was going to consume are dropped along with its source range.
func (t *Transfer) ConvertToNew() {
	t.Style = StyleNew
	t.SrcRanges = rangeset.New()
	t.SrcName = ""
	t.UseStash = nil
	t.Intact = false
}

// TrimSrcRanges removes remove from this transfer's source ranges (the
// RemoveBackwardEdges cycle-breaking strategy, format version 1). A diff
// transfer that loses all of its source blocks is downgraded to new.
func (t *Transfer) TrimSrcRanges(remove rangeset.RangeSet) {
	t.SrcRanges = rangeset.Subtract(t.SrcRanges, remove)
	t.Intact = false
	if t.Style == StyleDiff && t.SrcRanges.Empty() {
		t.ConvertToNew()
	}
}

// Arena owns every Transfer created during enumeration, indexed by ID.
// Edges and stash bookkeeping reference transfers by ID through the
// arena rather than by pointer.
type Arena struct {
	transfers []*Transfer
}

// NewArena returns an empty arena.
func NewArena() *Arena { return &Arena{} }

// Add creates a new Transfer with the next available ID and appends it to
// the arena.
func (a *Arena) Add(tgtName, srcName string, tgtRanges, srcRanges rangeset.RangeSet, style Style) *Transfer {
	t := New(ID(len(a.transfers)), tgtName, srcName, tgtRanges, srcRanges, style)
	a.transfers = append(a.transfers, t)
	return t
}

// Get returns the transfer with the given ID.
func (a *Arena) Get(id ID) *Transfer { return a.transfers[id] }

// Len returns the number of transfers in the arena.
func (a *Arena) Len() int { return len(a.transfers) }

// All returns every transfer, in creation (ID) order. The caller must not
// mutate the returned slice itself (though it may mutate the Transfers it
// points to).
func (a *Arena) All() []*Transfer { return a.transfers }
