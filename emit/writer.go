package emit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/planner"
	"github.com/xpirt/blockimgdiff/rangeset"
	"github.com/xpirt/blockimgdiff/transfer"
)

// maxZeroRunBlocks bounds how many blocks a single zero/erase command may
// cover, per §6 — the on-device updater reads these commands into a fixed
// buffer.
const maxZeroRunBlocks = 1024

// ListStats summarizes a written transfer list, surfaced to the stats
// package and the CLI's --stats output.
type ListStats struct {
	Commands         int
	MaxStashedBlocks rangeset.Block
	StashSlots       int
	NewBlocks        rangeset.Block
	ZeroBlocks       rangeset.Block
	DiffBlocks       rangeset.Block
}

// writer accumulates transfer-list body lines and the running/peak stash
// occupancy while walking transfers in Order. It is used for exactly one
// WriteTransferList call.
type writer struct {
	version  planner.FormatVersion
	src, tgt image.Image
	keyer    stashKeyer

	body      []string
	occupancy rangeset.Block
	peak      rangeset.Block
	touched   rangeset.RangeSet
	total     rangeset.Block
	stats     ListStats
}

// WriteTransferList renders arena's transfers (already fully planned and
// style-resolved by the emitter) into the on-device updater's transfer-list
// grammar, writing new-data blocks to newOut in command order as it goes.
// It returns the assembled text (header, erase prologue, per-transfer
// commands, zero/erase epilogue) and summary statistics.
func WriteTransferList(
	src, tgt image.Image,
	arena *transfer.Arena,
	version planner.FormatVersion,
	cacheSize int64,
	stashThreshold float64,
	newOut func(chunk []byte) error,
) (string, ListStats, error) {
	var keyer stashKeyer
	switch {
	case version == planner.FormatVersion2:
		keyer = newSlotKeyer()
	case version >= planner.FormatVersion3:
		keyer = newHashKeyer(src)
	}

	w := &writer{version: version, src: src, tgt: tgt, keyer: keyer, touched: rangeset.New()}

	seq := append([]*transfer.Transfer(nil), arena.All()...)
	sort.Slice(seq, func(i, j int) bool { return seq[i].Order < seq[j].Order })

	for _, t := range seq {
		if err := w.emitTransfer(t, newOut); err != nil {
			return "", ListStats{}, err
		}
	}

	imgTotal := tgt.TotalBlocks()
	allBlocks := clampToTotal(rangeset.FromPairs(0, maxInt64(imgTotal, 1)), imgTotal)
	dontCare := rangeset.Subtract(rangeset.Subtract(allBlocks, tgt.Extended()), tgt.CareMap())
	early := rangeset.Subtract(dontCare, w.touched)
	late := rangeset.Intersect(dontCare, w.touched)
	w.total += tgt.Extended().Size()

	var out []string
	out = append(out, strconv.Itoa(int(version)))
	out = append(out, strconv.FormatInt(int64(w.total), 10))
	if version >= planner.FormatVersion2 {
		out = append(out, strconv.Itoa(w.keyer.slotCount()))
		out = append(out, strconv.FormatInt(int64(w.peak), 10))
	}
	out = append(out, zeroLines("erase", early)...)
	out = append(out, w.body...)
	out = append(out, zeroLines("zero", tgt.Extended())...)
	out = append(out, zeroLines("erase", late)...)

	if cacheSize > 0 {
		maxAllowed := rangeset.Block(float64(cacheSize) * stashThreshold / base.BlockSize)
		if w.peak > maxAllowed {
			return "", ListStats{}, base.AssertErrorf(
				"emit: peak stash occupancy %d blocks exceeds budget %d blocks", w.peak, maxAllowed)
		}
	}

	w.stats.Commands = len(seq)
	w.stats.MaxStashedBlocks = w.peak
	if keyer != nil {
		w.stats.StashSlots = keyer.slotCount()
	}

	return strings.Join(out, "\n") + "\n", w.stats, nil
}

// emitTransfer drains t's StashBefore before dispatching on style: a
// back-edge can land a stash on any transfer BreakCycles touches, not just
// a diff-family one — a zero or new transfer can just as well be the write
// a later diff needs to read around (planner/stash.go's BreakCycles
// attaches StashBefore to whichever transfer BuildGraph's back edge names,
// with no restriction on style). Skipping this for zero/new would leave a
// later consumer's stash reference pointing at a "stash" command that was
// never emitted.
func (w *writer) emitTransfer(t *transfer.Transfer, newOut func(chunk []byte) error) error {
	if err := w.processStashBefore(t); err != nil {
		return err
	}
	switch t.Style {
	case transfer.StyleZero:
		toZero := rangeset.Subtract(t.TgtRanges, t.SrcRanges)
		w.stats.ZeroBlocks += toZero.Size()
		w.total += toZero.Size()
		w.body = append(w.body, zeroLines("zero", toZero)...)
		return nil
	case transfer.StyleNew:
		w.stats.NewBlocks += t.TgtRanges.Size()
		w.total += t.TgtRanges.Size()
		w.body = append(w.body, fmt.Sprintf("new %s", t.TgtRanges.String()))
		return w.tgt.Read(t.TgtRanges, newOut)
	case transfer.StyleMove, transfer.StyleBSDiff, transfer.StyleImgDiff:
		return w.emitDiffFamily(t)
	default:
		return base.AssertErrorf("emit: transfer %d has unresolved style %v", t.ID, t.Style)
	}
}

// emitDiffFamily handles move/bsdiff/imgdiff. UseStash consumption and
// freeing always run, even for a move transfer whose source and target
// ranges coincide exactly — in that one case the underlying blocks are
// already correct in place, so no command is emitted and no block count is
// added to total, matching the reference implementation. StashBefore is
// already drained by emitTransfer before this is called.
func (w *writer) emitDiffFamily(t *transfer.Transfer) error {
	w.touched = rangeset.Union(w.touched, t.SrcRanges)

	if w.version >= planner.FormatVersion3 && rangeset.Overlaps(t.SrcRanges, t.TgtRanges) {
		implicit := w.occupancy + t.SrcRanges.Size()
		if implicit > w.peak {
			w.peak = implicit
		}
	}

	srcStr, refs, err := w.buildSrcStr(t)
	if err != nil {
		return err
	}

	skip := t.Style == transfer.StyleMove && rangeset.Equal(t.SrcRanges, t.TgtRanges)
	if !skip {
		cmd, err := w.formatCommand(t, srcStr)
		if err != nil {
			return err
		}
		w.body = append(w.body, cmd)
		w.stats.DiffBlocks += t.TgtRanges.Size()
		w.total += t.TgtRanges.Size()
	}
	w.body = append(w.body, refs.frees...)
	return nil
}

func (w *writer) processStashBefore(t *transfer.Transfer) error {
	for _, se := range t.StashBefore {
		displayKey, cached, err := w.keyer.define(se.Key, se.Range)
		if err != nil {
			return errors.Wrapf(err, "emit: defining stash for transfer %d", t.ID)
		}
		if cached {
			continue
		}
		w.occupancy += se.Range.Size()
		if w.occupancy > w.peak {
			w.peak = w.occupancy
		}
		w.body = append(w.body, fmt.Sprintf("stash %s %s", displayKey, se.Range.String()))
	}
	return nil
}

type stashRefs struct {
	frees []string
}

// buildSrcStr renders this transfer's src_str: the block count, the
// directly-readable (unstashed) source ranges when non-empty, and a
// stash_ref "<key>:<mapped position>" for every stash it consumes — §6's
// resolution of whether to ever omit the unstashed-ranges field is to
// include it whenever it is non-empty, and use "-" only when the entire
// source comes from stash.
func (w *writer) buildSrcStr(t *transfer.Transfer) (string, stashRefs, error) {
	n := t.SrcRanges.Size()
	if len(t.UseStash) == 0 {
		return fmt.Sprintf("%d %s", n, t.SrcRanges.String()), stashRefs{}, nil
	}

	var usedRanges []rangeset.Range
	for _, ue := range t.UseStash {
		usedRanges = append(usedRanges, ue.Range.Ranges()...)
	}
	unstashed := rangeset.Subtract(t.SrcRanges, rangeset.FromIntervals(usedRanges))

	var refs []string
	var frees []string
	for _, ue := range t.UseStash {
		displayKey, shouldFree := w.keyer.use(ue.Key)
		mapped := rangeset.MapWithin(t.SrcRanges, ue.Range)
		refs = append(refs, displayKey+":"+mapped.String())
		if shouldFree {
			w.occupancy -= ue.Range.Size()
			frees = append(frees, fmt.Sprintf("free %s", displayKey))
		}
	}

	if unstashed.Empty() {
		return fmt.Sprintf("%d - %s", n, strings.Join(refs, " ")), stashRefs{frees: frees}, nil
	}
	mappedUnstashed := rangeset.MapWithin(t.SrcRanges, unstashed)
	return fmt.Sprintf("%d %s %s %s", n, unstashed.String(), mappedUnstashed.String(), strings.Join(refs, " ")),
		stashRefs{frees: frees}, nil
}

func (w *writer) formatCommand(t *transfer.Transfer, srcStr string) (string, error) {
	switch w.version {
	case planner.FormatVersion1:
		switch t.Style {
		case transfer.StyleMove:
			return fmt.Sprintf("move %s %s", t.SrcRanges.String(), t.TgtRanges.String()), nil
		case transfer.StyleBSDiff, transfer.StyleImgDiff:
			return fmt.Sprintf("%s %d %d %s %s",
				t.Style, t.PatchStart, t.PatchLen, t.SrcRanges.String(), t.TgtRanges.String()), nil
		}
	case planner.FormatVersion2:
		switch t.Style {
		case transfer.StyleMove:
			return fmt.Sprintf("move %s %s", t.TgtRanges.String(), srcStr), nil
		case transfer.StyleBSDiff, transfer.StyleImgDiff:
			return fmt.Sprintf("%s %d %d %s %s", t.Style, t.PatchStart, t.PatchLen, t.TgtRanges.String(), srcStr), nil
		}
	default: // version >= 3
		tgtHash, err := sha1Ranges(w.tgt, t.TgtRanges)
		if err != nil {
			return "", errors.Wrapf(err, "emit: hashing target blocks for transfer %d", t.ID)
		}
		tgtHashHex := hexString(tgtHash[:])
		switch t.Style {
		case transfer.StyleMove:
			return fmt.Sprintf("move %s %s %s", tgtHashHex, t.TgtRanges.String(), srcStr), nil
		case transfer.StyleBSDiff, transfer.StyleImgDiff:
			srcHash, err := sha1Ranges(w.src, t.SrcRanges)
			if err != nil {
				return "", errors.Wrapf(err, "emit: hashing source blocks for transfer %d", t.ID)
			}
			return fmt.Sprintf("%s %d %d %s %s %s %s",
				t.Style, t.PatchStart, t.PatchLen, hexString(srcHash[:]), tgtHashHex, t.TgtRanges.String(), srcStr), nil
		}
	}
	return "", base.AssertErrorf("emit: no command grammar for style %v at version %d", t.Style, w.version)
}

// zeroLines renders rs as one or more "cmd <rs>" lines, each covering at
// most maxZeroRunBlocks blocks — the on-device updater's fixed-size erase
// buffer, per §6.
func zeroLines(cmd string, rs rangeset.RangeSet) []string {
	var out []string
	remaining := rs
	for !remaining.Empty() {
		piece := rangeset.First(remaining, maxZeroRunBlocks)
		out = append(out, fmt.Sprintf("%s %s", cmd, piece.String()))
		remaining = rangeset.Subtract(remaining, piece)
	}
	return out
}

func clampToTotal(rs rangeset.RangeSet, total rangeset.Block) rangeset.RangeSet {
	if total <= 0 {
		return rangeset.New()
	}
	return rangeset.Intersect(rs, rangeset.FromPairs(0, total))
}

func maxInt64(a, b rangeset.Block) rangeset.Block {
	if a > b {
		return a
	}
	return b
}

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
