package emit_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpirt/blockimgdiff/emit"
	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/internal/omap"
	"github.com/xpirt/blockimgdiff/planner"
	"github.com/xpirt/blockimgdiff/rangeset"
	"github.com/xpirt/blockimgdiff/transfer"
)

// stubImage is a minimal image.Image whose CareMap/TotalBlocks/Extended
// are set directly by the test, independent of any backing content —
// WriteTransferList never inspects a transfer's actual bytes except via
// Read (used for new-data and, at format version >= 3, block hashing).
type stubImage struct {
	total    rangeset.Block
	care     rangeset.RangeSet
	extended rangeset.RangeSet
}

func (s *stubImage) TotalBlocks() rangeset.Block      { return s.total }
func (s *stubImage) CareMap() rangeset.RangeSet        { return s.care }
func (s *stubImage) ClobberedBlocks() rangeset.RangeSet { return rangeset.New() }
func (s *stubImage) Extended() rangeset.RangeSet          { return s.extended }
func (s *stubImage) FileMap() *image.FileMap               { return omap.New[string, rangeset.RangeSet]() }
func (s *stubImage) TotalSHA1(bool) ([20]byte, error)      { return [20]byte{}, nil }
func (s *stubImage) Read(rs rangeset.RangeSet, fn image.ChunkFunc) error {
	for _, r := range rs.Ranges() {
		if err := fn(make([]byte, r.Len()*base.BlockSize)); err != nil {
			return err
		}
	}
	return nil
}

var _ image.Image = (*stubImage)(nil)

func lines(text string) []string {
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}

func collectChunks(buf *[]byte) func([]byte) error {
	return func(chunk []byte) error {
		*buf = append(*buf, chunk...)
		return nil
	}
}

// TestWriteTransferListNewOnly covers spec.md §8 scenario A: no usable
// source at all, so every block comes from the new-data blob.
func TestWriteTransferListNewOnly(t *testing.T) {
	src := &stubImage{total: 0, care: rangeset.New()}
	tgt := &stubImage{total: 3, care: rangeset.FromPairs(0, 3)}

	arena := transfer.NewArena()
	xf := arena.Add("/new.bin", "", rangeset.FromPairs(0, 3), rangeset.New(), transfer.StyleNew)
	xf.Order = 0

	var written []byte
	out, stats, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion4, 0, 0, collectChunks(&written))
	require.NoError(t, err)

	assert.Equal(t, []string{"4", "3", "0", "0", "new 2,0,3"}, lines(out))
	assert.Equal(t, rangeset.Block(3), stats.NewBlocks)
	assert.Equal(t, 1, stats.Commands)
	assert.Len(t, written, 3*base.BlockSize)
}

// TestWriteTransferListMoveVersion2 covers spec.md §8 scenario B: a
// content-identical move between non-matching block ranges, rendered in
// format version 2's tgt-ranges-first, unhashed grammar.
func TestWriteTransferListMoveVersion2(t *testing.T) {
	src := &stubImage{total: 8, care: rangeset.FromPairs(0, 8)}
	tgt := &stubImage{total: 8, care: rangeset.FromPairs(0, 8)}

	arena := transfer.NewArena()
	xf := arena.Add("/moved.bin", "/moved.bin", rangeset.FromPairs(0, 3), rangeset.FromPairs(5, 8), transfer.StyleMove)
	xf.Order = 0

	out, stats, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion2, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	want := []string{"2", "3", "0", "0", "move 2,0,3 3 2,5,8"}
	assert.Equal(t, want, lines(out))
	assert.Equal(t, rangeset.Block(3), stats.DiffBlocks)
}

// TestWriteTransferListMoveVersion3HashesBlocks checks that format version
// >= 3 prefixes the move command with the target block hash, without
// pinning the hash's literal value (it is a real SHA-1 of stub content).
func TestWriteTransferListMoveVersion3HashesBlocks(t *testing.T) {
	src := &stubImage{total: 8, care: rangeset.FromPairs(0, 8)}
	tgt := &stubImage{total: 8, care: rangeset.FromPairs(0, 8)}

	arena := transfer.NewArena()
	xf := arena.Add("/moved.bin", "/moved.bin", rangeset.FromPairs(0, 3), rangeset.FromPairs(5, 8), transfer.StyleMove)
	xf.Order = 0

	out, _, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion3, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	ls := lines(out)
	require.Len(t, ls, 5)
	re := regexp.MustCompile(`^move [0-9a-f]{40} 2,0,3 3 2,5,8$`)
	assert.Regexp(t, re, ls[4])
}

// TestWriteTransferListSkipsNoOpMove covers the in-place move special
// case: when a move's source and target ranges are identical, the blocks
// are already correct and no command is emitted at all.
func TestWriteTransferListSkipsNoOpMove(t *testing.T) {
	src := &stubImage{total: 8, care: rangeset.FromPairs(0, 8)}
	tgt := &stubImage{total: 8, care: rangeset.FromPairs(0, 8)}

	arena := transfer.NewArena()
	xf := arena.Add("/same.bin", "/same.bin", rangeset.FromPairs(0, 3), rangeset.FromPairs(0, 3), transfer.StyleMove)
	xf.Order = 0

	out, stats, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion2, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "0", "0", "0"}, lines(out))
	assert.Equal(t, rangeset.Block(0), stats.DiffBlocks)
}

// TestWriteTransferListZeroSplitsOnMaxRun checks that a zero command
// covering more than the on-device updater's fixed erase-buffer size is
// split into multiple "zero" lines, per §6.
func TestWriteTransferListZeroSplitsOnMaxRun(t *testing.T) {
	src := &stubImage{total: 0, care: rangeset.New()}
	tgt := &stubImage{total: 1025, care: rangeset.FromPairs(0, 1025)}

	arena := transfer.NewArena()
	xf := arena.Add("__ZERO", "", rangeset.FromPairs(0, 1025), rangeset.New(), transfer.StyleZero)
	xf.Order = 0

	out, stats, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion4, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, []string{"4", "1025", "0", "0", "zero 2,0,1024", "zero 2,1024,1025"}, lines(out))
	assert.Equal(t, rangeset.Block(1025), stats.ZeroBlocks)
}

// TestWriteTransferListErasesDontCareBlocksSplitEarlyLate checks the
// erase prologue/epilogue split: don't-care blocks a later diff transfer's
// source range happens to touch are erased after the body (late), and the
// rest are erased before it (early).
func TestWriteTransferListErasesDontCareBlocksSplitEarlyLate(t *testing.T) {
	src := &stubImage{total: 10, care: rangeset.FromPairs(0, 10)}
	tgt := &stubImage{total: 10, care: rangeset.FromPairs(0, 5)}

	arena := transfer.NewArena()
	xf := arena.Add("/moved.bin", "/moved.bin", rangeset.FromPairs(0, 3), rangeset.FromPairs(7, 10), transfer.StyleMove)
	xf.Order = 0

	out, _, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion1, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	want := []string{"1", "3", "erase 2,5,7", "move 2,7,10 2,0,3", "erase 2,7,10"}
	assert.Equal(t, want, lines(out))
}

// TestWriteTransferListVersion1OmitsStash checks format version 1's
// RemoveBackwardEdges grammar: raw src/tgt ranges, no src_str, no stash
// header fields at all.
func TestWriteTransferListVersion1OmitsStash(t *testing.T) {
	src := &stubImage{total: 10, care: rangeset.FromPairs(0, 10)}
	tgt := &stubImage{total: 10, care: rangeset.FromPairs(0, 10)}

	arena := transfer.NewArena()
	xf := arena.Add("/p.bin", "/p.bin", rangeset.FromPairs(0, 4), rangeset.FromPairs(4, 8), transfer.StyleBSDiff)
	xf.Order = 0
	xf.PatchStart, xf.PatchLen = 100, 40

	out, _, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion1, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "4", "bsdiff 100 40 2,4,8 2,0,4"}, lines(out))
}

// TestWriteTransferListStashLifecycleVersion2 drives the full stash
// lifecycle through format version 2's integer slot keyer: one transfer
// defines a stash, a later one consumes and frees it.
func TestWriteTransferListStashLifecycleVersion2(t *testing.T) {
	src := &stubImage{total: 10, care: rangeset.FromPairs(0, 10)}
	tgt := &stubImage{total: 30, care: rangeset.FromPairs(0, 30)}

	arena := transfer.NewArena()
	define := arena.Add("/a.bin", "/a.bin", rangeset.FromPairs(20, 30), rangeset.FromPairs(0, 10), transfer.StyleBSDiff)
	define.Order = 0
	define.PatchStart, define.PatchLen = 0, 5
	define.StashBefore = []transfer.Stash{{Key: "k1", Range: rangeset.FromPairs(0, 10)}}

	consume := arena.Add("/b.bin", "/b.bin", rangeset.FromPairs(0, 10), rangeset.FromPairs(0, 10), transfer.StyleBSDiff)
	consume.Order = 1
	consume.PatchStart, consume.PatchLen = 0, 5
	consume.UseStash = []transfer.Stash{{Key: "k1", Range: rangeset.FromPairs(0, 10)}}

	out, stats, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion2, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	want := []string{
		"2", "20", "1", "10",
		"stash 0 2,0,10",
		"bsdiff 0 5 2,20,30 10 2,0,10",
		"bsdiff 0 5 2,0,10 10 - 0:2,0,10",
		"free 0",
	}
	assert.Equal(t, want, lines(out))
	assert.Equal(t, rangeset.Block(10), stats.MaxStashedBlocks)
	assert.Equal(t, 1, stats.StashSlots)
}

// TestWriteTransferListStashBeforeOnNewTransfer regression-tests draining
// StashBefore for every transfer style, not just the diff family: a back
// edge can land a StashBefore on whichever transfer's write triggered it
// (planner.BreakCycles attaches it to "u", the transfer BuildGraph's back
// edge names, with no restriction on u's style), so a StyleNew transfer
// overwriting blocks a later diff still needs to read must still emit the
// "stash" command before it writes.
func TestWriteTransferListStashBeforeOnNewTransfer(t *testing.T) {
	src := &stubImage{total: 10, care: rangeset.FromPairs(0, 10)}
	tgt := &stubImage{total: 30, care: rangeset.FromPairs(0, 30)}

	arena := transfer.NewArena()
	overwriter := arena.Add("/new.bin", "", rangeset.FromPairs(0, 10), rangeset.New(), transfer.StyleNew)
	overwriter.Order = 0
	overwriter.StashBefore = []transfer.Stash{{Key: "k1", Range: rangeset.FromPairs(0, 10)}}

	reader := arena.Add("/a.bin", "/a.bin", rangeset.FromPairs(20, 30), rangeset.FromPairs(0, 10), transfer.StyleBSDiff)
	reader.Order = 1
	reader.PatchStart, reader.PatchLen = 0, 5
	reader.UseStash = []transfer.Stash{{Key: "k1", Range: rangeset.FromPairs(0, 10)}}

	out, stats, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion2, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	want := []string{
		"2", "20", "1", "10",
		"stash 0 2,0,10",
		"new 2,0,10",
		"bsdiff 0 5 2,20,30 10 - 0:2,0,10",
		"free 0",
	}
	assert.Equal(t, want, lines(out))
	assert.Equal(t, rangeset.Block(10), stats.MaxStashedBlocks)
	assert.Equal(t, 1, stats.StashSlots)
}

// TestWriteTransferListStashLifecycleVersion3 repeats the stash lifecycle
// under format version >= 3's content-hashed keyer: the key is not a
// literal constant, but it must still appear consistently in the define,
// use, and free sites.
func TestWriteTransferListStashLifecycleVersion3(t *testing.T) {
	src := &stubImage{total: 10, care: rangeset.FromPairs(0, 10)}
	tgt := &stubImage{total: 30, care: rangeset.FromPairs(0, 30)}

	arena := transfer.NewArena()
	define := arena.Add("/a.bin", "/a.bin", rangeset.FromPairs(20, 30), rangeset.FromPairs(0, 10), transfer.StyleBSDiff)
	define.Order = 0
	define.PatchStart, define.PatchLen = 0, 5
	define.StashBefore = []transfer.Stash{{Key: "k1", Range: rangeset.FromPairs(0, 10)}}

	consume := arena.Add("/b.bin", "/b.bin", rangeset.FromPairs(0, 10), rangeset.FromPairs(0, 10), transfer.StyleBSDiff)
	consume.Order = 1
	consume.PatchStart, consume.PatchLen = 0, 5
	consume.UseStash = []transfer.Stash{{Key: "k1", Range: rangeset.FromPairs(0, 10)}}

	out, stats, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion3, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	// consume's source overlaps its own target, so format >= 3 counts an
	// implicit stash of its 10 source blocks on top of the 10 still stashed
	// while it runs: peak 20.
	ls := lines(out)
	require.Len(t, ls, 8)
	assert.Equal(t, []string{"3", "20", "1", "20"}, ls[:4])

	stashRe := regexp.MustCompile(`^stash ([0-9a-f]{40}) 2,0,10$`)
	m := stashRe.FindStringSubmatch(ls[4])
	require.NotNil(t, m, "expected a stash command with a hex key, got %q", ls[4])
	key := m[1]

	// The stub reads all-zero blocks, so every 10-block source and target
	// hash equals the stash key.
	assert.Equal(t, "bsdiff 0 5 "+key+" "+key+" 2,20,30 10 2,0,10", ls[5])
	assert.Equal(t, "bsdiff 0 5 "+key+" "+key+" 2,0,10 10 - "+key+":2,0,10", ls[6])
	assert.Equal(t, "free "+key, ls[7])
	assert.Equal(t, rangeset.Block(20), stats.MaxStashedBlocks)
	assert.Equal(t, 1, stats.StashSlots)
}

// TestWriteTransferListRejectsBudgetOverrun checks that a cache too small
// for the plan's peak stash occupancy is reported as an assertion error
// rather than silently truncated — the planner (not the writer) is
// responsible for keeping the plan within budget, so if one slips through
// it is a bug, not an input-validation case.
func TestWriteTransferListRejectsBudgetOverrun(t *testing.T) {
	src := &stubImage{total: 10, care: rangeset.FromPairs(0, 10)}
	tgt := &stubImage{total: 30, care: rangeset.FromPairs(0, 30)}

	arena := transfer.NewArena()
	define := arena.Add("/a.bin", "/a.bin", rangeset.FromPairs(20, 30), rangeset.FromPairs(0, 10), transfer.StyleBSDiff)
	define.Order = 0
	define.StashBefore = []transfer.Stash{{Key: "k1", Range: rangeset.FromPairs(0, 10)}}

	consume := arena.Add("/b.bin", "/b.bin", rangeset.FromPairs(0, 10), rangeset.FromPairs(0, 10), transfer.StyleBSDiff)
	consume.Order = 1
	consume.UseStash = []transfer.Stash{{Key: "k1", Range: rangeset.FromPairs(0, 10)}}

	_, _, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion2, 1*base.BlockSize, 1.0, func([]byte) error { return nil })
	require.Error(t, err)
	assert.True(t, base.IsAssertionError(err), "expected an *base.AssertionError, got %T: %v", err, err)
}

// TestWriteTransferListExtendedBlocksZeroed checks that blocks outside the
// target's care map but inside Extended are zeroed in the epilogue,
// counted toward total, and excluded from the don't-care erase split.
func TestWriteTransferListExtendedBlocksZeroed(t *testing.T) {
	src := &stubImage{total: 0, care: rangeset.New()}
	tgt := &stubImage{total: 12, care: rangeset.FromPairs(0, 10), extended: rangeset.FromPairs(10, 12)}

	arena := transfer.NewArena()
	xf := arena.Add("/new.bin", "", rangeset.FromPairs(0, 10), rangeset.New(), transfer.StyleNew)
	xf.Order = 0

	out, _, err := emit.WriteTransferList(src, tgt, arena, planner.FormatVersion4, 0, 0, func([]byte) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, []string{"4", "12", "0", "0", "new 2,0,10", "zero 2,10,12"}, lines(out))
}
