package transfer

import (
	"fmt"
	"strings"

	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/rangeset"
)

// Enumerate walks tgt's file map, in insertion order, and for each domain
// emits a Transfer matched against src by the rules of §4.3: exact name,
// then basename, then digit-pattern basename, else a fresh "new" transfer.
// maxBlocksPerTransfer, if positive, splits oversized diff transfers into
// bounded pieces; the CLI passes a positive limit only for format version
// >= 3.
func Enumerate(tgt, src image.Image, maxBlocksPerTransfer rangeset.Block) (*Arena, error) {
	arena := NewArena()

	srcByName := src.FileMap()
	srcByBasename := indexByKey(src.FileMap(), basename)
	srcByDigitPattern := indexByKey(src.FileMap(), func(name string) string { return digitPattern(basename(name)) })

	tgt.FileMap().Each(func(name string, tgtRanges rangeset.RangeSet) {
		switch name {
		case image.ZeroDomain:
			srcRanges, _ := srcByName.Get(image.ZeroDomain)
			arena.Add(name, image.ZeroDomain, tgtRanges, srcRanges, StyleZero)
			return
		case image.CopyDomain:
			arena.Add(name, "", tgtRanges, rangeset.New(), StyleNew)
			return
		}

		if srcRanges, ok := srcByName.Get(name); ok {
			addDiff(arena, name, name, tgtRanges, srcRanges, maxBlocksPerTransfer)
			return
		}
		if matches, ok := srcByBasename[basename(name)]; ok && len(matches) == 1 {
			addDiff(arena, name, matches[0].name, tgtRanges, matches[0].ranges, maxBlocksPerTransfer)
			return
		}
		if matches, ok := srcByDigitPattern[digitPattern(basename(name))]; ok && len(matches) == 1 {
			addDiff(arena, name, matches[0].name, tgtRanges, matches[0].ranges, maxBlocksPerTransfer)
			return
		}
		arena.Add(name, "", tgtRanges, rangeset.New(), StyleNew)
	})

	return arena, nil
}

type namedRanges struct {
	name   string
	ranges rangeset.RangeSet
}

// indexByKey groups fm's domains by key(name), keeping only the grouping —
// callers must check len(...) == 1 themselves, since a non-unique match
// falls through to the next matching rule rather than being an error.
func indexByKey(fm *image.FileMap, key func(string) string) map[string][]namedRanges {
	out := make(map[string][]namedRanges)
	fm.Each(func(name string, rs rangeset.RangeSet) {
		k := key(name)
		out[k] = append(out[k], namedRanges{name: name, ranges: rs})
	})
	return out
}

func basename(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// digitPattern replaces every maximal run of ASCII digits in name with a
// single '#', so that e.g. "libfoo-1.so" and "libfoo-2.so" both map to
// "libfoo-#.so".
func digitPattern(name string) string {
	var b strings.Builder
	inDigits := false
	for _, r := range name {
		if r >= '0' && r <= '9' {
			if !inDigits {
				b.WriteByte('#')
				inDigits = true
			}
			continue
		}
		inDigits = false
		b.WriteRune(r)
	}
	return b.String()
}

// addDiff adds a "diff" transfer, splitting it into bounded pieces first
// if either side exceeds maxBlocksPerTransfer (0 disables splitting).
func addDiff(arena *Arena, tgtName, srcName string, tgtRanges, srcRanges rangeset.RangeSet, maxBlocksPerTransfer rangeset.Block) {
	if maxBlocksPerTransfer <= 0 || (tgtRanges.Size() <= maxBlocksPerTransfer && srcRanges.Size() <= maxBlocksPerTransfer) {
		arena.Add(tgtName, srcName, tgtRanges, srcRanges, StyleDiff)
		return
	}

	i := 0
	remainingTgt, remainingSrc := tgtRanges, srcRanges
	for remainingTgt.Size() > maxBlocksPerTransfer && remainingSrc.Size() > maxBlocksPerTransfer {
		pieceTgt := rangeset.First(remainingTgt, maxBlocksPerTransfer)
		pieceSrc := rangeset.First(remainingSrc, maxBlocksPerTransfer)
		pieceName := fmt.Sprintf("%s-%d", tgtName, i)
		arena.Add(pieceName, pieceName, pieceTgt, pieceSrc, StyleDiff)
		remainingTgt = rangeset.Subtract(remainingTgt, pieceTgt)
		remainingSrc = rangeset.Subtract(remainingSrc, pieceSrc)
		i++
	}
	if remainingTgt.Size() > 0 || remainingSrc.Size() > 0 {
		if remainingTgt.Size() == 0 || remainingSrc.Size() == 0 {
			panic(base.AssertErrorf(
				"transfer: split remainder has an empty side (tgt=%d src=%d) for %q",
				remainingTgt.Size(), remainingSrc.Size(), tgtName))
		}
		pieceName := fmt.Sprintf("%s-%d", tgtName, i)
		arena.Add(pieceName, pieceName, remainingTgt, remainingSrc, StyleDiff)
	}
}
