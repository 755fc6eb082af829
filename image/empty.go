package image

import (
	"crypto/sha1"

	"github.com/xpirt/blockimgdiff/internal/omap"
	"github.com/xpirt/blockimgdiff/rangeset"
)

// Empty is the zero-size image: the source side of a from-scratch install,
// where every target block must come from new or zero transfers.
type Empty struct {
	fileMap *FileMap
}

// NewEmpty returns the empty image.
func NewEmpty() *Empty {
	return &Empty{fileMap: omap.New[string, rangeset.RangeSet]()}
}

var _ Image = (*Empty)(nil)

func (e *Empty) TotalBlocks() rangeset.Block             { return 0 }
func (e *Empty) CareMap() rangeset.RangeSet               { return rangeset.New() }
func (e *Empty) ClobberedBlocks() rangeset.RangeSet        { return rangeset.New() }
func (e *Empty) Extended() rangeset.RangeSet                { return rangeset.New() }
func (e *Empty) FileMap() *FileMap                           { return e.fileMap }

func (e *Empty) Read(rs rangeset.RangeSet, fn ChunkFunc) error {
	if !rs.Empty() {
		panic("image: Read called with non-empty range against the empty image")
	}
	return nil
}

func (e *Empty) TotalSHA1(includeClobbered bool) ([sha1.Size]byte, error) {
	return sha1.Sum(nil), nil
}
