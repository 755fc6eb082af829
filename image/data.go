package image

import (
	"crypto/sha1"

	"github.com/cockroachdb/errors"

	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/internal/omap"
	"github.com/xpirt/blockimgdiff/rangeset"
)

// Data is an in-memory, block-addressable image. It is used both as the
// simple, self-describing image scenario tests build directly (§8 scenarios
// A/B/D/E) and, via NewDataWithFileMap, as the backing store for images
// whose domain partition is supplied externally by the file-map manifest
// (§10/manifest package) — the real scenario C/F case of named,
// possibly-renamed files.
type Data struct {
	data        []byte
	careMap     rangeset.RangeSet
	clobbered   rangeset.RangeSet
	extended    rangeset.RangeSet
	fileMap     *FileMap
	totalBlocks rangeset.Block
}

var _ Image = (*Data)(nil)

// NewData builds a Data image from data, padding the final partial block
// with zeroes if necessary. No file map is supplied, so the image is
// partitioned automatically into the __ZERO domain (all-zero blocks), the
// __NONZERO domain (everything else) and, if padding was required, a
// __COPY domain for the padded tail block (which is also added to
// ClobberedBlocks, since its padding bytes are not part of the real
// content).
func NewData(data []byte) *Data {
	totalBlocks := rangeset.Block(len(data) / base.BlockSize)
	rem := len(data) % base.BlockSize
	padded := data
	var clobbered, copyDomain rangeset.RangeSet
	if rem != 0 {
		pad := make([]byte, base.BlockSize-rem)
		padded = append(append([]byte(nil), data...), pad...)
		lastBlock := totalBlocks
		totalBlocks++
		copyDomain = rangeset.FromPairs(lastBlock, lastBlock+1)
		clobbered = copyDomain
	}

	var zeroRanges, nonzeroRanges []rangeset.Range
	dataBlocks := totalBlocks
	if rem != 0 {
		dataBlocks--
	}
	for b := rangeset.Block(0); b < dataBlocks; b++ {
		if isZeroBlock(padded[b*base.BlockSize : (b+1)*base.BlockSize]) {
			zeroRanges = append(zeroRanges, rangeset.Range{Start: b, End: b + 1})
		} else {
			nonzeroRanges = append(nonzeroRanges, rangeset.Range{Start: b, End: b + 1})
		}
	}
	zero := rangeset.FromIntervals(zeroRanges)
	nonzero := rangeset.FromIntervals(nonzeroRanges)

	fm := omap.New[string, rangeset.RangeSet]()
	if !zero.Empty() {
		fm.Set(ZeroDomain, zero)
	}
	if !nonzero.Empty() {
		fm.Set(NonzeroDomain, nonzero)
	}
	if !copyDomain.Empty() {
		fm.Set(CopyDomain, copyDomain)
	}

	careMap := rangeset.Union(zero, rangeset.Union(nonzero, copyDomain))

	return &Data{
		data:        padded,
		careMap:     careMap,
		clobbered:   clobbered,
		extended:    rangeset.New(),
		fileMap:     fm,
		totalBlocks: totalBlocks,
	}
}

// NewDataWithFileMap builds a Data image from data with an explicit,
// externally-produced file map (e.g. loaded from a manifest — see the
// manifest package). data is padded to a block boundary exactly as in
// NewData, with the padding block merged into fileMap under CopyDomain and
// into clobbered. The caller-supplied fileMap must otherwise satisfy the
// partition property once the padding domain is added; this is verified by
// ValidatePartition and not re-derived here.
func NewDataWithFileMap(
	data []byte, fileMap *FileMap, clobbered, extended rangeset.RangeSet,
) (*Data, error) {
	totalBlocks := rangeset.Block(len(data) / base.BlockSize)
	rem := len(data) % base.BlockSize
	padded := data
	if rem != 0 {
		pad := make([]byte, base.BlockSize-rem)
		padded = append(append([]byte(nil), data...), pad...)
		lastBlock := totalBlocks
		totalBlocks++
		padRange := rangeset.FromPairs(lastBlock, lastBlock+1)
		if existing, ok := fileMap.Get(CopyDomain); ok {
			fileMap.Set(CopyDomain, rangeset.Union(existing, padRange))
		} else {
			fileMap.Set(CopyDomain, padRange)
		}
		clobbered = rangeset.Union(clobbered, padRange)
	}

	var all []rangeset.Range
	fileMap.Each(func(_ string, rs rangeset.RangeSet) { all = append(all, rs.Ranges()...) })
	careMap := rangeset.FromIntervals(all)

	img := &Data{
		data:        padded,
		careMap:     careMap,
		clobbered:   clobbered,
		extended:    extended,
		fileMap:     fileMap,
		totalBlocks: totalBlocks,
	}
	if err := ValidatePartition(img); err != nil {
		return nil, errors.Wrap(err, "image: building file-mapped image")
	}
	return img, nil
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (d *Data) TotalBlocks() rangeset.Block      { return d.totalBlocks }
func (d *Data) CareMap() rangeset.RangeSet        { return d.careMap }
func (d *Data) ClobberedBlocks() rangeset.RangeSet { return d.clobbered }
func (d *Data) Extended() rangeset.RangeSet          { return d.extended }
func (d *Data) FileMap() *FileMap                     { return d.fileMap }

func (d *Data) Read(rs rangeset.RangeSet, fn ChunkFunc) error {
	for _, r := range rs.Ranges() {
		lo, hi := r.Start*base.BlockSize, r.End*base.BlockSize
		if hi > rangeset.Block(len(d.data)) {
			return base.AssertErrorf("image: read range %v exceeds image size %d blocks", r, d.totalBlocks)
		}
		if err := fn(d.data[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Data) TotalSHA1(includeClobbered bool) ([sha1.Size]byte, error) {
	rs := d.careMap
	if !includeClobbered {
		rs = rangeset.Subtract(rs, d.clobbered)
	}
	return sha1Ranges(d.Read, rs)
}
