// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package image defines the read-only image contract the transfer planner
// enumerates transfers against, and the two concrete implementations
// scenario tests and the CLI build on: Empty and Data.
package image

import (
	"crypto/sha1"

	"github.com/cockroachdb/errors"

	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/internal/omap"
	"github.com/xpirt/blockimgdiff/rangeset"
)

// Reserved file_map domain names, carrying special semantics (§4 of the
// design).
const (
	ZeroDomain    = "__ZERO"
	NonzeroDomain = "__NONZERO"
	CopyDomain    = "__COPY"
)

// FileMap is an insertion-order-preserving mapping from domain name to the
// RangeSet of blocks that domain occupies.
type FileMap = omap.Map[string, rangeset.RangeSet]

// ChunkFunc is called with successive byte chunks by Image.Read. Chunk
// boundaries are not meaningful; implementations may chunk however is
// convenient for their backing storage.
type ChunkFunc func(chunk []byte) error

// Image is a read-only view over a block device: the blocks it owns (care
// map), which of those may legitimately diverge from on-disk content
// (clobbered), which blocks outside its care map must still be zeroed
// (extended), and how the care map partitions into named domains
// (file map).
type Image interface {
	// TotalBlocks is the size of the device, in blocks.
	TotalBlocks() rangeset.Block
	// CareMap is the set of blocks this image semantically owns.
	CareMap() rangeset.RangeSet
	// ClobberedBlocks is the subset of CareMap whose final contents may
	// differ from this image's contents due to filesystem side effects.
	ClobberedBlocks() rangeset.RangeSet
	// Extended is the set of blocks outside CareMap that must nonetheless
	// be explicitly zeroed to satisfy downstream verification.
	Extended() rangeset.RangeSet
	// FileMap partitions CareMap into named domains, in a stable order.
	FileMap() *FileMap
	// Read streams the blocks in rs, in ascending order, to fn.
	Read(rs rangeset.RangeSet, fn ChunkFunc) error
	// TotalSHA1 hashes CareMap (or CareMap \ ClobberedBlocks when
	// includeClobbered is false), in ascending block order.
	TotalSHA1(includeClobbered bool) ([sha1.Size]byte, error)
}

// ReadAll materializes rs into a single byte slice. It is a convenience
// wrapper around Image.Read for callers (tests, small manifests) that don't
// need streaming.
func ReadAll(img Image, rs rangeset.RangeSet) ([]byte, error) {
	buf := make([]byte, 0, rs.Size()*base.BlockSize)
	err := img.Read(rs, func(chunk []byte) error {
		buf = append(buf, chunk...)
		return nil
	})
	return buf, err
}

// ValidatePartition checks the partition property required of every
// Image: the file map's values union to exactly CareMap, pairwise disjoint.
func ValidatePartition(img Image) error {
	fm := img.FileMap()
	var all []rangeset.Range
	fm.Each(func(name string, rs rangeset.RangeSet) {
		all = append(all, rs.Ranges()...)
	})
	union := rangeset.FromIntervals(all)
	var names []string
	var sets []rangeset.RangeSet
	fm.Each(func(name string, rs rangeset.RangeSet) {
		names = append(names, name)
		sets = append(sets, rs)
	})
	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			if rangeset.Overlaps(sets[i], sets[j]) {
				return base.AssertErrorf("image: file map domains %q and %q overlap", names[i], names[j])
			}
		}
	}
	care := img.CareMap()
	if rangeset.Subtract(union, care).Size() != 0 || rangeset.Subtract(care, union).Size() != 0 {
		return base.AssertErrorf("image: file map union does not equal care map (union=%d care=%d)",
			union.Size(), care.Size())
	}
	return nil
}

func sha1Ranges(rd func(rs rangeset.RangeSet, fn ChunkFunc) error, rs rangeset.RangeSet) ([sha1.Size]byte, error) {
	h := sha1.New()
	err := rd(rs, func(chunk []byte) error {
		_, werr := h.Write(chunk)
		return werr
	})
	if err != nil {
		return [sha1.Size]byte{}, errors.Wrap(err, "image: hashing blocks")
	}
	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
