// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package manifest loads the YAML sidecar file that supplies an image's
// named file map, clobbered-blocks set, and extended range — the
// information a raw block image cannot derive on its own (§10).
package manifest

import (
	"sort"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/omap"
	"github.com/xpirt/blockimgdiff/rangeset"
)

// Manifest is the decoded form of a file-map sidecar: every named file's
// block ranges, plus the image-wide clobbered and extended ranges.
type Manifest struct {
	Files     map[string]RangeSpec `yaml:"files"`
	Clobbered []Pair                `yaml:"clobbered,omitempty"`
	Extended  []Pair                `yaml:"extended,omitempty"`
}

// RangeSpec is one file's block ranges, e.g.
// ranges: [{start: 0, end: 10}, {start: 20, end: 24}].
type RangeSpec struct {
	Ranges []Pair `yaml:"ranges"`
}

// Pair is an inclusive-start/exclusive-end block range, as it appears in
// the sidecar YAML: {start: N, end: M}.
type Pair struct {
	Start rangeset.Block `yaml:"start"`
	End   rangeset.Block `yaml:"end"`
}

// Decode parses a sidecar manifest from raw YAML bytes.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "manifest: decoding YAML")
	}
	return &m, nil
}

// FileMap converts the decoded manifest into an image.FileMap, preserving
// the YAML map's declared order isn't possible (map[string]RangeSpec has no
// order of its own), so callers that need a reproducible domain order
// should prefer a manifest format with an ordered file list; this loader
// sorts names lexically to keep output at least deterministic run to run.
func (m *Manifest) FileMap() *image.FileMap {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	fm := omap.New[string, rangeset.RangeSet]()
	for _, name := range names {
		fm.Set(name, pairsToRangeSet(m.Files[name].Ranges))
	}
	return fm
}

// ClobberedRangeSet returns the manifest's clobbered-blocks RangeSet.
func (m *Manifest) ClobberedRangeSet() rangeset.RangeSet { return pairsToRangeSet(m.Clobbered) }

// ExtendedRangeSet returns the manifest's extended-blocks RangeSet.
func (m *Manifest) ExtendedRangeSet() rangeset.RangeSet { return pairsToRangeSet(m.Extended) }

func pairsToRangeSet(pairs []Pair) rangeset.RangeSet {
	intervals := make([]rangeset.Range, 0, len(pairs))
	for _, p := range pairs {
		intervals = append(intervals, rangeset.Range{Start: p.Start, End: p.End})
	}
	return rangeset.FromIntervals(intervals)
}
