package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpirt/blockimgdiff/emit"
)

func TestRecorderIgnoresNonPositiveSizes(t *testing.T) {
	r := NewRecorder()
	r.Record(0)
	r.Record(-5)
	assert.Empty(t, r.Sizes())
}

func TestRecorderSummarizeEmpty(t *testing.T) {
	r := NewRecorder()
	s := r.Summarize(emit.Result{List: emit.ListStats{Commands: 3}})
	assert.Equal(t, 0, s.PatchCount)
	assert.Equal(t, 3, s.List.Commands)
	assert.Equal(t, int64(0), s.P50)
}

func TestRecorderSummarizeComputesQuantilesAndMoments(t *testing.T) {
	r := NewRecorder()
	for _, v := range []int64{100, 200, 300, 400, 500} {
		r.Record(v)
	}
	require.Equal(t, []float64{100, 200, 300, 400, 500}, r.Sizes())

	s := r.Summarize(emit.Result{List: emit.ListStats{Commands: 5}})
	assert.Equal(t, 5, s.PatchCount)
	assert.Equal(t, float64(300), s.Mean)
	assert.Greater(t, s.StdDev, 0.0)
	// HdrHistogram quantiles are approximate but must fall within the
	// observed range and be non-decreasing.
	assert.GreaterOrEqual(t, s.P50, int64(100))
	assert.LessOrEqual(t, s.P99, int64(500))
	assert.LessOrEqual(t, s.P50, s.P90)
	assert.LessOrEqual(t, s.P90, s.P99)
}

func TestReportNoPatches(t *testing.T) {
	s := Summary{List: emit.ListStats{Commands: 1, NewBlocks: 2, ZeroBlocks: 3, DiffBlocks: 4, MaxStashedBlocks: 5}}
	out := s.Report(nil)
	assert.Contains(t, out, "commands: 1")
	assert.Contains(t, out, "new: 2 blocks")
	assert.Contains(t, out, "no patches computed")
}

func TestReportWithPatchesIncludesPlot(t *testing.T) {
	r := NewRecorder()
	for _, v := range []int64{10, 20, 30} {
		r.Record(v)
	}
	s := r.Summarize(emit.Result{})
	out := s.Report(r.Sizes())
	assert.Contains(t, out, "patches: 3")
	assert.Contains(t, out, "patch size (bytes) by enqueue order")
}

func TestReportSinglePatchOmitsPlot(t *testing.T) {
	r := NewRecorder()
	r.Record(42)
	s := r.Summarize(emit.Result{})
	out := s.Report(r.Sizes())
	assert.Contains(t, out, "patches: 1")
	assert.NotContains(t, out, "patch size (bytes) by enqueue order")
}
