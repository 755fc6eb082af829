package emit

import (
	"context"
	"crypto/sha1"
	"io"
	"runtime"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/metrics"
	"github.com/xpirt/blockimgdiff/rangeset"
	"github.com/xpirt/blockimgdiff/storage"
	"github.com/xpirt/blockimgdiff/transfer"
)

// resolvePatchStyles walks every StyleDiff transfer, in Order, and decides
// its final style: StyleMove when source and target content are identical,
// otherwise StyleImgDiff or StyleBSDiff depending on eligibility. This is a
// sequential pre-pass (not itself parallelized) because patch_num — the
// position a transfer's eventual patch bytes occupy in the blob — is
// defined by this resolution order, and must be assigned deterministically
// before the worker pool fans out (§4.5, §6).
func resolvePatchStyles(src, tgt image.Image, diffTransfers []*transfer.Transfer, disableImgdiff bool) ([]patchJob, error) {
	var jobs []patchJob
	for _, t := range diffTransfers {
		equal, err := contentsEqual(src, tgt, t.SrcRanges, t.TgtRanges)
		if err != nil {
			return nil, errors.Wrapf(err, "emit: comparing %s against %s", t.SrcName, t.TgtName)
		}
		if equal {
			t.Style = transfer.StyleMove
			continue
		}
		if eligibleForImgdiff(t.TgtName, t.Intact, disableImgdiff) {
			t.Style = transfer.StyleImgDiff
		} else {
			t.Style = transfer.StyleBSDiff
		}
		jobs = append(jobs, patchJob{id: t.ID, tgtSize: t.TgtRanges.Size(), patchNum: len(jobs)})
	}
	return jobs, nil
}

// contentsEqual decides move-eligibility. A cheap xxhash pass over both
// ranges runs first; most diff-family transfers are genuinely different, so
// the common case never pays for a SHA-1 pass at all. Only when the xxhash
// digests happen to agree — rare, and not by itself conclusive, since
// xxhash is not collision-resistant — does a second, authoritative SHA-1
// pass run to confirm.
func contentsEqual(src, tgt image.Image, srcRanges, tgtRanges rangeset.RangeSet) (bool, error) {
	if srcRanges.Size() != tgtRanges.Size() {
		return false, nil
	}
	srcXX, err := xxhashRanges(src, srcRanges)
	if err != nil {
		return false, err
	}
	tgtXX, err := xxhashRanges(tgt, tgtRanges)
	if err != nil {
		return false, err
	}
	if srcXX != tgtXX {
		return false, nil
	}
	srcSHA, err := sha1Ranges(src, srcRanges)
	if err != nil {
		return false, err
	}
	tgtSHA, err := sha1Ranges(tgt, tgtRanges)
	if err != nil {
		return false, err
	}
	return srcSHA == tgtSHA, nil
}

func xxhashRanges(img image.Image, rs rangeset.RangeSet) (uint64, error) {
	h := xxhash.New()
	if err := img.Read(rs, func(chunk []byte) error {
		_, err := h.Write(chunk)
		return err
	}); err != nil {
		return 0, errors.Wrap(err, "emit: xxhash pre-check")
	}
	return h.Sum64(), nil
}

func sha1Ranges(img image.Image, rs rangeset.RangeSet) ([sha1.Size]byte, error) {
	h := sha1.New()
	if err := img.Read(rs, func(chunk []byte) error {
		_, err := h.Write(chunk)
		return err
	}); err != nil {
		return [sha1.Size]byte{}, errors.Wrap(err, "emit: hashing blocks")
	}
	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// computePatches runs the external differ over every job in jobs (largest
// tgt_size first, via the worker pool) and returns the resulting patch
// bytes indexed by patch_num.
func computePatches(
	ctx context.Context,
	src, tgt image.Image,
	arena *transfer.Arena,
	jobs []patchJob,
	differ Differ,
	tempDir string,
	numWorkers int,
	m *metrics.Metrics,
	log base.Logger,
	onPatch func(id transfer.ID, bytes int),
) ([][]byte, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU() / 2
		if numWorkers < 1 {
			numWorkers = 1
		}
	}
	results := make([][]byte, len(jobs))
	queue := newJobQueue(jobs)

	err := runPool(ctx, numWorkers, queue, func(ctx context.Context, j patchJob) error {
		t := arena.Get(j.id)
		if m != nil {
			m.JobsInFlight.Inc()
			defer m.JobsInFlight.Dec()
		}
		start := time.Now()
		data, err := runDiffer(ctx, differ, src, tgt, t, tempDir)
		if m != nil {
			m.PatchComputeSeconds.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if m != nil {
				m.DifferFailures.Inc()
			}
			return errors.Wrapf(err, "emit: computing patch for %s", t.TgtName)
		}
		results[j.patchNum] = data
		t.PatchLen = int64(len(data))
		if m != nil {
			m.JobsCompleted.Inc()
			m.PatchBytesWritten.Add(float64(len(data)))
		}
		if log != nil {
			log.Infof("emit: %s patch for %s: %d bytes", t.Style, t.TgtName, len(data))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if onPatch != nil {
		for _, j := range jobs {
			onPatch(j.id, len(results[j.patchNum]))
		}
	}
	return results, nil
}

func runDiffer(ctx context.Context, differ Differ, src, tgt image.Image, t *transfer.Transfer, tempDir string) ([]byte, error) {
	var patchBytes []byte
	err := storage.WithTempFile(tempDir, "src", func(srcPath string) error {
		if err := writeRangesToFile(src, t.SrcRanges, srcPath); err != nil {
			return err
		}
		return storage.WithTempFile(tempDir, "tgt", func(tgtPath string) error {
			if err := writeRangesToFile(tgt, t.TgtRanges, tgtPath); err != nil {
				return err
			}
			return storage.WithTempFile(tempDir, "patch", func(patchPath string) error {
				if err := differ.Diff(ctx, srcPath, tgtPath, patchPath, t.Style == transfer.StyleImgDiff); err != nil {
					return err
				}
				data, err := readFile(patchPath)
				if err != nil {
					return err
				}
				patchBytes = data
				return nil
			})
		})
	})
	return patchBytes, err
}

func writeRangesToFile(img image.Image, rs rangeset.RangeSet, path string) error {
	f, err := storage.Local{}.Create(path)
	if err != nil {
		return errors.Wrapf(err, "emit: creating %q", path)
	}
	werr := img.Read(rs, func(chunk []byte) error {
		_, err := f.Write(chunk)
		return err
	})
	cerr := f.Close()
	if werr != nil {
		return errors.Wrapf(werr, "emit: writing %q", path)
	}
	return cerr
}

func readFile(path string) ([]byte, error) {
	f, err := storage.Local{}.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "emit: opening %q", path)
	}
	defer f.Close()
	var buf []byte
	chunk := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr == io.EOF {
			return buf, nil
		}
		if rerr != nil {
			return nil, errors.Wrapf(rerr, "emit: reading %q", path)
		}
	}
}

// diffTransfersInOrder returns every StyleDiff transfer in arena, sorted by
// its planner-assigned Order — the sequence resolvePatchStyles must walk to
// keep patch_num assignment deterministic and reproducible across runs.
func diffTransfersInOrder(arena *transfer.Arena) []*transfer.Transfer {
	var out []*transfer.Transfer
	for _, t := range arena.All() {
		if t.Style == transfer.StyleDiff {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
