package emit

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/metrics"
	"github.com/xpirt/blockimgdiff/planner"
	"github.com/xpirt/blockimgdiff/storage"
	"github.com/xpirt/blockimgdiff/transfer"
)

// Config controls one Emit run: which on-device updater format to target,
// the cache budget it must respect, how many differ workers to run, and
// where the three output artifacts land.
type Config struct {
	Version        planner.FormatVersion
	CacheSize      int64
	StashThreshold float64
	Threads        int
	DisableImgdiff bool

	Differ  Differ
	FS      storage.FS
	TempDir string
	Prefix  string

	Metrics *metrics.Metrics
	Logger  base.Logger

	// OnPatch, when set, is called once per computed patch, in patch_num
	// (enqueue) order, after every patch has been computed — the stats
	// package's Recorder hooks in here to build its percentile report.
	OnPatch func(id transfer.ID, bytes int)
}

// Result summarizes a completed Emit run.
type Result struct {
	List       ListStats
	PatchBytes int64
	NewBytes   int64
}

// Emit resolves every remaining diff-family transfer's final style against
// actual block content, runs the external differs, and writes the three
// output artifacts: <prefix>.transfer.list, <prefix>.new.dat and
// <prefix>.patch.dat. arena must already have been planned (planner.Plan)
// against src and tgt.
func Emit(ctx context.Context, src, tgt image.Image, arena *transfer.Arena, cfg Config) (Result, error) {
	if cfg.StashThreshold <= 0 {
		cfg.StashThreshold = 0.8
	}
	differ := cfg.Differ
	if differ == nil {
		differ = ExternalDiffer{BSDiffPath: "bsdiff", ImgDiffPath: "imgdiff"}
	}
	log := cfg.Logger
	if log == nil {
		log = base.DefaultLogger
	}

	diffTransfers := diffTransfersInOrder(arena)
	jobs, err := resolvePatchStyles(src, tgt, diffTransfers, cfg.DisableImgdiff)
	if err != nil {
		return Result{}, err
	}
	log.Infof("emit: %d transfers resolved to a patch job out of %d diff candidates", len(jobs), len(diffTransfers))

	patches, err := computePatches(ctx, src, tgt, arena, jobs, differ, cfg.TempDir, cfg.Threads, cfg.Metrics, log, cfg.OnPatch)
	if err != nil {
		return Result{}, err
	}

	var patchTotal int64
	offset := int64(0)
	for _, j := range jobs {
		t := arena.Get(j.id)
		data := patches[j.patchNum]
		t.PatchStart = offset
		t.PatchLen = int64(len(data))
		offset += t.PatchLen
	}
	patchTotal = offset

	if err := writeBlob(cfg.FS, cfg.Prefix+".patch.dat", func(write func([]byte) error) error {
		for _, data := range patches {
			if err := write(data); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return Result{}, err
	}

	var newTotal int64
	var listText string
	var stats ListStats
	if err := writeBlob(cfg.FS, cfg.Prefix+".new.dat", func(write func([]byte) error) error {
		listText, stats, err = WriteTransferList(src, tgt, arena, cfg.Version, cfg.CacheSize, cfg.StashThreshold,
			func(chunk []byte) error {
				newTotal += int64(len(chunk))
				return write(chunk)
			})
		return err
	}); err != nil {
		return Result{}, err
	}

	f, err := cfg.FS.Create(cfg.Prefix + ".transfer.list")
	if err != nil {
		return Result{}, errors.Wrap(err, "emit: creating transfer list")
	}
	_, werr := f.Write([]byte(listText))
	cerr := f.Close()
	if werr != nil {
		return Result{}, errors.Wrap(werr, "emit: writing transfer list")
	}
	if cerr != nil {
		return Result{}, errors.Wrap(cerr, "emit: closing transfer list")
	}

	log.Infof("emit: wrote %d commands, %d new blocks, %d diff blocks, peak stash %d blocks",
		stats.Commands, stats.NewBlocks, stats.DiffBlocks, stats.MaxStashedBlocks)

	return Result{List: stats, PatchBytes: patchTotal, NewBytes: newTotal}, nil
}

// writeBlob opens name on fs, calls fn with a write closure, and closes the
// file, collapsing the write/close error pair the way the teacher's own
// output paths do (first error wins, close always runs).
func writeBlob(fs storage.FS, name string, fn func(write func([]byte) error) error) error {
	f, err := fs.Create(name)
	if err != nil {
		return errors.Wrapf(err, "emit: creating %q", name)
	}
	ferr := fn(func(b []byte) error {
		_, werr := f.Write(b)
		return werr
	})
	cerr := f.Close()
	if ferr != nil {
		return errors.Wrapf(ferr, "emit: writing %q", name)
	}
	return errors.Wrapf(cerr, "emit: closing %q", name)
}
