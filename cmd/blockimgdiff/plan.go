package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/xpirt/blockimgdiff/emit"
	"github.com/xpirt/blockimgdiff/image"
	"github.com/xpirt/blockimgdiff/internal/base"
	"github.com/xpirt/blockimgdiff/manifest"
	"github.com/xpirt/blockimgdiff/metrics"
	"github.com/xpirt/blockimgdiff/planner"
	"github.com/xpirt/blockimgdiff/stats"
	"github.com/xpirt/blockimgdiff/storage"
	"github.com/xpirt/blockimgdiff/transfer"
)

type planFlags struct {
	source, target         string
	sourceMap, targetMap   string
	prefix                 string
	version                int
	cacheSize              int64
	stashThreshold         float64
	maxBlocksPerTransfer   int64
	threads                int
	noImgdiff              bool
	showStats              bool
	metricsAddr            string
	bsdiffPath, imgdiffPath string
}

func newPlanCmd() *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "plan a block transfer from --source to --target and emit its artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.source, "source", "", "path to the source image (required)")
	fl.StringVar(&f.target, "target", "", "path to the target image (required)")
	fl.StringVar(&f.sourceMap, "source-map", "", "path to the source's file-map YAML sidecar")
	fl.StringVar(&f.targetMap, "target-map", "", "path to the target's file-map YAML sidecar")
	fl.StringVar(&f.prefix, "prefix", "", "output prefix for <prefix>.transfer.list/.new.dat/.patch.dat (required)")
	fl.IntVar(&f.version, "version", 4, "on-device updater format version (1-4)")
	fl.Int64Var(&f.cacheSize, "cache-size", 0, "device stash cache size in bytes (0 disables budget enforcement)")
	fl.Float64Var(&f.stashThreshold, "stash-threshold", 0.8, "fraction of cache-size the stash budget may use")
	fl.Int64Var(&f.maxBlocksPerTransfer, "max-blocks-per-transfer", 0, "split oversized diff transfers above this many blocks (0 disables; ignored below --version=3)")
	fl.IntVar(&f.threads, "threads", 0, "differ worker count (0 selects a default from NumCPU)")
	fl.BoolVar(&f.noImgdiff, "no-imgdiff", false, "never select imgdiff, even for eligible zip-family targets")
	fl.BoolVar(&f.showStats, "stats", false, "print a patch-size summary after emitting")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fl.StringVar(&f.bsdiffPath, "bsdiff-path", "bsdiff", "path to the bsdiff binary")
	fl.StringVar(&f.imgdiffPath, "imgdiff-path", "imgdiff", "path to the imgdiff binary")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("prefix")
	return cmd
}

func runPlan(ctx context.Context, f planFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log := base.DefaultLogger

	var m *metrics.Metrics
	if f.metricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, f.metricsAddr); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	srcImg, err := loadImage(f.source, f.sourceMap)
	if err != nil {
		return errors.Wrap(err, "loading source image")
	}
	tgtImg, err := loadImage(f.target, f.targetMap)
	if err != nil {
		return errors.Wrap(err, "loading target image")
	}

	version := planner.FormatVersion(f.version)
	maxBlocksPerTransfer := f.maxBlocksPerTransfer
	if version < planner.FormatVersion3 {
		maxBlocksPerTransfer = 0
	}
	arena, err := transfer.Enumerate(tgtImg, srcImg, maxBlocksPerTransfer)
	if err != nil {
		return errors.Wrap(err, "enumerating transfers")
	}
	log.Infof("plan: enumerated %d transfers", arena.Len())

	if err := planner.Plan(tgtImg, arena, version, f.cacheSize, f.stashThreshold); err != nil {
		return errors.Wrap(err, "planning transfer order")
	}

	rec := stats.NewRecorder()
	cfg := emit.Config{
		Version:        version,
		CacheSize:      f.cacheSize,
		StashThreshold: f.stashThreshold,
		Threads:        f.threads,
		DisableImgdiff: f.noImgdiff,
		Differ:         emit.ExternalDiffer{BSDiffPath: f.bsdiffPath, ImgDiffPath: f.imgdiffPath},
		FS:             storage.Local{},
		TempDir:        os.TempDir(),
		Prefix:         f.prefix,
		Metrics:        m,
		Logger:         log,
		OnPatch:        func(_ transfer.ID, bytes int) { rec.Record(int64(bytes)) },
	}

	result, err := emit.Emit(ctx, srcImg, tgtImg, arena, cfg)
	if err != nil {
		return errors.Wrap(err, "emitting transfer list")
	}

	if f.showStats {
		summary := rec.Summarize(result)
		fmt.Print(summary.Report(rec.Sizes()))
	}
	return nil
}

func loadImage(path, mapPath string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	if mapPath == "" {
		return image.NewData(data), nil
	}
	mdata, err := os.ReadFile(mapPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading file map %q", mapPath)
	}
	mf, err := manifest.Decode(mdata)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding file map %q", mapPath)
	}
	return image.NewDataWithFileMap(data, mf.FileMap(), mf.ClobberedRangeSet(), mf.ExtendedRangeSet())
}
