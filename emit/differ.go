// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package emit runs the external binary differs against the remaining
// "diff" transfers, writes the three output artifacts, and enforces the
// cache-size budget — §4.5 and §6 of the design.
package emit

import (
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// Differ invokes an external byte-level differ. bsdiff and imgdiff are
// genuine external collaborators (§1): this planner never reimplements
// their algorithms, only shells out to them.
type Differ interface {
	Diff(ctx context.Context, srcPath, tgtPath, patchPath string, imgdiff bool) error
}

// ExternalDiffer shells out to the bsdiff/imgdiff binaries named by
// BSDiffPath/ImgDiffPath, passing (src, tgt, patch) paths — with "-z"
// prepended for imgdiff, per §6's external process contract.
type ExternalDiffer struct {
	BSDiffPath   string
	ImgDiffPath  string
}

var _ Differ = ExternalDiffer{}

func (d ExternalDiffer) Diff(ctx context.Context, srcPath, tgtPath, patchPath string, imgdiff bool) error {
	bin := d.BSDiffPath
	args := []string{srcPath, tgtPath, patchPath}
	if imgdiff {
		bin = d.ImgDiffPath
		args = append([]string{"-z"}, args...)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "emit: %s exited non-zero: %s", bin, strings.TrimSpace(string(out)))
	}
	return nil
}

// imgdiffExtensions are the zip-family extensions eligible for imgdiff,
// per §4.5 and §9's "Intact" definition.
var imgdiffExtensions = map[string]bool{"apk": true, "jar": true, "zip": true}

func eligibleForImgdiff(tgtName string, intact bool, disabled bool) bool {
	if disabled || !intact {
		return false
	}
	ext := extensionOf(tgtName)
	return imgdiffExtensions[ext]
}

func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
