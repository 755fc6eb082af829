// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package storage provides the filesystem abstraction the emitter writes
// its three output artifacts through, adapted from the teacher's
// cloud/aws vfs.FS wrapper: a local implementation plus an optional S3
// mirror, so a plan's transfer.list/new.dat/patch.dat can be pushed to
// object storage as they're closed, the way the teacher mirrors its
// MANIFEST file.
package storage

import "io"

// File is the subset of *os.File the planner's I/O needs: enough to write
// the transfer-list/new-data/patch-data artifacts and read back image
// bytes for the differ workers.
type File interface {
	io.Reader
	io.Writer
	io.Closer
	Sync() error
}

// FS creates and opens Files by name. Implementations wrap a directory
// (Local) or mirror writes elsewhere on Close (S3Mirror).
type FS interface {
	Create(name string) (File, error)
	Open(name string) (File, error)
	Remove(name string) error
	MkdirAll(dir string, perm uint32) error
}
