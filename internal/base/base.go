// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base holds the small set of types shared by every layer of the
// planner: the block size constant, the logging interface, and the
// assertion-style error constructors that fatal conditions use.
package base

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// BlockSize is the fixed block size, in bytes, of every image this planner
// operates on.
const BlockSize = 4096

// Logger is the logging interface accepted by emit.Config. It mirrors the
// Options.Logger contract of the storage engine this planner's design was
// adapted from: Infof for progress, Fatalf for conditions the caller has
// decided should terminate the process.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

type stdLogger struct{}

// DefaultLogger prints Infof/Errorf lines to standard output with fmt and
// panics with the formatted message on Fatalf.
var DefaultLogger Logger = stdLogger{}

func (stdLogger) Infof(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

func (stdLogger) Errorf(format string, args ...interface{}) {
	fmt.Printf("error: "+format+"\n", args...)
}

func (stdLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// AssertionError marks an error as a planner-internal invariant violation:
// the kind of bug §7 of the design calls a "fatal assertion" rather than a
// recoverable input error. Every such error is still a normal Go error —
// only the CLI's main translates it into a process-exit decision.
type AssertionError struct {
	msg string
}

func (e *AssertionError) Error() string { return e.msg }

// AssertErrorf builds an *AssertionError, matching the pattern of the
// teacher's base.CorruptionErrorf: a formatted, clearly-tagged error that
// downstream code can type-switch on without string matching.
func AssertErrorf(format string, args ...interface{}) error {
	return &AssertionError{msg: errors.Newf(format, args...).Error()}
}

// IsAssertionError reports whether err (or one of its wrapped causes) is an
// *AssertionError.
func IsAssertionError(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}
