// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Command blockimgdiff plans and emits a block-level OTA patch between two
// raw images, and can inspect an already-written transfer list.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "blockimgdiff",
		Short:         "plan and emit block-level OTA transfer lists",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPlanCmd())
	root.AddCommand(newInspectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "blockimgdiff:", err)
		os.Exit(1)
	}
}
