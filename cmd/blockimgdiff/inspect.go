package main

import (
	"os"

	"github.com/ghemawat/stream"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var filter string
	var numbered bool
	cmd := &cobra.Command{
		Use:   "inspect <transfer.list>",
		Short: "print lines from a transfer list, optionally filtered by a regexp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := []stream.Filter{stream.ReadLines(args[0])}
			if numbered {
				filters = append(filters, stream.Numbered())
			}
			if filter != "" {
				filters = append(filters, stream.Grep(filter))
			}
			filters = append(filters, stream.Output(os.Stdout))
			return stream.Run(filters...)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only print lines matching this regexp (e.g. ^stash, ^free, bsdiff)")
	cmd.Flags().BoolVar(&numbered, "numbered", false, "prefix each line with its line number")
	return cmd
}
