package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var skipReasonFlag string

var skipCmd = &cobra.Command{
	Use:   "skip <item-id>",
	Short: "Skip an item with a reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		st, err := d.Engine.Skip(args[0], skipReasonFlag)
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		return printResult(os.Stdout, d.output(), st, func(w io.Writer, v any) {
			fmt.Fprintf(w, "item %s skipped: %s\n", args[0], skipReasonFlag)
		})
	},
}

func init() {
	skipCmd.Flags().StringVar(&skipReasonFlag, "reason", "", "Reason for skipping (required)")
	rootCmd.AddCommand(skipCmd)
}
