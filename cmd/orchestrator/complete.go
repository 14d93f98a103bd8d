package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	completeNotesFlag  string
	completeByFlag      string
	completeTimeoutFlag string
)

var completeCmd = &cobra.Command{
	Use:   "complete <item-id>",
	Short: "Run an item's gate/review and mark it done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		ctx := context.Background()
		if timeout := parseDurationFlag(completeTimeoutFlag, 0); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		st, result, err := d.Engine.Complete(ctx, args[0], completeNotesFlag, completeByFlag)
		if err != nil && st == nil {
			return printErr(os.Stdout, d.output(), err)
		}

		payload := map[string]any{"state": st, "gate_result": result}
		perr := printResult(os.Stdout, d.output(), payload, func(w io.Writer, v any) {
			if result != nil && !result.Passed {
				fmt.Fprintf(w, "item %s FAILED\n", args[0])
				for _, detail := range result.Details {
					fmt.Fprintf(w, "  %s\n", detail)
				}
				return
			}
			fmt.Fprintf(w, "item %s completed\n", args[0])
		})
		if perr != nil {
			return perr
		}
		if err != nil {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	completeCmd.Flags().StringVar(&completeNotesFlag, "notes", "", "Free-text notes to record on the item")
	completeCmd.Flags().StringVar(&completeByFlag, "by", "", "Identifier of who/what completed the item")
	completeCmd.Flags().StringVar(&completeTimeoutFlag, "timeout", "", "Timeout for the gate/review call (e.g. 5m)")
	rootCmd.AddCommand(completeCmd)
}
