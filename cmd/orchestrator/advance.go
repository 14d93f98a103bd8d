package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/agentctl/orchestrator/internal/workflow"
	"github.com/spf13/cobra"
)

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Move the phase cursor forward",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		st, err := d.Engine.Advance()
		if err != nil {
			var incomplete *workflow.PhaseIncompleteError
			if errors.As(err, &incomplete) {
				return printErr(os.Stdout, d.output(), incomplete)
			}
			return printErr(os.Stdout, d.output(), err)
		}
		return printResult(os.Stdout, d.output(), st, func(w io.Writer, v any) {
			if st.PhaseCursor == "" {
				fmt.Fprintln(w, "all phases complete")
				return
			}
			fmt.Fprintf(w, "advanced to phase %s\n", st.PhaseCursor)
		})
	},
}

func init() {
	rootCmd.AddCommand(advanceCmd)
}
