package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var startConstraintsFlag []string

var startCmd = &cobra.Command{
	Use:   "start <task description>",
	Short: "Begin a workflow in the current session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		st, err := d.Engine.Start(args[0], startConstraintsFlag)
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		return printResult(os.Stdout, d.output(), st, func(w io.Writer, v any) {
			fmt.Fprintf(w, "started workflow %s: %s\n", st.WorkflowID, strings.TrimSpace(st.Task))
			fmt.Fprintf(w, "current phase: %s\n", st.PhaseCursor)
		})
	},
}

func init() {
	startCmd.Flags().StringSliceVar(&startConstraintsFlag, "constraint", nil, "Constraint the agent must honor (repeatable)")
	rootCmd.AddCommand(startCmd)
}
