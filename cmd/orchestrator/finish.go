package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var finishAbandonFlag bool

var finishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Mark the workflow terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		st, err := d.Engine.Finish(finishAbandonFlag)
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		return printResult(os.Stdout, d.output(), st, func(w io.Writer, v any) {
			fmt.Fprintf(w, "workflow %s: %s\n", st.WorkflowID, st.Terminal)
		})
	},
}

func init() {
	finishCmd.Flags().BoolVar(&finishAbandonFlag, "abandon", false, "Abandon the workflow even if phases are incomplete")
	rootCmd.AddCommand(finishCmd)
}
