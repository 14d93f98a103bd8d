package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Snapshot and resume workflow state",
}

var (
	checkpointLabelFlag     string
	checkpointDecisionsFlag []string
	checkpointManifestFlag  []string
	checkpointSummaryFlag   string
)

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the current workflow state",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		id, err := d.Engine.Checkpoint(d.Store, checkpointLabelFlag, checkpointDecisionsFlag, checkpointManifestFlag, checkpointSummaryFlag, OrchestratorVersion)
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		return printResult(os.Stdout, d.output(), map[string]string{"checkpoint_id": id}, func(w io.Writer, v any) {
			fmt.Fprintf(w, "created checkpoint %s\n", id)
		})
	},
}

var checkpointResumeCmd = &cobra.Command{
	Use:   "resume <checkpoint-id>",
	Short: "Restore workflow state from a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		st, err := d.Engine.Resume(d.Store, args[0])
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		return printResult(os.Stdout, d.output(), st, func(w io.Writer, v any) {
			fmt.Fprintf(w, "resumed workflow %s at phase %s\n", st.WorkflowID, st.PhaseCursor)
		})
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoint ids in the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		ids, err := d.Store.List()
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		return printResult(os.Stdout, d.output(), ids, func(w io.Writer, v any) {
			for _, id := range ids {
				fmt.Fprintln(w, id)
			}
		})
	},
}

func init() {
	checkpointCreateCmd.Flags().StringVar(&checkpointLabelFlag, "label", "", "Short label for this checkpoint")
	checkpointCreateCmd.Flags().StringSliceVar(&checkpointDecisionsFlag, "decision", nil, "Decision recorded at this checkpoint (repeatable)")
	checkpointCreateCmd.Flags().StringSliceVar(&checkpointManifestFlag, "file", nil, "File path touched since the last checkpoint (repeatable)")
	checkpointCreateCmd.Flags().StringVar(&checkpointSummaryFlag, "summary", "", "Free-text context summary")

	checkpointCmd.AddCommand(checkpointCreateCmd, checkpointResumeCmd, checkpointListCmd)
	rootCmd.AddCommand(checkpointCmd)
}
