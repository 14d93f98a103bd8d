package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/agentctl/orchestrator/internal/workflow"
	"github.com/spf13/cobra"
)

var statusWatchFlag bool

func renderStatus(w io.Writer, st *workflow.WorkflowState) {
	fmt.Fprintf(w, "workflow %s (%s)\n", st.WorkflowID, st.Task)
	if st.IsTerminal() {
		fmt.Fprintf(w, "terminal: %s\n", st.Terminal)
		return
	}
	fmt.Fprintf(w, "phase: %s\n", st.PhaseCursor)
	ps, ok := st.Phase(st.PhaseCursor)
	if !ok {
		return
	}
	for _, item := range ps.Items {
		line := fmt.Sprintf("  %-24s %s", item.ID, item.Status)
		if item.Status == "skipped" && item.SkipReason != "" {
			line += fmt.Sprintf(" (%s)", item.SkipReason)
		}
		fmt.Fprintln(w, line)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current phase and item state",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		st, err := d.Engine.Status()
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		if err := printResult(os.Stdout, d.output(), st, func(w io.Writer, v any) {
			renderStatus(w, st)
		}); err != nil {
			return err
		}
		if !statusWatchFlag {
			return nil
		}
		return watchSessionSwitches(d)
	},
}

// watchSessionSwitches blocks, re-running `status` against whichever
// session becomes current whenever the current-session pointer changes,
// until interrupted. Rebuilding a fresh Engine per switch (rather than
// repointing the existing one) keeps this command's Engine usage
// identical to every other subcommand's one-shot construction.
func watchSessionSwitches(d *deps) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ids, errs := d.Sess.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-ids:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stdout, "\n--- session switched to %s ---\n", id)
			nd, err := buildDeps(true)
			if err != nil {
				printErr(os.Stdout, d.output(), err)
				continue
			}
			st, err := nd.Engine.Status()
			if err != nil {
				printErr(os.Stdout, nd.output(), err)
				continue
			}
			printResult(os.Stdout, nd.output(), st, func(w io.Writer, v any) {
				renderStatus(w, st)
			})
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			d.Log.Warnf("watch: %s", err)
		}
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatchFlag, "watch", false, "Keep watching and re-print status when another process switches sessions")
	rootCmd.AddCommand(statusCmd)
}
