package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// OrchestratorVersion is stamped into every checkpoint this binary writes.
const OrchestratorVersion = "1.0.0"

var (
	repoFlag    string
	sessionFlag string
	verboseFlag bool
	outputFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Developer-workflow enforcement engine for AI coding agents",
	Long: `orchestrator drives a software task through a sequence of named
phases (e.g. plan, execute, review, verify, learn), each containing
ordered items that must be completed, skipped with justification, or
satisfied by a programmatic gate before the workflow may advance.

Get Started:
  session create   Start a new session in this repo
  start            Begin a workflow in the current session
  status           Show the current phase and item state

Core Commands:
  complete         Run an item's gate/review and mark it done
  skip             Skip an item with a reason
  advance          Move the phase cursor forward
  finish           Mark the workflow terminal
  checkpoint       Snapshot and resume workflow state`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repo root (default: discovered from cwd)")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "Session id (default: the current session)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose diagnostics")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "", "Output format (text, json)")
}
