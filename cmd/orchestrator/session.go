package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, list, and switch between sessions",
}

var sessionWorktreeFlag string
var sessionStaleAfterFlag string

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a new session in this repo and make it current",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		id, err := d.Sess.CreateSession(sessionWorktreeFlag)
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		return printResult(os.Stdout, d.output(), map[string]string{"session_id": id}, func(w io.Writer, v any) {
			fmt.Fprintf(w, "created session %s\n", id)
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions in this repo",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		infos, err := d.Sess.ListSessions(parseDurationFlag(sessionStaleAfterFlag, staleAfter(d.Cfg)))
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		if d.output() == "json" {
			return printResult(os.Stdout, d.output(), infos, nil)
		}
		for _, info := range infos {
			stale := ""
			if info.Stale {
				stale = " (stale)"
			}
			fmt.Printf("%s  created %s%s\n", info.ID, info.CreatedAt, stale)
		}
		return nil
	},
}

var sessionCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the current session id",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		id, err := d.Sess.GetCurrent()
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		if d.output() == "json" {
			return printResult(os.Stdout, d.output(), map[string]string{"session_id": id}, nil)
		}
		fmt.Println(id)
		return nil
	},
}

var sessionUseCmd = &cobra.Command{
	Use:   "use <session-id>",
	Short: "Make an existing session current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		if err := d.Sess.SetCurrent(args[0]); err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		fmt.Printf("current session is now %s\n", args[0])
		return nil
	},
}

var sessionGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Report sessions stale beyond the configured age (never deletes)",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		report, err := d.Sess.GC(parseDurationFlag(sessionStaleAfterFlag, staleAfter(d.Cfg)))
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		if d.output() == "json" {
			return printResult(os.Stdout, d.output(), report, nil)
		}
		if len(report.Stale) == 0 {
			fmt.Println("no stale sessions")
			return nil
		}
		for _, info := range report.Stale {
			fmt.Printf("stale: %s  created %s\n", info.ID, info.CreatedAt)
		}
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionWorktreeFlag, "worktree", "", "Associated git worktree path")
	sessionListCmd.Flags().StringVar(&sessionStaleAfterFlag, "stale-after", "", "Age (e.g. 72h) after which a session is flagged stale")
	sessionGCCmd.Flags().StringVar(&sessionStaleAfterFlag, "stale-after", "", "Age (e.g. 72h) after which a session is flagged stale")

	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionCurrentCmd, sessionUseCmd, sessionGCCmd)
	rootCmd.AddCommand(sessionCmd)
}
