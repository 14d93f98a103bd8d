package main

import (
	"fmt"
	"io"
	"os"

	"github.com/agentctl/orchestrator/internal/audit"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify and report on the session's audit log chain",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log's hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		log := audit.New(d.Paths.AuditFile())
		result, err := log.VerifyChain()
		if err != nil {
			return printErr(os.Stdout, d.output(), err)
		}
		perr := printResult(os.Stdout, d.output(), result, func(w io.Writer, v any) {
			if result.OK {
				fmt.Fprintf(w, "ok: %d records\n", result.RecordCount)
				return
			}
			fmt.Fprintf(w, "TAMPERED at seq %d: %s\n", result.FirstBrokenSeq, result.Message)
		})
		if perr != nil {
			return perr
		}
		if !result.OK {
			os.Exit(1)
		}
		return nil
	},
}

var auditRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Report a suggested remedy for a broken audit chain (never applies it)",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(true)
		if err != nil {
			return err
		}
		log := audit.New(d.Paths.AuditFile())
		result, remedy := log.Repair()
		return printResult(os.Stdout, d.output(), map[string]any{"result": result, "remedy": remedy}, func(w io.Writer, v any) {
			if result.OK {
				fmt.Fprintln(w, "chain is intact; nothing to repair")
				return
			}
			fmt.Fprintf(w, "broken at seq %d: %s\n", result.FirstBrokenSeq, result.Message)
			fmt.Fprintf(w, "suggested remedy: %s\n", remedy)
		})
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd, auditRepairCmd)
	rootCmd.AddCommand(auditCmd)
}
