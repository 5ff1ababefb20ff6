// Approval Center: one inbox for every approval type in the HR platform.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "approvalcenter",
	Short: "Approval Center: list, decide, and escalate approvals across request types.",
	Long: `Approval Center aggregates pending approvals of every registered type
(absence requests, time corrections) into one prioritized inbox with SLA
tracking, bulk approval, an audit trail, and scheduled escalation of overdue
requests.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.approvalcenter/config.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, typesCmd, seedCmd, rulesCmd, channelsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
