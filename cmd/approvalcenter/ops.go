package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var verbose bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newCLILogger(verbose)
		cfg, err := loadConfig(logger)
		if err != nil {
			return err
		}
		store, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		fmt.Printf("schema up to date (%s)\n", store.Driver())
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one escalation pass over overdue approvals and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sc, err := newCLIComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		report, err := sc.Sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List registered approval types",
	RunE: func(_ *cobra.Command, _ []string) error {
		sc, err := newCLIComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tDISPLAY NAME\tBULK APPROVE")
		for _, t := range sc.Center.Types() {
			fmt.Fprintf(w, "%s\t%s\t%t\n", t.Type, t.DisplayName, t.SupportsBulkApprove)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging for one-shot commands")
}

// newCLIComponents loads config and builds every subsystem with a text logger.
func newCLIComponents() (*SharedComponents, error) {
	logger := newCLILogger(verbose)
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, err
	}
	return initShared(cfg, logger)
}
