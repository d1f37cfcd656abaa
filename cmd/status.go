package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

type statusReport struct {
	LastSuccess *records.ScrapeRun  `json:"last_success,omitempty"`
	Recent      []records.ScrapeRun `json:"recent"`
}

func newStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Prints the latest successful run and the recent run log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store := appInstance.Store()
			var report statusReport
			last, err := store.LatestRun(cmd.Context(), records.RunSuccess)
			switch {
			case err == nil:
				report.LastSuccess = &last
			case !errors.Is(err, records.ErrNotFound):
				return fmt.Errorf("latest run: %w", err)
			}
			if report.Recent, err = store.ListRuns(cmd.Context(), limit); err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of run log rows to show")
	return cmd
}
