package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/pipeline"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

// errRunFailed marks a run in which every source failed.
var errRunFailed = errors.New("scrape run failed")

// newScrapeCmd creates the 'scrape' subcommand, which performs one run in the
// foreground and prints its summary.
func newScrapeCmd() *cobra.Command {
	var (
		sources []string
		names   []string
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs one scrape pass",
		Long: `Walks every configured source (or only those named with --source),
merges and upserts the records, reconciles releases after a complete active
roster, and writes the run log. --name runs a court name search instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Orchestrator().Run(cmd.Context(), pipeline.RunOptions{
				Sources: sources,
				Names:   names,
			})
			if err != nil {
				return fmt.Errorf("run scrape: %w", err)
			}
			appInstance.Logger().Info("scrape command finished",
				zap.String("run_id", summary.RunID),
				zap.String("status", string(summary.Status)),
				zap.Int("count", summary.Count),
			)
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if summary.Status == records.RunError {
				return fmt.Errorf("%w: %s", errRunFailed, summary.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "configured source to scrape (repeatable)")
	// StringArray keeps "LAST, FIRST" intact.
	cmd.Flags().StringArrayVar(&names, "name", nil, `court name search, "LAST, FIRST" (repeatable)`)
	return cmd
}
