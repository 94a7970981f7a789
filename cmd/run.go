package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var printJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full harvest",
		Long: `Loads the snapshot, walks the listing until its end, refreshes stale
details, then saves, exports and publishes the run summary. Exits non-zero
when the snapshot cannot be saved.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.ServeHTTP(cmd.Context())

			summary, runErr := appInstance.Run(cmd.Context())
			out := cmd.OutOrStdout()
			if printJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					appInstance.Logger().Warn("print summary", zap.Error(err))
				}
			} else {
				fmt.Fprintf(out, "run %s: %d records, listing ended at page %d, %d details fetched (%d failed)\n",
					summary.RunID, summary.StoreSize, summary.Listing.EndPage,
					summary.Detail.Fetched, summary.Detail.Failed)
			}
			if runErr != nil {
				return fmt.Errorf("run harvest: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printJSON, "json", false, "print the run summary as JSON")
	return cmd
}
