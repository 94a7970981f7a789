package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-harvester/internal/pipeline"
	"github.com/JakeFAU/listing-harvester/internal/store"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Re-export the saved snapshot",
		Long:  `Loads the snapshot and hands it to every configured export sink without crawling.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sinks := appInstance.Sinks()
			if len(sinks) == 0 {
				return errors.New("no export sinks configured")
			}
			records, err := appInstance.Snapshot().Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			records = store.New(appInstance.Clock(), records).Records()

			n := pipeline.Export(cmd.Context(), records, sinks, appInstance.Logger())
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %d of %d sink(s)\n", len(records), n, len(sinks))
			if n == 0 && len(records) > 0 {
				return errors.New("every export sink failed")
			}
			return nil
		},
	}
}
