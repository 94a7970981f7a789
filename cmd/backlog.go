package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/frontier"
	"github.com/JakeFAU/listing-harvester/internal/store"
)

func newBacklogCmd() *cobra.Command {
	var (
		asOf string
		list int
	)
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Report how many records need a detail fetch",
		Long:  `Loads the snapshot and counts records whose detail is missing or stale. No network requests are made.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			now := appInstance.Clock().Now()
			if asOf != "" {
				now, err = time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("parse --as-of: %w", err)
				}
			}

			records, err := appInstance.Snapshot().Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			records = store.New(appInstance.Clock(), records).Records()

			ttl := appInstance.Config().Detail.StalenessTTL
			tasks := frontier.DetailBacklog(records, now, ttl, 0)
			var never, stale int
			for _, r := range records {
				if r.Link == "" || !frontier.NeedsFetch(r, now, ttl) {
					continue
				}
				if r.DetailStatus == crawler.DetailFetched {
					stale++
				} else {
					never++
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "records: %d\n", len(records))
			fmt.Fprintf(out, "needs detail: %d (never fetched %d, stale %d)\n", len(tasks), never, stale)
			for i, task := range tasks {
				if i >= list {
					break
				}
				fmt.Fprintf(out, "%s\t%s\n", task.Identity.ID, task.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate staleness at this RFC3339 time instead of now")
	cmd.Flags().IntVar(&list, "list", 0, "print up to this many pending detail URLs")
	return cmd
}
