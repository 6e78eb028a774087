package cli

import (
	"errors"
	"fmt"

	"github.com/marmos91/h5fs/pkg/config"
	"github.com/marmos91/h5fs/pkg/content"
	"github.com/marmos91/h5fs/pkg/gc"
	"github.com/spf13/cobra"
)

// collectable is a Data Store whose payloads live in a separate content
// store.
type collectable interface {
	gc.Referencer
	ContentStore() content.ContentStore
}

// GCCommand deletes payload blobs that no dataset references.
func GCCommand() *cobra.Command {
	var gcConfig gc.Config

	var cmdGC = &cobra.Command{
		Use:   "gc",
		Short: "Delete payload blobs left behind by interrupted imports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			if cfg.Store.Type != "badger" {
				return fmt.Errorf("gc needs a persistent store (store.type badger), got %q", cfg.Store.Type)
			}

			metricsResult := config.InitializeMetrics(cfg)

			st, err := config.CreateStore(cmd.Context(), cfg, config.OpenReadWrite, metricsResult.S3Metrics)
			if err != nil {
				return fmt.Errorf("failed to open data store: %w", err)
			}
			defer func() {
				err = errors.Join(err, st.Close())
			}()

			cs, ok := st.(collectable)
			if !ok {
				return fmt.Errorf("store %T does not support garbage collection", st)
			}

			collector, err := gc.NewCollector(cs, cs.ContentStore(), gcConfig)
			if err != nil {
				return err
			}

			stats, err := collector.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if gcConfig.DryRun {
				for _, id := range stats.Orphaned {
					fmt.Fprintln(out, id)
				}
				fmt.Fprintf(out, "%d orphaned blob(s) of %d would be deleted\n", stats.OrphanedCount, stats.ExistingCount)
				return nil
			}
			fmt.Fprintf(out, "Deleted %d orphaned blob(s) of %d, %d failed\n", stats.DeletedCount, stats.ExistingCount, stats.FailedCount)
			if stats.FailedCount > 0 {
				return fmt.Errorf("%d blob(s) could not be deleted", stats.FailedCount)
			}
			return nil
		},
	}

	cmdGC.Flags().BoolVar(&gcConfig.DryRun, "dry-run", false, "List orphaned blobs without deleting them")
	cmdGC.Flags().IntVar(&gcConfig.BatchSize, "batch-size", 1000, "Blobs deleted per request")
	return cmdGC
}
