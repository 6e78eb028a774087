package cli

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/h5fs/pkg/config"
	"github.com/marmos91/h5fs/pkg/importer"
	"github.com/spf13/cobra"
)

// ImportCommand loads a directory of .npy files into the persistent store.
func ImportCommand() *cobra.Command {
	var opts importer.Options

	var cmdImport = &cobra.Command{
		Use:   "import <directory>",
		Short: "Import a directory tree of .npy files into the data store",
		Long: `Walk a directory, creating a group for every sub-directory and a dataset
for every .npy file. Files that are not C-order NPY arrays are skipped
unless --strict is given. Requires store.type badger.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			if cfg.Store.Type != "badger" {
				return fmt.Errorf("import needs a persistent store (store.type badger), got %q", cfg.Store.Type)
			}

			metricsResult := config.InitializeMetrics(cfg)

			st, err := config.CreateStore(cmd.Context(), cfg, config.OpenReadWrite, metricsResult.S3Metrics)
			if err != nil {
				return fmt.Errorf("failed to open data store: %w", err)
			}

			stats, err := importer.Import(cmd.Context(), st, args[0], opts)
			if closeErr := st.Close(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d dataset(s) in %d new group(s), %s of payload",
				stats.Datasets, stats.Groups, humanize.Bytes(stats.PayloadBytes))
			if n := len(stats.Skipped); n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d file(s) skipped", n)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmdImport.Flags().StringVar(&opts.Into, "into", "/", "Group to import under (created if missing)")
	cmdImport.Flags().BoolVar(&opts.Strict, "strict", false, "Fail on files that cannot be imported instead of skipping them")
	return cmdImport
}
