// Package cli implements the h5fs command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// GetRootCommand builds the h5fs command tree.
func GetRootCommand() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "h5fs",
		Short: "Read-only filesystem view of an HDF5-like data store",
		Long: `h5fs presents the groups of a data store as directories and its
datasets as NumPy .npy files, synthesising each file's header on the fly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/h5fs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(InitCommand())
	rootCmd.AddCommand(MountCommand())
	rootCmd.AddCommand(ImportCommand())
	rootCmd.AddCommand(GCCommand())
	rootCmd.AddCommand(LsCommand())
	rootCmd.AddCommand(StatCommand())
	rootCmd.AddCommand(CatCommand())
	rootCmd.AddCommand(VersionCommand())

	return rootCmd
}

// addStoreFlags registers the flags shared by every command that opens the
// Data Store.
func addStoreFlags(flags *pflag.FlagSet) {
	flags.String("presentation", "", "Override mount.presentation (npy or raw)")
	flags.String("source", "", "Serve an in-memory store seeded from a directory of .npy files")
	flags.String("file", "", "Serve an HDF5 file read-only")
}

// loadConfig reads the configuration named by --config, applies command
// line overrides and configures the logger.
//
// Commands whose stdout is meant for pipes pass quietStdout so that log
// lines aimed at stdout are redirected to stderr instead.
func loadConfig(cmd *cobra.Command, quietStdout bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}

	if err := applyOverrides(cmd.Flags(), cfg); err != nil {
		return nil, err
	}

	output := cfg.Logging.Output
	if quietStdout && strings.EqualFold(output, "stdout") {
		output = "stderr"
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(output); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyOverrides copies changed flags into cfg and re-validates it.
func applyOverrides(flags *pflag.FlagSet, cfg *config.Config) error {
	if f := flags.Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = f.Value.String()
	}
	if f := flags.Lookup("presentation"); f != nil && f.Changed {
		cfg.Mount.Presentation = f.Value.String()
	}
	source, file := flags.Lookup("source"), flags.Lookup("file")
	if source != nil && source.Changed && file != nil && file.Changed {
		return fmt.Errorf("--source and --file cannot be combined")
	}
	if source != nil && source.Changed {
		cfg.Store.Type = "memory"
		cfg.Store.Memory = map[string]any{"source": source.Value.String()}
	}
	if file != nil && file.Changed {
		cfg.Store.Type = "hdf5"
		cfg.Store.HDF5 = map[string]any{"path": file.Value.String()}
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid command line override: %w", err)
	}
	return nil
}
