package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/config"
	"github.com/marmos91/h5fs/pkg/server"
	"github.com/spf13/cobra"
)

// MountCommand mounts the Data Store and serves it until interrupted.
func MountCommand() *cobra.Command {
	var cmdMount = &cobra.Command{
		Use:   "mount [file.h5] [mountpoint]",
		Short: "Mount the data store as a read-only filesystem",
		Long: `Mount the configured data store with FUSE and serve it until SIGINT or
SIGTERM. The mountpoint argument overrides mount.mountpoint.

With two arguments the first is an HDF5 file to serve instead of the
configured store, as with --file:

  h5fs mount run.h5 /mnt/run`,
		Args: cobra.MaximumNArgs(2),
		RunE: runMount,
	}

	addStoreFlags(cmdMount.Flags())
	cmdMount.Flags().Bool("allow-other", false, "Let users other than the mounting user access the mount")
	cmdMount.Flags().Bool("debug", false, "Log every FUSE request")
	return cmdMount
}

func runMount(cmd *cobra.Command, args []string) error {
	if len(args) == 2 {
		if err := cmd.Flags().Set("file", args[0]); err != nil {
			return err
		}
		args = args[1:]
	}

	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		cfg.Mount.Mountpoint = args[0]
	}
	if cmd.Flags().Changed("allow-other") {
		cfg.Mount.AllowOther, _ = cmd.Flags().GetBool("allow-other")
	}
	if cmd.Flags().Changed("debug") {
		cfg.Mount.Debug, _ = cmd.Flags().GetBool("debug")
	}
	if cfg.Mount.Mountpoint == "" {
		return fmt.Errorf("no mountpoint: pass one as argument or set mount.mountpoint")
	}

	// ========================================================================
	// Step 1: Metrics, store and filesystem
	// ========================================================================

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)

	st, err := config.CreateStore(ctx, cfg, config.OpenReadOnly, metricsResult.S3Metrics)
	if err != nil {
		return fmt.Errorf("failed to open data store: %w", err)
	}

	fs, err := config.CreateFilesystem(st, cfg, metricsResult.VFSMetrics)
	if err != nil {
		_ = st.Close()
		return err
	}

	// ========================================================================
	// Step 2: Server and adapters
	// ========================================================================

	srv := server.New(st, fs)
	srv.SetShutdownTimeout(cfg.Server.ShutdownTimeout)
	if metricsResult.Server != nil {
		srv.SetMetricsServer(metricsResult.Server)
	}

	adapters, err := config.CreateAdapters(cfg)
	if err != nil {
		_ = srv.Close()
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			_ = srv.Close()
			return err
		}
	}

	logger.Info("Mounting %s store at %s (presentation=%s)",
		cfg.Store.Type, cfg.Mount.Mountpoint, cfg.Mount.Presentation)

	// ========================================================================
	// Step 3: Serve until signalled
	// ========================================================================

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
