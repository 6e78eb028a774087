package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/marmos91/h5fs/internal/cli.Version=...".
var (
	Version = "dev"
	Commit  = "none"
)

// VersionCommand provides version command
func VersionCommand() *cobra.Command {
	var cmdVersion = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run:   printVersion,
	}
	return cmdVersion
}

func printVersion(cmd *cobra.Command, args []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "h5fs version: %s (%s)\n", Version, Commit)
	fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
