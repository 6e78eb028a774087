package cli

import (
	"fmt"

	"github.com/marmos91/h5fs/pkg/config"
	"github.com/spf13/cobra"
)

// InitCommand writes a commented default configuration file.
func InitCommand() *cobra.Command {
	var force bool

	var cmdInit = &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.GetDefaultConfigPath()
			}

			if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmdInit.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration file")
	return cmdInit
}
