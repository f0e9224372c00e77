package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=v1.2.3".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "kafkalite-cli %s\n", Version)

		ctx, cancel := getContext()
		defer cancel()
		if err := brokerClient.Health(ctx); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "broker %s unreachable: %v\n", server, err)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "broker %s healthy\n", server)
		return nil
	},
}
