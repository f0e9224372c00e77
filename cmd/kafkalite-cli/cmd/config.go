// =============================================================================
// CONFIG COMMANDS - MANAGE CLI CONTEXTS
// =============================================================================
//
// COMMANDS:
//   kafkalite-cli config view
//   kafkalite-cli config use-context <name>
//   kafkalite-cli config set-context <name> --server host:port [--timeout 10]
//   kafkalite-cli config delete-context <name>
//
// =============================================================================

package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/andrewc773/kafka-lite/internal/cli"
)

var (
	setContextServer  string
	setContextTimeout int
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI contexts",
	Long: `Manage kafkalite-cli contexts stored in ~/.kafkalite/config.yaml.

Examples:
  kafkalite-cli config set-context follower --server 10.0.0.2:9092
  kafkalite-cli config use-context follower
  kafkalite-cli config view`,
}

func init() {
	configSetContextCmd.Flags().StringVar(&setContextServer, "server", "", "Broker address")
	configSetContextCmd.Flags().IntVar(&setContextTimeout, "timeout", 0, "Request timeout in seconds")

	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configSetContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return err
		}
		if tableOutput() {
			cli.PrintInfo("Config file: %s\n", cli.DefaultConfigPath())
		}
		return formatter.FormatContexts(cfg)
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch to a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(func(cfg *cli.Config) error {
			if err := cfg.UseContext(args[0]); err != nil {
				return err
			}
			cli.PrintSuccess("Switched to context %q", args[0])
			return nil
		})
	},
}

var configSetContextCmd = &cobra.Command{
	Use:   "set-context <name>",
	Short: "Create or update a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(func(cfg *cli.Config) error {
			ctx, err := cfg.GetContext(args[0])
			if err != nil {
				if setContextServer == "" {
					return errors.New("--server is required for a new context")
				}
				ctx = &cli.ContextConfig{}
			}
			if setContextServer != "" {
				ctx.Server = setContextServer
			}
			if cmd.Flags().Changed("timeout") {
				ctx.Timeout = setContextTimeout
			}
			cfg.SetContext(args[0], ctx)
			if cfg.CurrentContext == "" {
				cfg.CurrentContext = args[0]
			}
			cli.PrintSuccess("Context %q set to %s", args[0], ctx.Server)
			return nil
		})
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(func(cfg *cli.Config) error {
			if err := cfg.DeleteContext(args[0]); err != nil {
				return err
			}
			cli.PrintSuccess("Deleted context %q", args[0])
			return nil
		})
	},
}

// updateConfig loads the config file, applies fn and saves it.
func updateConfig(fn func(cfg *cli.Config) error) error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return cfg.Save()
}
