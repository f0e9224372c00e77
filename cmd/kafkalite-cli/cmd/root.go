// =============================================================================
// ROOT COMMAND - CLI ENTRY POINT AND GLOBAL FLAGS
// =============================================================================
//
// GLOBAL FLAGS:
//   --server, -s    Broker address (default: localhost:9092)
//   --context, -c   Config context to use
//   --output, -o    Output format: table, json, yaml (default: table)
//   --timeout       Request timeout (default: 5s)
//
// SUBCOMMANDS:
//   produce, consume          data plane
//   offset, topics            topic metadata
//   commit, fetch-offset      consumer group offsets
//   stats                     broker stats line and role
//   promote, demote, leader   manual failover
//   config                    manage CLI contexts
//   version                   show version
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewc773/kafka-lite/internal/cli"
	"github.com/andrewc773/kafka-lite/pkg/client"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

var (
	// Global flags
	serverFlag  string
	contextFlag string
	outputFlag  string
	timeoutFlag time.Duration

	// Shared instances
	config       *cli.Config
	brokerClient *client.Client
	formatter    *cli.Formatter
	timeout      time.Duration
	server       string
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "kafkalite-cli",
	Short: "Command-line interface for kafka-lite brokers",
	Long: `kafkalite-cli talks to a single kafka-lite broker over HTTP.

Writes must go to the leader; followers serve reads and reject produce and
commit with "broker is not the leader".

Use "kafkalite-cli [command] --help" for more information about a command.`,
	PersistentPreRunE: initializeClient,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		cli.PrintError("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "",
		"Broker address (env: KAFKALITE_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&contextFlag, "context", "c", "",
		"Config context to use (env: KAFKALITE_CONTEXT)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table",
		"Output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0,
		"Request timeout (env: KAFKALITE_TIMEOUT, default 5s)")

	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(offsetCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(fetchOffsetCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(demoteCmd)
	rootCmd.AddCommand(leaderCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// =============================================================================
// CLIENT INITIALIZATION
// =============================================================================

// initializeClient resolves the broker and builds the client and formatter.
func initializeClient(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	formatter = cli.NewFormatter(format)

	// config commands manage the file themselves
	if cmd.Name() == "config" || cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		return nil
	}

	config, err = cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if contextFlag != "" {
		if _, err := config.GetContext(contextFlag); err != nil {
			return err
		}
	}

	server = cli.ResolveServer(serverFlag, contextFlag, config)
	timeout = cli.ResolveTimeout(timeoutFlag, contextFlag, config)

	clientCfg := client.DefaultConfig(server)
	clientCfg.Timeout = timeout
	brokerClient = client.New(clientCfg)
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// getContext returns a context bounded by the resolved timeout.
func getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// tableOutput reports whether human-readable output was requested.
func tableOutput() bool {
	format, _ := cli.ParseOutputFormat(outputFlag)
	return format == cli.OutputTable
}
