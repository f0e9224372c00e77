// =============================================================================
// CLUSTER COMMANDS - STATS AND MANUAL FAILOVER
// =============================================================================
//
// USAGE:
//   kafkalite-cli stats
//   kafkalite-cli promote -s 10.0.0.2:9092
//   kafkalite-cli demote 10.0.0.2:9092 -s 10.0.0.1:9092
//   kafkalite-cli leader 10.0.0.2:9092 -s 10.0.0.3:9092
//
// These are the same calls the controller makes; use them when running
// without one.
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/andrewc773/kafka-lite/internal/cli"
	"github.com/andrewc773/kafka-lite/internal/cluster"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the broker's role and stats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		stats, err := brokerClient.Stats(ctx)
		if err != nil {
			return err
		}
		return formatter.FormatStats(server, stats)
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote the broker to leader",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		if err := brokerClient.Promote(ctx); err != nil {
			return err
		}
		cli.PrintSuccess("%s is now leader", server)
		return nil
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote <new-leader>",
	Short: "Demote the broker to follow new-leader",
	Long: `Demote a leader to follower. Records it holds beyond new-leader's log
are truncated on the first replica fetch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, err := cluster.ParseBrokerAddress(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := getContext()
		defer cancel()
		if err := brokerClient.Demote(ctx, leader.Host, leader.Port); err != nil {
			return err
		}
		cli.PrintSuccess("%s now follows %s", server, leader)
		return nil
	},
}

var leaderCmd = &cobra.Command{
	Use:   "leader <new-leader>",
	Short: "Point a follower at a new leader",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, err := cluster.ParseBrokerAddress(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := getContext()
		defer cancel()
		if err := brokerClient.UpdateLeader(ctx, leader.Host, leader.Port); err != nil {
			return err
		}
		cli.PrintSuccess("%s now follows %s", server, leader)
		return nil
	},
}
