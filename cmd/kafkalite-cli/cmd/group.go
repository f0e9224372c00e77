// =============================================================================
// GROUP COMMANDS - CONSUMER OFFSETS
// =============================================================================
//
// USAGE:
//   kafkalite-cli commit <group> <topic> <offset>
//   kafkalite-cli fetch-offset <group> <topic>
//
// Commits are records in __consumer_offsets, so they replicate like data.
//
// =============================================================================

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andrewc773/kafka-lite/internal/cli"
)

var commitCmd = &cobra.Command{
	Use:   "commit <group> <topic> <offset>",
	Short: "Commit a consumer group's offset",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, topic := args[0], args[1]
		offset, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q", args[2])
		}

		ctx, cancel := getContext()
		defer cancel()
		if err := brokerClient.CommitOffset(ctx, group, topic, offset); err != nil {
			return err
		}

		if tableOutput() {
			cli.PrintSuccess("Committed %s/%s at %d", group, topic, offset)
			return nil
		}
		return formatter.FormatOffset(cli.OffsetView{Topic: topic, Group: group, Offset: offset})
	},
}

var fetchOffsetCmd = &cobra.Command{
	Use:   "fetch-offset <group> <topic>",
	Short: "Show a consumer group's committed offset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		offset, err := brokerClient.FetchOffset(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return formatter.FormatOffset(cli.OffsetView{Topic: args[1], Group: args[0], Offset: offset})
	},
}
