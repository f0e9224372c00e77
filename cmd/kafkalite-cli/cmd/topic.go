// =============================================================================
// TOPIC COMMANDS - OFFSETS AND LISTING
// =============================================================================
//
// USAGE:
//   kafkalite-cli topics
//   kafkalite-cli offset <topic>      # next offset, or "does not exist"
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/andrewc773/kafka-lite/internal/cli"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List topics on the broker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		topics, err := brokerClient.ListTopics(ctx)
		if err != nil {
			return err
		}
		return formatter.FormatTopics(topics)
	},
}

var offsetCmd = &cobra.Command{
	Use:   "offset <topic>",
	Short: "Show a topic's next offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		next, err := brokerClient.GetOffset(ctx, args[0])
		if err != nil {
			return err
		}
		return formatter.FormatOffset(cli.OffsetView{Topic: args[0], Offset: next})
	},
}
