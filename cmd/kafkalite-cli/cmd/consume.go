// =============================================================================
// CONSUME COMMAND - READ RECORDS
// =============================================================================
//
// USAGE:
//   kafkalite-cli consume <topic> <offset>              # one record
//   kafkalite-cli consume <topic> --from 10 --count 5   # a range
//   kafkalite-cli consume <topic> --group billing --commit
//
// With --group the range starts at the group's committed offset (or 0), and
// --commit stores the offset after the last record read.
//
// =============================================================================

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andrewc773/kafka-lite/internal/cli"
)

var (
	consumeFrom   int64
	consumeCount  int
	consumeGroup  string
	consumeCommit bool
)

var consumeCmd = &cobra.Command{
	Use:   "consume <topic> [offset]",
	Short: "Read records from a topic",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runConsume,
}

func init() {
	consumeCmd.Flags().Int64Var(&consumeFrom, "from", -1, "First offset to read (default: group offset or 0)")
	consumeCmd.Flags().IntVarP(&consumeCount, "count", "n", 10, "Maximum records to read")
	consumeCmd.Flags().StringVarP(&consumeGroup, "group", "g", "", "Consumer group to start from")
	consumeCmd.Flags().BoolVar(&consumeCommit, "commit", false, "Commit the next offset for --group")
}

func runConsume(cmd *cobra.Command, args []string) error {
	topic := args[0]

	if len(args) == 2 {
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || offset < 0 {
			return fmt.Errorf("invalid offset %q", args[1])
		}
		ctx, cancel := getContext()
		defer cancel()

		rec, err := brokerClient.Consume(ctx, topic, offset)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no record at offset %d in %s", offset, topic)
		}
		return formatter.FormatRecords([]cli.RecordView{cli.NewRecordView(rec)})
	}

	if consumeCommit && consumeGroup == "" {
		return fmt.Errorf("--commit requires --group")
	}

	start, err := startOffset(topic)
	if err != nil {
		return err
	}

	var records []cli.RecordView
	next := start
	for len(records) < consumeCount {
		ctx, cancel := getContext()
		rec, err := brokerClient.Consume(ctx, topic, next)
		cancel()
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		records = append(records, cli.NewRecordView(rec))
		next = rec.Offset + 1
	}

	if err := formatter.FormatRecords(records); err != nil {
		return err
	}

	if consumeCommit && next > start {
		ctx, cancel := getContext()
		defer cancel()
		if err := brokerClient.CommitOffset(ctx, consumeGroup, topic, next); err != nil {
			return err
		}
		if tableOutput() {
			cli.PrintInfo("committed %s/%s at %d", consumeGroup, topic, next)
		}
	}
	return nil
}

// startOffset resolves --from, then the group's committed offset, then 0.
func startOffset(topic string) (int64, error) {
	if consumeFrom >= 0 {
		return consumeFrom, nil
	}
	if consumeGroup == "" {
		return 0, nil
	}

	ctx, cancel := getContext()
	defer cancel()
	committed, err := brokerClient.FetchOffset(ctx, consumeGroup, topic)
	if err != nil {
		return 0, err
	}
	if committed < 0 {
		return 0, nil
	}
	return committed, nil
}
