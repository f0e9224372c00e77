// =============================================================================
// PRODUCE COMMAND - APPEND RECORDS
// =============================================================================
//
// USAGE:
//   kafkalite-cli produce <topic> -m <value> [-k <key>]
//   kafkalite-cli produce <topic> -f values.txt
//
// With --file every non-empty line is one record; lines starting with # are
// skipped. The topic is created on first write.
//
// =============================================================================

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrewc773/kafka-lite/internal/cli"
)

var (
	produceMessage string
	produceKey     string
	produceFile    string
)

var produceCmd = &cobra.Command{
	Use:   "produce <topic>",
	Short: "Append records to a topic",
	Long: `Append records to a topic on the leader.

Examples:
  kafkalite-cli produce orders -m '{"order_id": 123}'
  kafkalite-cli produce orders -m "data" -k "user-123"
  kafkalite-cli produce orders -f values.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runProduce,
}

func init() {
	produceCmd.Flags().StringVarP(&produceMessage, "message", "m", "", "Record value")
	produceCmd.Flags().StringVarP(&produceKey, "key", "k", "", "Record key (optional)")
	produceCmd.Flags().StringVarP(&produceFile, "file", "f", "", "File with one value per line")
}

func runProduce(cmd *cobra.Command, args []string) error {
	topic := args[0]

	var values []string
	switch {
	case produceFile != "":
		lines, err := readValues(produceFile)
		if err != nil {
			return err
		}
		values = lines
	case cmd.Flags().Changed("message"):
		values = []string{produceMessage}
	default:
		return errors.New("either --message or --file is required")
	}

	var key []byte
	if produceKey != "" {
		key = []byte(produceKey)
	}

	offsets := make([]cli.OffsetView, 0, len(values))
	for _, v := range values {
		ctx, cancel := getContext()
		offset, err := brokerClient.Produce(ctx, topic, key, []byte(v))
		cancel()
		if err != nil {
			return err
		}
		offsets = append(offsets, cli.OffsetView{Topic: topic, Offset: offset})
	}

	if tableOutput() {
		for _, o := range offsets {
			cli.PrintSuccess("Produced to %s at offset %d", topic, o.Offset)
		}
		return nil
	}
	for _, o := range offsets {
		if err := formatter.FormatOffset(o); err != nil {
			return err
		}
	}
	return nil
}

// readValues reads one record value per line.
func readValues(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var values []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}
