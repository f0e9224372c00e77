// =============================================================================
// KAFKALITE CLI - MAIN ENTRY POINT
// =============================================================================
//
// Command-line client for kafka-lite brokers.
//
// EXAMPLES:
//   kafkalite-cli produce orders -m "hello" -k user-1
//   kafkalite-cli consume orders 0
//   kafkalite-cli consume orders --group billing --count 10 --commit
//   kafkalite-cli topics -o json
//   kafkalite-cli promote -s 10.0.0.2:9092
//
// CONFIGURATION:
//   Config file: ~/.kafkalite/config.yaml
//   Env vars: KAFKALITE_SERVER, KAFKALITE_CONTEXT, KAFKALITE_TIMEOUT
//
// =============================================================================

package main

import (
	"os"

	"github.com/andrewc773/kafka-lite/cmd/kafkalite-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
