// =============================================================================
// CLI OUTPUT FORMATTER - TABLE, JSON, YAML OUTPUT SUPPORT
// =============================================================================
//
// WHAT IS THIS?
// Output formatting for kafkalite-cli:
//   - Table (default): human-readable columns
//   - JSON: for scripting with jq
//   - YAML: configuration-friendly
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │  $ kafkalite-cli consume orders --from 0 --count 2                      │
//   │  OFFSET  TIMESTAMP                 KEY     VALUE                        │
//   │  0       2024-05-01T10:00:00.000Z  user-1  hello                        │
//   │  1       2024-05-01T10:00:00.250Z  -       world                        │
//   │                                                                         │
//   │  $ kafkalite-cli topics -o json | jq '.[]'                              │
//   │  "orders"                                                               │
//   └─────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andrewc773/kafka-lite/internal/storage"
	"github.com/andrewc773/kafka-lite/pkg/client"
)

// =============================================================================
// OUTPUT FORMAT
// =============================================================================

// OutputFormat represents the output format type.
type OutputFormat string

// Supported output formats
const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// ParseOutputFormat parses an output format string.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return OutputTable, nil
	case "json":
		return OutputJSON, nil
	case "yaml", "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: table, json, yaml)", s)
	}
}

// =============================================================================
// FORMATTER
// =============================================================================

// Formatter handles output formatting for CLI commands.
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter with the specified format.
func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer (for testing).
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// structured writes data as JSON or YAML. Returns false for table output.
func (f *Formatter) structured(data interface{}) (bool, error) {
	switch f.format {
	case OutputJSON:
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(data)
	case OutputYAML:
		encoder := yaml.NewEncoder(f.writer)
		encoder.SetIndent(2)
		return true, encoder.Encode(data)
	default:
		return false, nil
	}
}

// =============================================================================
// TABLE FORMATTING
// =============================================================================

// TableWriter wraps tabwriter for column output.
type TableWriter struct {
	tw *tabwriter.Writer
}

// Table creates a table writer with the given headers already written.
func (f *Formatter) Table(headers ...string) *TableWriter {
	t := &TableWriter{tw: tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)}
	if len(headers) > 0 {
		upper := make([]string, len(headers))
		for i, h := range headers {
			upper[i] = strings.ToUpper(h)
		}
		fmt.Fprintln(t.tw, strings.Join(upper, "\t"))
	}
	return t
}

// WriteRow writes a single row.
func (t *TableWriter) WriteRow(values ...interface{}) {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(t.tw, strings.Join(strs, "\t"))
}

// Flush flushes the table writer.
func (t *TableWriter) Flush() error {
	return t.tw.Flush()
}

// =============================================================================
// DATA TYPE FORMATTERS
// =============================================================================

// RecordView is a record as shown to users; key and value are text.
type RecordView struct {
	Offset    int64  `json:"offset" yaml:"offset"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Key       string `json:"key,omitempty" yaml:"key,omitempty"`
	Value     string `json:"value" yaml:"value"`
}

// NewRecordView converts a stored record for display.
func NewRecordView(rec *storage.Record) RecordView {
	return RecordView{
		Offset:    rec.Offset,
		Timestamp: time.UnixMilli(rec.Timestamp).UTC().Format("2006-01-02T15:04:05.000Z"),
		Key:       string(rec.Key),
		Value:     string(rec.Value),
	}
}

// FormatTopics outputs a list of topics.
func (f *Formatter) FormatTopics(topics []string) error {
	if topics == nil {
		topics = []string{}
	}
	if ok, err := f.structured(topics); ok {
		return err
	}

	table := f.Table("name")
	for _, topic := range topics {
		table.WriteRow(topic)
	}
	return table.Flush()
}

// FormatRecords outputs consumed records.
func (f *Formatter) FormatRecords(records []RecordView) error {
	if records == nil {
		records = []RecordView{}
	}
	if ok, err := f.structured(records); ok {
		return err
	}

	table := f.Table("offset", "timestamp", "key", "value")
	for _, r := range records {
		key := r.Key
		if key == "" {
			key = "-"
		}
		table.WriteRow(r.Offset, r.Timestamp, key, r.Value)
	}
	return table.Flush()
}

// OffsetView is a single named offset.
type OffsetView struct {
	Topic  string `json:"topic" yaml:"topic"`
	Group  string `json:"group,omitempty" yaml:"group,omitempty"`
	Offset int64  `json:"offset" yaml:"offset"`
}

// FormatOffset outputs a topic's next offset or a group's committed offset.
func (f *Formatter) FormatOffset(view OffsetView) error {
	if ok, err := f.structured(view); ok {
		return err
	}

	if view.Offset < 0 {
		if view.Group != "" {
			fmt.Fprintf(f.writer, "group %s has no committed offset for %s\n", view.Group, view.Topic)
		} else {
			fmt.Fprintf(f.writer, "topic %s does not exist\n", view.Topic)
		}
		return nil
	}
	if view.Group != "" {
		fmt.Fprintf(f.writer, "%s/%s: %d\n", view.Group, view.Topic, view.Offset)
		return nil
	}
	fmt.Fprintf(f.writer, "%s: %d\n", view.Topic, view.Offset)
	return nil
}

// FormatStats outputs a broker's stats line and role.
func (f *Formatter) FormatStats(server string, stats *client.StatsResponse) error {
	if ok, err := f.structured(stats); ok {
		return err
	}

	fmt.Fprintf(f.writer, "Broker: %s\n", server)
	fmt.Fprintf(f.writer, "Role:   %s\n", stats.Role)
	if stats.Leader != "" {
		fmt.Fprintf(f.writer, "Leader: %s\n", stats.Leader)
	}
	fmt.Fprintf(f.writer, "Stats:  %s\n", stats.Stats)
	return nil
}

// FormatContexts outputs the CLI contexts, marking the current one.
func (f *Formatter) FormatContexts(config *Config) error {
	if ok, err := f.structured(config); ok {
		return err
	}

	table := f.Table("name", "server", "timeout", "current")
	for _, name := range config.ListContexts() {
		ctx := config.Contexts[name]
		timeout := "-"
		if ctx.Timeout > 0 {
			timeout = fmt.Sprintf("%ds", ctx.Timeout)
		}
		current := ""
		if name == config.CurrentContext {
			current = "*"
		}
		table.WriteRow(name, ctx.Server, timeout, current)
	}
	return table.Flush()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// PrintError prints an error message to stderr.
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message.
func PrintSuccess(format string, args ...interface{}) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// PrintInfo prints an info message.
func PrintInfo(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}
