// =============================================================================
// CONFIGURATION - BROKER AND CONTROLLER SETTINGS
// =============================================================================
//
// SOURCES (later wins):
//
//   ┌──────────────┐     ┌──────────────┐     ┌──────────────┐
//   │  defaults    │ ──► │  YAML file   │ ──► │  KAFKALITE_* │
//   │ (this file)  │     │ (--config)   │     │  env vars    │
//   └──────────────┘     └──────────────┘     └──────────────┘
//
// The storage and replication values are the only knobs the core consumes:
// max segment size, index interval, retention window, sweep interval, the
// this-broker-is-leader flag and the leader's host/port.
//
// EXAMPLE broker.yaml:
//
//   node_id: broker-1
//   listen_address: ":9092"
//   data_dir: /var/lib/kafka-lite
//   storage:
//     max_segment_bytes: 1048576
//     index_interval_bytes: 4096
//     retention_ms: 3600000
//     cleanup_interval_ms: 60000
//   replication:
//     is_leader: false
//     leader_host: broker-0
//     leader_port: 9092
//
// =============================================================================

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andrewc773/kafka-lite/internal/storage"
)

// =============================================================================
// BROKER CONFIG
// =============================================================================

// BrokerConfig is the full configuration of one broker process.
type BrokerConfig struct {
	// NodeID names this broker in logs and metrics
	NodeID string `yaml:"node_id"`

	// ListenAddress is the HTTP listener, "host:port" or ":port"
	ListenAddress string `yaml:"listen_address"`

	// DataDir holds one subdirectory per topic
	DataDir string `yaml:"data_dir"`

	// LogLevel is debug, info, warn or error
	LogLevel string `yaml:"log_level"`

	Storage     StorageConfig     `yaml:"storage"`
	Replication ReplicationConfig `yaml:"replication"`
}

// StorageConfig holds segment and retention limits.
type StorageConfig struct {
	MaxSegmentBytes    int64 `yaml:"max_segment_bytes"`
	IndexIntervalBytes int64 `yaml:"index_interval_bytes"`
	RetentionMs        int64 `yaml:"retention_ms"`
	CleanupIntervalMs  int64 `yaml:"cleanup_interval_ms"`
}

// ReplicationConfig describes this broker's initial role.
type ReplicationConfig struct {
	IsLeader   bool   `yaml:"is_leader"`
	LeaderHost string `yaml:"leader_host"`
	LeaderPort int    `yaml:"leader_port"`

	// DiscoveryIntervalMs is how often a follower looks for new topics
	DiscoveryIntervalMs int64 `yaml:"discovery_interval_ms"`

	// FetchBatchSize bounds one replica fetch
	FetchBatchSize int `yaml:"fetch_batch_size"`
}

// DefaultBrokerConfig returns a standalone leader listening on :9092.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		NodeID:        "broker-0",
		ListenAddress: ":9092",
		DataDir:       "data",
		LogLevel:      "info",
		Storage: StorageConfig{
			MaxSegmentBytes:    2048,
			IndexIntervalBytes: 2048,
			RetentionMs:        300000,
			CleanupIntervalMs:  60000,
		},
		Replication: ReplicationConfig{
			IsLeader:            true,
			LeaderHost:          "localhost",
			LeaderPort:          9092,
			DiscoveryIntervalMs: 5000,
			FetchBatchSize:      100,
		},
	}
}

// LogConfig converts the storage section to the storage package's limits.
func (c BrokerConfig) LogConfig() storage.LogConfig {
	return storage.LogConfig{
		MaxSegmentBytes:    c.Storage.MaxSegmentBytes,
		IndexIntervalBytes: c.Storage.IndexIntervalBytes,
		Retention:          time.Duration(c.Storage.RetentionMs) * time.Millisecond,
	}
}

// CleanupInterval is the janitor period.
func (c BrokerConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Storage.CleanupIntervalMs) * time.Millisecond
}

// DiscoveryInterval is the replication supervisor's topic discovery period.
func (c BrokerConfig) DiscoveryInterval() time.Duration {
	return time.Duration(c.Replication.DiscoveryIntervalMs) * time.Millisecond
}

// LeaderAddress returns "host:port" of the configured leader.
func (c BrokerConfig) LeaderAddress() string {
	return fmt.Sprintf("%s:%d", c.Replication.LeaderHost, c.Replication.LeaderPort)
}

// LoadBrokerConfig reads a YAML file on top of the defaults. An empty path
// returns the defaults.
func LoadBrokerConfig(path string) (BrokerConfig, error) {
	cfg := DefaultBrokerConfig()
	if path == "" {
		return cfg, nil
	}
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from KAFKALITE_* environment variables.
func (c *BrokerConfig) ApplyEnv() error {
	var errs []string

	setString(&c.NodeID, "KAFKALITE_NODE_ID")
	setString(&c.ListenAddress, "KAFKALITE_LISTEN_ADDRESS")
	setString(&c.DataDir, "KAFKALITE_DATA_DIR")
	setString(&c.LogLevel, "KAFKALITE_LOG_LEVEL")
	setString(&c.Replication.LeaderHost, "KAFKALITE_LEADER_HOST")

	errs = appendErr(errs, setInt64(&c.Storage.MaxSegmentBytes, "KAFKALITE_MAX_SEGMENT_BYTES"))
	errs = appendErr(errs, setInt64(&c.Storage.IndexIntervalBytes, "KAFKALITE_INDEX_INTERVAL_BYTES"))
	errs = appendErr(errs, setInt64(&c.Storage.RetentionMs, "KAFKALITE_RETENTION_MS"))
	errs = appendErr(errs, setInt64(&c.Storage.CleanupIntervalMs, "KAFKALITE_CLEANUP_INTERVAL_MS"))

	if v := os.Getenv("KAFKALITE_LEADER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("KAFKALITE_LEADER_PORT: %v", err))
		} else {
			c.Replication.LeaderPort = port
		}
	}
	if v := os.Getenv("KAFKALITE_IS_LEADER"); v != "" {
		isLeader, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("KAFKALITE_IS_LEADER: %v", err))
		} else {
			c.Replication.IsLeader = isLeader
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c BrokerConfig) SlogLevel() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// =============================================================================
// CONTROLLER CONFIG
// =============================================================================

// ControllerConfig configures the external cluster controller.
type ControllerConfig struct {
	// Leader is the configured (original) leader, "host:port"
	Leader string `yaml:"leader"`

	// Followers are the brokers eligible for promotion, in preference order
	Followers []string `yaml:"followers"`

	// PollInterval between liveness probes of the active leader
	PollInterval time.Duration `yaml:"poll_interval"`

	// FailureThreshold consecutive failed probes declare the leader dead
	FailureThreshold int `yaml:"failure_threshold"`

	// ProbeTimeout bounds each liveness probe and each RPC
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// ReferenceTopic is compared across followers during election
	ReferenceTopic string `yaml:"reference_topic"`

	// MetricsAddress serves /metrics for the controller; empty disables it
	MetricsAddress string `yaml:"metrics_address"`

	LogLevel string `yaml:"log_level"`
}

// DefaultControllerConfig returns a 2s/3-strike controller for localhost:9092.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Leader:           "localhost:9092",
		PollInterval:     2 * time.Second,
		FailureThreshold: 3,
		ProbeTimeout:     2 * time.Second,
		ReferenceTopic:   "p1",
		LogLevel:         "info",
	}
}

// LoadControllerConfig reads a YAML file on top of the defaults.
func LoadControllerConfig(path string) (ControllerConfig, error) {
	cfg := DefaultControllerConfig()
	if path == "" {
		return cfg, nil
	}
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DetectionLatency is the worst-case time to declare the leader dead.
func (c ControllerConfig) DetectionLatency() time.Duration {
	return time.Duration(c.FailureThreshold) * c.PollInterval
}

// =============================================================================
// HELPERS
// =============================================================================

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ParseLogLevel maps a level name to slog, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func appendErr(errs []string, err error) []string {
	if err != nil {
		return append(errs, err.Error())
	}
	return errs
}
