package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// CONFIG VALIDATION
// =============================================================================
//
// PATTERN: ACCUMULATE ERRORS
// Every problem is collected and returned together so the operator fixes the
// whole file in one pass.
//
// =============================================================================

// ValidationError holds one or more configuration validation failures.
type ValidationError struct {
	Errors []string
}

// Error formats all failures as a numbered list.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0])
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err)
	}
	return b.String()
}

// =============================================================================
// BROKER CONFIG VALIDATION
// =============================================================================

// Validate checks the broker configuration. Returns nil or *ValidationError.
func (c BrokerConfig) Validate() error {
	var errs []string

	if c.NodeID == "" {
		errs = append(errs, "node_id: must not be empty")
	} else if strings.ContainsAny(c.NodeID, " \t\n\r") {
		errs = append(errs, "node_id: must not contain whitespace")
	}

	if c.DataDir == "" {
		errs = append(errs, "data_dir: must not be empty")
	} else {
		errs = append(errs, validateDataDir(c.DataDir)...)
	}

	if err := validateAddress(c.ListenAddress); err != nil {
		errs = append(errs, fmt.Sprintf("listen_address: invalid: %v", err))
	}

	s := c.Storage
	if s.MaxSegmentBytes <= 0 {
		errs = append(errs, fmt.Sprintf("storage.max_segment_bytes: must be > 0, got %d", s.MaxSegmentBytes))
	}
	if s.IndexIntervalBytes <= 0 {
		errs = append(errs, fmt.Sprintf("storage.index_interval_bytes: must be > 0, got %d", s.IndexIntervalBytes))
	}
	if s.RetentionMs <= 0 {
		errs = append(errs, fmt.Sprintf("storage.retention_ms: must be > 0, got %d", s.RetentionMs))
	}
	if s.CleanupIntervalMs <= 0 {
		errs = append(errs, fmt.Sprintf("storage.cleanup_interval_ms: must be > 0, got %d", s.CleanupIntervalMs))
	}

	r := c.Replication
	if !r.IsLeader {
		if r.LeaderHost == "" {
			errs = append(errs, "replication.leader_host: required when is_leader is false")
		}
		if r.LeaderPort <= 0 || r.LeaderPort > 65535 {
			errs = append(errs, fmt.Sprintf("replication.leader_port: must be 1-65535, got %d", r.LeaderPort))
		}
	}
	if r.DiscoveryIntervalMs <= 0 {
		errs = append(errs, fmt.Sprintf("replication.discovery_interval_ms: must be > 0, got %d", r.DiscoveryIntervalMs))
	}
	if r.FetchBatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("replication.fetch_batch_size: must be > 0, got %d", r.FetchBatchSize))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// =============================================================================
// CONTROLLER CONFIG VALIDATION
// =============================================================================

// Validate checks the controller configuration. Returns nil or *ValidationError.
func (c ControllerConfig) Validate() error {
	var errs []string

	if err := validateAddress(c.Leader); err != nil {
		errs = append(errs, fmt.Sprintf("leader: invalid address %q: %v", c.Leader, err))
	}
	if len(c.Followers) == 0 {
		errs = append(errs, "followers: at least one follower is required")
	}
	seen := map[string]bool{c.Leader: true}
	for i, f := range c.Followers {
		if err := validateAddress(f); err != nil {
			errs = append(errs, fmt.Sprintf("followers[%d]: invalid address %q: %v", i, f, err))
			continue
		}
		if seen[f] {
			errs = append(errs, fmt.Sprintf("followers[%d]: %q is listed twice or is the leader", i, f))
		}
		seen[f] = true
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("poll_interval: must be > 0, got %s", c.PollInterval))
	}
	if c.FailureThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("failure_threshold: must be > 0, got %d", c.FailureThreshold))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("probe_timeout: must be > 0, got %s", c.ProbeTimeout))
	}
	if c.ReferenceTopic == "" {
		errs = append(errs, "reference_topic: must not be empty")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// validateDataDir checks that the data directory exists or can be created.
func validateDataDir(dir string) []string {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return []string{fmt.Sprintf("data_dir: cannot resolve path %q: %v", dir, err)}
	}

	info, err := os.Stat(absDir)
	if err == nil {
		if !info.IsDir() {
			return []string{fmt.Sprintf("data_dir: %q exists but is not a directory", absDir)}
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return []string{fmt.Sprintf("data_dir: cannot access %q: %v", absDir, err)}
	}

	parent := filepath.Dir(absDir)
	if _, err := os.Stat(parent); err != nil {
		return []string{fmt.Sprintf("data_dir: %q does not exist and parent %q is not accessible: %v", absDir, parent, err)}
	}
	return nil
}

// validateAddress checks that a string is a valid host:port or :port address.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be host:port format: %w", err)
	}
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}
