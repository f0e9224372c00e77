// =============================================================================
// CLUSTER TYPES - FOUNDATIONAL DATA STRUCTURES
// =============================================================================
//
// WHY: These types are the shared vocabulary of brokers and the controller.
// A broker's identity in the cluster is simply where it listens: host:port.
// There is no separate node ID; two addresses are the same node iff they
// compare equal.
//
// =============================================================================

package cluster

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// =============================================================================
// BROKER ADDRESS
// =============================================================================

// ErrInvalidAddress means a broker address could not be parsed.
var ErrInvalidAddress = errors.New("invalid broker address")

// BrokerAddress identifies a broker. Comparable, usable as a map key.
type BrokerAddress struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// ParseBrokerAddress parses "host:port".
func ParseBrokerAddress(s string) (BrokerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return BrokerAddress{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return BrokerAddress{}, fmt.Errorf("%w %q: port is not a number", ErrInvalidAddress, s)
	}
	addr := BrokerAddress{Host: host, Port: port}
	if !addr.IsValid() {
		return BrokerAddress{}, fmt.Errorf("%w %q", ErrInvalidAddress, s)
	}
	return addr, nil
}

// MustParseBrokerAddress is ParseBrokerAddress for constants and tests.
func MustParseBrokerAddress(s string) BrokerAddress {
	addr, err := ParseBrokerAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// String returns "host:port".
func (a BrokerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsValid reports whether the address has a host and a port in range.
func (a BrokerAddress) IsValid() bool {
	return a.Host != "" && a.Port > 0 && a.Port <= 65535
}

// IsZero reports whether the address is unset.
func (a BrokerAddress) IsZero() bool {
	return a == BrokerAddress{}
}

// =============================================================================
// NODE STATUS
// =============================================================================
//
// Derived by the controller from consecutive failed liveness probes:
//
//   failures == 0          → ALIVE
//   0 < failures < limit   → SUSPECT
//   failures >= limit      → DEAD (triggers election for the active leader)
//

// NodeStatus is a broker's health as seen by the controller.
type NodeStatus int

const (
	NodeAlive NodeStatus = iota
	NodeSuspect
	NodeDead
)

// String implements fmt.Stringer.
func (s NodeStatus) String() string {
	switch s {
	case NodeAlive:
		return "ALIVE"
	case NodeSuspect:
		return "SUSPECT"
	case NodeDead:
		return "DEAD"
	default:
		return fmt.Sprintf("NodeStatus(%d)", int(s))
	}
}

// statusFor maps consecutive probe failures to a status.
func statusFor(failures, threshold int) NodeStatus {
	switch {
	case failures <= 0:
		return NodeAlive
	case failures < threshold:
		return NodeSuspect
	default:
		return NodeDead
	}
}
