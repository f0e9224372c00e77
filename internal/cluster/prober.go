package cluster

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Prober checks whether a broker is reachable.
type Prober interface {
	Probe(ctx context.Context, addr BrokerAddress) error
}

// TCPProber considers a broker alive if its listener accepts a TCP connection.
type TCPProber struct {
	// Timeout bounds each dial.
	Timeout time.Duration
}

// Probe dials addr and closes the connection immediately.
func (p TCPProber) Probe(ctx context.Context, addr BrokerAddress) error {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	return conn.Close()
}
