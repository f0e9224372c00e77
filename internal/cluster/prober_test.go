package cluster

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	addr := BrokerAddress{Host: "127.0.0.1", Port: p}

	prober := TCPProber{Timeout: time.Second}
	if err := prober.Probe(context.Background(), addr); err != nil {
		t.Fatalf("Probe of listening broker: %v", err)
	}

	ln.Close()
	if err := prober.Probe(context.Background(), addr); err == nil {
		t.Fatal("Probe succeeded after listener closed")
	}
}
