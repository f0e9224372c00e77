package metrics

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats produces the one-line broker summary returned by the STATS request:
//
//	UPTIME=42s, MSG_COUNT=1200, MSG_PER_SEC=28.57, LAST_LATENCY=3ms, DISK_USAGE=96KB
//
// Latency uses the monotonic clock carried by time.Time; uptime uses wall time.
type Stats struct {
	start       time.Time
	messages    atomic.Int64
	lastLatency atomic.Int64 // nanoseconds

	now func() time.Time
}

// NewStats starts the uptime clock.
func NewStats() *Stats {
	return &Stats{start: time.Now(), now: time.Now}
}

// RecordMessage counts one produced record and remembers its latency.
func (s *Stats) RecordMessage(latency time.Duration) {
	s.messages.Add(1)
	s.lastLatency.Store(int64(latency))
}

// MessageCount returns the number of recorded messages.
func (s *Stats) MessageCount() int64 {
	return s.messages.Load()
}

// Report formats the summary with the given disk usage.
func (s *Stats) Report(diskUsageBytes int64) string {
	uptime := int64(s.now().Sub(s.start) / time.Second)
	count := s.messages.Load()

	perSec := float64(count)
	if uptime > 0 {
		perSec = float64(count) / float64(uptime)
	}

	return fmt.Sprintf("UPTIME=%ds, MSG_COUNT=%d, MSG_PER_SEC=%.2f, LAST_LATENCY=%dms, DISK_USAGE=%dKB",
		uptime,
		count,
		perSec,
		time.Duration(s.lastLatency.Load()).Milliseconds(),
		diskUsageBytes/1024,
	)
}
