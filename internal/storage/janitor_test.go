package storage

import (
	"sync/atomic"
	"testing"
	"time"
)

type staticLogs []*Log

func (s staticLogs) Logs() []*Log { return s }

func TestJanitor_SweepDeletesExpiredSegments(t *testing.T) {
	a := openTestLog(t, t.TempDir(), rotatingConfig())
	b := openTestLog(t, t.TempDir(), rotatingConfig())
	appendLogN(t, a, 10) // 4 segments
	appendLogN(t, b, 2)  // 1 segment

	var notified atomic.Int32
	j := NewJanitor(staticLogs{a, b}, time.Minute, func(_ *Log, deleted int) {
		notified.Add(int32(deleted))
	}, nil)

	if n := j.Sweep(time.Now().Add(2 * time.Hour)); n != 3 {
		t.Errorf("Sweep deleted %d segments, want 3", n)
	}
	if notified.Load() != 3 {
		t.Errorf("callback saw %d deletions, want 3", notified.Load())
	}
	if a.SegmentCount() != 1 || b.SegmentCount() != 1 {
		t.Errorf("segment counts = %d, %d", a.SegmentCount(), b.SegmentCount())
	}
}

func TestJanitor_StartStop(t *testing.T) {
	config := rotatingConfig()
	config.Retention = 10 * time.Millisecond
	log := openTestLog(t, t.TempDir(), config)
	appendLogN(t, log, 10)

	j := NewJanitor(staticLogs{log}, 5*time.Millisecond, nil, nil)
	j.Start()
	j.Start() // second start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for log.SegmentCount() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	j.Stop()
	j.Stop()

	if log.SegmentCount() != 1 {
		t.Errorf("SegmentCount = %d after janitor ran, want 1", log.SegmentCount())
	}
	if log.NextOffset() != 10 {
		t.Errorf("NextOffset = %d, want 10", log.NextOffset())
	}
}
