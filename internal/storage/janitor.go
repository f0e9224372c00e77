// =============================================================================
// JANITOR - PERIODIC RETENTION SWEEPS
// =============================================================================
//
// The janitor wakes up every cleanup interval and asks each log to delete its
// expired sealed segments. It owns no data itself; the set of logs is pulled
// from a LogSource on every sweep so topics created after startup are covered.
//
// SHUTDOWN:
// Stop cancels the context and waits for the goroutine. A sweep already in
// progress finishes its current log (no segment is left half deleted).
//
// =============================================================================

package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogSource provides the logs a janitor sweeps.
type LogSource interface {
	Logs() []*Log
}

// SweepFunc is notified after each log sweep that deleted segments.
type SweepFunc func(log *Log, deleted int)

// Janitor runs retention cleanup on a fixed interval.
type Janitor struct {
	source   LogSource
	interval time.Duration
	onSweep  SweepFunc
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a janitor. onSweep may be nil.
func NewJanitor(source LogSource, interval time.Duration, onSweep SweepFunc, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		source:   source,
		interval: interval,
		onSweep:  onSweep,
		logger:   logger.With("component", "janitor"),
	}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	j.ctx, j.cancel = context.WithCancel(context.Background())
	j.running = true

	j.wg.Add(1)
	go j.loop()

	j.logger.Info("janitor started", "interval", j.interval)
}

// Stop ends the loop and waits for the in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.cancel()
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("janitor stopped")
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case now := <-ticker.C:
			j.Sweep(now)
		}
	}
}

// Sweep runs one cleanup pass over every log and returns the number of
// segments deleted.
func (j *Janitor) Sweep(now time.Time) int {
	total := 0
	for _, log := range j.source.Logs() {
		deleted, err := log.Cleanup(now)
		if err != nil {
			j.logger.Error("retention sweep failed", "dir", log.Dir(), "error", err)
		}
		if deleted > 0 {
			total += deleted
			if j.onSweep != nil {
				j.onSweep(log, deleted)
			}
		}
	}
	return total
}
