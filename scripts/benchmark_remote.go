// =============================================================================
// REMOTE BENCHMARK CLIENT FOR KAFKA-LITE
// =============================================================================
//
// Measures produce throughput against a leader and, optionally, how long a
// follower takes to catch up once the producers stop.
//
// Every produce is one HTTP request and one fsync, so throughput is bounded
// by disk flush latency rather than by the network.
//
// USAGE:
//   go run scripts/benchmark_remote.go -leader 10.0.0.1:9092 -topic bench
//   go run scripts/benchmark_remote.go -leader 10.0.0.1:9092 -follower 10.0.0.2:9092
//
// =============================================================================

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/andrewc773/kafka-lite/pkg/client"
)

// ProduceResult holds statistics from a benchmark run
type ProduceResult struct {
	TotalRecords   int64
	TotalDuration  time.Duration
	SuccessCount   int64
	ErrorCount     int64
	ThroughputRecS float64
	ThroughputMBs  float64
	AvgLatencyMs   float64
	P99LatencyMs   float64
	CatchUp        time.Duration
}

var (
	leaderAddr   = pflag.String("leader", "localhost:9092", "Leader broker address")
	followerAddr = pflag.String("follower", "", "Follower to measure catch-up on (optional)")
	topicName    = pflag.String("topic", "bench", "Topic name")
	numRecords   = pflag.Int("records", 10000, "Records to produce")
	concurrency  = pflag.Int("concurrency", 4, "Number of parallel producers")
	recordSize   = pflag.Int("size", 256, "Record value size in bytes")
)

func main() {
	pflag.Parse()

	rule := strings.Repeat("=", 79)
	fmt.Println(rule)
	fmt.Println("KAFKA-LITE REMOTE BENCHMARK")
	fmt.Println(rule)
	fmt.Printf("Leader:      %s\n", *leaderAddr)
	fmt.Printf("Follower:    %s\n", *followerAddr)
	fmt.Printf("Topic:       %s\n", *topicName)
	fmt.Printf("Records:     %d\n", *numRecords)
	fmt.Printf("Concurrency: %d producers\n", *concurrency)
	fmt.Printf("Record Size: %d bytes\n", *recordSize)

	leader := client.New(client.DefaultConfig(*leaderAddr))
	if err := leader.Health(context.Background()); err != nil {
		fmt.Printf("ERROR: Cannot reach %s: %v\n", *leaderAddr, err)
		os.Exit(1)
	}
	fmt.Println("✓ Health check passed")

	payload := make([]byte, *recordSize)
	for i := range payload {
		payload[i] = byte('A' + (i % 26))
	}

	fmt.Println("\nStarting benchmark...")
	result := runBenchmark(leader, payload)

	if *followerAddr != "" {
		follower := client.New(client.DefaultConfig(*followerAddr))
		catchUp, err := measureCatchUp(leader, follower)
		if err != nil {
			fmt.Printf("WARN: follower catch-up: %v\n", err)
		}
		result.CatchUp = catchUp
	}

	fmt.Println("\n" + rule)
	fmt.Println("BENCHMARK RESULTS")
	fmt.Println(rule)
	fmt.Printf("Total Records:      %d\n", result.TotalRecords)
	fmt.Printf("Total Duration:     %.2fs\n", result.TotalDuration.Seconds())
	fmt.Printf("Success Count:      %d\n", result.SuccessCount)
	fmt.Printf("Error Count:        %d\n", result.ErrorCount)
	fmt.Printf("THROUGHPUT:         %.0f rec/sec\n", result.ThroughputRecS)
	fmt.Printf("THROUGHPUT:         %.2f MB/sec\n", result.ThroughputMBs)
	fmt.Printf("Avg Latency:        %.2f ms\n", result.AvgLatencyMs)
	fmt.Printf("P99 Latency:        %.2f ms\n", result.P99LatencyMs)
	if *followerAddr != "" {
		fmt.Printf("Follower Catch-up:  %s\n", result.CatchUp.Round(time.Millisecond))
	}
	fmt.Println(rule)
}

func runBenchmark(leader *client.Client, payload []byte) ProduceResult {
	var (
		successCount int64
		errorCount   int64
		mu           sync.Mutex
		latencies    = make([]time.Duration, 0, *numRecords)
	)

	perWorker := *numRecords / *concurrency
	start := time.Now()

	var g errgroup.Group
	for w := 0; w < *concurrency; w++ {
		workerID := w
		g.Go(func() error {
			local := make([]time.Duration, 0, perWorker)
			key := []byte(fmt.Sprintf("producer-%d", workerID))

			for i := 0; i < perWorker; i++ {
				sent := time.Now()
				if _, err := leader.Produce(context.Background(), *topicName, key, payload); err != nil {
					atomic.AddInt64(&errorCount, 1)
					continue
				}
				atomic.AddInt64(&successCount, 1)
				local = append(local, time.Since(sent))

				if (i+1)%1000 == 0 {
					fmt.Printf("Producer %d: %d/%d records\n", workerID, i+1, perWorker)
				}
			}

			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	duration := time.Since(start)

	total := int64(perWorker) * int64(*concurrency)
	dataMB := float64(successCount) * float64(*recordSize) / (1024 * 1024)

	return ProduceResult{
		TotalRecords:   total,
		TotalDuration:  duration,
		SuccessCount:   successCount,
		ErrorCount:     errorCount,
		ThroughputRecS: float64(successCount) / duration.Seconds(),
		ThroughputMBs:  dataMB / duration.Seconds(),
		AvgLatencyMs:   average(latencies),
		P99LatencyMs:   percentile(latencies, 0.99),
	}
}

// measureCatchUp polls the follower until its next offset matches the leader's.
func measureCatchUp(leader, follower *client.Client) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	target, err := leader.GetOffset(ctx, *topicName)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		got, err := follower.GetOffset(ctx, *topicName)
		if err == nil && got >= target {
			return time.Since(start), nil
		}
		select {
		case <-ctx.Done():
			return time.Since(start), fmt.Errorf("follower stuck below %d: %w", target, ctx.Err())
		case <-ticker.C:
		}
	}
}

func average(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return float64(sum.Microseconds()) / float64(len(samples)) / 1000
}

func percentile(samples []time.Duration, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := int(float64(len(samples)-1) * p)
	return float64(samples[idx].Microseconds()) / 1000
}
