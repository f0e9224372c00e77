// =============================================================================
// KAFKA-LITE BENCHMARK TEST SUITE
// =============================================================================
//
// Benchmarks against a running broker. Everything skips unless KAFKALITE_URL
// points at a reachable leader.
//
// USAGE:
//   KAFKALITE_URL=localhost:9092 go test -bench=. -benchmem -v
//
//   # Also measure follower catch-up
//   KAFKALITE_URL=10.0.0.1:9092 KAFKALITE_FOLLOWER_URL=10.0.0.2:9092 \
//     go test -run TestReplicationLag -v
//
// WHAT WE MEASURE:
//   - Produce throughput (records/sec) by value size and producer count
//   - Produce to consume latency on the leader
//   - Time for a follower to reach the leader's next offset
//
// =============================================================================

package benchmark

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/andrewc773/kafka-lite/pkg/client"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const mediumRecord = 1024

func leaderClient(tb testing.TB) *client.Client {
	tb.Helper()
	addr := os.Getenv("KAFKALITE_URL")
	if addr == "" {
		tb.Skip("KAFKALITE_URL not set")
	}
	c := client.New(client.DefaultConfig(addr))
	if err := c.Health(context.Background()); err != nil {
		tb.Skipf("broker %s unreachable: %v", addr, err)
	}
	return c
}

func uniqueTopic(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func payload(size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}

// =============================================================================
// THROUGHPUT BENCHMARKS
// =============================================================================

// BenchmarkProduceSingleRecord is the per-request floor: one HTTP round trip
// plus one fsync.
func BenchmarkProduceSingleRecord(b *testing.B) {
	c := leaderClient(b)
	topic := uniqueTopic("bench-single")
	value := payload(mediumRecord)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := c.Produce(context.Background(), topic, nil, value); err != nil {
			b.Fatalf("Produce failed: %v", err)
		}
	}
	b.StopTimer()
	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "records/sec")
}

func BenchmarkProduceValueSizes(b *testing.B) {
	c := leaderClient(b)

	for _, size := range []int{100, 1024, 10240} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			topic := uniqueTopic(fmt.Sprintf("bench-size-%d", size))
			value := payload(size)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := c.Produce(context.Background(), topic, nil, value); err != nil {
					b.Fatalf("Produce failed: %v", err)
				}
			}
			b.StopTimer()
			b.ReportMetric(float64(b.N*size)/b.Elapsed().Seconds()/1024/1024, "MB/sec")
		})
	}
}

// BenchmarkProduceConcurrent shows how far the per-log append lock lets
// concurrent producers scale on one topic.
func BenchmarkProduceConcurrent(b *testing.B) {
	c := leaderClient(b)

	for _, producers := range []int{1, 2, 4, 8, 16} {
		b.Run(fmt.Sprintf("producers=%d", producers), func(b *testing.B) {
			topic := uniqueTopic(fmt.Sprintf("bench-concurrent-%d", producers))
			value := payload(mediumRecord)

			perProducer := b.N / producers
			if perProducer < 1 {
				perProducer = 1
			}

			var produced int64
			var g errgroup.Group

			b.ResetTimer()
			for p := 0; p < producers; p++ {
				g.Go(func() error {
					for i := 0; i < perProducer; i++ {
						if _, err := c.Produce(context.Background(), topic, nil, value); err != nil {
							return err
						}
						atomic.AddInt64(&produced, 1)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				b.Fatalf("Produce failed: %v", err)
			}
			b.StopTimer()

			b.ReportMetric(float64(produced)/b.Elapsed().Seconds(), "records/sec")
		})
	}
}

// =============================================================================
// LATENCY TESTS
// =============================================================================

func TestEndToEndLatency(t *testing.T) {
	c := leaderClient(t)
	ctx := context.Background()
	topic := uniqueTopic("latency")

	const samples = 500
	latencies := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		start := time.Now()
		offset, err := c.Produce(ctx, topic, nil, []byte(fmt.Sprintf("sample-%d", i)))
		require.NoError(t, err)

		rec, err := c.Consume(ctx, topic, offset)
		require.NoError(t, err)
		require.NotNil(t, rec)
		latencies = append(latencies, time.Since(start))
	}

	logPercentiles(t, "produce+consume", latencies)
}

func TestReplicationLag(t *testing.T) {
	leader := leaderClient(t)
	followerAddr := os.Getenv("KAFKALITE_FOLLOWER_URL")
	if followerAddr == "" {
		t.Skip("KAFKALITE_FOLLOWER_URL not set")
	}
	follower := client.New(client.DefaultConfig(followerAddr))
	ctx := context.Background()
	topic := uniqueTopic("lag")

	const records = 1000
	value := payload(mediumRecord)
	for i := 0; i < records; i++ {
		_, err := leader.Produce(ctx, topic, nil, value)
		require.NoError(t, err)
	}

	start := time.Now()
	require.Eventually(t, func() bool {
		next, err := follower.GetOffset(ctx, topic)
		return err == nil && next == records
	}, 2*time.Minute, 10*time.Millisecond)

	// A new topic waits for the next discovery round before its fetcher starts.
	t.Logf("follower caught up %d records in %v", records, time.Since(start))
}

func logPercentiles(t *testing.T, label string, samples []time.Duration) {
	t.Helper()
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var total time.Duration
	for _, s := range samples {
		total += s
	}
	n := len(samples)
	t.Logf("%s latency (n=%d):", label, n)
	t.Logf("  Min:  %v", samples[0])
	t.Logf("  Avg:  %v", total/time.Duration(n))
	t.Logf("  P50:  %v", samples[n*50/100])
	t.Logf("  P95:  %v", samples[n*95/100])
	t.Logf("  P99:  %v", samples[n*99/100])
	t.Logf("  Max:  %v", samples[n-1])
}
