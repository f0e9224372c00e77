// =============================================================================
// OBSERVABILITY WITH PROMETHEUS - CORE METRICS INFRASTRUCTURE
// =============================================================================
//
// PULL MODEL:
//
//   ┌─────────┐  scrape ┌─────────────┐
//   │ broker  │◄────────│ Prometheus  │
//   │ /metrics│         │   Server    │
//   └─────────┘         └─────────────┘
//
// Each broker and the cluster controller own a Registry. Subsystems get their
// own metric groups so call sites read like:
//
//   reg.Broker.RecordProduce("orders", 128, elapsed)
//   reg.Replication.RecordDivergence("orders")
//   reg.Controller.RecordElection("promoted")
//
// WHY ONE REGISTRY PER PROCESS COMPONENT (NOT prometheus.DefaultRegisterer)?
// Tests spin up several brokers in one process; separate registries keep
// their series apart and avoid duplicate-registration panics.
//
// NAMING: {namespace}_{subsystem}_{name}_{unit}
//   kafkalite_broker_records_produced_total{topic="orders"}
//   kafkalite_storage_disk_usage_bytes{topic="orders"}
//
// =============================================================================

package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls metric collection.
type Config struct {
	// Namespace prefixes every metric name
	Namespace string

	// IncludeGoCollector adds Go runtime metrics (goroutines, GC, memory)
	IncludeGoCollector bool

	// IncludeProcessCollector adds process metrics (CPU, RSS, open fds)
	IncludeProcessCollector bool

	// HistogramBuckets for latency measurements (in seconds)
	HistogramBuckets []float64
}

// DefaultConfig returns production defaults.
//
// Every append is fsynced, so produce latency sits in the low milliseconds;
// buckets are dense between 0.5ms and 50ms.
func DefaultConfig() Config {
	return Config{
		Namespace:               "kafkalite",
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
		HistogramBuckets: []float64{
			0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5,
		},
	}
}

// TestConfig returns a config without runtime collectors, for tests.
func TestConfig() Config {
	cfg := DefaultConfig()
	cfg.IncludeGoCollector = false
	cfg.IncludeProcessCollector = false
	return cfg
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry owns a Prometheus registry and the subsystem metric groups.
type Registry struct {
	promRegistry *prometheus.Registry
	config       Config
	logger       *slog.Logger

	Broker      *BrokerMetrics
	Storage     *StorageMetrics
	Replication *ReplicationMetrics
	Controller  *ControllerMetrics
}

// NewRegistry creates a registry and registers every subsystem's metrics.
func NewRegistry(config Config) *Registry {
	r := &Registry{
		promRegistry: prometheus.NewRegistry(),
		config:       config,
		logger:       slog.Default().With("component", "metrics"),
	}

	if config.IncludeGoCollector {
		r.promRegistry.MustRegister(collectors.NewGoCollector())
	}
	if config.IncludeProcessCollector {
		r.promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	r.Broker = newBrokerMetrics(r)
	r.Storage = newStorageMetrics(r)
	r.Replication = newReplicationMetrics(r)
	r.Controller = newControllerMetrics(r)

	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.promRegistry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          &promLogger{logger: r.logger},
		Registry:          r.promRegistry,
	})
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.promRegistry
}

// promLogger adapts slog to Prometheus error logging interface.
type promLogger struct {
	logger *slog.Logger
}

func (l *promLogger) Println(v ...interface{}) {
	l.logger.Error("prometheus handler error", "error", v)
}

// =============================================================================
// METRIC REGISTRATION HELPERS
// =============================================================================

func (r *Registry) newCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = r.config.Namespace
	counter := prometheus.NewCounter(opts)
	r.promRegistry.MustRegister(counter)
	return counter
}

func (r *Registry) newCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.config.Namespace
	counterVec := prometheus.NewCounterVec(opts, labelNames)
	r.promRegistry.MustRegister(counterVec)
	return counterVec
}

func (r *Registry) newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.config.Namespace
	gauge := prometheus.NewGauge(opts)
	r.promRegistry.MustRegister(gauge)
	return gauge
}

func (r *Registry) newGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.Namespace = r.config.Namespace
	gaugeVec := prometheus.NewGaugeVec(opts, labelNames)
	r.promRegistry.MustRegister(gaugeVec)
	return gaugeVec
}

func (r *Registry) newHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	opts.Namespace = r.config.Namespace
	if opts.Buckets == nil {
		opts.Buckets = r.config.HistogramBuckets
	}
	histogramVec := prometheus.NewHistogramVec(opts, labelNames)
	r.promRegistry.MustRegister(histogramVec)
	return histogramVec
}

// =============================================================================
// TIMING HELPERS
// =============================================================================
//
//	timer := metrics.NewTimer(reg.Broker.RequestLatency.WithLabelValues("produce"))
//	defer timer.ObserveDuration()
//

// Timer measures the duration of an operation.
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer starts a timer that will observe the given histogram.
func NewTimer(observer prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: observer,
	}
}

// ObserveDuration records the elapsed time and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	elapsed := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(elapsed.Seconds())
	}
	return elapsed
}
