package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusExporter exposes live per-action metrics on an HTTP endpoint.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type PrometheusExporter struct {
	mu sync.RWMutex

	config PrometheusExporterConfig

	registry *prometheus.Registry

	requestsTotal          *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	failuresTotal          *prometheus.CounterVec
	responseBytesTotal     *prometheus.CounterVec
	activeUsers            prometheus.Gauge

	server  *http.Server
	ln      net.Listener
	running bool

	lastError error
}

// PrometheusExporterConfig holds configuration for the Prometheus exporter.
type PrometheusExporterConfig struct {
	// Addr is the listen address, e.g. ":9646". Port 0 picks a free port.
	Addr string

	// Path is the URL path for the metrics endpoint.
	// Default: /metrics
	Path string

	// Namespace is the prefix for all metrics.
	// Default: quizload
	Namespace string

	// HistogramBuckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(config PrometheusExporterConfig) *PrometheusExporter {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "quizload"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}

	exporter := &PrometheusExporter{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	exporter.initMetrics()

	return exporter
}

func (e *PrometheusExporter) initMetrics() {
	e.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: e.config.Namespace,
			Name:      "requests_total",
			Help:      "Total number of requests by action and result.",
		},
		[]string{"action", "result"},
	)

	e.requestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: e.config.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of requests in seconds.",
			Buckets:   e.config.HistogramBuckets,
		},
		[]string{"action"},
	)

	e.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: e.config.Namespace,
			Name:      "failures_total",
			Help:      "Total number of failed requests by action.",
		},
		[]string{"action"},
	)

	e.responseBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: e.config.Namespace,
			Name:      "response_bytes_total",
			Help:      "Total response bytes received by action.",
		},
		[]string{"action"},
	)

	e.activeUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: e.config.Namespace,
			Name:      "active_users",
			Help:      "Number of currently running simulated users.",
		},
	)

	e.registry.MustRegister(
		e.requestsTotal,
		e.requestDurationSeconds,
		e.failuresTotal,
		e.responseBytesTotal,
		e.activeUsers,
	)
}

// Start starts the HTTP server for the metrics endpoint.
func (e *PrometheusExporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	ln, err := net.Listen("tcp", e.config.Addr)
	if err != nil {
		return fmt.Errorf("starting Prometheus exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

// Stop stops the HTTP server.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// RecordLatency implements Recorder.
func (e *PrometheusExporter) RecordLatency(duration time.Duration, requestName string, success bool, bytes int64) {
	result := "success"
	if !success {
		result = "failure"
	}
	e.requestsTotal.WithLabelValues(requestName, result).Inc()
	e.requestDurationSeconds.WithLabelValues(requestName).Observe(duration.Seconds())
	e.responseBytesTotal.WithLabelValues(requestName).Add(float64(bytes))
}

// RecordFailure implements Recorder. Reasons are not exported as labels to
// keep cardinality bounded.
func (e *PrometheusExporter) RecordFailure(requestName, _ string) {
	e.failuresTotal.WithLabelValues(requestName).Inc()
}

// SetActiveVUs updates the active users gauge.
func (e *PrometheusExporter) SetActiveVUs(count int) {
	e.activeUsers.Set(float64(count))
}

// Address returns the bound listen address, empty before Start.
func (e *PrometheusExporter) Address() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// URL returns the full metrics URL, empty before Start.
func (e *PrometheusExporter) URL() string {
	addr := e.Address()
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + e.config.Path
}

// IsRunning returns whether the exporter is running.
func (e *PrometheusExporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastError returns the last error from the HTTP server, if any.
func (e *PrometheusExporter) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Gather collects all metrics from the registry.
func (e *PrometheusExporter) Gather() ([]*dto.MetricFamily, error) {
	return e.registry.Gather()
}

// CounterValue returns the value of a requests_total series, for tests and summaries.
func (e *PrometheusExporter) CounterValue(action string, success bool) float64 {
	families, err := e.Gather()
	if err != nil {
		return 0
	}

	want := e.config.Namespace + "_requests_total"
	result := "success"
	if !success {
		result = "failure"
	}

	for _, mf := range families {
		if mf.GetName() != want {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["action"] == action && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
