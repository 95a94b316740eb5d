package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netcore"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Pipeline metrics
	JobsStarted      *prometheus.CounterVec
	BytesRead        prometheus.Counter
	HandlerOutcomes  *prometheus.CounterVec
	RegistryOps      *prometheus.CounterVec
	RequestEvents    *prometheus.CounterVec
	ThrottleQueued   *prometheus.GaugeVec
	EmulationEnabled prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	AvgDuration   float64 `json:"avg_duration_seconds"`
	JobsStarted   int64   `json:"jobs_started"`
	BytesRead     int64   `json:"bytes_read"`
	WSConnections int64   `json:"ws_connections"`
	Uptime        float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Pipeline metrics
		JobsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Jobs started by kind",
			},
			[]string{"kind"},
		),
		BytesRead: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_bytes_total",
				Help:      "Response body bytes delivered to requests",
			},
		),
		HandlerOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_outcomes_total",
				Help:      "Scripted protocol handler resolutions by outcome",
			},
			[]string{"outcome"},
		),
		RegistryOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_operations_total",
				Help:      "Protocol registry operations by result",
			},
			[]string{"op", "result"},
		),
		RequestEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_events_total",
				Help:      "Network delegate events by type",
			},
			[]string{"event"},
		),
		ThrottleQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "throttle_queued",
				Help:      "Transfers withheld by network emulation",
			},
			[]string{"queue"},
		),
		EmulationEnabled: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "emulation_enabled",
				Help:      "1 while network emulation is active",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackLive exports the number of live originated requests
func (m *Metrics) TrackLive(count func() int) {
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_requests",
			Help:      "Originated requests between first write and close",
		},
		func() float64 { return float64(count()) },
	)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordJobStarted counts a started job
func (m *Metrics) RecordJobStarted(kind string) {
	m.JobsStarted.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.JobsStarted++
	m.mu.Unlock()
}

// RecordBytesRead counts delivered body bytes
func (m *Metrics) RecordBytesRead(n int) {
	m.BytesRead.Add(float64(n))
	m.mu.Lock()
	m.snapshot.BytesRead += int64(n)
	m.mu.Unlock()
}

// RecordHandlerOutcome counts an adapter resolution
func (m *Metrics) RecordHandlerOutcome(outcome string) {
	m.HandlerOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRegistryOp counts a registry operation
func (m *Metrics) RecordRegistryOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.RegistryOps.WithLabelValues(op, result).Inc()
}

// RecordRequestEvent counts a delegate event
func (m *Metrics) RecordRequestEvent(event string) {
	m.RequestEvents.WithLabelValues(event).Inc()
}

// SetThrottleQueues publishes throttle queue sizes
func (m *Metrics) SetThrottleQueues(download, upload, suspended int) {
	m.ThrottleQueued.WithLabelValues("download").Set(float64(download))
	m.ThrottleQueued.WithLabelValues("upload").Set(float64(upload))
	m.ThrottleQueued.WithLabelValues("suspended").Set(float64(suspended))
}

// SetEmulationEnabled flags whether emulation is active
func (m *Metrics) SetEmulationEnabled(on bool) {
	if on {
		m.EmulationEnabled.Set(1)
		return
	}
	m.EmulationEnabled.Set(0)
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.TotalRequests > 0 {
		s.AvgDuration = s.totalDuration / float64(s.TotalRequests)
	}
	s.Uptime = time.Since(m.startTime).Seconds()
	return s
}
