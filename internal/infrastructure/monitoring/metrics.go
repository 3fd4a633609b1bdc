package monitoring

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/prezlab/nasma/backend/internal/collaborators/odoo"
	"github.com/prezlab/nasma/backend/internal/domain/intent"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Metrics holds all Prometheus metrics. It is registered on its own
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Routing metrics
	Turns        *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec

	// Flow metrics
	FlowsStarted       *prometheus.CounterVec
	FlowsFinished      *prometheus.CounterVec
	FlowsActive        *prometheus.GaugeVec
	FlowDuration       *prometheus.HistogramVec
	SessionsSweptTotal prometheus.Counter

	// ERP metrics
	ERPCalls    *prometheus.CounterVec
	ERPDuration *prometheus.HistogramVec

	// Documents
	Documents *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	mu       sync.Mutex
	snapshot Snapshot
}

// Snapshot holds running totals for the JSON stats endpoint.
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	ERPCalls      int64   `json:"erp_calls"`
	ERPErrors     int64   `json:"erp_errors"`
	WSConnections int64   `json:"ws_connections"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a metrics collector with Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasma_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nasma_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		ResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nasma_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasma_turns_total",
				Help: "Chat turns by route and flow",
			},
			[]string{"route", "flow"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nasma_turn_duration_seconds",
				Help:    "Chat turn handling time in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route"},
		),

		FlowsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasma_flows_started_total",
				Help: "Flows started by type",
			},
			[]string{"flow"},
		),
		FlowsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasma_flows_finished_total",
				Help: "Flows finished by type, terminal state and whether a record was submitted",
			},
			[]string{"flow", "state", "submitted"},
		),
		FlowsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nasma_flows_active",
				Help: "Open sessions by flow type at the last stats computation",
			},
			[]string{"flow"},
		),
		FlowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nasma_flow_duration_seconds",
				Help:    "Time from flow start to completion or cancellation",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"flow", "state"},
		),
		SessionsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nasma_sessions_swept_total",
				Help: "Expired or finished sessions removed by the sweeper",
			},
		),

		ERPCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasma_erp_calls_total",
				Help: "Odoo JSON-RPC calls by model, method and outcome",
			},
			[]string{"model", "method", "status"},
		),
		ERPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nasma_erp_call_duration_seconds",
				Help:    "Odoo JSON-RPC call duration in seconds",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"model", "method"},
		),

		Documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasma_documents_generated_total",
				Help: "Generated HR documents by kind and outcome",
			},
			[]string{"kind", "status"},
		),

		WSConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nasma_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasma_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction"},
		),
	}
	m.Uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "nasma_uptime_seconds",
			Help: "Backend uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal, m.RequestDuration, m.ResponseSize,
		m.Turns, m.TurnDuration,
		m.FlowsStarted, m.FlowsFinished, m.FlowsActive, m.FlowDuration, m.SessionsSweptTotal,
		m.ERPCalls, m.ERPDuration,
		m.Documents,
		m.WSConnections, m.WSMessages,
		m.Uptime,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// Routed implements intent.Recorder.
func (m *Metrics) Routed(route intent.Route, flow types.FlowType, elapsed time.Duration) {
	if flow == "" {
		flow = types.FlowNone
	}
	m.Turns.WithLabelValues(string(route), string(flow)).Inc()
	m.TurnDuration.WithLabelValues(string(route)).Observe(elapsed.Seconds())
}

// SessionStarted implements session.Observer.
func (m *Metrics) SessionStarted(s *types.Session) {
	m.FlowsStarted.WithLabelValues(string(s.FlowType)).Inc()
}

// SessionFinished implements session.Observer.
func (m *Metrics) SessionFinished(s *types.Session) {
	submitted := "false"
	if s.Result != nil && s.Result.Submitted {
		submitted = "true"
	}
	m.FlowsFinished.WithLabelValues(string(s.FlowType), string(s.State), submitted).Inc()
	if !s.CreatedAt.IsZero() {
		end := time.Now()
		if s.FinishedAt != nil {
			end = *s.FinishedAt
		}
		m.FlowDuration.WithLabelValues(string(s.FlowType), string(s.State)).Observe(end.Sub(s.CreatedAt).Seconds())
	}
}

// SessionsSwept implements session.Observer.
func (m *Metrics) SessionsSwept(removed int) {
	m.SessionsSweptTotal.Add(float64(removed))
}

// SessionsActive implements session.ActiveObserver.
func (m *Metrics) SessionsActive(byFlow map[types.FlowType]int) {
	for _, f := range types.AllFlows() {
		m.FlowsActive.WithLabelValues(string(f)).Set(float64(byFlow[f]))
	}
}

// ERPCall implements odoo.Recorder.
func (m *Metrics) ERPCall(model, method string, elapsed time.Duration, err error) {
	status := erpStatus(err)
	m.ERPCalls.WithLabelValues(model, method, status).Inc()
	m.ERPDuration.WithLabelValues(model, method).Observe(elapsed.Seconds())

	m.mu.Lock()
	m.snapshot.ERPCalls++
	if err != nil {
		m.snapshot.ERPErrors++
	}
	m.mu.Unlock()
}

func erpStatus(err error) string {
	var rpc *odoo.RPCError
	var httpErr *odoo.HTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rpc):
		return "rejected"
	case errors.Is(err, odoo.ErrSessionExpired), errors.Is(err, odoo.ErrNotAuthenticated):
		return "auth"
	case errors.As(err, &httpErr):
		return "http"
	default:
		return "error"
	}
}

// DocumentGenerated implements documents.Recorder.
func (m *Metrics) DocumentGenerated(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Documents.WithLabelValues(kind, status).Inc()
}

// RecordWSMessage records a WebSocket frame; direction is "in" or "out".
func (m *Metrics) RecordWSMessage(direction string) {
	m.WSMessages.WithLabelValues(direction).Inc()
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

// Snapshot returns the running totals.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AvgLatencyMS = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
