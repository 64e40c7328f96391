package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP and chat traffic.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec
	connections       prometheus.Gauge
	rooms             prometheus.Gauge
	messages          *prometheus.CounterVec
	denied            *prometheus.CounterVec
	broadcastFanout   prometheus.Histogram
	transcripts       *prometheus.CounterVec
	slowConsumerDrops prometheus.Counter
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections",
		Help: "Open chat websocket connections",
	})

	rooms := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms",
		Help: "Subject rooms with at least one local member",
	})

	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Chat messages stored, by author role",
	}, []string{"role"})

	denied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_denied_total",
		Help: "Chat actions rejected by the access resolver",
	}, []string{"event"})

	broadcastFanout := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_broadcast_recipients",
		Help:    "Local recipients per broadcast message",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	transcripts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_transcripts_total",
		Help: "Transcript exports by format and final status",
	}, []string{"format", "status"})

	slowConsumerDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_slow_consumer_disconnects_total",
		Help: "Connections closed because their send buffer was full",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, dbQueryDuration, connections, rooms, messages, denied, broadcastFanout, transcripts, slowConsumerDrops, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		dbQueryDuration:   dbQueryDuration,
		connections:       connections,
		rooms:             rooms,
		messages:          messages,
		denied:            denied,
		broadcastFanout:   broadcastFanout,
		transcripts:       transcripts,
		slowConsumerDrops: slowConsumerDrops,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// SetChatGauges publishes the registry size.
func (m *MetricsService) SetChatGauges(rooms, connections int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.connections.Set(float64(connections))
}

// IncChatMessage counts a stored message.
func (m *MetricsService) IncChatMessage(role string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(role).Inc()
}

// IncChatDenied counts a rejected chat action.
func (m *MetricsService) IncChatDenied(event string) {
	if m == nil {
		return
	}
	m.denied.WithLabelValues(event).Inc()
}

// ObserveBroadcast records how many local connections received a message.
func (m *MetricsService) ObserveBroadcast(recipients int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(recipients))
}

// IncSlowConsumer counts a connection dropped for not draining its buffer.
func (m *MetricsService) IncSlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumerDrops.Inc()
}

// IncTranscript counts a finished or failed transcript export.
func (m *MetricsService) IncTranscript(format, status string) {
	if m == nil {
		return
	}
	m.transcripts.WithLabelValues(format, status).Inc()
}
