// Package metrics holds the Prometheus collectors updated by the HTTP
// client and the listener pollers. A nil *Metrics is valid and records
// nothing.
package metrics // import "github.com/y3sh/copyfactory-sdk-go/metrics"

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "copyfactory"

// Metrics holds the collectors of the SDK. All methods are safe to call on
// a nil *Metrics, which records nothing.
type Metrics struct {
	// HTTP transport
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Retries         *prometheus.CounterVec
	Failovers       prometheus.Counter

	// Listeners
	ListenersActive *prometheus.GaugeVec
	Polls           *prometheus.CounterVec
	EventsDelivered *prometheus.CounterVec
	CallbackErrors  *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. When reg is nil,
// prometheus.DefaultRegisterer is used.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP request attempts by method and response status",
		}, []string{"method", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of a single HTTP request attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_retries_total",
			Help:      "Retries scheduled by the HTTP client, by error kind",
		}, []string{"kind"}),

		Failovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_failovers_total",
			Help:      "Requests moved to the next candidate host",
		}),

		ListenersActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners_active",
			Help:      "Registered listeners by kind",
		}, []string{"kind"}),

		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_polls_total",
			Help:      "Listener fetches by kind and result",
		}, []string{"kind", "result"}),

		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_events_delivered_total",
			Help:      "Events handed to listener callbacks",
		}, []string{"kind"}),

		CallbackErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_callback_errors_total",
			Help:      "Errors and panics raised by listener callbacks",
		}, []string{"kind"}),
	}
}

// ObserveRequest records one request attempt; status is 0 when no
// response was received.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncRetry counts a retry after an error of the given kind.
func (m *Metrics) IncRetry(kind string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(kind).Inc()
}

// IncFailover counts a switch to the next host.
func (m *Metrics) IncFailover() {
	if m == nil {
		return
	}
	m.Failovers.Inc()
}

// ListenerAdded increments the active listeners of a kind.
func (m *Metrics) ListenerAdded(kind string) {
	if m == nil {
		return
	}
	m.ListenersActive.WithLabelValues(kind).Inc()
}

// ListenerRemoved decrements the active listeners of a kind.
func (m *Metrics) ListenerRemoved(kind string) {
	if m == nil {
		return
	}
	m.ListenersActive.WithLabelValues(kind).Dec()
}

// ObservePoll records one fetch; result is "ok", "empty" or "error".
func (m *Metrics) ObservePoll(kind, result string, events int) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(kind, result).Inc()
	if events > 0 {
		m.EventsDelivered.WithLabelValues(kind).Add(float64(events))
	}
}

// IncCallbackError counts a listener callback which failed or panicked.
func (m *Metrics) IncCallbackError(kind string) {
	if m == nil {
		return
	}
	m.CallbackErrors.WithLabelValues(kind).Inc()
}
