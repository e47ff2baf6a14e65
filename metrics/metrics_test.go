package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	// None of these may panic.
	m.ObserveRequest("GET", 200, time.Second)
	m.IncRetry("internal")
	m.IncFailover()
	m.ListenerAdded("stopout")
	m.ListenerRemoved("stopout")
	m.ObservePoll("stopout", "ok", 3)
	m.IncCallbackError("stopout")
}

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("GET", 503, time.Millisecond)
	m.ObserveRequest("GET", 0, time.Millisecond)
	m.ListenerAdded("stopout")
	m.ListenerAdded("stopout")
	m.ListenerRemoved("stopout")
	m.ObservePoll("user-log-by-strategy", "ok", 2)
	m.ObservePoll("user-log-by-strategy", "empty", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenersActive.WithLabelValues("stopout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDelivered.WithLabelValues("user-log-by-strategy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Polls.WithLabelValues("user-log-by-strategy", "empty")))
}
