// Package metrics provides Prometheus metrics for the call client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_coach"

// Metrics holds all Prometheus metrics for the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Call metrics
	CallsStarted prometheus.Counter
	CallsActive  prometheus.Gauge
	CallDuration prometheus.Histogram

	// Capture metrics
	UtterancesEmitted   prometheus.Counter
	UtterancesDiscarded prometheus.Counter
	UtteranceDuration   prometheus.Histogram
	CaptureErrors       prometheus.Counter

	// Transport metrics
	AudioBytesSent   prometheus.Counter
	SendsDropped     prometheus.Counter
	EventsReceived   *prometheus.CounterVec
	EventsMalformed  prometheus.Counter
	ConnectionState  prometheus.Gauge
	ConnectAttempts  prometheus.Counter
	ConnectionErrors prometheus.Counter

	// Playback metrics
	PlaybackItems    prometheus.Counter
	PlaybackFailures prometheus.Counter
	PlaybackQueued   prometheus.Gauge
}

// DefaultMetrics is registered on the default Prometheus registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		CallsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of calls started",
		}),
		CallsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently active",
		}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of finished calls in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),

		UtterancesEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_emitted_total",
			Help:      "Total number of utterances handed to the transport",
		}),
		UtterancesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_discarded_total",
			Help:      "Total number of utterances discarded while muted",
		}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Length of emitted utterances in seconds",
			Buckets:   []float64{0.7, 1, 1.5, 2, 3, 4, 6, 8},
		}),
		CaptureErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Total number of capture-level errors",
		}),

		AudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total utterance bytes written to the call channel",
		}),
		SendsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_dropped_total",
			Help:      "Total number of utterances dropped because the channel was not connected",
		}),
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of inbound call events",
		}, []string{"type"}),
		EventsMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_malformed_total",
			Help:      "Total number of inbound frames that failed to decode",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Call channel state (0=disconnected, 1=connecting, 2=connected, 3=error)",
		}),
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of call channel dial attempts",
		}),
		ConnectionErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Total number of call channel failures",
		}),

		PlaybackItems: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_items_total",
			Help:      "Total number of response clips played",
		}),
		PlaybackFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_failures_total",
			Help:      "Total number of response clips that failed to play",
		}),
		PlaybackQueued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queued",
			Help:      "Number of response clips waiting to play",
		}),
	}
}

// RecordCallStart records a call starting.
func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsStarted.Inc()
	m.CallsActive.Inc()
}

// RecordCallEnd records a call ending after d.
func (m *Metrics) RecordCallEnd(d time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallDuration.Observe(d.Seconds())
}

// RecordUtterance records an utterance handed to the transport.
func (m *Metrics) RecordUtterance(d time.Duration) {
	if m == nil {
		return
	}
	m.UtterancesEmitted.Inc()
	m.UtteranceDuration.Observe(d.Seconds())
}

// RecordUtteranceDiscarded records a chunk dropped while muted.
func (m *Metrics) RecordUtteranceDiscarded() {
	if m == nil {
		return
	}
	m.UtterancesDiscarded.Inc()
}

// RecordCaptureError records a device or encoder fault.
func (m *Metrics) RecordCaptureError() {
	if m == nil {
		return
	}
	m.CaptureErrors.Inc()
}

// RecordSend records a successful write of n bytes.
func (m *Metrics) RecordSend(n int) {
	if m == nil {
		return
	}
	m.AudioBytesSent.Add(float64(n))
}

// RecordSendDropped records a send rejected by the state machine.
func (m *Metrics) RecordSendDropped() {
	if m == nil {
		return
	}
	m.SendsDropped.Inc()
}

// RecordEvent records a decoded inbound event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(eventType).Inc()
}

// RecordMalformedEvent records an inbound frame that was dropped.
func (m *Metrics) RecordMalformedEvent() {
	if m == nil {
		return
	}
	m.EventsMalformed.Inc()
}

// RecordConnectAttempt records a dial.
func (m *Metrics) RecordConnectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

// RecordConnectionState sets the connection state gauge.
func (m *Metrics) RecordConnectionState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
}

// RecordConnectionError records a channel failure.
func (m *Metrics) RecordConnectionError() {
	if m == nil {
		return
	}
	m.ConnectionErrors.Inc()
}

// RecordPlayback records the outcome of one queue item.
func (m *Metrics) RecordPlayback(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PlaybackFailures.Inc()
		return
	}
	m.PlaybackItems.Inc()
}

// SetPlaybackQueued sets the number of waiting items.
func (m *Metrics) SetPlaybackQueued(n int) {
	if m == nil {
		return
	}
	m.PlaybackQueued.Set(float64(n))
}
