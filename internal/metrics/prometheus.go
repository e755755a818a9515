package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture service.
// Every Record/Set method is safe to call on a nil *Metrics.
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	ActiveSessions   prometheus.Gauge
	DegradedSessions *prometheus.CounterVec

	// Chunk metrics
	ChunksCreated       *prometheus.CounterVec
	ChunkSplits         *prometheus.CounterVec
	ChunkDuration       prometheus.Histogram
	BufferWriteFailures *prometheus.CounterVec

	// Write queue metrics
	HandoffDepth prometheus.Gauge
	HandoffPeak  prometheus.Gauge

	// Detector metrics
	AutoStops       prometheus.Counter
	ChimeDetections prometheus.Counter
	ChimeDropped    prometheus.Counter

	// Recovery metrics
	RouteChanges         prometheus.Counter
	ReconnectAttempts    prometheus.Counter
	ReconnectSuccesses   prometheus.Counter
	ReconnectExhaustions prometheus.Counter

	// UDP source metrics
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	PacketsLost     *prometheus.CounterVec
	ParseErrors     prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  *prometheus.CounterVec
	TranscriptionSuccesses *prometheus.CounterVec
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  *prometheus.HistogramVec
	TranscriptionRetries   *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil registerer leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speechcap_active_sessions",
			Help: "Current number of recording sessions",
		}),
		DegradedSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_degraded_sessions_total",
			Help: "Sessions that continued in a degraded state",
		}, []string{"cause"}),

		// Chunk metrics
		ChunksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_chunks_created_total",
			Help: "Total number of chunk files opened",
		}, []string{"track"}),
		ChunkSplits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_chunk_splits_total",
			Help: "Total number of chunk splits by reason",
		}, []string{"reason"}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechcap_chunk_duration_seconds",
			Help:    "Duration of closed mic chunks",
			Buckets: prometheus.ExponentialBuckets(15, 2, 10), // 15s to ~2 hours
		}),
		BufferWriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_buffer_write_failures_total",
			Help: "Buffers dropped because the chunk write failed",
		}, []string{"track"}),

		// Write queue metrics
		HandoffDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speechcap_handoff_queue_depth",
			Help: "Frames waiting for the chunk writer",
		}),
		HandoffPeak: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speechcap_handoff_queue_peak",
			Help: "Largest handoff queue depth seen in the current session",
		}),

		// Detector metrics
		AutoStops: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_auto_stop_signals_total",
			Help: "Total number of auto-stop signals raised",
		}),
		ChimeDetections: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_chime_detections_total",
			Help: "Total number of two-tone chimes detected",
		}),
		ChimeDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_chime_frames_dropped_total",
			Help: "Frames skipped because the chime analyzer queue was full",
		}),

		// Recovery metrics
		RouteChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_route_changes_total",
			Help: "Total number of input route changes handled",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_reconnect_attempts_total",
			Help: "Total number of stream reconnect attempts",
		}),
		ReconnectSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_reconnect_successes_total",
			Help: "Total number of successful stream reconnects",
		}),
		ReconnectExhaustions: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_reconnect_exhaustions_total",
			Help: "Total number of times reconnect gave up",
		}),

		// UDP source metrics
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_packets_received_total",
			Help: "Total number of UDP packets received",
		}, []string{"track"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_packets_dropped_total",
			Help: "Late or duplicate UDP packets dropped",
		}, []string{"track"}),
		PacketsLost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_packets_lost_total",
			Help: "UDP packets missing from the sequence",
		}, []string{"track"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcap_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_transcription_requests_total",
			Help: "Total number of requests sent to recognition services",
		}, []string{"service"}),
		TranscriptionSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_transcription_successes_total",
			Help: "Total number of successful recognition requests",
		}, []string{"service"}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_transcription_failures_total",
			Help: "Total number of failed recognition requests",
		}, []string{"service"}),
		TranscriptionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speechcap_transcription_duration_seconds",
			Help:    "Duration of recognition requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}, []string{"service"}),
		TranscriptionRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_transcription_retries_total",
			Help: "Total number of recognition request retries",
		}, []string{"service"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speechcap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcap_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted counts a new session and marks it active
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionStopped marks a session inactive and resets the queue gauges
func (m *Metrics) RecordSessionStopped() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.HandoffDepth.Set(0)
	m.HandoffPeak.Set(0)
}

// RecordDegraded counts a session entering a degraded state
func (m *Metrics) RecordDegraded(cause string) {
	if m == nil {
		return
	}
	m.DegradedSessions.WithLabelValues(cause).Inc()
}

// RecordChunkCreated counts a chunk file opened on track
func (m *Metrics) RecordChunkCreated(track string) {
	if m == nil {
		return
	}
	m.ChunksCreated.WithLabelValues(track).Inc()
}

// RecordChunkClosed observes the duration of a closed mic chunk
func (m *Metrics) RecordChunkClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ChunkDuration.Observe(durationSeconds)
}

// RecordSplit counts a chunk split
func (m *Metrics) RecordSplit(reason string) {
	if m == nil {
		return
	}
	m.ChunkSplits.WithLabelValues(reason).Inc()
}

// RecordBufferWriteFailure counts a dropped buffer
func (m *Metrics) RecordBufferWriteFailure(track string) {
	if m == nil {
		return
	}
	m.BufferWriteFailures.WithLabelValues(track).Inc()
}

// SetHandoffDepth publishes the current and peak handoff queue depth
func (m *Metrics) SetHandoffDepth(depth, peak int) {
	if m == nil {
		return
	}
	m.HandoffDepth.Set(float64(depth))
	m.HandoffPeak.Set(float64(peak))
}

// RecordAutoStop counts an auto-stop signal
func (m *Metrics) RecordAutoStop() {
	if m == nil {
		return
	}
	m.AutoStops.Inc()
}

// RecordChimeDetected counts a chime detection
func (m *Metrics) RecordChimeDetected() {
	if m == nil {
		return
	}
	m.ChimeDetections.Inc()
}

// RecordChimeDropped counts a frame the chime analyzer could not accept
func (m *Metrics) RecordChimeDropped() {
	if m == nil {
		return
	}
	m.ChimeDropped.Inc()
}

// RecordRouteChange counts a handled route change
func (m *Metrics) RecordRouteChange() {
	if m == nil {
		return
	}
	m.RouteChanges.Inc()
}

// RecordReconnectAttempt counts a reconnect attempt
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// RecordReconnectSuccess counts a successful reconnect
func (m *Metrics) RecordReconnectSuccess() {
	if m == nil {
		return
	}
	m.ReconnectSuccesses.Inc()
}

// RecordReconnectExhausted counts a reconnect loop that gave up
func (m *Metrics) RecordReconnectExhausted() {
	if m == nil {
		return
	}
	m.ReconnectExhaustions.Inc()
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived(track string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(track).Inc()
}

// RecordPacketDropped increments the dropped packets counter
func (m *Metrics) RecordPacketDropped(track string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(track).Inc()
}

// RecordPacketsLost adds n packets missing from a track's sequence
func (m *Metrics) RecordPacketsLost(track string, n int) {
	if m == nil {
		return
	}
	m.PacketsLost.WithLabelValues(track).Add(float64(n))
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordTranscriptionRequest increments requests for service
func (m *Metrics) RecordTranscriptionRequest(service string) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.WithLabelValues(service).Inc()
}

// RecordTranscriptionSuccess records a successful request
func (m *Metrics) RecordTranscriptionSuccess(service string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.WithLabelValues(service).Inc()
	m.TranscriptionDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed request
func (m *Metrics) RecordTranscriptionFailure(service string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.WithLabelValues(service).Inc()
	m.TranscriptionDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry(service string) {
	if m == nil {
		return
	}
	m.TranscriptionRetries.WithLabelValues(service).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
