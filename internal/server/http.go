package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/speechcap/internal/capture"
	"github.com/skypro1111/speechcap/internal/config"
	"github.com/skypro1111/speechcap/internal/metrics"
	"github.com/skypro1111/speechcap/internal/reconnect"
	"github.com/skypro1111/speechcap/internal/source"
)

const serviceName = "speechcap"

// SessionProvider exposes the state of the recording session
type SessionProvider interface {
	Snapshot() capture.Snapshot
}

// SourceStatsProvider exposes the UDP source counters
type SourceStatsProvider interface {
	Stats() source.Stats
}

// ReconnectStatsProvider exposes the system track recovery counters
type ReconnectStatsProvider interface {
	Stats() reconnect.Stats
}

// Dependencies are the components the API reports on. Nil providers are
// reported as disabled.
type Dependencies struct {
	Session   SessionProvider
	Source    SourceStatsProvider
	Reconnect ReconnectStatsProvider
	Gatherer  prometheus.Gatherer
}

// HTTPServer provides HTTP API endpoints for monitoring a recording
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	deps     Dependencies
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, deps Dependencies, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP API server", slog.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	components := map[string]any{}

	if h.deps.Session != nil {
		snap := h.deps.Session.Snapshot()
		recorder := map[string]any{
			"status":          "running",
			"state":           snap.State,
			"mic_degraded":    snap.MicDegraded,
			"system_degraded": snap.SystemDegraded,
			"queue_depth":     snap.QueueDepth,
		}
		if snap.MicDegraded || snap.SystemDegraded {
			status = "degraded"
			recorder["status"] = "degraded"
		}
		components["recorder"] = recorder
	}

	if h.deps.Source != nil {
		stats := h.deps.Source.Stats()
		components["udp_source"] = map[string]any{
			"status":           "running",
			"packets_received": stats.PacketsReceived,
			"parse_errors":     stats.ParseErrors,
			"queue_size":       stats.QueueSize,
		}
	}

	if h.deps.Reconnect != nil {
		stats := h.deps.Reconnect.Stats()
		reconnecting := map[string]any{
			"status":       "running",
			"attempts":     stats.Attempts,
			"reconnecting": stats.Reconnecting,
		}
		if stats.Exhausted {
			status = "degraded"
			reconnecting["status"] = "exhausted"
		}
		components["system_stream"] = reconnecting
	}

	writeJSON(w, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Session == nil {
		http.Error(w, "Recorder not configured", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, h.deps.Session.Snapshot())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.deps.Source != nil {
		stats["udp"] = h.deps.Source.Stats()
	}
	if h.deps.Reconnect != nil {
		stats["reconnect"] = h.deps.Reconnect.Stats()
	}

	writeJSON(w, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config
	// The transcription API key is omitted
	writeJSON(w, map[string]any{
		"capture": map[string]any{
			"sample_rate":          c.Capture.SampleRate,
			"output_dir":           c.Capture.OutputDir,
			"chunk_target_minutes": c.Capture.ChunkTargetMinutes,
			"split_window":         c.Capture.SplitWindow,
			"dual_track":           c.Capture.DualTrack,
		},
		"silence": map[string]any{
			"split_threshold":    c.Silence.SplitThreshold,
			"split_duration":     c.Silence.SplitDuration,
			"speech_threshold":   c.Silence.SpeechThreshold,
			"auto_stop_enabled":  c.Silence.AutoStopEnabled,
			"auto_stop_duration": c.Silence.AutoStopDuration,
		},
		"chime": map[string]any{
			"enabled":      c.Chime.Enabled,
			"tone1_hz":     c.Chime.Tone1Hz,
			"tone2_hz":     c.Chime.Tone2Hz,
			"tolerance_hz": c.Chime.ToleranceHz,
			"cooldown":     c.Chime.Cooldown,
		},
		"reconnect": map[string]any{
			"delay":        c.Reconnect.Delay,
			"max_attempts": c.Reconnect.MaxAttempts,
		},
		"source": map[string]any{
			"udp_port":        c.Source.UDPPort,
			"bind_address":    c.Source.BindAddress,
			"stall_timeout":   c.Source.StallTimeout,
			"max_gap_packets": c.Source.MaxGapPackets,
		},
		"transcription": map[string]any{
			"asr_endpoint":         c.Transcription.ASREndpoint,
			"diarization_endpoint": c.Transcription.DiarizationEndpoint,
			"timeout":              c.Transcription.Timeout,
			"max_retries":          c.Transcription.MaxRetries,
			"max_concurrent":       c.Transcription.MaxConcurrent,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]any{
		"service": "Speech capture recorder",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Recorder health check",
			"GET /session": "Current recording session snapshot",
			"GET /stats":   "UDP source and reconnect statistics",
			"GET /config":  "Active configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
