package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/capture"
	"github.com/skypro1111/speechcap/internal/config"
	"github.com/skypro1111/speechcap/internal/metrics"
	"github.com/skypro1111/speechcap/internal/reconnect"
	"github.com/skypro1111/speechcap/internal/server"
	"github.com/skypro1111/speechcap/internal/source"
)

type recordFlags struct {
	chunkMinutes float64
	dualTrack    bool
	outputDir    string
	output       string
	maxDuration  time.Duration
	stopOnChime  bool
}

func newRecordCommand(opts *options) *cobra.Command {
	f := &recordFlags{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session from the UDP audio source",
		Long: `Record a session from the UDP audio source into chunked WAV files.

Recording stops on SIGINT/SIGTERM, after a long silence when auto-stop is
enabled, or when the end-of-call chime is heard with --stop-on-chime. The
chunk lists are printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("chunk-minutes") {
				cfg.Capture.ChunkTargetMinutes = f.chunkMinutes
			}
			if flags.Changed("dual-track") {
				cfg.Capture.DualTrack = f.dualTrack
			}
			if flags.Changed("output-dir") {
				cfg.Capture.OutputDir = f.outputDir
			}
			if err := cfg.Capture.Validate(); err != nil {
				return fmt.Errorf("invalid capture flags: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runRecord(ctx, cfg, logger, f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Float64Var(&f.chunkMinutes, "chunk-minutes", 30, "Target chunk length in minutes")
	cmd.Flags().BoolVar(&f.dualTrack, "dual-track", false, "Record the system audio track as well")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "./recordings", "Directory for chunk files")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the chunk list to this file instead of stdout")
	cmd.Flags().DurationVar(&f.maxDuration, "max-duration", 0, "Stop after this long (0 records until stopped)")
	cmd.Flags().BoolVar(&f.stopOnChime, "stop-on-chime", false, "Stop when the end-of-call chime is detected")

	return cmd
}

func runRecord(ctx context.Context, cfg *config.Config, logger *slog.Logger, f *recordFlags, out io.Writer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	listener := source.NewUDPListener(&cfg.Source, logger.With(slog.String("component", "source")), m)
	if err := listener.Start(); err != nil {
		return err
	}
	defer listener.Stop()

	system := reconnect.New(listener.System(), reconnectConfig(cfg), logger.With(slog.String("component", "reconnect")), m)
	engine := capture.New(captureConfig(cfg), listener.Mic(), system, logger.With(slog.String("component", "capture")), m)
	defer engine.Close()

	listener.OnFormatChange(func(track audio.Track, format audio.Format) {
		if track != audio.TrackMic {
			logger.Warn("System track changed format mid-session, keeping the original rate",
				slog.Int("sample_rate", format.SampleRate))
			return
		}
		go func() {
			if err := engine.HandleRouteChange(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
				logger.Error("Route change failed", slog.String("error", err.Error()))
			}
		}()
	})

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger.With(slog.String("component", "http")), cfg, server.Dependencies{
			Session:   engine,
			Source:    listener,
			Reconnect: system,
			Gatherer:  reg,
		}, m)
		if err := httpServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}()
	}

	handle, err := engine.Start(ctx, cfg.Capture.ChunkTargetMinutes, cfg.Capture.DualTrack)
	if err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}

	logger.Info("Recording, waiting for audio",
		slog.String("session_id", handle.ID),
		slog.String("udp_address", listener.Addr().String()),
		slog.Bool("dual_track", handle.DualTrack),
	)

	var deadline <-chan time.Time
	if f.maxDuration > 0 {
		timer := time.NewTimer(f.maxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

wait:
	for {
		select {
		case <-ctx.Done():
			logger.Info("Received shutdown signal")
			break wait
		case <-deadline:
			logger.Info("Maximum duration reached")
			break wait
		case ev := <-engine.Events():
			if handleEvent(ev, logger, f.stopOnChime) {
				break wait
			}
		}
	}

	result, err := engine.Stop()
	if err != nil {
		return fmt.Errorf("stopping recording: %w", err)
	}

	return writeJSON(out, f.output, result)
}

// handleEvent logs a session event and reports whether recording should stop
func handleEvent(ev capture.Event, logger *slog.Logger, stopOnChime bool) bool {
	switch ev.Type {
	case capture.EventLevel:
		return false
	case capture.EventChunkSplit:
		if ev.Chunk != nil {
			logger.Info("Chunk closed",
				slog.String("track", ev.Track.String()),
				slog.String("path", ev.Chunk.Path),
				slog.Duration("duration", ev.Chunk.Duration),
			)
		}
		return false
	case capture.EventAutoStop:
		logger.Info("Silence limit reached, stopping", slog.Duration("at", ev.At))
		return true
	case capture.EventChime:
		logger.Info("End-of-call chime detected", slog.Duration("at", ev.At))
		return stopOnChime
	case capture.EventAdvisory:
		logger.Warn(ev.Message,
			slog.String("severity", ev.Advisory.String()),
			slog.String("track", ev.Track.String()),
		)
		return false
	case capture.EventAdvisoryCleared:
		logger.Info("Advisory cleared")
		return false
	default:
		return false
	}
}
