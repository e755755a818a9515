package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/speechcap/internal/capture"
	"github.com/skypro1111/speechcap/internal/chime"
	"github.com/skypro1111/speechcap/internal/config"
	"github.com/skypro1111/speechcap/internal/pipeline"
	"github.com/skypro1111/speechcap/internal/reconnect"
	"github.com/skypro1111/speechcap/internal/transcription"
)

const serviceName = "speechcap"

var version = "dev"

// options are the flags shared by every subcommand
type options struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Chunked speech capture and transcript merging",
		Long: `speechcap records long conversations from a network audio source into
chunked WAV files, splitting at pauses, and turns the recorded chunks into a
speaker-attributed transcript.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(newRecordCommand(opts))
	cmd.AddCommand(newProcessCommand(opts))
	cmd.AddCommand(newMergeCommand(opts))

	return cmd
}

func execute() error {
	return newRootCommand().ExecuteContext(context.Background())
}

// load reads the configuration and builds the logger
func (o *options) load() (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	return cfg, initLogger(cfg.Logging), nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// stdout carries command output, so logs default to stderr
	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

// writeJSON writes v indented to path, or to w when path is empty or "-"
func writeJSON(w io.Writer, path string, v any) error {
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readJSON decodes the file at path into v
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func captureConfig(cfg *config.Config) capture.Config {
	c := capture.DefaultConfig()
	c.OutputDir = cfg.Capture.OutputDir
	c.SampleRate = cfg.Capture.SampleRate
	c.SplitWindow = cfg.Capture.GetSplitWindow()
	c.SplitThreshold = cfg.Silence.SplitThreshold
	c.SplitSilence = cfg.Silence.GetSplitDuration()
	c.SpeechThreshold = cfg.Silence.SpeechThreshold
	c.AutoStop = 0
	if cfg.Silence.AutoStopEnabled {
		c.AutoStop = cfg.Silence.GetAutoStopDuration()
	}
	c.WarnQueueDepth = cfg.Capture.WarnQueueDepth
	c.WarningClearDelay = cfg.Capture.GetWarningClearDelay()
	c.Chime = nil
	if cfg.Chime.Enabled {
		ch := chimeConfig(cfg)
		c.Chime = &ch
	}
	return c
}

func chimeConfig(cfg *config.Config) chime.Config {
	return chime.Config{
		SampleRate:   cfg.Capture.SampleRate,
		FFTSize:      cfg.Chime.FFTSize,
		Tone1Hz:      cfg.Chime.Tone1Hz,
		Tone2Hz:      cfg.Chime.Tone2Hz,
		ToleranceHz:  cfg.Chime.ToleranceHz,
		MaxGap:       cfg.Chime.GetMaxGap(),
		Cooldown:     cfg.Chime.GetCooldown(),
		SNR:          cfg.Chime.SNR,
		MinMagnitude: cfg.Chime.MinMagnitude,
		BandLowHz:    cfg.Chime.BandLowHz,
		BandHighHz:   cfg.Chime.BandHighHz,
		QueueSize:    cfg.Chime.QueueSize,
	}
}

func reconnectConfig(cfg *config.Config) reconnect.Config {
	return reconnect.Config{
		Delay:       cfg.Reconnect.GetDelay(),
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
}

func transcriptionConfig(cfg *config.Config) transcription.Config {
	return transcription.Config{
		ASREndpoint:         cfg.Transcription.ASREndpoint,
		DiarizationEndpoint: cfg.Transcription.DiarizationEndpoint,
		APIKey:              cfg.Transcription.APIKey,
		Timeout:             cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:          cfg.Transcription.MaxRetries,
		MaxConcurrent:       cfg.Transcription.MaxConcurrent,
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	c := pipeline.DefaultConfig()
	c.SampleRate = cfg.Transcription.SampleRate
	c.SystemMixLevel = float32(cfg.Transcription.SystemMixLevel)
	return c
}
