package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	Silence       SilenceConfig       `yaml:"silence"`
	Chime         ChimeConfig         `yaml:"chime"`
	Reconnect     ReconnectConfig     `yaml:"reconnect"`
	Source        SourceConfig        `yaml:"source"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CaptureConfig contains chunked recording parameters
type CaptureConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	OutputDir          string  `yaml:"output_dir"`
	ChunkTargetMinutes float64 `yaml:"chunk_target_minutes"`
	SplitWindow        float64 `yaml:"split_window"` // seconds either side of the target
	DualTrack          bool    `yaml:"dual_track"`
	WarnQueueDepth     int     `yaml:"warn_queue_depth"`
	WarningClearDelay  float64 `yaml:"warning_clear_delay"` // seconds
}

// SilenceConfig contains the split and auto-stop silence detectors
type SilenceConfig struct {
	SplitThreshold   float64 `yaml:"split_threshold"` // RMS
	SplitDuration    float64 `yaml:"split_duration"`  // seconds
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	AutoStopEnabled  bool    `yaml:"auto_stop_enabled"`
	AutoStopDuration float64 `yaml:"auto_stop_duration"` // seconds
}

// ChimeConfig contains the two-tone chime detector parameters
type ChimeConfig struct {
	Enabled      bool    `yaml:"enabled"`
	FFTSize      int     `yaml:"fft_size"`
	Tone1Hz      float64 `yaml:"tone1_hz"`
	Tone2Hz      float64 `yaml:"tone2_hz"`
	ToleranceHz  float64 `yaml:"tolerance_hz"`
	MaxGap       float64 `yaml:"max_gap"`  // seconds
	Cooldown     float64 `yaml:"cooldown"` // seconds
	SNR          float64 `yaml:"snr"`
	MinMagnitude float64 `yaml:"min_magnitude"`
	BandLowHz    float64 `yaml:"band_low_hz"`
	BandHighHz   float64 `yaml:"band_high_hz"`
	QueueSize    int     `yaml:"queue_size"`
}

// ReconnectConfig contains system-audio stream recovery parameters
type ReconnectConfig struct {
	Delay       float64 `yaml:"delay"` // seconds
	MaxAttempts int     `yaml:"max_attempts"`
}

// SourceConfig contains the UDP frame source configuration
type SourceConfig struct {
	UDPPort       int     `yaml:"udp_port"`
	BindAddress   string  `yaml:"bind_address"`
	BufferSize    int     `yaml:"buffer_size"`
	StallTimeout  float64 `yaml:"stall_timeout"` // seconds
	MaxGapPackets int     `yaml:"max_gap_packets"`
	SessionTag    uint32  `yaml:"session_tag"` // 0 accepts any sender
}

// TranscriptionConfig contains recognition and diarization API configuration
type TranscriptionConfig struct {
	ASREndpoint         string  `yaml:"asr_endpoint"`
	DiarizationEndpoint string  `yaml:"diarization_endpoint"`
	APIKey              string  `yaml:"api_key"`
	Timeout             int     `yaml:"timeout"` // seconds
	MaxRetries          int     `yaml:"max_retries"`
	MaxConcurrent       int     `yaml:"max_concurrent"`
	SampleRate          int     `yaml:"sample_rate"`
	SystemMixLevel      float64 `yaml:"system_mix_level"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the shipped configuration
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			SampleRate:         48000,
			OutputDir:          "./recordings",
			ChunkTargetMinutes: 30,
			SplitWindow:        30,
			DualTrack:          false,
			WarnQueueDepth:     512,
			WarningClearDelay:  2,
		},
		Silence: SilenceConfig{
			SplitThreshold:   0.01,
			SplitDuration:    0.3,
			SpeechThreshold:  0.02,
			AutoStopEnabled:  true,
			AutoStopDuration: 300,
		},
		Chime: ChimeConfig{
			Enabled:      true,
			FFTSize:      4096,
			Tone1Hz:      783,
			Tone2Hz:      659,
			ToleranceHz:  30,
			MaxGap:       0.8,
			Cooldown:     10,
			SNR:          8,
			MinMagnitude: 1e-3,
			BandLowHz:    200,
			BandHighHz:   2000,
			QueueSize:    64,
		},
		Reconnect: ReconnectConfig{
			Delay:       2,
			MaxAttempts: 3,
		},
		Source: SourceConfig{
			UDPPort:       7070,
			BindAddress:   "127.0.0.1",
			BufferSize:    65536,
			StallTimeout:  3,
			MaxGapPackets: 50,
		},
		Transcription: TranscriptionConfig{
			ASREndpoint:         "http://127.0.0.1:8090/asr",
			DiarizationEndpoint: "http://127.0.0.1:8090/diarize",
			Timeout:             300,
			MaxRetries:          3,
			MaxConcurrent:       2,
			SampleRate:          16000,
			SystemMixLevel:      0.7,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Silence.Validate(); err != nil {
		return fmt.Errorf("silence config: %w", err)
	}

	if err := c.Chime.Validate(c.Capture.SampleRate); err != nil {
		return fmt.Errorf("chime config: %w", err)
	}

	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("reconnect config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", c.SampleRate)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}

	if c.ChunkTargetMinutes <= 0 {
		return fmt.Errorf("chunk_target_minutes must be positive, got %f", c.ChunkTargetMinutes)
	}

	if c.SplitWindow <= 0 {
		return fmt.Errorf("split_window must be positive, got %f", c.SplitWindow)
	}

	if c.SplitWindow >= c.ChunkTargetMinutes*60 {
		return fmt.Errorf("split_window (%f s) must be shorter than the chunk target (%f s)",
			c.SplitWindow, c.ChunkTargetMinutes*60)
	}

	if c.WarnQueueDepth < 1 {
		return fmt.Errorf("warn_queue_depth must be at least 1, got %d", c.WarnQueueDepth)
	}

	if c.WarningClearDelay < 0 {
		return fmt.Errorf("warning_clear_delay cannot be negative, got %f", c.WarningClearDelay)
	}

	return nil
}

// Validate validates silence detector configuration
func (s *SilenceConfig) Validate() error {
	if s.SplitThreshold <= 0 || s.SplitThreshold >= 1 {
		return fmt.Errorf("split_threshold must be between 0 and 1 (exclusive), got %f", s.SplitThreshold)
	}

	if s.SplitDuration <= 0 {
		return fmt.Errorf("split_duration must be positive, got %f", s.SplitDuration)
	}

	if s.SpeechThreshold <= 0 || s.SpeechThreshold >= 1 {
		return fmt.Errorf("speech_threshold must be between 0 and 1 (exclusive), got %f", s.SpeechThreshold)
	}

	if s.AutoStopEnabled && s.AutoStopDuration <= 0 {
		return fmt.Errorf("auto_stop_duration must be positive when auto stop is enabled, got %f", s.AutoStopDuration)
	}

	return nil
}

// Validate validates chime configuration against the capture sample rate
func (c *ChimeConfig) Validate(sampleRate int) error {
	if !c.Enabled {
		return nil
	}

	if c.FFTSize < 256 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("fft_size must be a power of two of at least 256, got %d", c.FFTSize)
	}

	nyquist := float64(sampleRate) / 2
	if c.Tone1Hz <= 0 || c.Tone1Hz >= nyquist {
		return fmt.Errorf("tone1_hz must be between 0 and %f, got %f", nyquist, c.Tone1Hz)
	}

	if c.Tone2Hz <= 0 || c.Tone2Hz >= nyquist {
		return fmt.Errorf("tone2_hz must be between 0 and %f, got %f", nyquist, c.Tone2Hz)
	}

	if c.ToleranceHz <= 0 {
		return fmt.Errorf("tolerance_hz must be positive, got %f", c.ToleranceHz)
	}

	if c.MaxGap <= 0 {
		return fmt.Errorf("max_gap must be positive, got %f", c.MaxGap)
	}

	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown cannot be negative, got %f", c.Cooldown)
	}

	if c.SNR < 1 {
		return fmt.Errorf("snr must be at least 1, got %f", c.SNR)
	}

	if c.MinMagnitude < 0 {
		return fmt.Errorf("min_magnitude cannot be negative, got %f", c.MinMagnitude)
	}

	if c.BandLowHz < 0 || c.BandHighHz <= c.BandLowHz || c.BandHighHz > nyquist {
		return fmt.Errorf("band must satisfy 0 <= band_low_hz < band_high_hz <= %f, got %f-%f",
			nyquist, c.BandLowHz, c.BandHighHz)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}

	return nil
}

// Validate validates reconnect configuration
func (r *ReconnectConfig) Validate() error {
	if r.Delay < 0 {
		return fmt.Errorf("delay cannot be negative, got %f", r.Delay)
	}

	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", r.MaxAttempts)
	}

	return nil
}

// Validate validates UDP source configuration
func (s *SourceConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.StallTimeout <= 0 {
		return fmt.Errorf("stall_timeout must be positive, got %f", s.StallTimeout)
	}

	if s.MaxGapPackets < 0 {
		return fmt.Errorf("max_gap_packets cannot be negative, got %d", s.MaxGapPackets)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.ASREndpoint == "" {
		return fmt.Errorf("asr_endpoint cannot be empty")
	}

	if t.DiarizationEndpoint == "" {
		return fmt.Errorf("diarization_endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.SampleRate < 8000 || t.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", t.SampleRate)
	}

	if t.SystemMixLevel < 0 || t.SystemMixLevel > 1 {
		return fmt.Errorf("system_mix_level must be between 0 and 1, got %f", t.SystemMixLevel)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration. Output may be stdout, stderr or a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetChunkTarget returns the target chunk length as a time.Duration
func (c *CaptureConfig) GetChunkTarget() time.Duration {
	return time.Duration(c.ChunkTargetMinutes * float64(time.Minute))
}

// GetSplitWindow returns the split window as a time.Duration
func (c *CaptureConfig) GetSplitWindow() time.Duration {
	return time.Duration(c.SplitWindow * float64(time.Second))
}

// GetWarningClearDelay returns the advisory clear delay as a time.Duration
func (c *CaptureConfig) GetWarningClearDelay() time.Duration {
	return time.Duration(c.WarningClearDelay * float64(time.Second))
}

// GetSplitDuration returns the split silence duration as a time.Duration
func (s *SilenceConfig) GetSplitDuration() time.Duration {
	return time.Duration(s.SplitDuration * float64(time.Second))
}

// GetAutoStopDuration returns the auto-stop silence duration as a time.Duration
func (s *SilenceConfig) GetAutoStopDuration() time.Duration {
	return time.Duration(s.AutoStopDuration * float64(time.Second))
}

// GetMaxGap returns the maximum tone gap as a time.Duration
func (c *ChimeConfig) GetMaxGap() time.Duration {
	return time.Duration(c.MaxGap * float64(time.Second))
}

// GetCooldown returns the detection cooldown as a time.Duration
func (c *ChimeConfig) GetCooldown() time.Duration {
	return time.Duration(c.Cooldown * float64(time.Second))
}

// GetDelay returns the reconnect delay as a time.Duration
func (r *ReconnectConfig) GetDelay() time.Duration {
	return time.Duration(r.Delay * float64(time.Second))
}

// GetStallTimeout returns the stall timeout as a time.Duration
func (s *SourceConfig) GetStallTimeout() time.Duration {
	return time.Duration(s.StallTimeout * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
