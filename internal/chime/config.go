package chime

import (
	"fmt"
	"time"
)

// Config holds detector parameters. The tone frequencies are approximations
// of a known chime and are expected to be tuned per deployment.
type Config struct {
	SampleRate   int
	FFTSize      int
	Tone1Hz      float64
	Tone2Hz      float64
	ToleranceHz  float64
	MaxGap       time.Duration
	Cooldown     time.Duration
	SNR          float64
	MinMagnitude float64
	BandLowHz    float64
	BandHighHz   float64
	QueueSize    int
}

// DefaultConfig returns parameters for a G5 -> E5 chime at 48 kHz
func DefaultConfig() Config {
	return Config{
		SampleRate:   48000,
		FFTSize:      4096,
		Tone1Hz:      783,
		Tone2Hz:      659,
		ToleranceHz:  30,
		MaxGap:       800 * time.Millisecond,
		Cooldown:     10 * time.Second,
		SNR:          8,
		MinMagnitude: 1e-3,
		BandLowHz:    200,
		BandHighHz:   2000,
		QueueSize:    64,
	}
}

// Validate checks the configuration for values the detector cannot run with
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FFTSize < 256 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("fft size must be a power of two of at least 256, got %d", c.FFTSize)
	}

	nyquist := float64(c.SampleRate) / 2
	for _, f := range []float64{c.Tone1Hz, c.Tone2Hz} {
		if f <= 0 || f >= nyquist {
			return fmt.Errorf("tone frequency %f outside (0, %f)", f, nyquist)
		}
	}
	if c.ToleranceHz <= 0 {
		return fmt.Errorf("tolerance must be positive, got %f", c.ToleranceHz)
	}
	if c.MaxGap <= 0 {
		return fmt.Errorf("max gap must be positive, got %s", c.MaxGap)
	}
	if c.SNR < 1 {
		return fmt.Errorf("snr must be at least 1, got %f", c.SNR)
	}
	if c.BandLowHz < 0 || c.BandHighHz <= c.BandLowHz || c.BandHighHz > nyquist {
		return fmt.Errorf("invalid noise band %f-%f Hz", c.BandLowHz, c.BandHighHz)
	}
	return nil
}
