package vad

import (
	"fmt"
	"time"
)

// SilenceTimer tracks how long the observed level has stayed below Threshold.
// Time is supplied by the caller, so the same timer works against a media
// clock (sample counts) or a wall clock.
type SilenceTimer struct {
	threshold float64
	duration  time.Duration

	silent       bool
	silenceStart time.Duration
}

// NewSilenceTimer creates a timer that expires after duration of levels below threshold
func NewSilenceTimer(threshold float64, duration time.Duration) (*SilenceTimer, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive, got %f", threshold)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", duration)
	}

	return &SilenceTimer{
		threshold: threshold,
		duration:  duration,
	}, nil
}

// Observe feeds one level reading taken at now and reports whether the
// current silent run has lasted at least the configured duration.
// A level at or above the threshold resets the run.
func (s *SilenceTimer) Observe(rms float64, now time.Duration) bool {
	return s.ObserveFrame(rms, now, now)
}

// ObserveFrame feeds the level of a frame spanning [start, end). A silent run
// begins at the start of its first quiet frame and is measured to end.
func (s *SilenceTimer) ObserveFrame(rms float64, start, end time.Duration) bool {
	if rms >= s.threshold {
		s.silent = false
		return false
	}

	if !s.silent {
		s.silent = true
		s.silenceStart = start
	}
	return end-s.silenceStart >= s.duration
}

// Reset forgets any silent run in progress
func (s *SilenceTimer) Reset() {
	s.silent = false
	s.silenceStart = 0
}

// SilentFor returns how long the current silent run has lasted at now
func (s *SilenceTimer) SilentFor(now time.Duration) time.Duration {
	if !s.silent || now < s.silenceStart {
		return 0
	}
	return now - s.silenceStart
}

// Threshold returns the level below which a reading counts as silence
func (s *SilenceTimer) Threshold() float64 {
	return s.threshold
}

// Duration returns the silent run length needed to expire
func (s *SilenceTimer) Duration() time.Duration {
	return s.duration
}
