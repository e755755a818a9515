package capture

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
)

func TestNewSplitPolicyRejectsShortTarget(t *testing.T) {
	tests := []struct {
		name   string
		target time.Duration
		window time.Duration
	}{
		{"target equals window", 30 * time.Second, 30 * time.Second},
		{"target below window", 10 * time.Second, 30 * time.Second},
		{"zero window", time.Minute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitPolicy(tt.target, tt.window, 0.01, 300*time.Millisecond)
			if !errors.Is(err, ErrInvalidChunkTarget) {
				t.Errorf("Expected ErrInvalidChunkTarget, got %v", err)
			}
		})
	}
}

func TestSplitPolicy(t *testing.T) {
	const (
		loud  = 0.5
		quiet = 0.001
		step  = 100 * time.Millisecond
	)

	tests := []struct {
		name string
		// level returns the rms for the frame ending at elapsed
		level      func(elapsed time.Duration) float64
		wantAt     time.Duration
		wantReason SplitReason
	}{
		{
			name:       "continuous speech hits the ceiling",
			level:      func(time.Duration) float64 { return loud },
			wantAt:     90 * time.Second,
			wantReason: SplitCeiling,
		},
		{
			name: "gap inside the window",
			level: func(e time.Duration) float64 {
				if e > 40*time.Second && e <= 41*time.Second {
					return quiet
				}
				return loud
			},
			// silence starts at 40.1s and is confirmed 300ms later
			wantAt:     40400 * time.Millisecond,
			wantReason: SplitSilence,
		},
		{
			name: "gap before the window is ignored",
			level: func(e time.Duration) float64 {
				if e > 10*time.Second && e <= 15*time.Second {
					return quiet
				}
				return loud
			},
			wantAt:     90 * time.Second,
			wantReason: SplitCeiling,
		},
		{
			name: "silence already running when seeking starts",
			level: func(e time.Duration) float64 {
				if e > 29*time.Second {
					return quiet
				}
				return loud
			},
			// the run is measured from the first frame inside the window
			wantAt:     30300 * time.Millisecond,
			wantReason: SplitSilence,
		},
		{
			name: "gap shorter than the silence duration",
			level: func(e time.Duration) float64 {
				if e > 50*time.Second && e <= 50200*time.Millisecond {
					return quiet
				}
				return loud
			},
			wantAt:     90 * time.Second,
			wantReason: SplitCeiling,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewSplitPolicy(time.Minute, 30*time.Second, 0.01, 300*time.Millisecond)
			if err != nil {
				t.Fatalf("NewSplitPolicy failed: %v", err)
			}

			var gotAt time.Duration
			var got SplitDecision
			for e := step; e <= 2*time.Minute; e += step {
				if d := p.Observe(tt.level(e), e); d.Split {
					gotAt, got = e, d
					break
				}
			}

			if !got.Split {
				t.Fatal("Expected a split")
			}
			if gotAt != tt.wantAt {
				t.Errorf("Expected split at %s, got %s", tt.wantAt, gotAt)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Expected reason %s, got %s", tt.wantReason, got.Reason)
			}
			if p.State() != StateRecording {
				t.Errorf("Expected state recording after split, got %s", p.State())
			}
		})
	}
}

func TestSplitPolicyObserveFrameCountsWholeFrames(t *testing.T) {
	p, err := NewSplitPolicy(time.Minute, 30*time.Second, 0.01, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSplitPolicy failed: %v", err)
	}

	frame := 100 * time.Millisecond
	for e := frame; e <= 40*time.Second; e += frame {
		if d := p.ObserveFrame(0.5, e-frame, e); d.Split {
			t.Fatalf("Unexpected split at %s", e)
		}
	}

	// The silent run starts with the first quiet frame at 40s
	var gotAt time.Duration
	for e := 40*time.Second + frame; e <= 41*time.Second; e += frame {
		if d := p.ObserveFrame(0, e-frame, e); d.Split {
			gotAt = e
			break
		}
	}
	if gotAt != 40300*time.Millisecond {
		t.Errorf("Expected split at 40.3s, got %s", gotAt)
	}
}

func TestSplitPolicyStateAndStats(t *testing.T) {
	p, err := NewSplitPolicy(time.Minute, 30*time.Second, 0.01, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSplitPolicy failed: %v", err)
	}

	p.Observe(0.5, 29*time.Second)
	if p.State() != StateRecording {
		t.Errorf("Expected recording before the window, got %s", p.State())
	}

	p.Observe(0.5, 30*time.Second)
	if p.State() != StateSplitSeeking {
		t.Errorf("Expected split_seeking inside the window, got %s", p.State())
	}

	p.Observe(0.5, 90*time.Second)
	p.Observe(0.5, 30*time.Second)
	p.Observe(0.0, 30100*time.Millisecond)
	p.Observe(0.0, 30400*time.Millisecond)

	stats := p.Stats()
	if stats.CeilingSplits != 1 {
		t.Errorf("Expected 1 ceiling split, got %d", stats.CeilingSplits)
	}
	if stats.SilenceSplits != 1 {
		t.Errorf("Expected 1 silence split, got %d", stats.SilenceSplits)
	}
}

func TestChunkPath(t *testing.T) {
	tests := []struct {
		track  audio.Track
		index  int
		parted bool
		want   string
	}{
		{audio.TrackMic, 0, false, filepath.Join("dir", "abc.wav")},
		{audio.TrackMic, 0, true, filepath.Join("dir", "abc_part1.wav")},
		{audio.TrackMic, 2, true, filepath.Join("dir", "abc_part3.wav")},
		{audio.TrackSystem, 0, false, filepath.Join("dir", "abc_system.wav")},
		{audio.TrackSystem, 1, true, filepath.Join("dir", "abc_system_part2.wav")},
	}

	for _, tt := range tests {
		if got := chunkPath("dir", "abc", tt.track, tt.index, tt.parted); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}
