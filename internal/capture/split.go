package capture

import (
	"fmt"
	"time"

	"github.com/skypro1111/speechcap/internal/vad"
)

// SplitState is the state of the split policy within the current chunk
type SplitState int

const (
	// StateRecording writes without looking for a split point
	StateRecording SplitState = iota
	// StateSplitSeeking looks for a silence gap to end the chunk
	StateSplitSeeking
)

func (s SplitState) String() string {
	if s == StateSplitSeeking {
		return "split_seeking"
	}
	return "recording"
}

// SplitReason records why a chunk ended
type SplitReason string

const (
	SplitSilence SplitReason = "silence"
	SplitCeiling SplitReason = "ceiling"
)

// SplitDecision is the outcome of observing one frame
type SplitDecision struct {
	Split  bool
	Reason SplitReason
}

// SplitStats counts splits by reason
type SplitStats struct {
	SilenceSplits int `json:"silence_splits"`
	CeilingSplits int `json:"ceiling_splits"`
}

// SplitPolicy decides where chunks end. From target-window it seeks a silent
// run and splits once one is confirmed; at target+window it splits
// regardless. Time is the chunk's own elapsed media time.
type SplitPolicy struct {
	target time.Duration
	window time.Duration
	timer  *vad.SilenceTimer
	state  SplitState
	stats  SplitStats
}

// NewSplitPolicy creates a policy around target with the given window on either side
func NewSplitPolicy(target, window time.Duration, threshold float64, silence time.Duration) (*SplitPolicy, error) {
	if window <= 0 || target <= window {
		return nil, fmt.Errorf("%w: target %s, window %s", ErrInvalidChunkTarget, target, window)
	}

	timer, err := vad.NewSilenceTimer(threshold, silence)
	if err != nil {
		return nil, fmt.Errorf("split silence timer: %w", err)
	}

	return &SplitPolicy{
		target: target,
		window: window,
		timer:  timer,
	}, nil
}

// Observe feeds a level reading taken at chunkElapsed
func (p *SplitPolicy) Observe(rms float64, chunkElapsed time.Duration) SplitDecision {
	return p.ObserveFrame(rms, chunkElapsed, chunkElapsed)
}

// ObserveFrame feeds the level of a frame spanning [frameStart, chunkElapsed)
// of the chunk
func (p *SplitPolicy) ObserveFrame(rms float64, frameStart, chunkElapsed time.Duration) SplitDecision {
	if chunkElapsed >= p.target+p.window {
		p.reset()
		p.stats.CeilingSplits++
		return SplitDecision{Split: true, Reason: SplitCeiling}
	}

	if p.state == StateRecording {
		if chunkElapsed < p.target-p.window {
			return SplitDecision{}
		}
		p.state = StateSplitSeeking
		p.timer.Reset()
	}

	if p.timer.ObserveFrame(rms, frameStart, chunkElapsed) {
		p.reset()
		p.stats.SilenceSplits++
		return SplitDecision{Split: true, Reason: SplitSilence}
	}
	return SplitDecision{}
}

// State returns the current policy state
func (p *SplitPolicy) State() SplitState {
	return p.state
}

// Stats returns split counters
func (p *SplitPolicy) Stats() SplitStats {
	return p.stats
}

func (p *SplitPolicy) reset() {
	p.state = StateRecording
	p.timer.Reset()
}
