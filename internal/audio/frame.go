package audio

import "fmt"

// Track identifies one captured input of a recording session
type Track uint8

const (
	TrackMic    Track = 0x01 // Microphone input
	TrackSystem Track = 0x02 // System audio output
)

// String returns the track name used in logs, metrics and file names
func (t Track) String() string {
	switch t {
	case TrackMic:
		return "mic"
	case TrackSystem:
		return "system"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// IsValid reports whether t is a known track
func (t Track) IsValid() bool {
	return t == TrackMic || t == TrackSystem
}

// MarshalText encodes the track by name
func (t Track) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid track 0x%02x", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a track name
func (t *Track) UnmarshalText(text []byte) error {
	switch string(text) {
	case "mic":
		*t = TrackMic
	case "system":
		*t = TrackSystem
	default:
		return fmt.Errorf("unknown track %q", text)
	}
	return nil
}

// DefaultSampleRate is the native rate assumed for capture
const DefaultSampleRate = 48000

// Format describes the native format of a frame source
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Validate checks that the format can be captured
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 {
		return fmt.Errorf("channel count must be at least 1, got %d", f.Channels)
	}
	return nil
}

// TapFunc receives mono float32 samples on the source's real-time callback.
// The slice may be reused once the call returns.
type TapFunc func(samples []float32)

// FrameSource is a capture input that delivers fixed-size frames to a tap.
// InstallTap and RemoveTap are idempotent.
type FrameSource interface {
	NativeFormat() (Format, error)
	InstallTap(tap TapFunc) error
	RemoveTap()
}

// StreamEventKind classifies a status change of a self-recovering source
type StreamEventKind int

const (
	StreamInterrupted StreamEventKind = iota // stream stopped, recovery in progress
	StreamRecovered                          // stream restarted
	StreamLost                               // recovery gave up
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamInterrupted:
		return "interrupted"
	case StreamRecovered:
		return "recovered"
	case StreamLost:
		return "lost"
	default:
		return "unknown"
	}
}

// StreamEvent is reported by sources that implement StatusNotifier
type StreamEvent struct {
	Kind StreamEventKind
	Err  error
}

// StatusNotifier is implemented by sources that recover from stream loss on their own
type StatusNotifier interface {
	Notify(fn func(StreamEvent))
}
