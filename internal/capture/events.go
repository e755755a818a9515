package capture

import (
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
)

// EventType identifies what an Event reports
type EventType int

const (
	// EventLevel carries the RMS level of recent audio on a track
	EventLevel EventType = iota
	// EventChunkSplit reports a closed chunk after a split
	EventChunkSplit
	// EventAutoStop asks the caller to stop after a long silence
	EventAutoStop
	// EventChime reports a detected end-of-call chime
	EventChime
	// EventAdvisory surfaces a recoverable or degraded condition
	EventAdvisory
	// EventAdvisoryCleared withdraws the current transient advisory
	EventAdvisoryCleared
)

func (t EventType) String() string {
	switch t {
	case EventLevel:
		return "level"
	case EventChunkSplit:
		return "chunk_split"
	case EventAutoStop:
		return "auto_stop"
	case EventChime:
		return "chime"
	case EventAdvisory:
		return "advisory"
	case EventAdvisoryCleared:
		return "advisory_cleared"
	default:
		return "unknown"
	}
}

// AdvisorySeverity distinguishes recoverable conditions from degraded ones
type AdvisorySeverity int

const (
	// AdvisoryTransient is shown while recovery is attempted and cleared afterwards
	AdvisoryTransient AdvisorySeverity = iota + 1
	// AdvisoryTerminal is surfaced once when a track cannot be recovered
	AdvisoryTerminal
)

func (s AdvisorySeverity) String() string {
	switch s {
	case AdvisoryTransient:
		return "transient"
	case AdvisoryTerminal:
		return "terminal"
	default:
		return ""
	}
}

// Event is an immutable notification from a running session
type Event struct {
	Type     EventType        `json:"type"`
	Track    audio.Track      `json:"track,omitempty"`
	Level    float64          `json:"level,omitempty"`
	Advisory AdvisorySeverity `json:"advisory,omitempty"`
	Message  string           `json:"message,omitempty"`
	Chunk    *ChunkFile       `json:"chunk,omitempty"`
	At       time.Duration    `json:"at"` // session media time
}

// ChunkFile describes one chunk of a track
type ChunkFile struct {
	Track       audio.Track   `json:"track"`
	Index       int           `json:"index"`
	Path        string        `json:"path"`
	StartOffset time.Duration `json:"start_offset"`
	Duration    time.Duration `json:"duration"`
}

// Result lists the chunk files of a finished session in order
type Result struct {
	ID           string        `json:"id"`
	MicChunks    []ChunkFile   `json:"mic_chunks"`
	SystemChunks []ChunkFile   `json:"system_chunks"`
	Duration     time.Duration `json:"duration"`
	SampleRate   int           `json:"sample_rate"`
}

// MicPaths returns the mic chunk paths in order
func (r Result) MicPaths() []string {
	return chunkPaths(r.MicChunks)
}

// SystemPaths returns the system chunk paths in order, empty for single-track sessions
func (r Result) SystemPaths() []string {
	return chunkPaths(r.SystemChunks)
}

func chunkPaths(chunks []ChunkFile) []string {
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = c.Path
	}
	return paths
}
