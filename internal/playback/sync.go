package playback

import (
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/speechcap/internal/transcript"
)

// ScrollHoldOff is how long auto-scroll stays off after a manual scroll
const ScrollHoldOff = 3 * time.Second

// Position locates the active segment and word. Indices are -1 when unset.
type Position struct {
	Segment int  `json:"segment"`
	Word    int  `json:"word"`
	OK      bool `json:"ok"`
}

var none = Position{Segment: -1, Word: -1}

// FindActive returns the segment whose [start, end) contains t and, within
// it, the last word starting at or before t. Segments must be sorted and
// non-overlapping, as Merge produces them. t inside a gap between words
// keeps the previous word active.
func FindActive(t float64, segments []transcript.Segment) Position {
	// First segment ending after t; it is active if it has started
	i := sort.Search(len(segments), func(i int) bool { return segments[i].End > t })
	if i == len(segments) || t < segments[i].Start {
		return none
	}

	words := segments[i].Words
	// First word starting after t; the one before it is active
	w := sort.Search(len(words), func(j int) bool { return words[j].Start > t }) - 1

	return Position{Segment: i, Word: w, OK: true}
}

// State is the result of one Tracker tick
type State struct {
	Position
	Time       float64 `json:"time"`
	AutoScroll bool    `json:"auto_scroll"`
}

// Tracker follows playback over one transcript. It keeps no timer; callers
// tick it at their refresh rate with the player's current time.
type Tracker struct {
	mu         sync.Mutex
	segments   []transcript.Segment
	lastScroll time.Time
	last       State
}

// NewTracker creates a tracker over segments
func NewTracker(segments []transcript.Segment) *Tracker {
	return &Tracker{
		segments: segments,
		last:     State{Position: none, AutoScroll: true},
	}
}

// SetTranscript replaces the transcript, for example after a re-merge
func (tr *Tracker) SetTranscript(segments []transcript.Segment) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.segments = segments
	tr.last.Position = none
}

// Tick resolves the active position for playback time t at wall time now
func (tr *Tracker) Tick(t float64, now time.Time) State {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.last = State{
		Position:   FindActive(t, tr.segments),
		Time:       t,
		AutoScroll: tr.lastScroll.IsZero() || now.Sub(tr.lastScroll) > ScrollHoldOff,
	}
	return tr.last
}

// Last returns the state computed by the latest Tick
func (tr *Tracker) Last() State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.last
}

// UserDidScroll suspends auto-scroll for ScrollHoldOff from now
func (tr *Tracker) UserDidScroll(now time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.lastScroll = now
	tr.last.AutoScroll = false
}

// SeekTarget returns the playback time of a word, or of the segment start
// when word is negative
func (tr *Tracker) SeekTarget(segment, word int) (float64, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if segment < 0 || segment >= len(tr.segments) {
		return 0, false
	}
	s := tr.segments[segment]
	if word < 0 {
		return s.Start, true
	}
	if word >= len(s.Words) {
		return 0, false
	}
	return s.Words[word].Start, true
}

// Reset forgets the last position and any manual scroll
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.lastScroll = time.Time{}
	tr.last = State{Position: none, AutoScroll: true}
}
