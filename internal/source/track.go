package source

import (
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
)

// Track delivers the frames of one network track to a tap. It implements
// audio.FrameSource, audio.StatusNotifier and reconnect.Stream.
type Track struct {
	id       audio.Track
	listener *UDPListener

	mu          sync.Mutex
	format      audio.Format
	tap         audio.TapFunc
	onStop      func(error)
	notify      func(audio.StreamEvent)
	running     bool
	since       time.Time
	lastArrival time.Time
	stalled     bool
	haveSeq     bool
	lastSeq     uint32
	lastTag     uint32
	lastSize    int
	stats       TrackStats
}

// TrackStats holds per-track packet counters
type TrackStats struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsDelivered uint64 `json:"packets_delivered"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	PacketsLost      uint64 `json:"packets_lost"`
	GapsFilled       uint64 `json:"gaps_filled"`
	Stalls           uint64 `json:"stalls"`
	SampleRate       int    `json:"sample_rate"`
	Running          bool   `json:"running"`
}

func newTrack(id audio.Track, l *UDPListener) *Track {
	return &Track{
		id:       id,
		listener: l,
		format:   audio.Format{SampleRate: audio.DefaultSampleRate, Channels: 1},
	}
}

// ID returns the track this source carries
func (t *Track) ID() audio.Track {
	return t.id
}

// NativeFormat returns the format last announced by the sender
func (t *Track) NativeFormat() (audio.Format, error) {
	if t.listener.isClosed() {
		return audio.Format{}, ErrListenerClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format, nil
}

// InstallTap starts delivery to tap. Calling it while running is a no-op.
func (t *Track) InstallTap(tap audio.TapFunc) error {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	if running {
		return nil
	}
	return t.Start(tap, nil)
}

// RemoveTap stops delivery
func (t *Track) RemoveTap() {
	t.Stop()
}

// Notify registers a status callback used when no onStop handler is set:
// a stall reports StreamInterrupted and the next packet StreamRecovered.
func (t *Track) Notify(fn func(audio.StreamEvent)) {
	t.mu.Lock()
	t.notify = fn
	t.mu.Unlock()
}

// Start begins delivery to tap. onStop, if set, is called once when the
// track stalls. A track that stalled stays unavailable until a packet arrives.
func (t *Track) Start(tap audio.TapFunc, onStop func(error)) error {
	if t.listener.isClosed() {
		return ErrListenerClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stalled {
		return ErrStalled
	}
	t.tap = tap
	t.onStop = onStop
	t.running = true
	t.since = time.Now()
	// Sequence numbering restarts with each sender stream
	t.haveSeq = false
	return nil
}

// Stop ends delivery. It is safe to call more than once.
func (t *Track) Stop() error {
	t.mu.Lock()
	t.running = false
	t.tap = nil
	t.onStop = nil
	t.mu.Unlock()
	return nil
}

// Stats returns a copy of the counters
func (t *Track) Stats() TrackStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	s.SampleRate = t.format.SampleRate
	s.Running = t.running
	return s
}

// setFormat records an announced format and reports whether the sample rate
// of a running track changed
func (t *Track) setFormat(f audio.Format, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.arrived(now)
	changed := t.running && f.SampleRate != t.format.SampleRate
	t.format = f
	return changed
}

// deliver hands one audio packet to the tap, filling short sequence gaps
// with silence. A new session tag restarts sequence tracking. It must only be
// called from the listener's processor.
func (t *Track) deliver(tag, seq uint32, samples []float32, now time.Time) {
	m := t.listener.metrics
	name := t.id.String()

	t.mu.Lock()
	t.stats.PacketsReceived++
	recovered := t.arrived(now)
	notify := t.notify

	if !t.running {
		t.mu.Unlock()
		t.emitRecovered(recovered, notify)
		return
	}

	var gap int
	if t.haveSeq && tag == t.lastTag {
		diff := int32(seq - t.lastSeq)
		if diff <= 0 {
			t.stats.PacketsDropped++
			t.mu.Unlock()
			m.RecordPacketDropped(name)
			return
		}
		gap = int(diff) - 1
	}

	var fill []float32
	if gap > 0 {
		t.stats.PacketsLost += uint64(gap)
		m.RecordPacketsLost(name, gap)
		if gap <= t.listener.config.MaxGapPackets {
			fill = make([]float32, gap*t.lastSize)
			t.stats.GapsFilled++
		}
	}

	t.haveSeq = true
	t.lastTag = tag
	t.lastSeq = seq
	t.lastSize = len(samples)
	t.stats.PacketsDelivered++
	tap := t.tap
	t.mu.Unlock()

	if len(fill) > 0 {
		tap(fill)
	}
	tap(samples)
	t.emitRecovered(recovered, notify)
}

// arrived marks packet arrival and reports whether it ended a stall.
// Caller holds t.mu.
func (t *Track) arrived(now time.Time) bool {
	t.lastArrival = now
	if !t.stalled {
		return false
	}
	t.stalled = false
	return true
}

func (t *Track) emitRecovered(recovered bool, notify func(audio.StreamEvent)) {
	if recovered && notify != nil {
		t.listener.logger.Info("Track resumed", slog.String("track", t.id.String()))
		notify(audio.StreamEvent{Kind: audio.StreamRecovered})
	}
}

// checkStall reports a running track that has not received a packet within
// timeout, either through onStop or the status callback
func (t *Track) checkStall(now time.Time, timeout time.Duration) {
	t.mu.Lock()
	if !t.running || t.stalled {
		t.mu.Unlock()
		return
	}
	last := t.since
	if t.lastArrival.After(last) {
		last = t.lastArrival
	}
	if now.Sub(last) < timeout {
		t.mu.Unlock()
		return
	}

	t.stalled = true
	t.stats.Stalls++
	onStop, notify := t.onStop, t.notify
	if onStop != nil {
		t.running = false
		t.tap = nil
		t.onStop = nil
	}
	t.mu.Unlock()

	t.listener.logger.Warn("Track stalled",
		slog.String("track", t.id.String()),
		slog.String("silent_for", now.Sub(last).String()),
	)

	switch {
	case onStop != nil:
		onStop(ErrStalled)
	case notify != nil:
		notify(audio.StreamEvent{Kind: audio.StreamInterrupted, Err: ErrStalled})
	}
}
