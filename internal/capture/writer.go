package capture

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/metrics"
	"github.com/skypro1111/speechcap/internal/vad"
)

// Snapshot is an immutable view of a session published by the writer
type Snapshot struct {
	ID             string        `json:"id,omitempty"`
	State          string        `json:"state"`
	DualTrack      bool          `json:"dual_track"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
	ChunkElapsed   time.Duration `json:"chunk_elapsed"`
	SplitSeeking   bool          `json:"split_seeking"`
	MicChunks      []ChunkFile   `json:"mic_chunks"`
	SystemChunks   []ChunkFile   `json:"system_chunks"`
	Splits         SplitStats    `json:"splits"`
	QueueDepth     int           `json:"queue_depth"`
	QueuePeak      int           `json:"queue_peak"`
	MicDegraded    bool          `json:"mic_degraded"`
	SystemDegraded bool          `json:"system_degraded"`
	MicLevel       float64       `json:"mic_level"`
	SystemLevel    float64       `json:"system_level"`
	DroppedEvents  int64         `json:"dropped_events"`
}

// writer is the single consumer of a session's handoff. It owns every chunk
// file of the session, so closes always follow the writes queued before them.
type writer struct {
	id         string
	startedAt  time.Time
	sampleRate int
	q          *handoff

	mic    *trackFile
	system *trackFile

	policy          *SplitPolicy
	autoStop        *vad.SilenceTimer
	speechThreshold float64
	autoStopFired   bool

	micFrames    int64
	systemFrames int64
	micLevel     float64
	systemLevel  float64

	levelInterval time.Duration
	nextLevel     [2]time.Duration // indexed by track slot

	emit     func(Event)
	snapshot *atomic.Pointer[Snapshot]
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func (w *writer) run(done chan<- struct{}) {
	defer close(done)

	for range w.q.signal {
		batch := w.q.take()
		for i := range batch {
			m := &batch[i]
			switch m.kind {
			case msgFrame:
				w.handleFrame(m)
			case msgBarrier:
				w.publish()
				close(m.done)
			case msgStop:
				*m.result = w.finish()
				w.publish()
				close(m.done)
				return
			}
			batch[i] = message{}
		}
		w.publish()
	}
}

func (w *writer) handleFrame(m *message) {
	switch m.track {
	case audio.TrackMic:
		frameStart, chunkFrameStart := w.elapsed(), w.mic.elapsed()
		w.mic.write(m.samples)
		w.micFrames += int64(len(m.samples))
		w.micLevel = m.rms
		now := w.elapsed()
		w.level(audio.TrackMic, m.rms, now)

		if d := w.policy.ObserveFrame(m.rms, chunkFrameStart, w.mic.elapsed()); d.Split {
			w.split(d.Reason, now)
		}
		w.observeAutoStop(m.rms, frameStart, now)

	case audio.TrackSystem:
		if w.system == nil {
			return
		}
		w.system.write(m.samples)
		w.systemFrames += int64(len(m.samples))
		w.systemLevel = m.rms
		w.level(audio.TrackSystem, m.rms, framesToDuration(w.systemFrames, w.sampleRate))

		// Someone talking on the far end keeps the session alive
		if w.autoStop != nil && m.rms >= w.speechThreshold {
			w.autoStop.Reset()
			w.autoStopFired = false
		}
	}
}

// elapsed is the session media time, driven by the mic track
func (w *writer) elapsed() time.Duration {
	return framesToDuration(w.micFrames, w.sampleRate)
}

func (w *writer) level(track audio.Track, rms float64, now time.Duration) {
	if w.levelInterval <= 0 {
		return
	}

	slot := 0
	if track == audio.TrackSystem {
		slot = 1
	}
	if now < w.nextLevel[slot] {
		return
	}
	w.nextLevel[slot] = now + w.levelInterval
	w.emit(Event{Type: EventLevel, Track: track, Level: rms, At: now})
}

func (w *writer) split(reason SplitReason, now time.Duration) {
	chunk, ok := w.mic.split(now)
	if w.system != nil {
		w.system.split(now)
	}

	w.metrics.RecordSplit(string(reason))
	if !ok {
		return
	}
	w.metrics.RecordChunkClosed(chunk.Duration.Seconds())

	w.logger.Info("Chunk split",
		slog.String("reason", string(reason)),
		slog.Int("chunk_index", chunk.Index),
		slog.String("duration", chunk.Duration.String()),
		slog.String("path", chunk.Path),
	)
	w.emit(Event{Type: EventChunkSplit, Track: audio.TrackMic, Message: string(reason), Chunk: &chunk, At: now})
}

func (w *writer) observeAutoStop(rms float64, frameStart, now time.Duration) {
	if w.autoStop == nil {
		return
	}
	if rms >= w.speechThreshold {
		w.autoStopFired = false
	}
	if !w.autoStop.ObserveFrame(rms, frameStart, now) || w.autoStopFired {
		return
	}

	w.autoStopFired = true
	w.metrics.RecordAutoStop()
	w.logger.Info("No speech detected, requesting stop", slog.String("silent_for", w.autoStop.SilentFor(now).String()))
	w.emit(Event{Type: EventAutoStop, Track: audio.TrackMic, Message: "no speech detected", At: now})
}

// finish closes every open chunk and returns the session result
func (w *writer) finish() Result {
	if chunk, ok := w.mic.finish(); ok {
		w.metrics.RecordChunkClosed(chunk.Duration.Seconds())
	}

	result := Result{
		ID:           w.id,
		MicChunks:    w.mic.closed,
		SystemChunks: []ChunkFile{},
		Duration:     w.elapsed(),
		SampleRate:   w.sampleRate,
	}
	if w.system != nil {
		w.system.finish()
		result.SystemChunks = w.system.closed
	}
	return result
}

func (w *writer) publish() {
	depth, peak := w.q.depth()
	w.metrics.SetHandoffDepth(depth, peak)

	snap := &Snapshot{
		ID:           w.id,
		State:        w.policy.State().String(),
		DualTrack:    w.system != nil,
		StartedAt:    w.startedAt,
		Elapsed:      w.elapsed(),
		ChunkElapsed: w.mic.elapsed(),
		SplitSeeking: w.policy.State() == StateSplitSeeking,
		MicChunks:    w.mic.chunks(),
		SystemChunks: []ChunkFile{},
		Splits:       w.policy.Stats(),
		MicLevel:     w.micLevel,
		SystemLevel:  w.systemLevel,
	}
	if w.system != nil {
		snap.SystemChunks = w.system.chunks()
	}
	w.snapshot.Store(snap)
}
