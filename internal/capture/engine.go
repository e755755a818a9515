package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/chime"
	"github.com/skypro1111/speechcap/internal/metrics"
	"github.com/skypro1111/speechcap/internal/vad"
)

const eventBufferSize = 256

// Config holds engine parameters
type Config struct {
	OutputDir         string
	SampleRate        int
	SplitWindow       time.Duration
	SplitThreshold    float64
	SplitSilence      time.Duration
	SpeechThreshold   float64
	AutoStop          time.Duration // 0 disables auto-stop
	WarnQueueDepth    int
	WarningClearDelay time.Duration
	LevelInterval     time.Duration // 0 disables level events
	Chime             *chime.Config // nil disables chime detection
}

// DefaultConfig returns the shipped engine parameters
func DefaultConfig() Config {
	return Config{
		OutputDir:         "./recordings",
		SampleRate:        audio.DefaultSampleRate,
		SplitWindow:       30 * time.Second,
		SplitThreshold:    0.01,
		SplitSilence:      300 * time.Millisecond,
		SpeechThreshold:   0.02,
		AutoStop:          5 * time.Minute,
		WarnQueueDepth:    512,
		WarningClearDelay: 2 * time.Second,
		LevelInterval:     100 * time.Millisecond,
	}
}

// Engine records one session at a time from a mic source and, for dual-track
// sessions, a system-audio source. Source callbacks only copy samples into
// the handoff queue; a single writer goroutine does all file I/O.
type Engine struct {
	cfg     Config
	mic     audio.FrameSource
	system  audio.FrameSource
	logger  *slog.Logger
	metrics *metrics.Metrics

	events        chan Event
	eventsMu      sync.Mutex
	eventsClosed  bool
	droppedEvents atomic.Int64

	// opMu serializes Start, Stop, HandleRouteChange and Close. mu guards
	// session state and is never held while calling into a source.
	opMu   sync.Mutex
	mu     sync.Mutex
	active *run
	closed bool
}

// run is the engine-side state of a running session
type run struct {
	handle   SessionHandle
	q        *handoff
	done     chan struct{}
	snapshot atomic.Pointer[Snapshot]
	analyzer *chime.Analyzer
	chimeOn  audio.Track

	// Guarded by Engine.mu
	micDegraded    bool
	systemDegraded bool
	warning        bool
	clearTimer     *time.Timer
	silenceStop    chan struct{}
	silenceDone    chan struct{}

	awaitingAudio atomic.Bool
	queueWarned   atomic.Bool
}

// New creates an engine. system may be nil when dual-track capture is never used.
func New(cfg Config, mic, system audio.FrameSource, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.WarnQueueDepth <= 0 {
		cfg.WarnQueueDepth = 512
	}

	return &Engine{
		cfg:     cfg,
		mic:     mic,
		system:  system,
		logger:  logger,
		metrics: m,
		events:  make(chan Event, eventBufferSize),
	}
}

// Events returns the event stream. It is closed by Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Start begins a session with chunks of roughly targetChunkMinutes. Every
// setup failure is returned before any chunk file exists.
func (e *Engine) Start(ctx context.Context, targetChunkMinutes float64, dualTrack bool) (*SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	closed, recording := e.closed, e.active != nil
	e.mu.Unlock()
	if closed {
		return nil, errors.New("engine closed")
	}
	if recording {
		return nil, ErrAlreadyRecording
	}

	target := time.Duration(targetChunkMinutes * float64(time.Minute))
	policy, err := NewSplitPolicy(target, e.cfg.SplitWindow, e.cfg.SplitThreshold, e.cfg.SplitSilence)
	if err != nil {
		return nil, err
	}

	var autoStop *vad.SilenceTimer
	if e.cfg.AutoStop > 0 {
		autoStop, err = vad.NewSilenceTimer(e.cfg.SpeechThreshold, e.cfg.AutoStop)
		if err != nil {
			return nil, fmt.Errorf("auto-stop timer: %w", err)
		}
	}

	micFormat, err := sourceFormat(e.mic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}

	var systemFormat audio.Format
	if dualTrack {
		if systemFormat, err = sourceFormat(e.system); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSystemAudioUnavailable, err)
		}
	}

	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	id := uuid.NewString()
	logger := e.logger.With(slog.String("session_id", id))

	mic := newTrackFile(audio.TrackMic, e.cfg.OutputDir, id, e.cfg.SampleRate, logger, e.metrics)
	if err := mic.open(); err != nil {
		return nil, err
	}

	var system *trackFile
	if dualTrack {
		system = newTrackFile(audio.TrackSystem, e.cfg.OutputDir, id, e.cfg.SampleRate, logger, e.metrics)
		if err := system.open(); err != nil {
			mic.remove()
			return nil, err
		}
	}

	r := &run{
		handle: SessionHandle{
			ID:          id,
			StartedAt:   time.Now(),
			ChunkTarget: target,
			DualTrack:   dualTrack,
			Dir:         e.cfg.OutputDir,
			SampleRate:  e.cfg.SampleRate,
		},
		q:    newHandoff(),
		done: make(chan struct{}),
	}

	w := &writer{
		id:              id,
		startedAt:       r.handle.StartedAt,
		sampleRate:      e.cfg.SampleRate,
		q:               r.q,
		mic:             mic,
		system:          system,
		policy:          policy,
		autoStop:        autoStop,
		speechThreshold: e.cfg.SpeechThreshold,
		levelInterval:   e.cfg.LevelInterval,
		emit:            e.emit,
		snapshot:        &r.snapshot,
		logger:          logger,
		metrics:         e.metrics,
	}
	w.publish()

	if e.cfg.Chime != nil {
		chimeCfg := *e.cfg.Chime
		chimeCfg.SampleRate = e.cfg.SampleRate
		r.chimeOn = audio.TrackMic
		if dualTrack {
			r.chimeOn = audio.TrackSystem
		}
		track := r.chimeOn
		r.analyzer, err = chime.NewAnalyzer(chimeCfg, func() {
			e.emit(Event{Type: EventChime, Track: track, Message: "end-of-call chime", At: r.elapsed()})
		}, logger, e.metrics)
		if err != nil {
			mic.remove()
			if system != nil {
				system.remove()
			}
			return nil, fmt.Errorf("chime analyzer: %w", err)
		}
	}

	go w.run(r.done)

	if notifier, ok := e.mic.(audio.StatusNotifier); ok {
		notifier.Notify(e.handleStatus(r, audio.TrackMic))
	}
	if notifier, ok := e.system.(audio.StatusNotifier); ok && dualTrack {
		notifier.Notify(e.handleStatus(r, audio.TrackSystem))
	}

	abort := func() {
		r.q.close(message{kind: msgStop, done: make(chan struct{}), result: &Result{}})
		<-r.done
		if r.analyzer != nil {
			r.analyzer.Close()
		}
		mic.remove()
		if system != nil {
			system.remove()
		}
	}

	if err := e.mic.InstallTap(e.tap(r, audio.TrackMic, micFormat.SampleRate)); err != nil {
		abort()
		return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	if dualTrack {
		if err := e.system.InstallTap(e.tap(r, audio.TrackSystem, systemFormat.SampleRate)); err != nil {
			e.mic.RemoveTap()
			abort()
			return nil, fmt.Errorf("%w: %v", ErrSystemAudioUnavailable, err)
		}
	}

	e.mu.Lock()
	e.active = r
	e.mu.Unlock()

	e.metrics.RecordSessionStarted()
	logger.Info("Recording started",
		slog.String("chunk_target", target.String()),
		slog.Bool("dual_track", dualTrack),
		slog.Int("sample_rate", e.cfg.SampleRate),
		slog.Int("mic_rate", micFormat.SampleRate),
	)

	handle := r.handle
	return &handle, nil
}

func sourceFormat(src audio.FrameSource) (audio.Format, error) {
	if src == nil {
		return audio.Format{}, errors.New("source not configured")
	}
	format, err := src.NativeFormat()
	if err != nil {
		return audio.Format{}, err
	}
	if err := format.Validate(); err != nil {
		return audio.Format{}, err
	}
	return format, nil
}

// tap builds the real-time callback for a track. It copies (or resamples)
// the samples, measures the level and queues the frame without blocking.
func (e *Engine) tap(r *run, track audio.Track, sourceRate int) audio.TapFunc {
	var resampler *audio.Resampler
	if sourceRate != e.cfg.SampleRate {
		resampler = audio.NewResampler(sourceRate, e.cfg.SampleRate)
	}
	return func(samples []float32) {
		var frame []float32
		if resampler != nil {
			frame = resampler.Process(samples)
		} else {
			frame = make([]float32, len(samples))
			copy(frame, samples)
		}
		e.enqueue(r, track, frame)
	}
}

func (e *Engine) enqueue(r *run, track audio.Track, frame []float32) {
	if len(frame) == 0 {
		return
	}

	depth, ok := r.q.push(message{kind: msgFrame, track: track, samples: frame, rms: vad.RMS(frame)})
	if !ok {
		return
	}
	if depth >= e.cfg.WarnQueueDepth && r.queueWarned.CompareAndSwap(false, true) {
		e.logger.Warn("Chunk writer is falling behind",
			slog.String("session_id", r.handle.ID),
			slog.Int("queue_depth", depth),
		)
	}

	if r.analyzer != nil && track == r.chimeOn {
		r.analyzer.Feed(frame)
	}

	if track == audio.TrackMic && r.awaitingAudio.CompareAndSwap(true, false) {
		time.AfterFunc(e.cfg.WarningClearDelay, func() { e.clearWarning(r) })
	}
}

// Flush blocks until every frame queued before the call has been written
func (e *Engine) Flush() {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()
	if r == nil {
		return
	}

	done := make(chan struct{})
	if _, ok := r.q.push(message{kind: msgBarrier, done: done}); !ok {
		return
	}
	select {
	case <-done:
	case <-r.done:
	}
}

// Stop detaches the sources, drains the write queue and returns the chunk lists
func (e *Engine) Stop() (Result, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	r := e.active
	if r == nil {
		e.mu.Unlock()
		return Result{}, ErrNotRecording
	}
	e.active = nil
	silenceStop, silenceDone := r.silenceStop, r.silenceDone
	r.silenceStop = nil
	if r.clearTimer != nil {
		r.clearTimer.Stop()
	}
	e.mu.Unlock()

	e.mic.RemoveTap()
	if r.handle.DualTrack {
		e.system.RemoveTap()
	}
	if silenceStop != nil {
		close(silenceStop)
		<-silenceDone
	}

	var result Result
	done := make(chan struct{})
	r.q.close(message{kind: msgStop, done: done, result: &result})
	<-done

	if r.analyzer != nil {
		r.analyzer.Close()
	}

	e.metrics.RecordSessionStopped()
	e.logger.Info("Recording stopped",
		slog.String("session_id", r.handle.ID),
		slog.String("duration", result.Duration.String()),
		slog.Int("mic_chunks", len(result.MicChunks)),
		slog.Int("system_chunks", len(result.SystemChunks)),
	)
	return result, nil
}

// Snapshot returns the latest published session state
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	r := e.active
	var micDegraded, systemDegraded bool
	if r != nil {
		micDegraded, systemDegraded = r.micDegraded, r.systemDegraded
	}
	e.mu.Unlock()

	if r == nil {
		return Snapshot{State: "idle", MicChunks: []ChunkFile{}, SystemChunks: []ChunkFile{}, DroppedEvents: e.droppedEvents.Load()}
	}

	snap := *r.snapshot.Load()
	snap.QueueDepth, snap.QueuePeak = r.q.depth()
	snap.MicDegraded = micDegraded
	snap.SystemDegraded = systemDegraded
	snap.DroppedEvents = e.droppedEvents.Load()
	return snap
}

// HandleRouteChange re-acquires the mic at its new native format and
// reinstalls the tap. The session and its chunks are untouched; if the mic
// cannot be re-acquired the session continues on silence.
func (e *Engine) HandleRouteChange() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	r := e.active
	if r == nil {
		e.mu.Unlock()
		return ErrNotRecording
	}
	if r.micDegraded {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.metrics.RecordRouteChange()
	e.mic.RemoveTap()

	format, err := sourceFormat(e.mic)
	if err == nil {
		err = e.mic.InstallTap(e.tap(r, audio.TrackMic, format.SampleRate))
	}
	if err != nil {
		e.logger.Error("Failed to re-acquire input after route change",
			slog.String("session_id", r.handle.ID),
			slog.String("error", err.Error()),
		)
		e.inputLost(r, err)
		return nil
	}

	e.logger.Info("Input route changed",
		slog.String("session_id", r.handle.ID),
		slog.Int("sample_rate", format.SampleRate),
	)
	e.showWarning(r, "Audio input changed, recording continues")
	r.awaitingAudio.Store(true)
	return nil
}

// HandleInputLost switches the mic track to generated silence so the session
// keeps its timeline after an unrecoverable input failure
func (e *Engine) HandleInputLost(cause error) {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()
	if r != nil {
		e.inputLost(r, cause)
	}
}

func (e *Engine) inputLost(r *run, cause error) {
	e.mu.Lock()
	if e.active != r || r.micDegraded {
		e.mu.Unlock()
		return
	}
	r.micDegraded = true
	r.silenceStop = make(chan struct{})
	r.silenceDone = make(chan struct{})
	stop, done := r.silenceStop, r.silenceDone
	e.mu.Unlock()

	e.mic.RemoveTap()
	go e.generateSilence(r, stop, done)

	e.metrics.RecordDegraded("input_lost")
	e.logger.Error("Input lost, writing silence",
		slog.String("session_id", r.handle.ID),
		slog.Any("error", cause),
	)
	e.emit(Event{
		Type:     EventAdvisory,
		Track:    audio.TrackMic,
		Advisory: AdvisoryTerminal,
		Message:  "Audio input lost, recording continues with silence",
		At:       r.elapsed(),
	})
}

// generateSilence feeds 100ms of silence per 100ms of wall clock to the mic track
func (e *Engine) generateSilence(r *run, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	const tick = 100 * time.Millisecond
	frame := make([]float32, e.cfg.SampleRate/10)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.enqueue(r, audio.TrackMic, frame)
		}
	}
}

// handleStatus reacts to a self-recovering source. A lost mic falls back to
// silence; a lost system track leaves the session mic-only.
func (e *Engine) handleStatus(r *run, track audio.Track) func(audio.StreamEvent) {
	name := "Audio input"
	if track == audio.TrackSystem {
		name = "System audio"
	}

	return func(ev audio.StreamEvent) {
		e.mu.Lock()
		current := e.active == r
		e.mu.Unlock()
		if !current {
			return
		}

		switch ev.Kind {
		case audio.StreamInterrupted:
			e.logger.Warn("Stream interrupted",
				slog.String("session_id", r.handle.ID),
				slog.String("track", track.String()),
				slog.Any("error", ev.Err),
			)
			e.showWarning(r, name+" interrupted, reconnecting")

		case audio.StreamRecovered:
			e.logger.Info("Stream recovered",
				slog.String("session_id", r.handle.ID),
				slog.String("track", track.String()),
			)
			// Tone continuity cannot be assumed across the gap
			if r.analyzer != nil && r.chimeOn == track {
				r.analyzer.Reset()
			}
			e.mu.Lock()
			if r.clearTimer != nil {
				r.clearTimer.Stop()
			}
			r.clearTimer = time.AfterFunc(e.cfg.WarningClearDelay, func() { e.clearWarning(r) })
			e.mu.Unlock()

		case audio.StreamLost:
			e.clearWarning(r)
			if track == audio.TrackMic {
				// The source is still inside its notify callback; detach from it asynchronously
				go e.inputLost(r, ev.Err)
				return
			}
			e.systemLost(r, ev.Err)
		}
	}
}

func (e *Engine) systemLost(r *run, cause error) {
	e.mu.Lock()
	already := r.systemDegraded
	r.systemDegraded = true
	e.mu.Unlock()
	if already {
		return
	}

	e.metrics.RecordDegraded("system_lost")
	e.logger.Error("System audio lost, continuing mic-only",
		slog.String("session_id", r.handle.ID),
		slog.Any("error", cause),
	)
	e.emit(Event{
		Type:     EventAdvisory,
		Track:    audio.TrackSystem,
		Advisory: AdvisoryTerminal,
		Message:  "System audio lost, recording continues with microphone only",
		At:       r.elapsed(),
	})
}

// showWarning surfaces a transient advisory unless one is already showing
func (e *Engine) showWarning(r *run, msg string) {
	e.mu.Lock()
	if r.warning {
		e.mu.Unlock()
		return
	}
	r.warning = true
	if r.clearTimer != nil {
		r.clearTimer.Stop()
	}
	e.mu.Unlock()

	e.emit(Event{Type: EventAdvisory, Advisory: AdvisoryTransient, Message: msg, At: r.elapsed()})
}

func (e *Engine) clearWarning(r *run) {
	e.mu.Lock()
	if !r.warning || e.active != r {
		e.mu.Unlock()
		return
	}
	r.warning = false
	e.mu.Unlock()

	e.emit(Event{Type: EventAdvisoryCleared, Advisory: AdvisoryTransient, At: r.elapsed()})
}

// emit delivers an event without blocking; events are dropped when nobody reads
func (e *Engine) emit(ev Event) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	if e.eventsClosed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.droppedEvents.Add(1)
	}
}

// Close stops any running session and closes the event stream
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	recording := e.active != nil
	e.mu.Unlock()

	var err error
	if recording {
		_, err = e.Stop()
		if errors.Is(err, ErrNotRecording) {
			err = nil
		}
	}

	e.eventsMu.Lock()
	if !e.eventsClosed {
		e.eventsClosed = true
		close(e.events)
	}
	e.eventsMu.Unlock()
	return err
}

// elapsed reads session media time from the latest snapshot
func (r *run) elapsed() time.Duration {
	if snap := r.snapshot.Load(); snap != nil {
		return snap.Elapsed
	}
	return 0
}
