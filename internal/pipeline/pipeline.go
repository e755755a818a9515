package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/capture"
	"github.com/skypro1111/speechcap/internal/transcript"
)

// ErrNoAudio is returned when the chunks hold no samples
var ErrNoAudio = errors.New("no audio to process")

// Recognizer produces time-stamped text from mono samples
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) ([]transcript.RawASRSegment, error)
}

// Diarizer produces anonymous speaker spans from mono samples
type Diarizer interface {
	Diarize(ctx context.Context, samples []float32, sampleRate int) ([]transcript.RawDiarizationSegment, error)
}

// State is the processing stage
type State string

const (
	StateIdle         State = "idle"
	StateConverting   State = "converting"
	StateTranscribing State = "transcribing"
	StateMerging      State = "merging"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

// Config holds processing parameters
type Config struct {
	SampleRate     int     // rate the collaborators receive
	MicMixLevel    float32
	SystemMixLevel float32
}

// DefaultConfig returns the shipped processing parameters
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		MicMixLevel:    1.0,
		SystemMixLevel: 0.7,
	}
}

// Output is the merged transcript of one session
type Output struct {
	ID string `json:"id,omitempty"`
	transcript.Transcript
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
}

// Pipeline runs one processing pass at a time and exposes its stage
type Pipeline struct {
	cfg        Config
	recognizer Recognizer
	diarizer   Diarizer
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	failure error
}

// New creates a pipeline over the given collaborators
func New(cfg Config, recognizer Recognizer, diarizer Diarizer, logger *slog.Logger) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MicMixLevel <= 0 {
		cfg.MicMixLevel = 1.0
	}

	return &Pipeline{
		cfg:        cfg,
		recognizer: recognizer,
		diarizer:   diarizer,
		logger:     logger,
		state:      StateIdle,
	}
}

// State returns the current stage and, when failed, the error
func (p *Pipeline) State() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.failure
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.failure = nil
	p.mu.Unlock()
}

func (p *Pipeline) fail(err error) error {
	p.mu.Lock()
	p.state = StateFailed
	p.failure = err
	p.mu.Unlock()
	p.logger.Error("Processing failed", slog.String("error", err.Error()))
	return err
}

// Process transcribes a finished capture session
func (p *Pipeline) Process(ctx context.Context, result capture.Result) (Output, error) {
	out, err := p.ProcessFiles(ctx, result.MicPaths(), result.SystemPaths())
	out.ID = result.ID
	return out, err
}

// ProcessFiles transcribes mic chunks, with the system chunks mixed in when present
func (p *Pipeline) ProcessFiles(ctx context.Context, micPaths, systemPaths []string) (Output, error) {
	started := time.Now()
	p.setState(StateConverting)

	samples, err := LoadChunks(micPaths, p.cfg.SampleRate)
	if err != nil {
		return Output{}, p.fail(err)
	}

	if len(systemPaths) > 0 {
		system, err := LoadChunks(systemPaths, p.cfg.SampleRate)
		if err != nil {
			return Output{}, p.fail(err)
		}
		samples = audio.Mix(samples, system, p.cfg.MicMixLevel, p.cfg.SystemMixLevel)
	}

	if len(samples) == 0 {
		return Output{}, p.fail(ErrNoAudio)
	}

	duration := float64(len(samples)) / float64(p.cfg.SampleRate)
	p.logger.Info("Audio loaded",
		slog.Int("mic_chunks", len(micPaths)),
		slog.Int("system_chunks", len(systemPaths)),
		slog.Float64("duration", duration),
	)

	p.setState(StateTranscribing)

	var (
		asr []transcript.RawASRSegment
		dia []transcript.RawDiarizationSegment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		asr, err = p.recognizer.Transcribe(gctx, samples, p.cfg.SampleRate)
		if err != nil {
			return fmt.Errorf("transcription: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		dia, err = p.diarizer.Diarize(gctx, samples, p.cfg.SampleRate)
		if err != nil {
			return fmt.Errorf("diarization: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Output{}, p.fail(err)
	}

	p.setState(StateMerging)
	merged := transcript.Merge(asr, dia)

	p.setState(StateComplete)
	p.logger.Info("Processing complete",
		slog.Int("asr_segments", len(asr)),
		slog.Int("diarization_segments", len(dia)),
		slog.Int("segments", len(merged.Segments)),
		slog.Int("speakers", len(merged.Speakers)),
		slog.String("elapsed", time.Since(started).String()),
	)

	return Output{
		Transcript: merged,
		Duration:   duration,
		SampleRate: p.cfg.SampleRate,
	}, nil
}
