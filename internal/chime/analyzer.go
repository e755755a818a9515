package chime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/speechcap/internal/metrics"
)

// Analyzer owns a Detector on a dedicated goroutine. Feed never blocks: when
// the queue is full the frame is skipped and counted.
type Analyzer struct {
	detector *Detector
	onChime  func()
	logger   *slog.Logger
	metrics  *metrics.Metrics

	frames chan []float32
	quit   chan struct{}
	done   chan struct{}

	resetRequested atomic.Bool
	dropped        atomic.Int64
	detections     atomic.Int64
	closeOnce      sync.Once
}

// AnalyzerStats holds analyzer counters
type AnalyzerStats struct {
	Detections int64 `json:"detections"`
	Dropped    int64 `json:"dropped_frames"`
}

// NewAnalyzer starts an analyzer. onChime runs on the analyzer goroutine.
func NewAnalyzer(cfg Config, onChime func(), logger *slog.Logger, m *metrics.Metrics) (*Analyzer, error) {
	detector, err := NewDetector(cfg)
	if err != nil {
		return nil, err
	}

	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 64
	}

	a := &Analyzer{
		detector: detector,
		onChime:  onChime,
		logger:   logger,
		metrics:  m,
		frames:   make(chan []float32, queueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// Feed queues a copy of samples for analysis
func (a *Analyzer) Feed(samples []float32) {
	frame := make([]float32, len(samples))
	copy(frame, samples)

	select {
	case a.frames <- frame:
	default:
		a.dropped.Add(1)
		a.metrics.RecordChimeDropped()
	}
}

// Reset asks the detector to forget buffered audio and pending tones before
// the next frame it analyzes
func (a *Analyzer) Reset() {
	a.resetRequested.Store(true)
}

// Close stops the analyzer goroutine and waits for it to exit
func (a *Analyzer) Close() {
	a.closeOnce.Do(func() {
		close(a.quit)
	})
	<-a.done
}

// Stats returns analyzer counters
func (a *Analyzer) Stats() AnalyzerStats {
	return AnalyzerStats{
		Detections: a.detections.Load(),
		Dropped:    a.dropped.Load(),
	}
}

func (a *Analyzer) run() {
	defer close(a.done)

	for {
		select {
		case <-a.quit:
			return
		case frame := <-a.frames:
			if a.resetRequested.Swap(false) {
				a.detector.Reset()
			}
			if a.detector.Process(frame) {
				a.detections.Add(1)
				a.metrics.RecordChimeDetected()
				a.logger.Info("Chime detected", slog.Int64("detections", a.detections.Load()))
				if a.onChime != nil {
					a.onChime()
				}
			}
		}
	}
}
