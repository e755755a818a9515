package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/metrics"
)

var (
	// ErrReconnectFailed is reported with StreamLost once every attempt failed
	ErrReconnectFailed = errors.New("stream reconnect failed")
	// ErrStopped is returned when an attempt is abandoned because Stop was called
	ErrStopped = errors.New("reconnector stopped")
)

// Stream is a restartable audio stream. onStop is called from any goroutine
// when the stream ends without Stop being called.
type Stream interface {
	NativeFormat() (audio.Format, error)
	Start(tap audio.TapFunc, onStop func(error)) error
	Stop() error
}

// Config controls the retry loop
type Config struct {
	Delay       time.Duration
	MaxAttempts int
}

// Stats holds reconnector counters
type Stats struct {
	Attempts     int64 `json:"attempts"`
	Successes    int64 `json:"successes"`
	Reconnecting bool  `json:"reconnecting"`
	Exhausted    bool  `json:"exhausted"`
}

// Reconnector implements audio.FrameSource and audio.StatusNotifier over a Stream
type Reconnector struct {
	stream  Stream
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu           sync.Mutex
	tap          audio.TapFunc
	running      bool
	stopped      bool
	reconnecting bool
	exhausted    bool
	diedStarting bool // stream ended while an attempt was starting it
	diedCause    error
	attempts     int
	cancel       context.CancelFunc
	notify       func(audio.StreamEvent)
	stats        Stats

	wg sync.WaitGroup
}

// New creates a reconnector for stream
func New(stream Stream, config Config, logger *slog.Logger, m *metrics.Metrics) *Reconnector {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Reconnector{
		stream:  stream,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// NativeFormat returns the wrapped stream's format
func (r *Reconnector) NativeFormat() (audio.Format, error) {
	return r.stream.NativeFormat()
}

// Notify registers the status callback. It is called without internal locks held.
func (r *Reconnector) Notify(fn func(audio.StreamEvent)) {
	r.mu.Lock()
	r.notify = fn
	r.mu.Unlock()
}

// InstallTap starts the stream delivering to tap. Calling it while running is a no-op.
func (r *Reconnector) InstallTap(tap audio.TapFunc) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.tap = tap
	r.running = true
	r.stopped = false
	r.exhausted = false
	r.reconnecting = false
	r.diedStarting = false
	r.attempts = 0
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.stream.Start(tap, r.handleStop(ctx)); err != nil {
		r.mu.Lock()
		r.running = false
		r.stopped = true
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to start stream: %w", err)
	}
	return nil
}

// RemoveTap stops the stream and cancels any reconnect in flight
func (r *Reconnector) RemoveTap() {
	if err := r.Stop(); err != nil {
		r.logger.Warn("Failed to stop stream", slog.String("error", err.Error()))
	}
}

// Stop cancels any reconnect in flight, waits for it to finish and stops the
// stream. It is safe to call more than once.
func (r *Reconnector) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	return r.stream.Stop()
}

// Stats returns a copy of the counters
func (r *Reconnector) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Reconnecting = r.reconnecting
	s.Exhausted = r.exhausted
	return s
}

func (r *Reconnector) handleStop(ctx context.Context) func(error) {
	return func(cause error) {
		r.mu.Lock()
		if r.reconnecting && !r.stopped {
			r.diedStarting = true
			r.diedCause = cause
			r.mu.Unlock()
			return
		}
		if r.stopped || r.exhausted {
			r.mu.Unlock()
			return
		}
		r.reconnecting = true
		r.wg.Add(1)
		r.mu.Unlock()

		r.logger.Warn("Stream stopped unexpectedly", slog.Any("error", cause))
		r.emit(audio.StreamEvent{Kind: audio.StreamInterrupted, Err: cause})

		go r.loop(ctx)
	}
}

func (r *Reconnector) loop(ctx context.Context) {
	defer r.wg.Done()

	var lastErr error
	for {
		r.mu.Lock()
		if r.attempts >= r.config.MaxAttempts {
			r.reconnecting = false
			r.exhausted = true
			r.mu.Unlock()

			r.metrics.RecordReconnectExhausted()
			r.logger.Error("Giving up on stream",
				slog.Int("attempts", r.config.MaxAttempts),
				slog.Any("error", lastErr),
			)
			r.emit(audio.StreamEvent{
				Kind: audio.StreamLost,
				Err:  fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, r.config.MaxAttempts, lastErr),
			})
			return
		}
		r.attempts++
		attempt := r.attempts
		r.stats.Attempts++
		r.mu.Unlock()

		err := r.attempt(ctx, attempt)
		if errors.Is(err, ErrStopped) {
			r.mu.Lock()
			r.reconnecting = false
			r.mu.Unlock()
			return
		}
		if err != nil {
			lastErr = err
			r.logger.Warn("Reconnect attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.mu.Lock()
		if r.diedStarting {
			r.diedStarting = false
			lastErr = r.diedCause
			r.mu.Unlock()
			r.logger.Warn("Stream ended while reconnecting",
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr),
			)
			continue
		}
		r.attempts = 0
		r.reconnecting = false
		r.stats.Successes++
		r.mu.Unlock()

		r.metrics.RecordReconnectSuccess()
		r.logger.Info("Stream reconnected", slog.Int("attempt", attempt))
		r.emit(audio.StreamEvent{Kind: audio.StreamRecovered})
		return
	}
}

// attempt waits the configured delay, tears down the old stream and starts a new one
func (r *Reconnector) attempt(ctx context.Context, attempt int) error {
	timer := time.NewTimer(r.config.Delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ErrStopped
	case <-timer.C:
	}

	r.metrics.RecordReconnectAttempt()
	r.logger.Info("Reconnecting stream",
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", r.config.MaxAttempts),
	)

	if err := r.stream.Stop(); err != nil {
		r.logger.Debug("Stopping old stream failed", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	tap := r.tap
	r.diedStarting = false
	r.mu.Unlock()

	if err := r.stream.Start(tap, r.handleStop(ctx)); err != nil {
		return err
	}

	// Stop may have been called while the stream was starting
	if ctx.Err() != nil {
		return ErrStopped
	}
	return nil
}

func (r *Reconnector) emit(ev audio.StreamEvent) {
	r.mu.Lock()
	fn := r.notify
	r.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}
