package reconnect

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/speechcap/internal/audio"
)

type fakeStream struct {
	mu         sync.Mutex
	starts     int
	stops      int
	failStarts int
	dieOnStart int // starts that end the stream before returning
	onStop     func(error)
	tap        audio.TapFunc
}

func (f *fakeStream) NativeFormat() (audio.Format, error) {
	return audio.Format{SampleRate: 48000, Channels: 1}, nil
}

func (f *fakeStream) Start(tap audio.TapFunc, onStop func(error)) error {
	f.mu.Lock()
	f.starts++
	if f.failStarts > 0 {
		f.failStarts--
		f.mu.Unlock()
		return errors.New("device busy")
	}
	if f.dieOnStart > 0 {
		f.dieOnStart--
		f.mu.Unlock()
		onStop(errors.New("died on startup"))
		return nil
	}
	f.tap = tap
	f.onStop = onStop
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) setDieOnStart(n int) {
	f.mu.Lock()
	f.dieOnStart = n
	f.mu.Unlock()
}

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.onStop = nil
	return nil
}

// crash simulates the platform ending the stream
func (f *fakeStream) crash(failNext int) {
	f.mu.Lock()
	onStop := f.onStop
	f.onStop = nil
	f.failStarts = failNext
	f.mu.Unlock()

	if onStop != nil {
		onStop(errors.New("stream ended"))
	}
}

func (f *fakeStream) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type eventLog struct {
	mu     sync.Mutex
	events []audio.StreamEvent
}

func (l *eventLog) add(ev audio.StreamEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []audio.StreamEventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audio.StreamEventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) count(kind audio.StreamEventKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func newTestReconnector(t *testing.T, stream Stream, cfg Config) (*Reconnector, *eventLog) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(stream, cfg, logger, nil)
	log := &eventLog{}
	r.Notify(log.add)
	t.Cleanup(func() { _ = r.Stop() })
	return r, log
}

func TestReconnectorRecovers(t *testing.T) {
	stream := &fakeStream{}
	r, log := newTestReconnector(t, stream, Config{Delay: time.Millisecond, MaxAttempts: 3})

	require.NoError(t, r.InstallTap(func([]float32) {}))
	stream.crash(0)

	require.Eventually(t, func() bool { return log.count(audio.StreamRecovered) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []audio.StreamEventKind{audio.StreamInterrupted, audio.StreamRecovered}, log.kinds())
	assert.Equal(t, 2, stream.startCount())

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Attempts)
	assert.Equal(t, int64(1), stats.Successes)
	assert.False(t, stats.Reconnecting)
	assert.False(t, stats.Exhausted)
}

func TestReconnectorExhaustsOnce(t *testing.T) {
	stream := &fakeStream{}
	r, log := newTestReconnector(t, stream, Config{Delay: time.Millisecond, MaxAttempts: 3})

	require.NoError(t, r.InstallTap(func([]float32) {}))
	stream.crash(100)

	require.Eventually(t, func() bool { return log.count(audio.StreamLost) == 1 }, time.Second, time.Millisecond)

	// No further automatic attempts after the cap
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1+3, stream.startCount())
	assert.Equal(t, 1, log.count(audio.StreamLost))
	assert.True(t, r.Stats().Exhausted)

	log.mu.Lock()
	lost := log.events[len(log.events)-1]
	log.mu.Unlock()
	assert.ErrorIs(t, lost.Err, ErrReconnectFailed)
}

func TestReconnectorRetriesStreamThatDiesWhileStarting(t *testing.T) {
	stream := &fakeStream{}
	r, log := newTestReconnector(t, stream, Config{Delay: time.Millisecond, MaxAttempts: 3})

	require.NoError(t, r.InstallTap(func([]float32) {}))
	stream.setDieOnStart(1)
	stream.crash(0)

	require.Eventually(t, func() bool { return log.count(audio.StreamRecovered) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []audio.StreamEventKind{audio.StreamInterrupted, audio.StreamRecovered}, log.kinds())
	assert.Equal(t, 3, stream.startCount())

	stats := r.Stats()
	assert.Equal(t, int64(2), stats.Attempts)
	assert.Equal(t, int64(1), stats.Successes)
	assert.False(t, stats.Reconnecting)
}

func TestReconnectorExhaustsWhenStreamKeepsDyingOnStart(t *testing.T) {
	stream := &fakeStream{}
	r, log := newTestReconnector(t, stream, Config{Delay: time.Millisecond, MaxAttempts: 3})

	require.NoError(t, r.InstallTap(func([]float32) {}))
	stream.setDieOnStart(100)
	stream.crash(0)

	require.Eventually(t, func() bool { return log.count(audio.StreamLost) == 1 }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1+3, stream.startCount())
	assert.Equal(t, 0, log.count(audio.StreamRecovered))
	assert.Equal(t, 1, log.count(audio.StreamLost))

	stats := r.Stats()
	assert.True(t, stats.Exhausted)
	assert.Zero(t, stats.Successes)
}

func TestReconnectorSuccessResetsAttempts(t *testing.T) {
	stream := &fakeStream{}
	r, log := newTestReconnector(t, stream, Config{Delay: time.Millisecond, MaxAttempts: 2})

	require.NoError(t, r.InstallTap(func([]float32) {}))

	// Each drop needs two attempts; without a reset the second drop would exhaust
	stream.crash(1)
	require.Eventually(t, func() bool { return log.count(audio.StreamRecovered) == 1 }, time.Second, time.Millisecond)

	stream.crash(1)
	require.Eventually(t, func() bool { return log.count(audio.StreamRecovered) == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, 0, log.count(audio.StreamLost))
	assert.Equal(t, int64(4), r.Stats().Attempts)
}

func TestReconnectorStopCancelsInFlight(t *testing.T) {
	stream := &fakeStream{}
	r, log := newTestReconnector(t, stream, Config{Delay: time.Hour, MaxAttempts: 3})

	require.NoError(t, r.InstallTap(func([]float32) {}))
	stream.crash(0)
	require.Eventually(t, func() bool { return r.Stats().Reconnecting }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the pending reconnect")
	}

	assert.Equal(t, 1, stream.startCount())
	assert.Equal(t, []audio.StreamEventKind{audio.StreamInterrupted}, log.kinds())
	assert.False(t, r.Stats().Reconnecting)

	// Concurrent and repeated stops are harmless
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Stop())
		}()
	}
	wg.Wait()
}

func TestReconnectorInstallTap(t *testing.T) {
	stream := &fakeStream{}
	r, _ := newTestReconnector(t, stream, Config{Delay: time.Millisecond, MaxAttempts: 1})

	require.NoError(t, r.InstallTap(func([]float32) {}))
	require.NoError(t, r.InstallTap(func([]float32) {}))
	assert.Equal(t, 1, stream.startCount())

	r.RemoveTap()
	r.RemoveTap()

	stream.failStarts = 1
	err := r.InstallTap(func([]float32) {})
	assert.Error(t, err)

	format, err := r.NativeFormat()
	require.NoError(t, err)
	assert.Equal(t, 48000, format.SampleRate)
}

func TestReconnectorIgnoresStopAfterExplicitStop(t *testing.T) {
	stream := &fakeStream{}
	r, log := newTestReconnector(t, stream, Config{Delay: time.Millisecond, MaxAttempts: 3})

	require.NoError(t, r.InstallTap(func([]float32) {}))

	stream.mu.Lock()
	onStop := stream.onStop
	stream.mu.Unlock()

	require.NoError(t, r.Stop())
	onStop(errors.New("late callback"))

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, log.kinds())
	assert.Equal(t, 1, stream.startCount())
}
