package source

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/config"
	"github.com/skypro1111/speechcap/internal/protocol"
	"github.com/skypro1111/speechcap/internal/reconnect"
)

type sink struct {
	mu     sync.Mutex
	frames [][]float32
}

func (s *sink) tap(samples []float32) {
	frame := make([]float32, len(samples))
	copy(frame, samples)
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *sink) snapshot() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]float32(nil), s.frames...)
}

func (s *sink) total() int {
	n := 0
	for _, f := range s.snapshot() {
		n += len(f)
	}
	return n
}

type statusLog struct {
	mu     sync.Mutex
	events []audio.StreamEvent
}

func (s *statusLog) record(ev audio.StreamEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *statusLog) kinds() []audio.StreamEventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]audio.StreamEventKind, len(s.events))
	for i, ev := range s.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func testSourceConfig(stall float64) *config.SourceConfig {
	return &config.SourceConfig{
		UDPPort:       0,
		BindAddress:   "127.0.0.1",
		BufferSize:    65536,
		StallTimeout:  stall,
		MaxGapPackets: 2,
	}
}

func startListener(t *testing.T, cfg *config.SourceConfig) (*UDPListener, *net.UDPConn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := NewUDPListener(cfg, logger, nil)
	require.NoError(t, l.Start())
	t.Cleanup(func() { l.Stop() })

	conn, err := net.DialUDP("udp", nil, l.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return l, conn
}

func sendAudio(t *testing.T, conn *net.UDPConn, tag uint32, track audio.Track, seq uint32, n int, level float32) {
	t.Helper()
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = level
	}
	data, err := protocol.EncodeAudioPacket(tag, uint8(track), seq, samples)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func sendFormat(t *testing.T, conn *net.UDPConn, tag uint32, track audio.Track, rate uint32) {
	t.Helper()
	data := protocol.EncodeFormatPacket(tag, uint8(track), protocol.FormatPayload{SampleRate: rate, Channels: 1})
	_, err := conn.Write(data)
	require.NoError(t, err)
}

func TestDeliversPacketsInOrder(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(10))

	var s sink
	require.NoError(t, l.Mic().InstallTap(s.tap))

	sendAudio(t, conn, 1, audio.TrackMic, 1, 10, 0.1)
	sendAudio(t, conn, 1, audio.TrackMic, 2, 10, 0.2)

	require.Eventually(t, func() bool { return s.total() == 20 }, 2*time.Second, 5*time.Millisecond)

	frames := s.snapshot()
	assert.Equal(t, float32(0.1), frames[0][0])
	assert.Equal(t, float32(0.2), frames[1][9])

	stats := l.Mic().Stats()
	assert.Equal(t, uint64(2), stats.PacketsDelivered)
	assert.True(t, stats.Running)
	assert.Zero(t, l.System().Stats().PacketsReceived)
}

func TestFillsShortGapsWithSilence(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(10))

	var s sink
	require.NoError(t, l.Mic().InstallTap(s.tap))

	sendAudio(t, conn, 1, audio.TrackMic, 1, 10, 0.5)
	sendAudio(t, conn, 1, audio.TrackMic, 4, 10, 0.5) // two packets missing

	require.Eventually(t, func() bool { return s.total() == 40 }, 2*time.Second, 5*time.Millisecond)

	frames := s.snapshot()
	require.Len(t, frames, 3)
	assert.Len(t, frames[1], 20)
	assert.Equal(t, float32(0), frames[1][5])

	stats := l.Mic().Stats()
	assert.Equal(t, uint64(2), stats.PacketsLost)
	assert.Equal(t, uint64(1), stats.GapsFilled)
}

func TestLongGapResyncsWithoutFill(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(10))

	var s sink
	require.NoError(t, l.Mic().InstallTap(s.tap))

	sendAudio(t, conn, 1, audio.TrackMic, 1, 10, 0.5)
	sendAudio(t, conn, 1, audio.TrackMic, 50, 10, 0.5)

	require.Eventually(t, func() bool { return s.total() == 20 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(48), l.Mic().Stats().PacketsLost)
	assert.Zero(t, l.Mic().Stats().GapsFilled)
}

func TestDropsLateAndDuplicatePackets(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(10))

	var s sink
	require.NoError(t, l.Mic().InstallTap(s.tap))

	sendAudio(t, conn, 1, audio.TrackMic, 5, 10, 0.5)
	sendAudio(t, conn, 1, audio.TrackMic, 5, 10, 0.5)
	sendAudio(t, conn, 1, audio.TrackMic, 3, 10, 0.5)
	// A new sender session restarts numbering
	sendAudio(t, conn, 2, audio.TrackMic, 1, 10, 0.5)

	require.Eventually(t, func() bool {
		return l.Mic().Stats().PacketsReceived == 4 && s.total() == 20
	}, 2*time.Second, 5*time.Millisecond)

	stats := l.Mic().Stats()
	assert.Equal(t, uint64(2), stats.PacketsDropped)
	assert.Equal(t, uint64(2), stats.PacketsDelivered)
}

func TestPacketsWithoutTapAreCountedOnly(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(10))

	sendAudio(t, conn, 1, audio.TrackSystem, 1, 10, 0.5)

	require.Eventually(t, func() bool { return l.System().Stats().PacketsReceived == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, l.System().Stats().PacketsDelivered)
}

func TestFormatChangeHook(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(10))

	changes := make(chan audio.Format, 4)
	l.OnFormatChange(func(track audio.Track, format audio.Format) {
		assert.Equal(t, audio.TrackMic, track)
		changes <- format
	})

	// Not running: recorded silently
	sendFormat(t, conn, 1, audio.TrackMic, 44100)
	require.Eventually(t, func() bool {
		f, err := l.Mic().NativeFormat()
		return err == nil && f.SampleRate == 44100
	}, 2*time.Second, 5*time.Millisecond)

	var s sink
	require.NoError(t, l.Mic().InstallTap(s.tap))

	// Same rate while running: no change
	sendFormat(t, conn, 1, audio.TrackMic, 44100)
	sendFormat(t, conn, 1, audio.TrackMic, 16000)

	select {
	case f := <-changes:
		assert.Equal(t, audio.Format{SampleRate: 16000, Channels: 1}, f)
	case <-time.After(2 * time.Second):
		t.Fatal("format change hook not called")
	}
	assert.Empty(t, changes)
}

func TestInvalidPackets(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(10))

	_, err := conn.Write([]byte{0x02, 0x00, 0x05})
	require.NoError(t, err)
	sendFormat(t, conn, 1, audio.TrackMic, 0)

	require.Eventually(t, func() bool { return l.Stats().ParseErrors == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), l.Stats().PacketsReceived)
}

func TestSessionTagFilter(t *testing.T) {
	cfg := testSourceConfig(10)
	cfg.SessionTag = 7
	l, conn := startListener(t, cfg)

	var s sink
	require.NoError(t, l.Mic().InstallTap(s.tap))

	sendAudio(t, conn, 8, audio.TrackMic, 1, 10, 0.5)
	sendAudio(t, conn, 7, audio.TrackMic, 1, 10, 0.5)

	require.Eventually(t, func() bool { return s.total() == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), l.Stats().ForeignPackets)
}

func TestStallReportsThroughOnStop(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(0.05))

	stopped := make(chan error, 1)
	var s sink
	require.NoError(t, l.System().Start(s.tap, func(err error) { stopped <- err }))

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, ErrStalled)
	case <-time.After(2 * time.Second):
		t.Fatal("stall not reported")
	}

	assert.False(t, l.System().Stats().Running)
	assert.ErrorIs(t, l.System().Start(s.tap, nil), ErrStalled)

	sendAudio(t, conn, 1, audio.TrackSystem, 1, 10, 0.5)
	require.Eventually(t, func() bool {
		return l.System().Start(s.tap, nil) == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), l.System().Stats().Stalls)
}

func TestStallReportsThroughNotify(t *testing.T) {
	l, conn := startListener(t, testSourceConfig(0.05))

	var status statusLog
	var s sink
	l.Mic().Notify(status.record)
	require.NoError(t, l.Mic().InstallTap(s.tap))

	require.Eventually(t, func() bool { return len(status.kinds()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, audio.StreamInterrupted, status.kinds()[0])
	assert.True(t, l.Mic().Stats().Running)

	sendAudio(t, conn, 1, audio.TrackMic, 1, 10, 0.5)

	require.Eventually(t, func() bool { return len(status.kinds()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, audio.StreamRecovered, status.kinds()[1])
	assert.Equal(t, 10, s.total())
}

func TestReconnectorGivesUpOnSilentTrack(t *testing.T) {
	l, _ := startListener(t, testSourceConfig(0.05))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := reconnect.New(l.System(), reconnect.Config{Delay: 10 * time.Millisecond, MaxAttempts: 2}, logger, nil)
	defer r.Stop()

	var status statusLog
	var s sink
	r.Notify(status.record)
	require.NoError(t, r.InstallTap(s.tap))

	require.Eventually(t, func() bool {
		kinds := status.kinds()
		return len(kinds) > 0 && kinds[len(kinds)-1] == audio.StreamLost
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []audio.StreamEventKind{audio.StreamInterrupted, audio.StreamLost}, status.kinds())
	assert.True(t, r.Stats().Exhausted)
}

func TestStoppedListener(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewUDPListener(testSourceConfig(10), logger, nil)
	require.NoError(t, l.Start())
	require.NotNil(t, l.Addr())

	var s sink
	require.NoError(t, l.Mic().InstallTap(s.tap))
	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())

	assert.False(t, l.Mic().Stats().Running)
	_, err := l.Mic().NativeFormat()
	assert.True(t, errors.Is(err, ErrListenerClosed))
	assert.ErrorIs(t, l.Mic().InstallTap(s.tap), ErrListenerClosed)
}
