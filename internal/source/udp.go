package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/config"
	"github.com/skypro1111/speechcap/internal/metrics"
	"github.com/skypro1111/speechcap/internal/protocol"
)

var (
	// ErrStalled is reported when a running track receives no packets for the stall timeout
	ErrStalled = errors.New("track stalled")
	// ErrListenerClosed is returned by tracks of a stopped listener
	ErrListenerClosed = errors.New("listener closed")
)

// FormatChangeFunc is called on the packet goroutine when a running track
// announces a new sample rate. It must not block.
type FormatChangeFunc func(track audio.Track, format audio.Format)

// UDPListener receives TLV audio packets and dispatches them to its tracks
type UDPListener struct {
	conn    *net.UDPConn
	config  *config.SourceConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mic    *Track
	system *Track

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket

	mu              sync.RWMutex
	closed          bool
	onFormatChange  FormatChangeFunc
	packetsReceived uint64
	packetsQueued   uint64
	queueDrops      uint64
	parseErrors     uint64
	foreignPackets  uint64
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// Stats represents listener counters
type Stats struct {
	PacketsReceived uint64     `json:"packets_received"`
	PacketsQueued   uint64     `json:"packets_queued"`
	QueueDrops      uint64     `json:"queue_drops"`
	ParseErrors     uint64     `json:"parse_errors"`
	ForeignPackets  uint64     `json:"foreign_packets"`
	QueueSize       uint64     `json:"queue_size"`
	QueueCapacity   uint64     `json:"queue_capacity"`
	Mic             TrackStats `json:"mic"`
	System          TrackStats `json:"system"`
}

// NewUDPListener creates a listener with one track per audio.Track
func NewUDPListener(cfg *config.SourceConfig, logger *slog.Logger, m *metrics.Metrics) *UDPListener {
	ctx, cancel := context.WithCancel(context.Background())

	l := &UDPListener{
		config:     cfg,
		logger:     logger,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, 1000), // Buffer for 1000 packets
	}
	l.mic = newTrack(audio.TrackMic, l)
	l.system = newTrack(audio.TrackSystem, l)
	return l
}

// Mic returns the microphone track
func (l *UDPListener) Mic() *Track {
	return l.mic
}

// System returns the system audio track
func (l *UDPListener) System() *Track {
	return l.system
}

// OnFormatChange registers the format change hook
func (l *UDPListener) OnFormatChange(fn FormatChangeFunc) {
	l.mu.Lock()
	l.onFormatChange = fn
	l.mu.Unlock()
}

// Start begins listening for UDP packets
func (l *UDPListener) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.config.BindAddress, l.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	l.conn = conn

	if err := l.conn.SetReadBuffer(l.config.BufferSize); err != nil {
		l.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", l.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	l.logger.Info("UDP listener started",
		slog.String("address", l.conn.LocalAddr().String()),
		slog.Int("buffer_size", l.config.BufferSize),
	)

	// A single processor keeps each track's packets in arrival order
	l.wg.Add(3)
	go l.packetProcessor()
	go l.receiveLoop()
	go l.stallWatchdog()

	return nil
}

// Addr returns the bound address, or nil before Start
func (l *UDPListener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stop gracefully stops the listener. Tracks return ErrListenerClosed afterwards.
func (l *UDPListener) Stop() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.logger.Info("Stopping UDP listener...")

	l.cancel()

	// Close UDP connection to unblock the receive loop
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	l.wg.Wait()

	l.mic.Stop()
	l.system.Stop()

	stats := l.Stats()
	l.logger.Info("UDP listener stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("mic_packets_lost", stats.Mic.PacketsLost),
		slog.Uint64("system_packets_lost", stats.System.PacketsLost),
	)

	return nil
}

func (l *UDPListener) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// receiveLoop is the main packet receiving loop
func (l *UDPListener) receiveLoop() {
	defer l.wg.Done()
	// The processor exits once the queue drains
	defer close(l.packetChan)

	buffer := make([]byte, l.config.BufferSize)

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := l.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-l.ctx.Done():
				return
			default:
				l.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		l.mu.Lock()
		l.packetsReceived++
		l.mu.Unlock()

		// Copy out of the reused buffer
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case l.packetChan <- packet:
			l.mu.Lock()
			l.packetsQueued++
			l.mu.Unlock()
		default:
			l.mu.Lock()
			l.queueDrops++
			l.mu.Unlock()
			l.metrics.RecordPacketDropped("queue")
			l.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor processes packets from the packet channel
func (l *UDPListener) packetProcessor() {
	defer l.wg.Done()

	for packet := range l.packetChan {
		l.handlePacket(packet)
	}
}

// handlePacket processes a single incoming packet
func (l *UDPListener) handlePacket(packet *incomingPacket) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		l.mu.Lock()
		l.parseErrors++
		l.mu.Unlock()
		l.metrics.RecordParseError()

		l.logger.Debug("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	header := parsed.Header
	if l.config.SessionTag != 0 && header.SessionTag != l.config.SessionTag {
		l.mu.Lock()
		l.foreignPackets++
		l.mu.Unlock()
		l.logger.Debug("Ignoring packet from another session",
			slog.Uint64("session_tag", uint64(header.SessionTag)),
			slog.String("remote_addr", packet.remoteAddr.String()),
		)
		return
	}

	track := l.track(audio.Track(header.Track))
	l.metrics.RecordPacketReceived(track.id.String())

	switch header.PacketType {
	case protocol.PacketTypeFormat:
		l.processFormatPacket(track, parsed.Format, packet.timestamp)
	case protocol.PacketTypeAudio:
		track.deliver(header.SessionTag, parsed.Audio.Sequence, parsed.Audio.Samples, packet.timestamp)
	}
}

// processFormatPacket records the announced format and fires the change hook
func (l *UDPListener) processFormatPacket(track *Track, payload *protocol.FormatPayload, now time.Time) {
	format := audio.Format{SampleRate: int(payload.SampleRate), Channels: int(payload.Channels)}
	if err := format.Validate(); err != nil {
		l.mu.Lock()
		l.parseErrors++
		l.mu.Unlock()
		l.metrics.RecordParseError()
		l.logger.Warn("Ignoring invalid format announcement",
			slog.String("track", track.id.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if !track.setFormat(format, now) {
		return
	}

	l.logger.Info("Track format changed",
		slog.String("track", track.id.String()),
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels),
	)

	l.mu.RLock()
	fn := l.onFormatChange
	l.mu.RUnlock()
	if fn != nil {
		fn(track.id, format)
	}
}

// stallWatchdog periodically checks running tracks for missing packets
func (l *UDPListener) stallWatchdog() {
	defer l.wg.Done()

	timeout := l.config.GetStallTimeout()
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case now := <-ticker.C:
			l.mic.checkStall(now, timeout)
			l.system.checkStall(now, timeout)
		}
	}
}

func (l *UDPListener) track(id audio.Track) *Track {
	if id == audio.TrackSystem {
		return l.system
	}
	return l.mic
}

// Stats returns current listener statistics
func (l *UDPListener) Stats() Stats {
	l.mu.RLock()
	s := Stats{
		PacketsReceived: l.packetsReceived,
		PacketsQueued:   l.packetsQueued,
		QueueDrops:      l.queueDrops,
		ParseErrors:     l.parseErrors,
		ForeignPackets:  l.foreignPackets,
		QueueSize:       uint64(len(l.packetChan)),
		QueueCapacity:   uint64(cap(l.packetChan)),
	}
	l.mu.RUnlock()

	s.Mic = l.mic.Stats()
	s.System = l.system.Stats()
	return s
}
