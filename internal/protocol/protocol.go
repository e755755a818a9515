package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/skypro1111/speechcap/internal/audio"
)

// Protocol constants
const (
	// Packet types
	PacketTypeFormat = 0x01
	PacketTypeAudio  = 0x02

	// Track types
	TrackMic    = uint8(audio.TrackMic)    // Microphone input
	TrackSystem = uint8(audio.TrackSystem) // System audio output

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	FormatPayloadSize      = 5 // 4 + 1 bytes
	AudioPayloadHeaderSize = 4 // Sequence number (4 bytes)
	BytesPerSample         = 4 // float32 little endian

	// MaxSamplesPerPacket is the largest audio payload a 16-bit length allows
	MaxSamplesPerPacket = (math.MaxUint16 - HeaderSize - AudioPayloadHeaderSize) / BytesPerSample
)

// Header represents the 8-byte TLV packet header
// Layout: [PacketType:1][PacketLen:2][SessionTag:4][Track:1]
type Header struct {
	PacketType uint8  // 0x01=Format, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	SessionTag uint32 // Sender session identifier
	Track      uint8  // 0x01=Mic, 0x02=System
}

// FormatPayload announces the native format of a track
// Layout: [SampleRate:4][Channels:1]
type FormatPayload struct {
	SampleRate uint32
	Channels   uint8
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][Samples:N*4]
type AudioPayload struct {
	Sequence uint32    // Packet sequence number
	Samples  []float32 // Mono float32 samples
}

// ParsedPacket represents a fully parsed TLV packet
type ParsedPacket struct {
	Header *Header
	Format *FormatPayload // Only set for format packets
	Audio  *AudioPayload  // Only set for audio packets
}

// ParseHeader parses the 8-byte TLV packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SessionTag: binary.BigEndian.Uint32(data[3:7]),
		Track:      data[7],
	}

	return header, nil
}

// ParseFormatPayload parses the 5-byte format packet payload
func ParseFormatPayload(data []byte) (*FormatPayload, error) {
	if len(data) < FormatPayloadSize {
		return nil, fmt.Errorf("format payload too short: expected %d bytes, got %d",
			FormatPayloadSize, len(data))
	}

	return &FormatPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		Channels:   data[4],
	}, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + samples)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	sampleData := data[AudioPayloadHeaderSize:]
	if len(sampleData)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio data length %d is not a multiple of %d", len(sampleData), BytesPerSample)
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
		Samples:  make([]float32, len(sampleData)/BytesPerSample),
	}
	for i := range payload.Samples {
		bits := binary.LittleEndian.Uint32(sampleData[i*BytesPerSample:])
		payload.Samples[i] = math.Float32frombits(bits)
	}

	return payload, nil
}

// ParsePacket parses a complete TLV packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeFormat:
		payload, err := ParseFormatPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse format payload: %w", err)
		}
		packet.Format = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidTrack(header.Track) {
		return fmt.Errorf("invalid track: 0x%02x", header.Track)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeFormat:
		if expectedPayloadSize != FormatPayloadSize {
			return fmt.Errorf("format packet payload size mismatch: expected %d, got %d",
				FormatPayloadSize, expectedPayloadSize)
		}
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeFormat || ptype == PacketTypeAudio
}

// IsValidTrack checks if the track is valid
func IsValidTrack(track uint8) bool {
	return track == TrackMic || track == TrackSystem
}

func putHeader(buf []byte, packetType uint8, sessionTag uint32, track uint8) {
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], sessionTag)
	buf[7] = track
}

// EncodeFormatPacket builds a format packet
func EncodeFormatPacket(sessionTag uint32, track uint8, format FormatPayload) []byte {
	buf := make([]byte, HeaderSize+FormatPayloadSize)
	putHeader(buf, PacketTypeFormat, sessionTag, track)
	binary.BigEndian.PutUint32(buf[HeaderSize:], format.SampleRate)
	buf[HeaderSize+4] = format.Channels
	return buf
}

// EncodeAudioPacket builds an audio packet. It fails when the samples do not
// fit the 16-bit packet length.
func EncodeAudioPacket(sessionTag uint32, track uint8, sequence uint32, samples []float32) ([]byte, error) {
	if len(samples) > MaxSamplesPerPacket {
		return nil, fmt.Errorf("too many samples for one packet: %d (maximum %d)", len(samples), MaxSamplesPerPacket)
	}

	buf := make([]byte, HeaderSize+AudioPayloadHeaderSize+len(samples)*BytesPerSample)
	putHeader(buf, PacketTypeAudio, sessionTag, track)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)

	offset := HeaderSize + AudioPayloadHeaderSize
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[offset+i*BytesPerSample:], math.Float32bits(s))
	}
	return buf, nil
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeFormat:
		packetType = "Format"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, SessionTag:%d, Track:%s}",
		packetType, h.PacketLen, h.SessionTag, audio.Track(h.Track))
}

// String returns a human-readable representation of the format payload
func (f *FormatPayload) String() string {
	return fmt.Sprintf("FormatPayload{SampleRate:%d, Channels:%d}", f.SampleRate, f.Channels)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, Samples:%d}", a.Sequence, len(a.Samples))
}
