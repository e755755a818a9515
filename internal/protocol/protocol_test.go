package protocol

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid format header",
			data: []byte{
				0x01,       // PacketType: Format
				0x00, 0x0D, // PacketLen: 13 (8 + 5)
				0x00, 0x00, 0x30, 0x39, // SessionTag: 12345
				0x01, // Track: Mic
			},
			expected: &Header{
				PacketType: PacketTypeFormat,
				PacketLen:  13,
				SessionTag: 12345,
				Track:      TrackMic,
			},
			expectError: false,
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // SessionTag: 305419896
				0x02, // Track: System
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  256,
				SessionTag: 305419896,
				Track:      TrackSystem,
			},
			expectError: false,
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expected:    nil,
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expected:    nil,
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if !headersEqual(result, tt.expected) {
					t.Errorf("Expected header %+v, got %+v", tt.expected, result)
				}
			}
		})
	}
}

func TestParseFormatPayload(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *FormatPayload
		expectError bool
	}{
		{
			name:     "48 kHz mono",
			data:     []byte{0x00, 0x00, 0xBB, 0x80, 0x01},
			expected: &FormatPayload{SampleRate: 48000, Channels: 1},
		},
		{
			name:     "16 kHz stereo",
			data:     []byte{0x00, 0x00, 0x3E, 0x80, 0x02},
			expected: &FormatPayload{SampleRate: 16000, Channels: 2},
		},
		{
			name:        "payload too short",
			data:        []byte{0x00, 0x00, 0xBB},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseFormatPayload(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	samples := make([]byte, 8)
	binary.LittleEndian.PutUint32(samples[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(samples[4:], math.Float32bits(-0.25))

	tests := []struct {
		name        string
		data        []byte
		sequence    uint32
		samples     []float32
		expectError bool
		errorMsg    string
	}{
		{
			name:     "two samples",
			data:     append([]byte{0x00, 0x00, 0x30, 0x39}, samples...),
			sequence: 12345,
			samples:  []float32{0.5, -0.25},
		},
		{
			name:     "sequence only",
			data:     []byte{0xFF, 0xFF, 0xFF, 0xFF},
			sequence: math.MaxUint32,
			samples:  []float32{},
		},
		{
			name:        "payload too short",
			data:        []byte{0x00, 0x01},
			expectError: true,
			errorMsg:    "audio payload too short",
		},
		{
			name:        "partial sample",
			data:        []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x80},
			expectError: true,
			errorMsg:    "not a multiple",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseAudioPayload(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result.Sequence != tt.sequence {
				t.Errorf("Expected sequence %d, got %d", tt.sequence, result.Sequence)
			}
			if !samplesEqual(result.Samples, tt.samples) {
				t.Errorf("Expected samples %v, got %v", tt.samples, result.Samples)
			}
		})
	}
}

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		checkFormat bool
		checkAudio  bool
	}{
		{
			name:        "valid format packet",
			data:        createTestFormatPacket(t),
			checkFormat: true,
		},
		{
			name:       "valid audio packet",
			data:       createTestAudioPacket(t),
			checkAudio: true,
		},
		{
			name:        "packet too short",
			data:        []byte{0x01, 0x02},
			expectError: true,
			errorMsg:    "packet too short",
		},
		{
			name:        "invalid packet type",
			data:        createInvalidPacketTypePacket(),
			expectError: true,
			errorMsg:    "invalid packet type",
		},
		{
			name:        "packet length mismatch",
			data:        createPacketLengthMismatch(),
			expectError: true,
			errorMsg:    "packet length mismatch",
		},
		{
			name:        "invalid track",
			data:        createInvalidTrackPacket(),
			expectError: true,
			errorMsg:    "invalid track",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePacket(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}

			if tt.checkFormat {
				if result.Format == nil {
					t.Fatalf("Expected format payload but got nil")
				}
				if result.Audio != nil {
					t.Errorf("Expected no audio payload but got one")
				}
				if result.Format.SampleRate != 48000 || result.Format.Channels != 1 {
					t.Errorf("Unexpected format payload %+v", result.Format)
				}
				if result.Header.Track != TrackMic {
					t.Errorf("Expected mic track, got %d", result.Header.Track)
				}
			}

			if tt.checkAudio {
				if result.Audio == nil {
					t.Fatalf("Expected audio payload but got nil")
				}
				if result.Format != nil {
					t.Errorf("Expected no format payload but got one")
				}
				if result.Audio.Sequence != 12345 {
					t.Errorf("Expected sequence 12345, got %d", result.Audio.Sequence)
				}
				if !samplesEqual(result.Audio.Samples, []float32{0.125, -1}) {
					t.Errorf("Unexpected samples %v", result.Audio.Samples)
				}
				if result.Header.SessionTag != 67890 {
					t.Errorf("Expected session tag 67890, got %d", result.Header.SessionTag)
				}
			}
		})
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name        string
		header      *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid format header",
			header: &Header{
				PacketType: PacketTypeFormat,
				PacketLen:  HeaderSize + FormatPayloadSize,
				SessionTag: 1,
				Track:      TrackMic,
			},
		},
		{
			name: "valid audio header",
			header: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  HeaderSize + AudioPayloadHeaderSize + 400,
				SessionTag: 1,
				Track:      TrackSystem,
			},
		},
		{
			name: "invalid packet type",
			header: &Header{
				PacketType: 0x99,
				PacketLen:  100,
				Track:      TrackMic,
			},
			expectError: true,
			errorMsg:    "invalid packet type",
		},
		{
			name: "invalid track",
			header: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  100,
				Track:      0x07,
			},
			expectError: true,
			errorMsg:    "invalid track",
		},
		{
			name: "packet length too small",
			header: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  4,
				Track:      TrackMic,
			},
			expectError: true,
			errorMsg:    "packet length too small",
		},
		{
			name: "format payload size mismatch",
			header: &Header{
				PacketType: PacketTypeFormat,
				PacketLen:  HeaderSize + 10,
				Track:      TrackMic,
			},
			expectError: true,
			errorMsg:    "format packet payload size mismatch",
		},
		{
			name: "audio payload too small",
			header: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  HeaderSize + 2,
				Track:      TrackMic,
			},
			expectError: true,
			errorMsg:    "audio packet payload too small",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(tt.header)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestIsValidPacketType(t *testing.T) {
	tests := []struct {
		ptype    uint8
		expected bool
	}{
		{PacketTypeFormat, true},
		{PacketTypeAudio, true},
		{0x00, false},
		{0x03, false},
		{0xFF, false},
	}

	for _, tt := range tests {
		result := IsValidPacketType(tt.ptype)
		if result != tt.expected {
			t.Errorf("IsValidPacketType(0x%02x) = %v, expected %v", tt.ptype, result, tt.expected)
		}
	}
}

func TestIsValidTrack(t *testing.T) {
	tests := []struct {
		track    uint8
		expected bool
	}{
		{TrackMic, true},
		{TrackSystem, true},
		{0x00, false},
		{0x03, false},
		{0xFF, false},
	}

	for _, tt := range tests {
		result := IsValidTrack(tt.track)
		if result != tt.expected {
			t.Errorf("IsValidTrack(0x%02x) = %v, expected %v", tt.track, result, tt.expected)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	format := EncodeFormatPacket(42, TrackSystem, FormatPayload{SampleRate: 44100, Channels: 2})
	if len(format) != HeaderSize+FormatPayloadSize {
		t.Fatalf("Expected %d bytes, got %d", HeaderSize+FormatPayloadSize, len(format))
	}

	parsed, err := ParsePacket(format)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if parsed.Header.SessionTag != 42 || parsed.Header.Track != TrackSystem {
		t.Errorf("Unexpected header %s", parsed.Header)
	}
	if parsed.Format.SampleRate != 44100 || parsed.Format.Channels != 2 {
		t.Errorf("Unexpected format %s", parsed.Format)
	}

	samples := []float32{0, 1, -1, 0.333}
	data, err := EncodeAudioPacket(42, TrackMic, 7, samples)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	parsed, err = ParsePacket(data)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if parsed.Audio.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", parsed.Audio.Sequence)
	}
	if !samplesEqual(parsed.Audio.Samples, samples) {
		t.Errorf("Expected samples %v, got %v", samples, parsed.Audio.Samples)
	}
}

func TestEncodeAudioPacketLimit(t *testing.T) {
	data, err := EncodeAudioPacket(1, TrackMic, 0, make([]float32, MaxSamplesPerPacket))
	if err != nil {
		t.Fatalf("Expected largest packet to encode, got: %v", err)
	}
	if len(data) > math.MaxUint16 {
		t.Errorf("Packet of %d bytes overflows the length field", len(data))
	}

	if _, err := EncodeAudioPacket(1, TrackMic, 0, make([]float32, MaxSamplesPerPacket+1)); err == nil {
		t.Errorf("Expected error for oversized packet")
	}
}

func TestStringMethods(t *testing.T) {
	header := &Header{
		PacketType: PacketTypeAudio,
		PacketLen:  100,
		SessionTag: 12345,
		Track:      TrackSystem,
	}

	str := header.String()
	if !contains(str, "Audio") || !contains(str, "12345") || !contains(str, "system") {
		t.Errorf("Header string missing expected content: %s", str)
	}

	unknown := &Header{PacketType: 0x09, Track: 0x05}
	if !contains(unknown.String(), "Unknown(0x09)") {
		t.Errorf("Expected unknown packet type in %s", unknown.String())
	}

	format := &FormatPayload{SampleRate: 48000, Channels: 1}
	if !contains(format.String(), "48000") {
		t.Errorf("Format payload string missing sample rate: %s", format.String())
	}

	payload := &AudioPayload{Sequence: 999, Samples: make([]float32, 160)}
	str = payload.String()
	if !contains(str, "999") || !contains(str, "160") {
		t.Errorf("Audio payload string missing expected content: %s", str)
	}
}

// Helper functions for creating test packets

func createTestFormatPacket(t *testing.T) []byte {
	t.Helper()

	packet := make([]byte, HeaderSize+FormatPayloadSize)
	packet[0] = PacketTypeFormat
	binary.BigEndian.PutUint16(packet[1:], uint16(len(packet)))
	binary.BigEndian.PutUint32(packet[3:], 12345)
	packet[7] = TrackMic
	binary.BigEndian.PutUint32(packet[8:], 48000)
	packet[12] = 1
	return packet
}

func createTestAudioPacket(t *testing.T) []byte {
	t.Helper()

	samples := []float32{0.125, -1}
	packetLen := HeaderSize + AudioPayloadHeaderSize + len(samples)*BytesPerSample

	// Create header
	header := make([]byte, HeaderSize)
	header[0] = PacketTypeAudio
	binary.BigEndian.PutUint16(header[1:], uint16(packetLen))
	binary.BigEndian.PutUint32(header[3:], 67890)
	header[7] = TrackSystem

	// Create payload
	payload := make([]byte, AudioPayloadHeaderSize+len(samples)*BytesPerSample)
	binary.BigEndian.PutUint32(payload[0:], 12345) // Sequence
	for i, s := range samples {
		binary.LittleEndian.PutUint32(payload[4+i*4:], math.Float32bits(s))
	}

	// Combine header and payload
	packet := append(header, payload...)
	return packet
}

func createInvalidPacketTypePacket() []byte {
	data := make([]byte, HeaderSize+4)
	data[0] = 0x99 // Invalid packet type
	binary.BigEndian.PutUint16(data[1:], uint16(len(data)))
	binary.BigEndian.PutUint32(data[3:], 12345)
	data[7] = TrackMic
	return data
}

func createInvalidTrackPacket() []byte {
	data := make([]byte, HeaderSize+4)
	data[0] = PacketTypeAudio
	binary.BigEndian.PutUint16(data[1:], uint16(len(data)))
	binary.BigEndian.PutUint32(data[3:], 12345)
	data[7] = 0x09 // Invalid track
	return data
}

func createPacketLengthMismatch() []byte {
	data := make([]byte, HeaderSize+4)
	data[0] = PacketTypeAudio
	binary.BigEndian.PutUint16(data[1:], 999) // Wrong length
	binary.BigEndian.PutUint32(data[3:], 12345)
	data[7] = TrackMic
	return data
}

func headersEqual(a, b *Header) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.PacketType == b.PacketType &&
		a.PacketLen == b.PacketLen &&
		a.SessionTag == b.SessionTag &&
		a.Track == b.Track
}

func samplesEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > len(substr) && findSubstring(s, substr)))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
