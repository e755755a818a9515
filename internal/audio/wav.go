package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	wavHeaderSize  = 44
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
)

// WAVHeader represents the header structure of a canonical PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newWAVHeader builds a mono 16-bit PCM header for dataSize bytes of samples
func newWAVHeader(sampleRate int, dataSize uint32) WAVHeader {
	numChannels := uint16(1)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// floatToPCM converts a float sample in [-1, 1] to 16-bit PCM, clamping out of range values
func floatToPCM(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}

// pcmToFloat converts a 16-bit PCM sample to float in [-1, 1)
func pcmToFloat(s int16) float32 {
	return float32(s) / 32768
}

// EncodeWAV encodes float samples into a mono 16-bit PCM WAV file
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * bytesPerSample)
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))

	if err := binary.Write(buf, binary.LittleEndian, newWAVHeader(sampleRate, dataSize)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = floatToPCM(s)
	}
	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes mono 16-bit PCM WAV data into float samples.
// A header whose data size was never patched (zero, or larger than the file)
// falls back to the bytes actually present, so an interrupted chunk still loads.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if err := validateHeader(&header); err != nil {
		return nil, 0, err
	}

	available := uint32(len(data) - wavHeaderSize)
	dataSize := header.Subchunk2Size
	if dataSize == 0 || dataSize > available {
		dataSize = available
	}
	dataSize -= dataSize % bytesPerSample

	numSamples := int(dataSize / bytesPerSample)
	samples := make([]float32, numSamples)
	payload := data[wavHeaderSize:]
	for i := 0; i < numSamples; i++ {
		samples[i] = pcmToFloat(int16(binary.LittleEndian.Uint16(payload[i*2:])))
	}

	return samples, int(header.SampleRate), nil
}

// ReadWAVFile loads a chunk file written by ChunkWriter
func ReadWAVFile(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return samples, rate, nil
}

func validateHeader(header *WAVHeader) error {
	if string(header.ChunkID[:]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(header.Format[:]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(header.Subchunk1ID[:]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if header.AudioFormat != 1 {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != bitsPerSample {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.NumChannels != 1 {
		return fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	if header.SampleRate == 0 {
		return fmt.Errorf("invalid sample rate: 0")
	}

	return nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to read WAV header: %w", err)
	}
	return validateHeader(&header)
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

// ChunkWriter streams mono 16-bit PCM samples into a WAV file. The header is
// written with zero sizes on create and patched on Close.
type ChunkWriter struct {
	path       string
	file       *os.File
	w          *bufio.Writer
	sampleRate int
	frames     int64
	scratch    []byte
	closed     bool
}

// CreateChunkWriter creates (or truncates) path and writes a placeholder header
func CreateChunkWriter(path string, sampleRate int) (*ChunkWriter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk file %s: %w", path, err)
	}

	cw := &ChunkWriter{
		path:       path,
		file:       f,
		w:          bufio.NewWriterSize(f, 64*1024),
		sampleRate: sampleRate,
	}

	if err := binary.Write(cw.w, binary.LittleEndian, newWAVHeader(sampleRate, 0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return cw, nil
}

// Write appends samples to the chunk
func (c *ChunkWriter) Write(samples []float32) error {
	if c.closed {
		return fmt.Errorf("chunk file %s is closed", c.path)
	}

	need := len(samples) * bytesPerSample
	if cap(c.scratch) < need {
		c.scratch = make([]byte, need)
	}
	buf := c.scratch[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(floatToPCM(s)))
	}

	n, err := c.w.Write(buf)
	c.frames += int64(n / bytesPerSample)
	if err != nil {
		return fmt.Errorf("failed to write samples to %s: %w", c.path, err)
	}
	return nil
}

// Frames returns the number of samples written so far
func (c *ChunkWriter) Frames() int64 {
	return c.frames
}

// Path returns the file path of the chunk
func (c *ChunkWriter) Path() string {
	return c.path
}

// SampleRate returns the sample rate recorded in the header
func (c *ChunkWriter) SampleRate() int {
	return c.sampleRate
}

// Close flushes buffered samples, patches the header sizes and closes the file
func (c *ChunkWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.w.Flush(); err != nil {
		c.file.Close()
		return fmt.Errorf("failed to flush %s: %w", c.path, err)
	}

	dataSize := uint32(c.frames * bytesPerSample)
	if err := c.patchUint32(4, 36+dataSize); err != nil {
		c.file.Close()
		return err
	}
	if err := c.patchUint32(40, dataSize); err != nil {
		c.file.Close()
		return err
	}

	if err := c.file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", c.path, err)
	}
	return nil
}

func (c *ChunkWriter) patchUint32(offset int64, v uint32) error {
	if _, err := c.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", c.path, err)
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if _, err := c.file.Write(b[:]); err != nil {
		return fmt.Errorf("failed to patch header of %s: %w", c.path, err)
	}
	return nil
}
