package audio

import (
	"math"
	"testing"
)

// resampleAll runs one buffer through a fresh resampler
func resampleAll(samples []float32, from, to int) []float32 {
	r := NewResampler(from, to)
	return append(r.Process(samples), r.Flush()...)
}

func TestResample(t *testing.T) {
	tests := []struct {
		name        string
		inputLen    int
		from        int
		to          int
		expectedLen int
	}{
		{name: "48k to 16k", inputLen: 48000, from: 48000, to: 16000, expectedLen: 16000},
		{name: "16k to 48k", inputLen: 1600, from: 16000, to: 48000, expectedLen: 4800},
		{name: "44.1k to 48k", inputLen: 44100, from: 44100, to: 48000, expectedLen: 48000},
		{name: "same rate", inputLen: 100, from: 16000, to: 16000, expectedLen: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := resampleAll(make([]float32, tt.inputLen), tt.from, tt.to)
			if len(out) != tt.expectedLen {
				t.Errorf("Expected %d samples, got %d", tt.expectedLen, len(out))
			}
		})
	}
}

func TestResampleInterpolates(t *testing.T) {
	in := []float32{0, 1, 0, -1}
	out := resampleAll(in, 1, 2)

	expected := []float32{0, 0.5, 1, 0.5, 0, -0.5, -1, -1}
	if len(out) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if math.Abs(float64(out[i]-expected[i])) > 1e-6 {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], out[i])
		}
	}
}

func TestResamplerKeepsLength(t *testing.T) {
	tests := []struct {
		name      string
		from      int
		to        int
		frameSize int
		frames    int
	}{
		{name: "44.1k to 48k", from: 44100, to: 48000, frameSize: 1024, frames: 10000},
		{name: "44.1k to 48k odd frames", from: 44100, to: 48000, frameSize: 331, frames: 5000},
		{name: "48k to 16k", from: 48000, to: 16000, frameSize: 1000, frames: 1000},
		{name: "16k to 44.1k", from: 16000, to: 44100, frameSize: 7, frames: 20000},
		{name: "same rate", from: 48000, to: 48000, frameSize: 480, frames: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResampler(tt.from, tt.to)
			frame := make([]float32, tt.frameSize)

			total := 0
			for range tt.frames {
				total += len(r.Process(frame))
			}
			total += len(r.Flush())

			inputLen := int64(tt.frameSize) * int64(tt.frames)
			want := (inputLen*int64(tt.to) + int64(tt.from) - 1) / int64(tt.from)
			if int64(total) != want {
				t.Errorf("Expected %d samples, got %d", want, total)
			}
		})
	}
}

func TestResamplerInterpolatesAcrossFrames(t *testing.T) {
	const n = 20000
	ramp := make([]float32, n)
	for i := range ramp {
		ramp[i] = float32(i)
	}

	r := NewResampler(44100, 48000)
	var out []float32
	sizes := []int{1, 331, 7, 1024, 2}
	for i, pos := 0, 0; pos < n; i++ {
		k := min(sizes[i%len(sizes)], n-pos)
		out = append(out, r.Process(ramp[pos:pos+k])...)
		pos += k
	}

	// A linear ramp is reproduced exactly, including at frame edges
	step := 44100.0 / 48000.0
	for i, v := range out {
		if math.Abs(float64(v)-float64(i)*step) > 1e-2 {
			t.Fatalf("Sample %d: expected %f, got %f", i, float64(i)*step, v)
		}
	}

	tail := r.Flush()
	if len(tail) == 0 {
		t.Fatal("Expected held samples after the last input")
	}
	if tail[len(tail)-1] != ramp[n-1] {
		t.Errorf("Expected tail to hold %f, got %f", ramp[n-1], tail[len(tail)-1])
	}
}

func TestMix(t *testing.T) {
	a := []float32{0.5, 0.5, 0.9}
	b := []float32{0.5, -1}

	out := Mix(a, b, 1.0, 0.7)

	expected := []float32{0.85, -0.2, 0.9}
	if len(out) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if math.Abs(float64(out[i]-expected[i])) > 1e-6 {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], out[i])
		}
	}
}

func TestMixClamps(t *testing.T) {
	out := Mix([]float32{0.9, -0.9}, []float32{0.9, -0.9}, 1, 1)
	if out[0] != 1 || out[1] != -1 {
		t.Errorf("Expected clamped output [1 -1], got %v", out)
	}
}

func TestTrackString(t *testing.T) {
	if TrackMic.String() != "mic" || TrackSystem.String() != "system" {
		t.Errorf("Unexpected track names %q %q", TrackMic, TrackSystem)
	}
	if Track(9).IsValid() {
		t.Error("Track 9 should be invalid")
	}
}

func TestTrackText(t *testing.T) {
	text, err := TrackSystem.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	if string(text) != "system" {
		t.Errorf("Expected system, got %s", text)
	}

	var track Track
	if err := track.UnmarshalText([]byte("mic")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if track != TrackMic {
		t.Errorf("Expected mic, got %s", track)
	}

	if err := track.UnmarshalText([]byte("speaker")); err == nil {
		t.Error("Expected error for unknown track name")
	}
}
