package pipeline

import (
	"fmt"

	"github.com/skypro1111/speechcap/internal/audio"
)

// LoadChunks reads WAV chunks in order and returns their samples
// concatenated and resampled to targetRate
func LoadChunks(paths []string, targetRate int) ([]float32, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", targetRate)
	}

	var (
		out       []float32
		resampler *audio.Resampler
		rate      int
	)
	for _, path := range paths {
		samples, chunkRate, err := audio.ReadWAVFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %s: %w", path, err)
		}
		// Chunks of one track share a rate; the resampler carries across them
		if resampler == nil || chunkRate != rate {
			if resampler != nil {
				out = append(out, resampler.Flush()...)
			}
			resampler = audio.NewResampler(chunkRate, targetRate)
			rate = chunkRate
		}
		out = append(out, resampler.Process(samples)...)
	}
	if resampler != nil {
		out = append(out, resampler.Flush()...)
	}
	return out, nil
}
