package vad

import "math"

// RMS returns the root mean square of samples, 0 for an empty frame
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(samples)))
}
