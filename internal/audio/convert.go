package audio

// Resampler converts a stream of frames from one rate to another by linear
// interpolation. The read position and the last input sample carry over
// between frames, so output length tracks input length exactly and frame
// edges are interpolated. It is not safe for concurrent use.
type Resampler struct {
	from, to int
	// pos is the next output position relative to the start of the next
	// frame, in units of 1/to input samples. Negative values fall between
	// prev and the first sample of that frame.
	pos    int64
	prev   float32
	primed bool
}

// NewResampler creates a resampler from rate from to rate to
func NewResampler(from, to int) *Resampler {
	return &Resampler{from: from, to: to}
}

// Process resamples one frame. The output may be empty when the frame is
// shorter than one output period.
func (r *Resampler) Process(samples []float32) []float32 {
	if len(samples) == 0 {
		return nil
	}
	if r.from == r.to || r.from <= 0 || r.to <= 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	to := int64(r.to)
	from := int64(r.from)
	end := int64(len(samples)-1) * to

	out := make([]float32, 0, int64(len(samples))*to/from+2)
	for r.pos < end {
		var a, b float32
		var frac float32
		if r.pos < 0 {
			a, b = r.prev, samples[0]
			frac = float32(r.pos+to) / float32(to)
		} else {
			idx := r.pos / to
			a, b = samples[idx], samples[idx+1]
			frac = float32(r.pos-idx*to) / float32(to)
		}
		out = append(out, a+(b-a)*frac)
		r.pos += from
	}

	r.pos -= int64(len(samples)) * to
	r.prev = samples[len(samples)-1]
	r.primed = true
	return out
}

// Flush returns the outputs that fall after the last sample seen, holding
// that sample, and resets the stream position
func (r *Resampler) Flush() []float32 {
	if !r.primed || r.from == r.to {
		return nil
	}

	var out []float32
	for r.pos < 0 {
		out = append(out, r.prev)
		r.pos += int64(r.from)
	}
	r.pos = 0
	r.primed = false
	return out
}

// Mix adds two tracks scaled by their levels and clamps the result to [-1, 1].
// The shorter input is treated as zero-padded.
func Mix(a, b []float32, levelA, levelB float32) []float32 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	out := make([]float32, n)
	for i := range out {
		var v float32
		if i < len(a) {
			v += a[i] * levelA
		}
		if i < len(b) {
			v += b[i] * levelB
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = v
	}
	return out
}
