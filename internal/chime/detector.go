package chime

import (
	"math"
	"math/cmplx"
	"sort"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"
)

// Detector finds the two-tone pattern in a mono sample stream. Time is the
// stream position in samples, so results do not depend on how fast frames
// are fed. A Detector is not safe for concurrent use.
type Detector struct {
	cfg Config

	fft    *fourier.FFT
	hann   []float64
	binHz  float64
	maxBuf int

	buf      []float64
	consumed int64 // samples dropped from the front of buf

	windowed []float64
	coeffs   []complex128
	mags     []float64
	band     []float64

	tone1Pending bool
	tone1At      time.Duration
	chimed       bool
	lastChime    time.Duration

	detections int64
}

// NewDetector creates a detector for cfg
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.FFTSize
	hann := make([]float64, n)
	for i := range hann {
		hann[i] = 1
	}
	window.Hann(hann)

	return &Detector{
		cfg:      cfg,
		fft:      fourier.NewFFT(n),
		hann:     hann,
		binHz:    float64(cfg.SampleRate) / float64(n),
		maxBuf:   4 * n,
		buf:      make([]float64, 0, 2*n),
		windowed: make([]float64, n),
		coeffs:   make([]complex128, n/2+1),
		mags:     make([]float64, n/2+1),
	}, nil
}

// Process appends samples and analyzes every complete window at a 50% hop.
// It reports whether a chime completed within these samples.
func (d *Detector) Process(samples []float32) bool {
	// Keep only the newest maxBuf samples of an oversized delivery
	if over := len(d.buf) + len(samples) - d.maxBuf; over > 0 {
		if over >= len(d.buf) {
			skip := over - len(d.buf)
			d.consumed += int64(len(d.buf) + skip)
			d.buf = d.buf[:0]
			samples = samples[skip:]
		} else {
			d.drop(over)
		}
	}

	for _, s := range samples {
		d.buf = append(d.buf, float64(s))
	}

	n := d.cfg.FFTSize
	hop := n / 2
	detected := false
	for len(d.buf) >= n {
		end := d.clock(int64(n))
		if d.analyze(d.buf[:n], end) {
			detected = true
		}
		d.drop(hop)
	}
	return detected
}

// Reset clears buffered audio and any pending first tone. The cooldown is
// kept so a chime straddling a stream gap does not fire twice.
func (d *Detector) Reset() {
	d.drop(len(d.buf))
	d.tone1Pending = false
}

// Pending reports whether the first tone was heard and the second is awaited
func (d *Detector) Pending() bool {
	return d.tone1Pending
}

// Detections returns the number of chimes detected so far
func (d *Detector) Detections() int64 {
	return d.detections
}

func (d *Detector) drop(k int) {
	if k <= 0 {
		return
	}
	d.consumed += int64(k)
	remaining := copy(d.buf, d.buf[k:])
	d.buf = d.buf[:remaining]
}

// clock converts a position offset into buf to stream time
func (d *Detector) clock(offset int64) time.Duration {
	samples := d.consumed + offset
	return time.Duration(samples) * time.Second / time.Duration(d.cfg.SampleRate)
}

func (d *Detector) analyze(frame []float64, at time.Duration) bool {
	if d.tone1Pending && at-d.tone1At > 2*d.cfg.MaxGap {
		d.tone1Pending = false
	}

	if d.chimed && at-d.lastChime < d.cfg.Cooldown {
		return false
	}

	for i, s := range frame {
		d.windowed[i] = s * d.hann[i]
	}
	d.coeffs = d.fft.Coefficients(d.coeffs, d.windowed)

	scale := 2 / float64(d.cfg.FFTSize)
	for k, c := range d.coeffs {
		d.mags[k] = cmplx.Abs(c) * scale
	}

	floor := d.noiseFloor()
	tone1 := d.present(d.cfg.Tone1Hz, floor)
	tone2 := d.present(d.cfg.Tone2Hz, floor)

	// A window still holding the first tone is a transition, not the second tone
	if tone2 && !tone1 && d.tone1Pending && at-d.tone1At <= d.cfg.MaxGap {
		d.tone1Pending = false
		d.chimed = true
		d.lastChime = at
		d.detections++
		return true
	}

	if tone1 {
		d.tone1Pending = true
		d.tone1At = at
	}
	return false
}

// noiseFloor is the median magnitude across the configured band
func (d *Detector) noiseFloor() float64 {
	lo, hi := d.binRange(d.cfg.BandLowHz, d.cfg.BandHighHz)
	if lo > hi {
		return 0
	}

	d.band = append(d.band[:0], d.mags[lo:hi+1]...)
	sort.Float64s(d.band)
	return stat.Quantile(0.5, stat.Empirical, d.band, nil)
}

func (d *Detector) present(freq, floor float64) bool {
	lo, hi := d.binRange(freq-d.cfg.ToleranceHz, freq+d.cfg.ToleranceHz)
	peak := 0.0
	for k := lo; k <= hi; k++ {
		if d.mags[k] > peak {
			peak = d.mags[k]
		}
	}
	return peak > d.cfg.MinMagnitude && peak > d.cfg.SNR*floor
}

// binRange maps a frequency interval to inclusive FFT bins, skipping DC
func (d *Detector) binRange(lowHz, highHz float64) (int, int) {
	last := len(d.mags) - 1
	lo := int(math.Ceil(lowHz / d.binHz))
	hi := int(math.Floor(highHz / d.binHz))
	if lo < 1 {
		lo = 1
	}
	if hi > last {
		hi = last
	}
	return lo, hi
}
