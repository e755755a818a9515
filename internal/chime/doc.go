// Package chime recognizes a two-tone descending chime, such as the cue a
// conferencing app plays when a call ends, in a stream of audio frames.
//
// Detector is the pure signal path: Hann window, real FFT, a median noise
// floor over a fixed band and an SNR gate per tone, followed by a small
// tone1 -> tone2 state machine with a cooldown. Analyzer runs a Detector on
// its own goroutine so FFT work never stalls the caller.
package chime
