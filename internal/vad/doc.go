// Package vad provides energy-based voice activity primitives: RMS level of a
// frame and a silence timer that fires once a level stays under a threshold
// for a configured duration.
package vad
