// Package audio defines the frame source contract shared by the capture engine
// and its inputs, and handles chunk files: streaming WAV writing, decoding back
// to float samples, resampling and track mixing for the processing pass.
package audio
