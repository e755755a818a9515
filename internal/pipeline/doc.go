// Package pipeline turns the chunk files of a finished session into a merged
// transcript: load and resample the chunks, mix the system track under the
// mic, run recognition and diarization concurrently on the same samples and
// fuse the results with transcript.Merge.
package pipeline
