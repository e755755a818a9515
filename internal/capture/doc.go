// Package capture records long sessions into bounded WAV chunks.
//
// An Engine takes frames from a mic source and, for dual-track sessions, a
// system-audio source. Source callbacks copy samples into an unbounded
// handoff queue and return; one writer goroutine per session owns every file,
// so a chunk is always closed after the writes queued before it.
//
// Chunk boundaries follow the mic's media clock. Near the target duration the
// SplitPolicy seeks a short silence and splits there; past the ceiling it
// splits unconditionally. The system track is split at the same instant so
// chunk N of both tracks covers the same span.
//
// File naming:
//
//	<id>.wav                 single chunk
//	<id>_part1.wav ...       once a session has split (the first chunk is renamed)
//	<id>_system[_partN].wav  system track
//
// Runtime problems never stop a session. They surface as advisory Events: a
// transient one while a route change or reconnect is in progress, and a
// terminal one when a track is lost and replaced by silence or dropped.
package capture
