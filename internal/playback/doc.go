// Package playback maps a playback position onto a merged transcript.
//
// FindActive is a pure function of (t, segments): two binary searches, one
// for the segment whose [start, end) contains t and one for the last word
// starting at or before t. Tracker adds the auto-scroll hold-off a player
// view needs, driven entirely by the caller's clock.
package playback
