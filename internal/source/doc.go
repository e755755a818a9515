// Package source implements a network frame source. A UDPListener receives
// TLV audio packets from a capture agent and hands each track's samples to a
// Track, which satisfies audio.FrameSource and can be wrapped by a
// reconnect.Reconnector. Short sequence gaps are filled with silence so the
// media clock keeps pace with the sender.
package source
