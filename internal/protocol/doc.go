// Package protocol implements the TLV packets a capture agent uses to stream
// audio tracks over UDP. Every packet starts with an 8-byte header naming the
// packet type, total length, sender session tag and track. Format packets
// announce a track's native sample rate; audio packets carry a sequence
// number followed by little-endian float32 samples.
package protocol
