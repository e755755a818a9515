// Package transcript fuses recognizer output and diarization output into one
// speaker-attributed, time-ordered transcript.
//
// Both inputs are produced from the same audio with the same clock origin but
// otherwise independently. Each ASR segment takes the speaker of the
// diarization span that overlaps it most; adjacent segments of one speaker
// separated by less than CoalesceGap seconds become one utterance, and word
// timings are estimated from character counts. All times are seconds.
package transcript
