package transcript

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// UnknownSpeaker labels ASR segments no diarization span overlaps
const UnknownSpeaker = "unknown"

// CoalesceGap is the largest gap, in seconds, bridged between two segments of one speaker
const CoalesceGap = 1.0

// SpeakerPalette holds the color tokens assigned to speakers in order of appearance
var SpeakerPalette = []string{
	"speaker0", "speaker1", "speaker2", "speaker3",
	"speaker4", "speaker5", "speaker6", "speaker7",
}

// Merge assigns a speaker to every ASR segment, coalesces consecutive
// segments of one speaker and estimates word timings. Speakers are numbered
// in order of first appearance. Empty ASR input yields an empty transcript.
func Merge(asr []RawASRSegment, diarization []RawDiarizationSegment) Transcript {
	if len(asr) == 0 {
		return Transcript{Segments: []Segment{}, Speakers: []Speaker{}}
	}

	ordered := make([]RawASRSegment, len(asr))
	copy(ordered, asr)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	var (
		order    []string
		seen     = make(map[string]bool)
		segments []Segment
	)

	for _, a := range ordered {
		speaker := bestSpeaker(a, diarization)
		if !seen[speaker] {
			seen[speaker] = true
			order = append(order, speaker)
		}

		if n := len(segments); n > 0 {
			last := &segments[n-1]
			if last.SpeakerID == speaker && a.Start-last.End < CoalesceGap {
				last.Text += " " + a.Text
				last.End = max(last.End, a.End)
				continue
			}
			// Overlapping input from different speakers is clipped at the previous end
			if a.Start < last.End {
				a.Start = last.End
				a.End = max(a.End, a.Start)
			}
		}

		segments = append(segments, Segment{
			SpeakerID: speaker,
			Start:     a.Start,
			End:       a.End,
			Text:      a.Text,
		})
	}

	for i := range segments {
		s := &segments[i]
		s.Words = EstimateWordTimings(s.Text, s.Start, s.End)
	}

	speakers := make([]Speaker, len(order))
	for i, id := range order {
		speakers[i] = Speaker{
			ID:          id,
			DisplayName: fmt.Sprintf("Speaker %d", i+1),
			Color:       SpeakerPalette[i%len(SpeakerPalette)],
		}
	}

	return Transcript{Segments: segments, Speakers: speakers}
}

// bestSpeaker returns the label of the diarization span with the largest
// overlap, the first one on ties, or UnknownSpeaker when nothing overlaps
func bestSpeaker(a RawASRSegment, diarization []RawDiarizationSegment) string {
	best := 0.0
	speaker := UnknownSpeaker

	for _, d := range diarization {
		overlap := min(a.End, d.End) - max(a.Start, d.Start)
		if overlap > best {
			best = overlap
			speaker = d.SpeakerID
		}
	}
	return speaker
}

// EstimateWordTimings splits text on whitespace and gives each word a share
// of [start, end] proportional to its character count. Timings are
// contiguous and the last word ends exactly at end.
func EstimateWordTimings(text string, start, end float64) []WordTiming {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []WordTiming{}
	}

	total := 0
	for _, w := range words {
		total += utf8.RuneCountInString(w)
	}
	if total == 0 {
		return []WordTiming{}
	}

	duration := end - start
	timings := make([]WordTiming, len(words))
	current := start
	for i, w := range words {
		wordEnd := min(current+duration*float64(utf8.RuneCountInString(w))/float64(total), end)
		if i == len(words)-1 {
			wordEnd = end
		}
		timings[i] = WordTiming{Word: w, Start: current, End: wordEnd}
		current = wordEnd
	}
	return timings
}

// GroupTokens builds ASR segments from recognizer tokens, ending a segment
// after every token that closes a sentence. With no tokens the whole of
// fallbackText becomes one segment spanning [0, duration].
func GroupTokens(tokens []TokenTiming, fallbackText string, duration float64) []RawASRSegment {
	if len(tokens) == 0 {
		text := strings.TrimSpace(fallbackText)
		if text == "" {
			return []RawASRSegment{}
		}
		return []RawASRSegment{{Text: text, Start: 0, End: duration}}
	}

	var segments []RawASRSegment
	var current []TokenTiming

	flush := func() {
		if len(current) == 0 {
			return
		}
		parts := make([]string, len(current))
		for i, t := range current {
			parts[i] = t.Token
		}
		segments = append(segments, RawASRSegment{
			Text:  strings.TrimSpace(strings.Join(parts, " ")),
			Start: current[0].Start,
			End:   current[len(current)-1].End,
		})
		current = nil
	}

	for _, t := range tokens {
		current = append(current, t)
		if endsSentence(t.Token) {
			flush()
		}
	}
	flush()

	return segments
}

func endsSentence(token string) bool {
	trimmed := strings.TrimRight(token, " \t")
	return strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "!")
}
