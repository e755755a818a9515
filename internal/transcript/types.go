package transcript

// RawASRSegment is a span of recognized speech without speaker attribution
type RawASRSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RawDiarizationSegment is a span attributed to one anonymous speaker cluster
type RawDiarizationSegment struct {
	SpeakerID string  `json:"speaker"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// TokenTiming is one recognizer token with its time span
type TokenTiming struct {
	Token string  `json:"token"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// WordTiming is the estimated span of one word inside a segment
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one speaker-attributed utterance of a merged transcript
type Segment struct {
	SpeakerID string       `json:"speaker_id"`
	Start     float64      `json:"start"`
	End       float64      `json:"end"`
	Text      string       `json:"text"`
	Words     []WordTiming `json:"words"`
}

// Speaker is a speaker cluster as presented to the user
type Speaker struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// Transcript is the output of a merge pass
type Transcript struct {
	Segments []Segment `json:"segments"`
	Speakers []Speaker `json:"speakers"`
}

// Speaker returns the speaker with the given id
func (t Transcript) Speaker(id string) (Speaker, bool) {
	for _, s := range t.Speakers {
		if s.ID == id {
			return s, true
		}
	}
	return Speaker{}, false
}

// Duration returns the end of the last segment
func (t Transcript) Duration() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}
