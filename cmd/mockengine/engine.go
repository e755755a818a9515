package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/transcript"
)

// engine answers recognition and diarization uploads with canned segments
// sized to the uploaded audio
type engine struct {
	logger    *slog.Logger
	segment   time.Duration
	speakers  int
	latency   time.Duration
	failFirst int64

	requests atomic.Int64
}

type asrReply struct {
	Text     string                     `json:"text"`
	Duration float64                    `json:"duration"`
	Segments []transcript.RawASRSegment `json:"segments"`
}

type diarizationReply struct {
	Segments []transcript.RawDiarizationSegment `json:"segments"`
}

func (e *engine) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/asr", e.handleASR)
	mux.HandleFunc("/diarize", e.handleDiarize)
	return mux
}

func (e *engine) handleASR(w http.ResponseWriter, r *http.Request) {
	duration, ok := e.accept(w, r, "asr")
	if !ok {
		return
	}

	reply := asrReply{Duration: duration}
	for i, span := range e.spans(duration) {
		text := fmt.Sprintf("utterance %d.", i+1)
		reply.Segments = append(reply.Segments, transcript.RawASRSegment{Text: text, Start: span[0], End: span[1]})
		if reply.Text != "" {
			reply.Text += " "
		}
		reply.Text += text
	}
	e.reply(w, "asr", reply, len(reply.Segments))
}

func (e *engine) handleDiarize(w http.ResponseWriter, r *http.Request) {
	duration, ok := e.accept(w, r, "diarize")
	if !ok {
		return
	}

	var reply diarizationReply
	for i, span := range e.spans(duration) {
		reply.Segments = append(reply.Segments, transcript.RawDiarizationSegment{
			SpeakerID: fmt.Sprintf("SPEAKER_%02d", i%e.speakers),
			Start:     span[0],
			End:       span[1],
		})
	}
	e.reply(w, "diarize", reply, len(reply.Segments))
}

// accept validates the upload and returns the audio duration in seconds
func (e *engine) accept(w http.ResponseWriter, r *http.Request, service string) (float64, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return 0, false
	}

	n := e.requests.Add(1)
	if n <= e.failFirst {
		e.logger.Warn("Failing request on purpose", slog.String("service", service), slog.Int64("request", n))
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return 0, false
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return 0, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return 0, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return 0, false
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}

	e.logger.Info("Request received",
		slog.String("service", service),
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Uint64("sample_rate", uint64(info.SampleRate)),
		slog.String("form_sample_rate", r.FormValue("sample_rate")),
		slog.Float64("duration", info.Duration),
	)

	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-r.Context().Done():
			return 0, false
		}
	}

	return info.Duration, true
}

// spans cuts [0, duration) into consecutive segment-length windows
func (e *engine) spans(duration float64) [][2]float64 {
	step := e.segment.Seconds()
	if step <= 0 || duration <= 0 {
		return nil
	}

	count := int(math.Ceil(duration / step))
	spans := make([][2]float64, 0, count)
	for i := range count {
		start := float64(i) * step
		end := math.Min(start+step, duration)
		spans = append(spans, [2]float64{start, end})
	}
	return spans
}

func (e *engine) reply(w http.ResponseWriter, service string, v any, segments int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		e.logger.Error("Failed to write response", slog.String("service", service), slog.String("error", err.Error()))
		return
	}
	e.logger.Info("Response sent", slog.String("service", service), slog.Int("segments", segments))
}
