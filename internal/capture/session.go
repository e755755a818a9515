package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/metrics"
)

// SessionHandle identifies a running session to the caller
type SessionHandle struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	ChunkTarget time.Duration `json:"chunk_target"`
	DualTrack   bool          `json:"dual_track"`
	Dir         string        `json:"dir"`
	SampleRate  int           `json:"sample_rate"`
}

// chunkPath names chunk index (0-based) of a track. A session that never
// splits keeps the plain name; once a second chunk exists every chunk is a part.
func chunkPath(dir, id string, track audio.Track, index int, parted bool) string {
	base := id
	if track == audio.TrackSystem {
		base += "_system"
	}
	if parted {
		base = fmt.Sprintf("%s_part%d", base, index+1)
	}
	return filepath.Join(dir, base+".wav")
}

// trackFile is the chunk sequence of one track. It is owned by the writer goroutine.
type trackFile struct {
	track      audio.Track
	dir        string
	id         string
	sampleRate int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	writer      *audio.ChunkWriter
	index       int
	startOffset time.Duration
	frames      int64
	closed      []ChunkFile
}

func newTrackFile(track audio.Track, dir, id string, sampleRate int, logger *slog.Logger, m *metrics.Metrics) *trackFile {
	return &trackFile{
		track:      track,
		dir:        dir,
		id:         id,
		sampleRate: sampleRate,
		logger:     logger.With(slog.String("track", track.String())),
		metrics:    m,
	}
}

// open creates the file for the current index
func (t *trackFile) open() error {
	path := chunkPath(t.dir, t.id, t.track, t.index, t.index > 0)
	w, err := audio.CreateChunkWriter(path, t.sampleRate)
	if err != nil {
		return err
	}
	t.writer = w
	t.frames = 0
	t.metrics.RecordChunkCreated(t.track.String())
	t.logger.Debug("Opened chunk", slog.Int("chunk_index", t.index), slog.String("path", path))
	return nil
}

// write appends samples. Failures drop the buffer; the media clock still advances.
func (t *trackFile) write(samples []float32) {
	t.frames += int64(len(samples))
	if t.writer == nil {
		t.metrics.RecordBufferWriteFailure(t.track.String())
		return
	}
	if err := t.writer.Write(samples); err != nil {
		t.metrics.RecordBufferWriteFailure(t.track.String())
		t.logger.Debug("Dropped buffer", slog.Int("chunk_index", t.index), slog.String("error", err.Error()))
	}
}

func (t *trackFile) elapsed() time.Duration {
	return framesToDuration(t.frames, t.sampleRate)
}

// current describes the chunk being written
func (t *trackFile) current() (ChunkFile, bool) {
	if t.writer == nil {
		return ChunkFile{}, false
	}
	return ChunkFile{
		Track:       t.track,
		Index:       t.index,
		Path:        t.writer.Path(),
		StartOffset: t.startOffset,
		Duration:    t.elapsed(),
	}, true
}

// finish closes the current chunk and records it
func (t *trackFile) finish() (ChunkFile, bool) {
	chunk, ok := t.current()
	if !ok {
		return ChunkFile{}, false
	}
	if err := t.writer.Close(); err != nil {
		t.logger.Warn("Failed to finalize chunk", slog.Int("chunk_index", t.index), slog.String("error", err.Error()))
	}
	t.writer = nil
	t.closed = append(t.closed, chunk)
	return chunk, true
}

// split closes the current chunk and opens the next one at sessionOffset.
// On the first split the first chunk is renamed to its part name.
func (t *trackFile) split(sessionOffset time.Duration) (ChunkFile, bool) {
	chunk, ok := t.finish()
	if ok {
		if t.index == 0 {
			t.renameFirst()
			chunk = t.closed[0]
		}
		t.index++
	}

	// A chunk that failed to open is retried under the same index
	t.startOffset = sessionOffset
	if err := t.open(); err != nil {
		t.logger.Error("Failed to open next chunk", slog.Int("chunk_index", t.index), slog.String("error", err.Error()))
	}
	return chunk, ok
}

func (t *trackFile) renameFirst() {
	from := t.closed[0].Path
	to := chunkPath(t.dir, t.id, t.track, 0, true)
	if err := os.Rename(from, to); err != nil {
		t.logger.Warn("Failed to rename first chunk",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return
	}
	t.closed[0].Path = to
}

// chunks returns closed chunks plus the open one
func (t *trackFile) chunks() []ChunkFile {
	out := make([]ChunkFile, len(t.closed), len(t.closed)+1)
	copy(out, t.closed)
	if c, ok := t.current(); ok {
		out = append(out, c)
	}
	return out
}

// remove deletes every file of the track. Used when Start fails after files were created.
func (t *trackFile) remove() {
	if t.writer != nil {
		path := t.writer.Path()
		t.writer.Close()
		t.writer = nil
		os.Remove(path)
	}
	for _, c := range t.closed {
		os.Remove(c.Path)
	}
	t.closed = nil
}

func framesToDuration(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
