package capture

import (
	"sync"

	"github.com/skypro1111/speechcap/internal/audio"
)

type messageKind int

const (
	msgFrame messageKind = iota
	msgBarrier
	msgStop
)

// message crosses from a source callback to the writer goroutine
type message struct {
	kind    messageKind
	track   audio.Track
	samples []float32
	rms     float64
	done    chan struct{}
	result  *Result
}

// handoff is an unbounded FIFO between the real-time taps and the writer.
// push never blocks on the consumer; depth is reported so the caller can
// watch for a writer that falls behind.
type handoff struct {
	mu     sync.Mutex
	items  []message
	spare  []message
	closed bool
	peak   int
	signal chan struct{}
}

func newHandoff() *handoff {
	return &handoff{
		signal: make(chan struct{}, 1),
	}
}

// push appends m and returns the queue depth, or false once the queue is closed
func (h *handoff) push(m message) (int, bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, false
	}
	h.items = append(h.items, m)
	depth := len(h.items)
	if depth > h.peak {
		h.peak = depth
	}
	h.mu.Unlock()

	h.wake()
	return depth, true
}

// close appends a final message and rejects every later push
func (h *handoff) close(m message) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.items = append(h.items, m)
	h.closed = true
	h.mu.Unlock()

	h.wake()
	return true
}

// take swaps out everything queued so far. The returned slice is valid until
// the next call.
func (h *handoff) take() []message {
	h.mu.Lock()
	defer h.mu.Unlock()

	batch := h.items
	h.items = h.spare[:0]
	h.spare = batch
	return batch
}

// depth returns the current and peak queue depth
func (h *handoff) depth() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items), h.peak
}

func (h *handoff) wake() {
	select {
	case h.signal <- struct{}{}:
	default:
	}
}
