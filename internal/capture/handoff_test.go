package capture

import (
	"sync"
	"testing"

	"github.com/skypro1111/speechcap/internal/audio"
)

func TestHandoffOrderAndDepth(t *testing.T) {
	h := newHandoff()

	for i := 0; i < 5; i++ {
		depth, ok := h.push(message{kind: msgFrame, track: audio.TrackMic, rms: float64(i)})
		if !ok {
			t.Fatalf("Expected push %d to succeed", i)
		}
		if depth != i+1 {
			t.Errorf("Expected depth %d, got %d", i+1, depth)
		}
	}

	batch := h.take()
	if len(batch) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(batch))
	}
	for i, m := range batch {
		if m.rms != float64(i) {
			t.Errorf("Expected message %d in order, got rms %f", i, m.rms)
		}
	}

	depth, peak := h.depth()
	if depth != 0 {
		t.Errorf("Expected empty queue after take, got %d", depth)
	}
	if peak != 5 {
		t.Errorf("Expected peak 5, got %d", peak)
	}
}

func TestHandoffCloseRejectsLaterPushes(t *testing.T) {
	h := newHandoff()
	h.push(message{kind: msgFrame})

	if !h.close(message{kind: msgStop}) {
		t.Fatal("Expected first close to succeed")
	}
	if h.close(message{kind: msgStop}) {
		t.Error("Expected second close to fail")
	}
	if _, ok := h.push(message{kind: msgFrame}); ok {
		t.Error("Expected push after close to fail")
	}

	batch := h.take()
	if len(batch) != 2 || batch[1].kind != msgStop {
		t.Fatalf("Expected frame then stop, got %d messages", len(batch))
	}
}

func TestHandoffSignalsConsumer(t *testing.T) {
	h := newHandoff()

	const producers, perProducer = 4, 250
	received := 0
	done := make(chan struct{})

	go func() {
		defer close(done)
		for range h.signal {
			for _, m := range h.take() {
				if m.kind == msgStop {
					return
				}
				received++
			}
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				h.push(message{kind: msgFrame})
			}
		}()
	}
	wg.Wait()
	h.close(message{kind: msgStop})
	<-done

	if received != producers*perProducer {
		t.Errorf("Expected %d frames, got %d", producers*perProducer, received)
	}
}
