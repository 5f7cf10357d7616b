package session

import (
	"testing"

	"rewind/internal/frame"
)

func TestInputQueuePredictsLastConfirmedInput(t *testing.T) {
	queue := NewInputQueue[int]()

	if input, status := queue.Input(0); input != 0 || status != StatusPredicted {
		t.Fatalf("expected zero prediction before any input, got %d (%s)", input, status)
	}

	queue = NewInputQueue[int]()
	if !queue.Add(0, 5) {
		t.Fatalf("expected first input to be accepted")
	}
	if input, status := queue.Input(0); input != 5 || status != StatusConfirmed {
		t.Fatalf("expected confirmed 5, got %d (%s)", input, status)
	}
	if input, status := queue.Input(3); input != 5 || status != StatusPredicted {
		t.Fatalf("expected predicted 5, got %d (%s)", input, status)
	}
}

func TestInputQueueRejectsOutOfOrderInputs(t *testing.T) {
	queue := NewInputQueue[int]()
	if queue.Add(1, 1) {
		t.Fatalf("expected input for frame 1 to be rejected before frame 0")
	}
	queue.Add(0, 1)
	if queue.Add(0, 2) {
		t.Fatalf("expected duplicate input to be rejected")
	}
	if got, _ := queue.Confirmed(0); got != 1 {
		t.Fatalf("duplicate overwrote confirmed input: %d", got)
	}
	if queue.LastConfirmedFrame() != 0 {
		t.Fatalf("unexpected last confirmed frame %s", queue.LastConfirmedFrame())
	}
}

func TestInputQueueTracksFirstIncorrectFrame(t *testing.T) {
	queue := NewInputQueue[int]()
	queue.Add(0, 1)
	for f := frame.Frame(1); f <= 4; f++ {
		queue.Input(f)
	}

	queue.Add(1, 1)
	if got := queue.FirstIncorrectFrame(); !got.IsNull() {
		t.Fatalf("correct prediction flagged as incorrect at %s", got)
	}
	queue.Add(2, 9)
	queue.Add(3, 7)
	if got := queue.FirstIncorrectFrame(); got != 2 {
		t.Fatalf("expected first incorrect frame 2, got %s", got)
	}

	queue.ResetPrediction()
	if got := queue.FirstIncorrectFrame(); !got.IsNull() {
		t.Fatalf("expected reset to clear the incorrect frame, got %s", got)
	}
	if input, status := queue.Input(5); input != 7 || status != StatusPredicted {
		t.Fatalf("expected new prediction from latest input, got %d (%s)", input, status)
	}
}

func TestInputQueueIgnoresInputsBeyondRequestedFrames(t *testing.T) {
	queue := NewInputQueue[int]()
	queue.Input(0)
	queue.Add(0, 0)
	queue.Add(1, 3)
	if got := queue.FirstIncorrectFrame(); !got.IsNull() {
		t.Fatalf("unrequested frame flagged as incorrect at %s", got)
	}
}

func TestInputQueuePanicsForEvictedFrames(t *testing.T) {
	queue := NewInputQueue[int]()
	for f := frame.Frame(0); f < inputQueueLength+5; f++ {
		queue.Add(f, int(f))
	}
	if _, ok := queue.Confirmed(0); ok {
		t.Fatalf("expected frame 0 to have been overwritten")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for evicted frame")
		}
	}()
	queue.Input(0)
}
