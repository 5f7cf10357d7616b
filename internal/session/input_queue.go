package session

import (
	"fmt"

	"rewind/internal/frame"
)

const inputQueueLength = 128

// InputQueue holds the confirmed inputs of one player and predicts the ones
// that have not arrived yet by repeating the last confirmed input. When a late
// input contradicts a prediction that was already simulated, the first such
// frame is remembered so the session can roll back to it.
type InputQueue[I comparable] struct {
	inputs         [inputQueueLength]I
	lastAdded      frame.Frame
	prediction     I
	predicting     bool
	lastRequested  frame.Frame
	firstIncorrect frame.Frame
}

// NewInputQueue returns an empty queue.
func NewInputQueue[I comparable]() *InputQueue[I] {
	return &InputQueue[I]{
		lastAdded:      frame.NullFrame,
		lastRequested:  frame.NullFrame,
		firstIncorrect: frame.NullFrame,
	}
}

func queueIndex(f frame.Frame) int {
	return int(uint32(f) % inputQueueLength)
}

// Add stores the confirmed input for f. Inputs must arrive in frame order;
// a duplicate or out-of-order input is ignored and false is returned.
func (q *InputQueue[I]) Add(f frame.Frame, input I) bool {
	if f != q.lastAdded.Next() {
		return false
	}
	q.inputs[queueIndex(f)] = input
	q.lastAdded = f

	if q.predicting {
		if q.firstIncorrect.IsNull() && !f.After(q.lastRequested) && input != q.prediction {
			q.firstIncorrect = f
		}
		if !f.Before(q.lastRequested) {
			q.predicting = false
		}
	}
	return true
}

// Input returns the input for f: the confirmed one if it arrived, otherwise a
// prediction.
func (q *InputQueue[I]) Input(f frame.Frame) (I, InputStatus) {
	if !q.lastAdded.IsNull() && !f.After(q.lastAdded) {
		if q.lastAdded.Sub(f) >= inputQueueLength {
			panic(fmt.Sprintf("session: input for frame %s no longer retained (newest %s)", f, q.lastAdded))
		}
		return q.inputs[queueIndex(f)], StatusConfirmed
	}
	if !q.predicting {
		q.predicting = true
		var zero I
		q.prediction = zero
		if !q.lastAdded.IsNull() {
			q.prediction = q.inputs[queueIndex(q.lastAdded)]
		}
	}
	if q.lastRequested.IsNull() || f.After(q.lastRequested) {
		q.lastRequested = f
	}
	return q.prediction, StatusPredicted
}

// Confirmed returns the confirmed input for f, if it arrived and is still
// retained.
func (q *InputQueue[I]) Confirmed(f frame.Frame) (I, bool) {
	var zero I
	if q.lastAdded.IsNull() || f.After(q.lastAdded) || q.lastAdded.Sub(f) >= inputQueueLength {
		return zero, false
	}
	return q.inputs[queueIndex(f)], true
}

// LastConfirmedFrame is the newest frame with a confirmed input.
func (q *InputQueue[I]) LastConfirmedFrame() frame.Frame {
	return q.lastAdded
}

// FirstIncorrectFrame is the earliest simulated frame whose prediction turned
// out wrong, or NullFrame.
func (q *InputQueue[I]) FirstIncorrectFrame() frame.Frame {
	return q.firstIncorrect
}

// ResetPrediction forgets every prediction after the session rolled back.
func (q *InputQueue[I]) ResetPrediction() {
	q.predicting = false
	q.lastRequested = frame.NullFrame
	q.firstIncorrect = frame.NullFrame
}

func (q *InputQueue[I]) markIncorrect(f frame.Frame) {
	if q.firstIncorrect.IsNull() || f.Before(q.firstIncorrect) {
		q.firstIncorrect = f
	}
}
