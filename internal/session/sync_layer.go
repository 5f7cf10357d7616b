package session

import (
	"fmt"

	"rewind/internal/checksum"
	"rewind/internal/frame"
)

// syncLayer tracks the current frame, the per-player input queues and the
// cells saves write their checksums into. SyncTest and P2P share it.
type syncLayer[I comparable] struct {
	maxPrediction int
	current       frame.Frame
	lastConfirmed frame.Frame
	queues        []*InputQueue[I]
	cells         []StateCell
}

func newSyncLayer[I comparable](numPlayers, maxPrediction int) *syncLayer[I] {
	s := &syncLayer[I]{
		maxPrediction: maxPrediction,
		lastConfirmed: frame.NullFrame,
		queues:        make([]*InputQueue[I], numPlayers),
		cells:         make([]StateCell, maxPrediction+2),
	}
	for i := range s.queues {
		s.queues[i] = NewInputQueue[I]()
	}
	for i := range s.cells {
		s.cells[i].frame = frame.NullFrame
	}
	return s
}

func (s *syncLayer[I]) cell(f frame.Frame) *StateCell {
	n := int64(len(s.cells))
	return &s.cells[((int64(f)%n)+n)%n]
}

func (s *syncLayer[I]) saveCurrent() Request[I] {
	cell := s.cell(s.current)
	cell.reserve(s.current)
	return Request[I]{Kind: RequestSave, Frame: s.current, Cell: cell}
}

func (s *syncLayer[I]) loadFrame(f frame.Frame) Request[I] {
	if f.IsNull() || !f.Before(s.current) || int(s.current.Sub(f)) > s.maxPrediction {
		panic(fmt.Sprintf("session: cannot load frame %s from frame %s with prediction window %d", f, s.current, s.maxPrediction))
	}
	cell := s.cell(f)
	s.current = f
	return Request[I]{Kind: RequestLoad, Frame: f, Cell: cell}
}

func (s *syncLayer[I]) advance(inputs []PlayerInput[I]) Request[I] {
	req := Request[I]{Kind: RequestAdvance, Frame: s.current, Inputs: inputs}
	s.current = s.current.Next()
	return req
}

// addInput stores input for the local player at f, filling any frames skipped
// by input delay with the zero input. It returns the frames added.
func (s *syncLayer[I]) addInput(handle PlayerHandle, f frame.Frame, input I) []frame.Frame {
	queue := s.queues[handle]
	var added []frame.Frame
	var zero I
	for next := queue.LastConfirmedFrame().Next(); next.Before(f); next = next.Next() {
		queue.Add(next, zero)
		added = append(added, next)
	}
	if queue.Add(f, input) {
		added = append(added, f)
	}
	return added
}

// inputs gathers the input of every player for the current frame. disconnected
// reports the frame from which a player counts as disconnected.
func (s *syncLayer[I]) inputs(disconnected func(PlayerHandle) (frame.Frame, bool)) []PlayerInput[I] {
	out := make([]PlayerInput[I], len(s.queues))
	for i, queue := range s.queues {
		if disconnected != nil {
			if from, ok := disconnected(PlayerHandle(i)); ok && !s.current.Before(from) {
				out[i] = PlayerInput[I]{Status: StatusDisconnected}
				continue
			}
		}
		input, status := queue.Input(s.current)
		out[i] = PlayerInput[I]{Input: input, Status: status}
	}
	return out
}

// rollback appends a load of to followed by a resimulation back to the
// current frame. Every resimulated frame but the loaded one is saved again.
func (s *syncLayer[I]) rollback(to frame.Frame, requests []Request[I], disconnected func(PlayerHandle) (frame.Frame, bool)) []Request[I] {
	count := int(s.current.Sub(to))
	requests = append(requests, s.loadFrame(to))
	s.resetPrediction()
	for i := 0; i < count; i++ {
		inputs := s.inputs(disconnected)
		if i > 0 {
			requests = append(requests, s.saveCurrent())
		}
		requests = append(requests, s.advance(inputs))
	}
	return requests
}

func (s *syncLayer[I]) resetPrediction() {
	for _, queue := range s.queues {
		queue.ResetPrediction()
	}
}

// firstIncorrect returns the earliest mispredicted frame across all players.
func (s *syncLayer[I]) firstIncorrect() frame.Frame {
	first := frame.NullFrame
	for _, queue := range s.queues {
		f := queue.FirstIncorrectFrame()
		if f.IsNull() {
			continue
		}
		if first.IsNull() || f.Before(first) {
			first = f
		}
	}
	return first
}

func (s *syncLayer[I]) setLastConfirmed(f frame.Frame) {
	if !f.IsNull() && !f.Before(s.current) {
		f = s.current.Add(-1)
	}
	s.lastConfirmed = f
}

// checksum returns the checksum saved for f if its cell still holds it.
func (s *syncLayer[I]) checksum(f frame.Frame) (checksum.Checksum, bool) {
	cell := s.cell(f)
	if cell.frame != f {
		return 0, false
	}
	return cell.Checksum()
}
