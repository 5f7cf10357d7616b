// Package session produces the ordered save, load and advance requests that
// drive a rollback simulation. SyncTest checks determinism locally, P2P
// exchanges inputs with remote peers and Spectator replays a host's confirmed
// inputs.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"rewind/internal/checksum"
	"rewind/internal/frame"
)

var (
	// ErrPredictionThreshold means the session is as far ahead of confirmed
	// input as it may go. The tick must be skipped without touching state.
	ErrPredictionThreshold = errors.New("session: prediction threshold reached")
	// ErrInvalidHandle is returned when setting input for a handle that is not
	// a local player.
	ErrInvalidHandle = errors.New("session: invalid player handle")
	// ErrNotSynchronized is returned when advancing before every peer finished
	// the handshake.
	ErrNotSynchronized = errors.New("session: not synchronized")
	// ErrMissingInput is returned when advancing before every local player's
	// input was set.
	ErrMissingInput = errors.New("session: missing local input")
	// ErrInvalidRequest reports a malformed configuration or call.
	ErrInvalidRequest = errors.New("session: invalid request")
)

// MismatchedChecksumError is returned by SyncTest when resimulating a frame
// produced a different checksum than the first simulation.
type MismatchedChecksumError struct {
	CurrentFrame frame.Frame
	Frames       []frame.Frame
}

func (e *MismatchedChecksumError) Error() string {
	return fmt.Sprintf("session: checksum mismatch at frame %s for frames %v", e.CurrentFrame, e.Frames)
}

// PlayerHandle addresses a player within a session.
type PlayerHandle int

// PeerID names a remote peer on a Transport.
type PeerID string

// PlayerType distinguishes the players of a P2P session.
type PlayerType int

const (
	PlayerLocal PlayerType = iota
	PlayerRemote
)

// Player describes one participant. Remote players name the peer that owns
// their input.
type Player struct {
	Type PlayerType
	Peer PeerID
}

// Local returns a local player.
func Local() Player { return Player{Type: PlayerLocal} }

// Remote returns a player whose input comes from peer.
func Remote(peer PeerID) Player { return Player{Type: PlayerRemote, Peer: peer} }

// InputStatus describes how trustworthy an input handed to Advance is.
type InputStatus int

const (
	StatusConfirmed InputStatus = iota
	StatusPredicted
	StatusDisconnected
)

func (s InputStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPredicted:
		return "predicted"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// PlayerInput is one player's input for the frame being advanced.
type PlayerInput[I comparable] struct {
	Input  I
	Status InputStatus
}

// RequestKind tags a Request.
type RequestKind int

const (
	RequestSave RequestKind = iota
	RequestLoad
	RequestAdvance
)

func (k RequestKind) String() string {
	switch k {
	case RequestSave:
		return "save"
	case RequestLoad:
		return "load"
	case RequestAdvance:
		return "advance"
	default:
		return "request(" + strconv.Itoa(int(k)) + ")"
	}
}

// Request is one instruction for the driver. Save and Load carry the frame
// and the cell the save's checksum is written to; Advance carries the inputs
// of every player in handle order.
type Request[I comparable] struct {
	Kind   RequestKind
	Frame  frame.Frame
	Cell   *StateCell
	Inputs []PlayerInput[I]
}

// StateCell receives the checksum of a saved frame so the session can compare
// it later.
type StateCell struct {
	frame    frame.Frame
	checksum checksum.Checksum
	saved    bool
}

// Save records the checksum computed for f.
func (c *StateCell) Save(f frame.Frame, sum checksum.Checksum) {
	c.frame = f
	c.checksum = sum
	c.saved = true
}

// Frame returns the frame the cell was last reserved or saved for.
func (c *StateCell) Frame() frame.Frame {
	return c.frame
}

// Checksum returns the saved checksum, if the save has been executed.
func (c *StateCell) Checksum() (checksum.Checksum, bool) {
	return c.checksum, c.saved
}

func (c *StateCell) reserve(f frame.Frame) {
	c.frame = f
	c.checksum = 0
	c.saved = false
}

// State is the lifecycle of a session.
type State int

const (
	Synchronizing State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "synchronizing"
}

// EventKind tags an Event.
type EventKind int

const (
	EventSynchronizing EventKind = iota
	EventSynchronized
	EventNetworkInterrupted
	EventNetworkResumed
	EventDisconnected
	EventWaitRecommendation
	EventDesyncDetected
)

func (k EventKind) String() string {
	switch k {
	case EventSynchronizing:
		return "synchronizing"
	case EventSynchronized:
		return "synchronized"
	case EventNetworkInterrupted:
		return "network_interrupted"
	case EventNetworkResumed:
		return "network_resumed"
	case EventDisconnected:
		return "disconnected"
	case EventWaitRecommendation:
		return "wait_recommendation"
	case EventDesyncDetected:
		return "desync_detected"
	default:
		return "event(" + strconv.Itoa(int(k)) + ")"
	}
}

// Event reports something the host may want to react to. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind EventKind
	Peer PeerID

	// Synchronizing progress.
	Count int
	Total int

	// NetworkInterrupted: time left before the peer is dropped.
	DisconnectTimeout time.Duration

	// WaitRecommendation.
	SkipFrames int

	// DesyncDetected.
	Frame          frame.Frame
	LocalChecksum  checksum.Checksum
	RemoteChecksum checksum.Checksum
}

// Codec converts inputs to and from the bytes exchanged with peers.
type Codec[I any] interface {
	Encode(input I) []byte
	Decode(data []byte) (I, error)
}

// Session is the surface the driver consumes. Every variant is driven from a
// single goroutine.
type Session[I comparable] interface {
	// Poll performs network maintenance. It never blocks.
	Poll()
	// AdvanceFrame returns the requests for the next frame.
	AdvanceFrame() ([]Request[I], error)
	// SetInput queues the input of a local player for the next advance.
	SetInput(handle PlayerHandle, input I) error
	// Events drains the pending events.
	Events() []Event
	// FramesAhead is positive when this client runs ahead of its peers.
	FramesAhead() int
	// MaxPredictionWindow is the number of frames histories must retain.
	MaxPredictionWindow() int
	LocalPlayerHandles() []PlayerHandle
	NumPlayers() int
	ConfirmedFrame() frame.Frame
	CurrentState() State
}

// Advance sets every input in inputs and then advances the session.
func Advance[I comparable](s Session[I], inputs map[PlayerHandle]I) ([]Request[I], error) {
	for handle, input := range inputs {
		if err := s.SetInput(handle, input); err != nil {
			return nil, err
		}
	}
	return s.AdvanceFrame()
}
