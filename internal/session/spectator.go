package session

import (
	"fmt"

	"rewind/internal/frame"
)

// SpectatorConfig configures a Spectator session.
type SpectatorConfig struct {
	NumPlayers int
	// MaxFramesBehind is how many buffered frames trigger catch-up.
	MaxFramesBehind int
	// CatchupSpeed is the number of frames advanced per call while catching up.
	CatchupSpeed int
	Protocol     ProtocolConfig
}

// DefaultSpectatorConfig returns the catch-up settings used for spectators.
func DefaultSpectatorConfig() SpectatorConfig {
	return SpectatorConfig{
		NumPlayers:      2,
		MaxFramesBehind: 10,
		CatchupSpeed:    1,
		Protocol:        DefaultProtocolConfig(),
	}
}

type spectatorSlot[I comparable] struct {
	frame  frame.Frame
	inputs []PlayerInput[I]
	filled []bool
	count  int
}

// Spectator replays the confirmed inputs a host forwards. It never predicts,
// so it never emits Save or Load requests.
type Spectator[I comparable] struct {
	cfg       SpectatorConfig
	transport Transport
	codec     Codec[I]
	host      *endpoint

	current  frame.Frame
	lastRecv frame.Frame
	slots    [inputQueueLength]spectatorSlot[I]

	state  State
	events []Event
	err    error
}

// NewSpectator starts the handshake with host.
func NewSpectator[I comparable](cfg SpectatorConfig, transport Transport, codec Codec[I], host PeerID) (*Spectator[I], error) {
	if cfg.NumPlayers < 1 {
		return nil, fmt.Errorf("spectator: need at least one player: %w", ErrInvalidRequest)
	}
	if transport == nil || codec == nil || host == "" {
		return nil, fmt.Errorf("spectator: transport, codec and host are required: %w", ErrInvalidRequest)
	}
	if cfg.MaxFramesBehind < 1 {
		cfg.MaxFramesBehind = 10
	}
	if cfg.CatchupSpeed < 1 {
		cfg.CatchupSpeed = 1
	}
	cfg.Protocol = cfg.Protocol.withDefaults()

	handles := make([]PlayerHandle, cfg.NumPlayers)
	for i := range handles {
		handles[i] = PlayerHandle(i)
	}
	s := &Spectator[I]{
		cfg:       cfg,
		transport: transport,
		codec:     codec,
		host:      newEndpoint(host, handles, false, transport, cfg.Protocol),
		lastRecv:  frame.NullFrame,
	}
	for i := range s.slots {
		s.slots[i].frame = frame.NullFrame
	}
	s.host.sendSyncRequest(s.current)
	return s, nil
}

// Poll receives the host's datagrams and runs the protocol.
func (s *Spectator[I]) Poll() {
	for _, datagram := range s.transport.Receive() {
		if datagram.From != s.host.peer {
			continue
		}
		msg, err := decodeMessage(datagram.Payload)
		if err != nil {
			continue
		}
		if s.host.handle(msg, s.current) && msg.Kind == msgInput {
			s.receiveInputs(msg)
		}
	}
	s.host.poll(s.current)
	s.events = append(s.events, s.host.drainEvents()...)
	if err := s.host.takeError(); err != nil && s.err == nil {
		s.err = err
	}
	if s.state == Synchronizing && s.host.running() {
		s.state = Running
	}
}

func (s *Spectator[I]) receiveInputs(msg message) {
	for _, in := range msg.Inputs {
		f := frame.Frame(in.Frame)
		if in.Handle < 0 || in.Handle >= s.cfg.NumPlayers {
			continue
		}
		if !s.lastRecv.IsNull() && !f.After(s.lastRecv) {
			continue
		}
		if f.Before(s.current) || int(f.Sub(s.current)) >= inputQueueLength {
			continue
		}
		slot := &s.slots[queueIndex(f)]
		if slot.frame != f {
			slot.frame = f
			slot.inputs = make([]PlayerInput[I], s.cfg.NumPlayers)
			slot.filled = make([]bool, s.cfg.NumPlayers)
			slot.count = 0
		}
		if slot.filled[in.Handle] {
			continue
		}
		if in.Disconnected {
			slot.inputs[in.Handle] = PlayerInput[I]{Status: StatusDisconnected}
		} else {
			input, err := s.codec.Decode(in.Data)
			if err != nil {
				if s.err == nil {
					s.err = fmt.Errorf("spectator: input from %s: %w", s.host.peer, err)
				}
				continue
			}
			slot.inputs[in.Handle] = PlayerInput[I]{Input: input, Status: StatusConfirmed}
		}
		slot.filled[in.Handle] = true
		slot.count++
	}

	for {
		next := s.lastRecv.Next()
		slot := &s.slots[queueIndex(next)]
		if slot.frame != next || slot.count < s.cfg.NumPlayers {
			break
		}
		s.lastRecv = next
	}
	s.host.ack = s.lastRecv
}

// SetInput is a no-op; spectators have no local players.
func (s *Spectator[I]) SetInput(PlayerHandle, I) error { return nil }

// AdvanceFrame returns one Advance request, or CatchupSpeed of them when more
// than MaxFramesBehind frames are buffered. It fails with
// ErrPredictionThreshold when the next frame's inputs have not arrived.
func (s *Spectator[I]) AdvanceFrame() ([]Request[I], error) {
	if s.state != Running {
		return nil, ErrNotSynchronized
	}
	if s.err != nil {
		err := s.err
		s.err = nil
		return nil, fmt.Errorf("spectator: transport: %w", err)
	}

	steps := 1
	if s.framesBehindHost() > s.cfg.MaxFramesBehind {
		steps = s.cfg.CatchupSpeed
	}
	var requests []Request[I]
	for i := 0; i < steps; i++ {
		if s.lastRecv.IsNull() || s.current.After(s.lastRecv) {
			if i == 0 {
				return nil, ErrPredictionThreshold
			}
			break
		}
		slot := &s.slots[queueIndex(s.current)]
		inputs := make([]PlayerInput[I], len(slot.inputs))
		copy(inputs, slot.inputs)
		requests = append(requests, Request[I]{Kind: RequestAdvance, Frame: s.current, Inputs: inputs})
		s.current = s.current.Next()
	}
	return requests, nil
}

func (s *Spectator[I]) framesBehindHost() int {
	if s.lastRecv.IsNull() || s.current.After(s.lastRecv) {
		return 0
	}
	return int(s.lastRecv.Sub(s.current)) + 1
}

// Events drains the pending events.
func (s *Spectator[I]) Events() []Event {
	events := s.events
	s.events = nil
	return events
}

// FramesAhead is the negated number of frames buffered from the host.
func (s *Spectator[I]) FramesAhead() int { return -s.framesBehindHost() }

// MaxPredictionWindow is zero: spectators never roll back.
func (s *Spectator[I]) MaxPredictionWindow() int { return 0 }

func (s *Spectator[I]) LocalPlayerHandles() []PlayerHandle { return nil }

func (s *Spectator[I]) NumPlayers() int { return s.cfg.NumPlayers }

func (s *Spectator[I]) ConfirmedFrame() frame.Frame { return s.current.Add(-1) }

func (s *Spectator[I]) CurrentState() State { return s.state }

// CurrentFrame is the next frame the session will advance.
func (s *Spectator[I]) CurrentFrame() frame.Frame { return s.current }

var _ Session[int] = (*Spectator[int])(nil)
