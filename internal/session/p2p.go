package session

import (
	"fmt"
	"slices"
	"time"

	"rewind/internal/checksum"
	"rewind/internal/frame"
)

const (
	minRecommendation      = 3
	recommendationInterval = 60
	desyncRetention        = 16
)

// P2PConfig configures a P2P session.
type P2PConfig struct {
	MaxPrediction int
	InputDelay    int
	// DesyncInterval is the spacing in frames between checksum exchanges.
	// Zero disables desync detection.
	DesyncInterval int
	Protocol       ProtocolConfig
}

// DefaultP2PConfig returns an eight-frame prediction window with desync
// detection every ten frames.
func DefaultP2PConfig() P2PConfig {
	return P2PConfig{
		MaxPrediction:  8,
		DesyncInterval: 10,
		Protocol:       DefaultProtocolConfig(),
	}
}

// PeerStats describes the connection to one peer.
type PeerStats struct {
	RTT             time.Duration
	LocalAdvantage  int
	RemoteAdvantage int
	PendingInputs   int
	Running         bool
}

// P2P is a rollback session between peers that each own some of the players.
// Remote inputs are predicted until they arrive; a late input that
// contradicts its prediction makes the next advance roll back to that frame.
type P2P[I comparable] struct {
	cfg       P2PConfig
	transport Transport
	codec     Codec[I]
	sync      *syncLayer[I]
	players   []Player

	local      []PlayerHandle
	localInput map[PlayerHandle]I

	remotes    []*endpoint
	spectators []*endpoint
	byPeer     map[PeerID]*endpoint

	disconnectFrames []frame.Frame

	state                State
	events               []Event
	err                  error
	framesAhead          int
	nextRecommendedSleep frame.Frame
	nextSpectatorFrame   frame.Frame

	nextDesyncFrame frame.Frame
	localChecksums  map[frame.Frame]checksum.Checksum
	remoteChecksums map[PeerID]map[frame.Frame]checksum.Checksum
}

// NewP2P builds a session for players, indexed by handle, and starts the
// handshake with every remote peer and spectator.
func NewP2P[I comparable](cfg P2PConfig, transport Transport, codec Codec[I], players []Player, spectators []PeerID) (*P2P[I], error) {
	if cfg.MaxPrediction < 1 {
		return nil, fmt.Errorf("p2p: max prediction must be positive: %w", ErrInvalidRequest)
	}
	if cfg.InputDelay < 0 || cfg.DesyncInterval < 0 {
		return nil, fmt.Errorf("p2p: negative input delay or desync interval: %w", ErrInvalidRequest)
	}
	if len(players) == 0 {
		return nil, fmt.Errorf("p2p: no players: %w", ErrInvalidRequest)
	}
	if transport == nil || codec == nil {
		return nil, fmt.Errorf("p2p: transport and codec are required: %w", ErrInvalidRequest)
	}
	cfg.Protocol = cfg.Protocol.withDefaults()

	s := &P2P[I]{
		cfg:              cfg,
		transport:        transport,
		codec:            codec,
		sync:             newSyncLayer[I](len(players), cfg.MaxPrediction),
		players:          slices.Clone(players),
		localInput:       make(map[PlayerHandle]I),
		byPeer:           make(map[PeerID]*endpoint),
		disconnectFrames: make([]frame.Frame, len(players)),
		localChecksums:   make(map[frame.Frame]checksum.Checksum),
		remoteChecksums:  make(map[PeerID]map[frame.Frame]checksum.Checksum),
		nextDesyncFrame:  frame.Frame(cfg.DesyncInterval),
	}

	handlesByPeer := make(map[PeerID][]PlayerHandle)
	var peers []PeerID
	for i, player := range players {
		handle := PlayerHandle(i)
		s.disconnectFrames[i] = frame.NullFrame
		switch player.Type {
		case PlayerLocal:
			s.local = append(s.local, handle)
		case PlayerRemote:
			if player.Peer == "" {
				return nil, fmt.Errorf("p2p: remote player %d has no peer: %w", i, ErrInvalidRequest)
			}
			if _, seen := handlesByPeer[player.Peer]; !seen {
				peers = append(peers, player.Peer)
			}
			handlesByPeer[player.Peer] = append(handlesByPeer[player.Peer], handle)
		default:
			return nil, fmt.Errorf("p2p: player %d has unknown type %d: %w", i, player.Type, ErrInvalidRequest)
		}
	}
	if len(s.local) == 0 {
		return nil, fmt.Errorf("p2p: no local players: %w", ErrInvalidRequest)
	}

	for _, peer := range peers {
		ep := newEndpoint(peer, handlesByPeer[peer], false, transport, cfg.Protocol)
		s.remotes = append(s.remotes, ep)
		s.byPeer[peer] = ep
		s.remoteChecksums[peer] = make(map[frame.Frame]checksum.Checksum)
	}
	all := make([]PlayerHandle, len(players))
	for i := range all {
		all[i] = PlayerHandle(i)
	}
	for _, peer := range spectators {
		if _, dup := s.byPeer[peer]; dup {
			return nil, fmt.Errorf("p2p: peer %s is both player and spectator: %w", peer, ErrInvalidRequest)
		}
		ep := newEndpoint(peer, all, true, transport, cfg.Protocol)
		s.spectators = append(s.spectators, ep)
		s.byPeer[peer] = ep
	}

	for _, ep := range s.endpoints() {
		ep.sendSyncRequest(s.sync.current)
	}
	s.updateState()
	return s, nil
}

func (s *P2P[I]) endpoints() []*endpoint {
	return append(slices.Clone(s.remotes), s.spectators...)
}

// Poll receives pending datagrams, runs the per-peer protocol and collects
// events.
func (s *P2P[I]) Poll() {
	current := s.sync.current
	for _, datagram := range s.transport.Receive() {
		ep, ok := s.byPeer[datagram.From]
		if !ok {
			continue
		}
		msg, err := decodeMessage(datagram.Payload)
		if err != nil {
			continue
		}
		if !ep.handle(msg, current) {
			continue
		}
		switch msg.Kind {
		case msgInput:
			s.receiveInputs(ep, msg)
		case msgChecksumReport:
			s.receiveChecksum(ep, frame.Frame(msg.ChecksumFrame), checksum.Checksum(msg.Checksum))
		}
	}

	for _, ep := range s.endpoints() {
		if ep.poll(current) && !ep.spectator {
			s.disconnect(ep)
		}
		s.events = append(s.events, ep.drainEvents()...)
		if err := ep.takeError(); err != nil && s.err == nil {
			s.err = err
		}
	}
	s.updateState()
}

func (s *P2P[I]) receiveInputs(ep *endpoint, msg message) {
	if ep.spectator {
		return
	}
	for _, in := range msg.Inputs {
		handle := PlayerHandle(in.Handle)
		if !slices.Contains(ep.handles, handle) {
			continue
		}
		input, err := s.codec.Decode(in.Data)
		if err != nil {
			if s.err == nil {
				s.err = fmt.Errorf("p2p: input from %s: %w", ep.peer, err)
			}
			continue
		}
		s.sync.queues[handle].Add(frame.Frame(in.Frame), input)
	}
	ack := frame.NullFrame
	for i, handle := range ep.handles {
		last := s.sync.queues[handle].LastConfirmedFrame()
		if i == 0 || last.Before(ack) {
			ack = last
		}
	}
	ep.ack = ack
}

func (s *P2P[I]) disconnect(ep *endpoint) {
	for _, handle := range ep.handles {
		queue := s.sync.queues[handle]
		from := queue.LastConfirmedFrame().Next()
		s.disconnectFrames[handle] = from
		if s.sync.current.After(from) {
			queue.markIncorrect(from)
		}
	}
}

func (s *P2P[I]) disconnectedFrom(handle PlayerHandle) (frame.Frame, bool) {
	f := s.disconnectFrames[handle]
	return f, !f.IsNull()
}

func (s *P2P[I]) updateState() {
	if s.state == Running {
		return
	}
	for _, ep := range s.remotes {
		if ep.state == endpointSyncing {
			return
		}
	}
	s.state = Running
}

// SetInput queues input for a local player.
func (s *P2P[I]) SetInput(handle PlayerHandle, input I) error {
	if !slices.Contains(s.local, handle) {
		return fmt.Errorf("p2p: handle %d: %w", handle, ErrInvalidHandle)
	}
	s.localInput[handle] = input
	return nil
}

// AdvanceFrame returns the requests for the next frame, rolling back first if
// a remote input contradicted a prediction. It fails with
// ErrPredictionThreshold, without side effects, once the session is
// MaxPrediction frames ahead of the last confirmed frame.
func (s *P2P[I]) AdvanceFrame() ([]Request[I], error) {
	if s.state != Running {
		return nil, ErrNotSynchronized
	}
	if s.err != nil {
		err := s.err
		s.err = nil
		return nil, fmt.Errorf("p2p: transport: %w", err)
	}
	for _, handle := range s.local {
		if _, ok := s.localInput[handle]; !ok {
			return nil, fmt.Errorf("p2p: handle %d: %w", handle, ErrMissingInput)
		}
	}
	confirmed := s.confirmedFrame()
	if int(s.sync.current.Sub(confirmed)) > s.cfg.MaxPrediction {
		return nil, ErrPredictionThreshold
	}

	s.exchangeChecksums()

	var requests []Request[I]
	if first := s.sync.firstIncorrect(); !first.IsNull() && first.Before(s.sync.current) {
		requests = s.sync.rollback(first, requests, s.disconnectedFrom)
	}
	s.sync.setLastConfirmed(confirmed)

	current := s.sync.current
	s.updateTimeSync(current)

	var outgoing []wireInput
	for _, handle := range s.local {
		for _, f := range s.sync.addInput(handle, current.Add(s.cfg.InputDelay), s.localInput[handle]) {
			input, _ := s.sync.queues[handle].Confirmed(f)
			outgoing = append(outgoing, wireInput{Frame: int32(f), Handle: int(handle), Data: s.codec.Encode(input)})
		}
	}
	clear(s.localInput)
	for _, ep := range s.remotes {
		if ep.state != endpointDisconnected {
			ep.queueInputs(outgoing, current)
		}
	}
	s.forwardToSpectators(s.sync.lastConfirmed)

	requests = append(requests, s.sync.saveCurrent())
	requests = append(requests, s.sync.advance(s.sync.inputs(s.disconnectedFrom)))
	return requests, nil
}

// confirmedFrame is the newest frame for which every connected player's
// input has arrived.
func (s *P2P[I]) confirmedFrame() frame.Frame {
	confirmed := frame.NullFrame
	first := true
	for i, queue := range s.sync.queues {
		if !s.disconnectFrames[i].IsNull() {
			continue
		}
		last := queue.LastConfirmedFrame()
		if first || last.Before(confirmed) {
			confirmed = last
			first = false
		}
	}
	return confirmed
}

func (s *P2P[I]) updateTimeSync(current frame.Frame) {
	ahead := 0
	for _, ep := range s.remotes {
		if !ep.running() {
			continue
		}
		ep.updateAdvantage(current)
		if adv := ep.timeSync.averageFrameAdvantage(); adv > ahead {
			ahead = adv
		}
	}
	s.framesAhead = ahead
	if current.After(s.nextRecommendedSleep) && ahead >= minRecommendation {
		s.nextRecommendedSleep = current.Add(recommendationInterval)
		s.events = append(s.events, Event{Kind: EventWaitRecommendation, SkipFrames: ahead})
	}
}

// forwardToSpectators sends every newly confirmed frame's inputs, for all
// players, to the spectators.
func (s *P2P[I]) forwardToSpectators(confirmed frame.Frame) {
	if len(s.spectators) == 0 || confirmed.IsNull() {
		return
	}
	var batch []wireInput
	for f := s.nextSpectatorFrame; !f.After(confirmed); f = f.Next() {
		for i, queue := range s.sync.queues {
			in := wireInput{Frame: int32(f), Handle: i}
			if from, ok := s.disconnectedFrom(PlayerHandle(i)); ok && !f.Before(from) {
				in.Disconnected = true
			} else if input, ok := queue.Confirmed(f); ok {
				in.Data = s.codec.Encode(input)
			} else {
				in.Disconnected = true
			}
			batch = append(batch, in)
		}
		s.nextSpectatorFrame = f.Next()
	}
	if len(batch) == 0 {
		return
	}
	for _, ep := range s.spectators {
		if ep.state != endpointDisconnected {
			ep.queueInputs(batch, s.sync.current)
		}
	}
}

// exchangeChecksums publishes the checksums of confirmed frames that fall on
// the desync interval and compares them with what peers reported.
func (s *P2P[I]) exchangeChecksums() {
	interval := s.cfg.DesyncInterval
	if interval == 0 {
		return
	}
	for !s.nextDesyncFrame.After(s.sync.lastConfirmed) && !s.sync.lastConfirmed.IsNull() {
		f := s.nextDesyncFrame
		s.nextDesyncFrame = f.Add(interval)
		sum, ok := s.sync.checksum(f)
		if !ok {
			continue
		}
		s.localChecksums[f] = sum
		for _, ep := range s.remotes {
			if ep.running() {
				ep.sendChecksum(f, sum, s.sync.current)
			}
			s.compareChecksum(ep.peer, f)
		}
	}

	horizon := s.nextDesyncFrame.Add(-desyncRetention * interval)
	for f := range s.localChecksums {
		if f.Before(horizon) {
			delete(s.localChecksums, f)
		}
	}
	for _, remote := range s.remoteChecksums {
		for f := range remote {
			if f.Before(horizon) {
				delete(remote, f)
			}
		}
	}
}

func (s *P2P[I]) receiveChecksum(ep *endpoint, f frame.Frame, sum checksum.Checksum) {
	remote, ok := s.remoteChecksums[ep.peer]
	if !ok {
		return
	}
	remote[f] = sum
	s.compareChecksum(ep.peer, f)
}

func (s *P2P[I]) compareChecksum(peer PeerID, f frame.Frame) {
	local, ok := s.localChecksums[f]
	if !ok {
		return
	}
	remote, ok := s.remoteChecksums[peer][f]
	if !ok {
		return
	}
	delete(s.remoteChecksums[peer], f)
	if local != remote {
		s.events = append(s.events, Event{
			Kind:           EventDesyncDetected,
			Peer:           peer,
			Frame:          f,
			LocalChecksum:  local,
			RemoteChecksum: remote,
		})
	}
}

// Events drains the pending events.
func (s *P2P[I]) Events() []Event {
	events := s.events
	s.events = nil
	return events
}

// FramesAhead is the largest averaged frame advantage over the remote peers.
func (s *P2P[I]) FramesAhead() int { return s.framesAhead }

func (s *P2P[I]) MaxPredictionWindow() int { return s.cfg.MaxPrediction }

func (s *P2P[I]) LocalPlayerHandles() []PlayerHandle { return slices.Clone(s.local) }

func (s *P2P[I]) NumPlayers() int { return len(s.players) }

func (s *P2P[I]) ConfirmedFrame() frame.Frame { return s.sync.lastConfirmed }

func (s *P2P[I]) CurrentState() State { return s.state }

// CurrentFrame is the next frame the session will advance.
func (s *P2P[I]) CurrentFrame() frame.Frame { return s.sync.current }

// Stats reports the connection state for peer.
func (s *P2P[I]) Stats(peer PeerID) (PeerStats, bool) {
	ep, ok := s.byPeer[peer]
	if !ok {
		return PeerStats{}, false
	}
	return PeerStats{
		RTT:             ep.rtt,
		LocalAdvantage:  ep.localAdvantage,
		RemoteAdvantage: ep.remoteAdvantage,
		PendingInputs:   len(ep.pending),
		Running:         ep.running(),
	}, true
}

var _ Session[int] = (*P2P[int])(nil)
