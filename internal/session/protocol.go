package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rewind/internal/checksum"
	"rewind/internal/frame"
	"rewind/logging"
)

const (
	syncRetryInterval     = 200 * time.Millisecond
	qualityReportInterval = 200 * time.Millisecond
	inputResendInterval   = 50 * time.Millisecond
	keepAliveInterval     = 200 * time.Millisecond
)

type messageKind string

const (
	msgSyncRequest    messageKind = "sync_request"
	msgSyncReply      messageKind = "sync_reply"
	msgInput          messageKind = "input"
	msgKeepAlive      messageKind = "keep_alive"
	msgQualityReport  messageKind = "quality_report"
	msgQualityReply   messageKind = "quality_reply"
	msgChecksumReport messageKind = "checksum_report"
)

// wireInput is one player's confirmed input for one frame.
type wireInput struct {
	Frame        int32  `json:"f"`
	Handle       int    `json:"h"`
	Data         []byte `json:"d,omitempty"`
	Disconnected bool   `json:"x,omitempty"`
}

// message is the envelope every peer-to-peer datagram is encoded as. Every
// message carries the sender's current frame and its acknowledgement of the
// receiver's inputs.
type message struct {
	Kind      messageKind `json:"kind"`
	Frame     int32       `json:"frame"`
	Ack       int32       `json:"ack"`
	Token     string      `json:"token,omitempty"`
	Inputs    []wireInput `json:"inputs,omitempty"`
	Advantage int         `json:"advantage,omitempty"`
	Ping      int64       `json:"ping,omitempty"`
	Checksum  uint64      `json:"checksum,omitempty"`
	// ChecksumFrame is the frame Checksum was computed for.
	ChecksumFrame int32 `json:"checksum_frame"`
}

func encodeMessage(msg message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("session: encode %s: %w", msg.Kind, err)
	}
	return data, nil
}

func decodeMessage(payload []byte) (message, error) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return message{}, fmt.Errorf("session: decode message: %w", err)
	}
	return msg, nil
}

// ProtocolConfig tunes the per-peer protocol shared by P2P and Spectator
// sessions.
type ProtocolConfig struct {
	// SyncPackets is the number of handshake round trips before a peer counts
	// as synchronized.
	SyncPackets int
	// DisconnectNotifyStart is the silence after which NetworkInterrupted is
	// reported.
	DisconnectNotifyStart time.Duration
	// DisconnectTimeout is the silence after which the peer is dropped.
	DisconnectTimeout time.Duration
	// FPS converts round-trip time into frames for time synchronisation.
	FPS   int
	Clock logging.Clock
}

// DefaultProtocolConfig returns the protocol settings used when a session
// config leaves them zero.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		SyncPackets:           5,
		DisconnectNotifyStart: 500 * time.Millisecond,
		DisconnectTimeout:     2 * time.Second,
		FPS:                   60,
		Clock:                 logging.SystemClock{},
	}
}

func (c ProtocolConfig) withDefaults() ProtocolConfig {
	defaults := DefaultProtocolConfig()
	if c.SyncPackets <= 0 {
		c.SyncPackets = defaults.SyncPackets
	}
	if c.DisconnectNotifyStart <= 0 {
		c.DisconnectNotifyStart = defaults.DisconnectNotifyStart
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = defaults.DisconnectTimeout
	}
	if c.FPS <= 0 {
		c.FPS = defaults.FPS
	}
	if c.Clock == nil {
		c.Clock = defaults.Clock
	}
	return c
}

type endpointState int

const (
	endpointSyncing endpointState = iota
	endpointRunning
	endpointDisconnected
)

// endpoint runs the protocol with one remote peer: the handshake, resending
// unacknowledged inputs, quality reports and silence detection.
type endpoint struct {
	peer      PeerID
	handles   []PlayerHandle
	spectator bool
	cfg       ProtocolConfig
	transport Transport

	state         endpointState
	interrupted   bool
	syncRemaining int
	token         string

	lastSyncSent    time.Time
	lastRecv        time.Time
	lastSend        time.Time
	lastInputSent   time.Time
	lastQualitySent time.Time

	// pending holds inputs the peer has not acknowledged yet.
	pending []wireInput
	// ack is the newest frame for which we hold every input the peer sends.
	ack     frame.Frame
	ackSent frame.Frame
	// remoteFrame is the sender frame of the newest message received.
	remoteFrame frame.Frame

	rtt             time.Duration
	localAdvantage  int
	remoteAdvantage int
	timeSync        timeSync

	events []Event
	err    error
}

func newEndpoint(peer PeerID, handles []PlayerHandle, spectator bool, transport Transport, cfg ProtocolConfig) *endpoint {
	now := cfg.Clock.Now()
	return &endpoint{
		peer:          peer,
		handles:       handles,
		spectator:     spectator,
		cfg:           cfg,
		transport:     transport,
		syncRemaining: cfg.SyncPackets,
		ack:           frame.NullFrame,
		ackSent:       frame.NullFrame,
		remoteFrame:   frame.NullFrame,
		lastRecv:      now,
	}
}

func (e *endpoint) running() bool {
	return e.state == endpointRunning
}

func (e *endpoint) send(msg message, current frame.Frame) {
	msg.Frame = int32(current)
	msg.Ack = int32(e.ack)
	data, err := encodeMessage(msg)
	if err == nil {
		err = e.transport.Send(e.peer, data)
	}
	if err != nil {
		if e.err == nil {
			e.err = err
		}
		return
	}
	e.lastSend = e.cfg.Clock.Now()
	e.ackSent = e.ack
}

func (e *endpoint) sendSyncRequest(current frame.Frame) {
	e.token = uuid.NewString()
	e.lastSyncSent = e.cfg.Clock.Now()
	e.send(message{Kind: msgSyncRequest, Token: e.token}, current)
}

// queueInputs stages inputs for the peer and sends everything unacknowledged.
func (e *endpoint) queueInputs(inputs []wireInput, current frame.Frame) {
	e.pending = append(e.pending, inputs...)
	e.sendPending(current)
}

func (e *endpoint) sendPending(current frame.Frame) {
	if len(e.pending) == 0 || e.state != endpointRunning {
		return
	}
	e.lastInputSent = e.cfg.Clock.Now()
	e.send(message{Kind: msgInput, Inputs: e.pending}, current)
}

func (e *endpoint) acknowledge(ack frame.Frame) {
	if ack.IsNull() {
		return
	}
	keep := e.pending[:0]
	for _, input := range e.pending {
		if frame.Frame(input.Frame).After(ack) {
			keep = append(keep, input)
		}
	}
	clear(e.pending[len(keep):])
	e.pending = keep
}

// handle processes protocol-level messages and reports whether msg carries
// session payload the caller must look at.
func (e *endpoint) handle(msg message, current frame.Frame) bool {
	now := e.cfg.Clock.Now()
	e.lastRecv = now
	if e.interrupted && e.state != endpointDisconnected {
		e.interrupted = false
		e.events = append(e.events, Event{Kind: EventNetworkResumed, Peer: e.peer})
	}
	if e.state == endpointDisconnected {
		return false
	}
	if remote := frame.Frame(msg.Frame); e.remoteFrame.IsNull() || remote.After(e.remoteFrame) {
		e.remoteFrame = remote
	}
	e.acknowledge(frame.Frame(msg.Ack))

	switch msg.Kind {
	case msgSyncRequest:
		e.send(message{Kind: msgSyncReply, Token: msg.Token}, current)
	case msgSyncReply:
		if e.state != endpointSyncing || msg.Token != e.token {
			return false
		}
		e.syncRemaining--
		if e.syncRemaining > 0 {
			e.events = append(e.events, Event{
				Kind:  EventSynchronizing,
				Peer:  e.peer,
				Count: e.cfg.SyncPackets - e.syncRemaining,
				Total: e.cfg.SyncPackets,
			})
			e.sendSyncRequest(current)
			return false
		}
		e.state = endpointRunning
		e.events = append(e.events, Event{Kind: EventSynchronized, Peer: e.peer})
	case msgQualityReport:
		e.remoteAdvantage = msg.Advantage
		e.send(message{Kind: msgQualityReply, Ping: msg.Ping}, current)
	case msgQualityReply:
		if msg.Ping > 0 {
			e.rtt = now.Sub(time.Unix(0, msg.Ping))
		}
	case msgInput, msgChecksumReport:
		return true
	}
	return false
}

// poll resends handshake packets and inputs, sends quality reports and
// detects silence. It returns true the moment the peer times out.
func (e *endpoint) poll(current frame.Frame) bool {
	now := e.cfg.Clock.Now()
	switch e.state {
	case endpointDisconnected:
		return false
	case endpointSyncing:
		if now.Sub(e.lastSyncSent) >= syncRetryInterval {
			e.sendSyncRequest(current)
		}
	case endpointRunning:
		if len(e.pending) > 0 && now.Sub(e.lastInputSent) >= inputResendInterval {
			e.sendPending(current)
		}
		if now.Sub(e.lastQualitySent) >= qualityReportInterval {
			e.lastQualitySent = now
			e.send(message{Kind: msgQualityReport, Advantage: e.localAdvantage, Ping: now.UnixNano()}, current)
		}
		if e.ack != e.ackSent || now.Sub(e.lastSend) >= keepAliveInterval {
			e.send(message{Kind: msgKeepAlive}, current)
		}
	}

	if e.state != endpointRunning {
		return false
	}
	silence := now.Sub(e.lastRecv)
	if silence >= e.cfg.DisconnectTimeout {
		e.state = endpointDisconnected
		e.pending = nil
		e.events = append(e.events, Event{Kind: EventDisconnected, Peer: e.peer})
		return true
	}
	if !e.interrupted && silence >= e.cfg.DisconnectNotifyStart {
		e.interrupted = true
		e.events = append(e.events, Event{
			Kind:              EventNetworkInterrupted,
			Peer:              e.peer,
			DisconnectTimeout: e.cfg.DisconnectTimeout - silence,
		})
	}
	return false
}

// updateAdvantage estimates where the peer is now from its last reported
// frame and half the round trip, and records both advantages for f.
func (e *endpoint) updateAdvantage(f frame.Frame) {
	if e.remoteFrame.IsNull() {
		return
	}
	travel := int(e.rtt.Seconds() / 2 * float64(e.cfg.FPS))
	estimated := e.remoteFrame.Add(travel)
	e.localAdvantage = int(estimated.Sub(f))
	e.timeSync.advanceFrame(f, e.localAdvantage, e.remoteAdvantage)
}

func (e *endpoint) sendChecksum(f frame.Frame, sum checksum.Checksum, current frame.Frame) {
	e.send(message{Kind: msgChecksumReport, ChecksumFrame: int32(f), Checksum: uint64(sum)}, current)
}

func (e *endpoint) drainEvents() []Event {
	events := e.events
	e.events = nil
	return events
}

func (e *endpoint) takeError() error {
	err := e.err
	e.err = nil
	return err
}
