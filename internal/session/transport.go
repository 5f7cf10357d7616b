package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownPeer is returned when sending to a peer the transport cannot reach.
var ErrUnknownPeer = errors.New("session: unknown peer")

// Datagram is one message received from a peer.
type Datagram struct {
	From    PeerID
	Payload []byte
}

// Transport moves opaque messages between peers. Receive must not block; it
// returns whatever arrived since the previous call.
type Transport interface {
	Send(to PeerID, payload []byte) error
	Receive() []Datagram
}

// LoopbackNetwork connects in-process transports. Links can be cut to
// simulate a peer going silent.
type LoopbackNetwork struct {
	mu      sync.Mutex
	inboxes map[PeerID][]Datagram
	cut     map[[2]PeerID]bool
}

// NewLoopbackNetwork returns an empty network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{
		inboxes: make(map[PeerID][]Datagram),
		cut:     make(map[[2]PeerID]bool),
	}
}

// Join attaches a transport for id to the network.
func (n *LoopbackNetwork) Join(id PeerID) *LoopbackTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.inboxes[id]; !ok {
		n.inboxes[id] = nil
	}
	return &LoopbackTransport{network: n, id: id}
}

// SetLink cuts or restores delivery from one peer to another.
func (n *LoopbackNetwork) SetLink(from, to PeerID, up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if up {
		delete(n.cut, [2]PeerID{from, to})
	} else {
		n.cut[[2]PeerID{from, to}] = true
	}
}

func (n *LoopbackNetwork) send(from, to PeerID, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	inbox, ok := n.inboxes[to]
	if !ok {
		return fmt.Errorf("loopback: %s: %w", to, ErrUnknownPeer)
	}
	if n.cut[[2]PeerID{from, to}] {
		return nil
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	n.inboxes[to] = append(inbox, Datagram{From: from, Payload: data})
	return nil
}

func (n *LoopbackNetwork) receive(id PeerID) []Datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	inbox := n.inboxes[id]
	n.inboxes[id] = nil
	return inbox
}

// LoopbackTransport is one peer's view of a LoopbackNetwork.
type LoopbackTransport struct {
	network *LoopbackNetwork
	id      PeerID
}

// ID returns the peer this transport belongs to.
func (t *LoopbackTransport) ID() PeerID { return t.id }

func (t *LoopbackTransport) Send(to PeerID, payload []byte) error {
	return t.network.send(t.id, to, payload)
}

func (t *LoopbackTransport) Receive() []Datagram {
	return t.network.receive(t.id)
}
