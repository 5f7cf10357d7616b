package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	nethttp "net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rewind/internal/telemetry"
)

const (
	writeWait = 10 * time.Second

	// PeerQueryParam carries the connecting peer's ID on the upgrade request.
	PeerQueryParam = "peer"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("session: transport closed")

type peerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WebSocketTransport exchanges session messages over WebSocket connections.
// Peers either connect in through ServeHTTP or are dialled with Dial; each
// connection gets a reader goroutine that feeds a shared inbox.
type WebSocketTransport struct {
	id       PeerID
	logger   telemetry.Logger
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu     sync.Mutex
	conns  map[PeerID]*peerConn
	inbox  []Datagram
	closed bool
	wg     sync.WaitGroup
}

// NewWebSocketTransport returns a transport identifying itself as id.
func NewWebSocketTransport(id PeerID, logger telemetry.Logger) *WebSocketTransport {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	return &WebSocketTransport{
		id:     id,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		dialer: websocket.DefaultDialer,
		conns:  make(map[PeerID]*peerConn),
	}
}

// ID returns the peer ID this transport announces.
func (t *WebSocketTransport) ID() PeerID { return t.id }

// ServeHTTP accepts a connection from the peer named by the peer query
// parameter.
func (t *WebSocketTransport) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	peer := PeerID(r.URL.Query().Get(PeerQueryParam))
	if peer == "" {
		nethttp.Error(w, "missing peer", nethttp.StatusBadRequest)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Printf("[transport] upgrade failed for %s: %v", peer, err)
		return
	}
	if !t.attach(peer, conn) {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "transport closed")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
	}
}

// Dial connects to peer at rawURL, a ws:// or wss:// address.
func (t *WebSocketTransport) Dial(ctx context.Context, peer PeerID, rawURL string) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("websocket: parse %q: %w", rawURL, err)
	}
	query := target.Query()
	query.Set(PeerQueryParam, string(t.id))
	target.RawQuery = query.Encode()

	conn, _, err := t.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket: dial %s: %w", peer, err)
	}
	if !t.attach(peer, conn) {
		conn.Close()
		return ErrTransportClosed
	}
	return nil
}

func (t *WebSocketTransport) attach(peer PeerID, conn *websocket.Conn) bool {
	pc := &peerConn{conn: conn}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	previous := t.conns[peer]
	t.conns[peer] = pc
	t.wg.Add(1)
	t.mu.Unlock()

	if previous != nil {
		previous.conn.Close()
	}
	go t.read(peer, pc)
	return true
}

func (t *WebSocketTransport) read(peer PeerID, pc *peerConn) {
	defer t.wg.Done()
	for {
		_, payload, err := pc.conn.ReadMessage()
		if err != nil {
			t.drop(peer, pc)
			return
		}
		t.mu.Lock()
		t.inbox = append(t.inbox, Datagram{From: peer, Payload: payload})
		t.mu.Unlock()
	}
}

func (t *WebSocketTransport) drop(peer PeerID, pc *peerConn) {
	t.mu.Lock()
	if t.conns[peer] == pc {
		delete(t.conns, peer)
	}
	t.mu.Unlock()
	pc.conn.Close()
}

// Send writes payload to peer. A failed write drops the connection.
func (t *WebSocketTransport) Send(to PeerID, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	pc, ok := t.conns[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("websocket: %s: %w", to, ErrUnknownPeer)
	}

	pc.mu.Lock()
	pc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := pc.conn.WriteMessage(websocket.TextMessage, payload)
	pc.mu.Unlock()
	if err != nil {
		t.drop(to, pc)
		return fmt.Errorf("websocket: send to %s: %w", to, err)
	}
	return nil
}

// Receive drains the messages read since the previous call.
func (t *WebSocketTransport) Receive() []Datagram {
	t.mu.Lock()
	defer t.mu.Unlock()
	inbox := t.inbox
	t.inbox = nil
	return inbox
}

// Peers lists the currently connected peers.
func (t *WebSocketTransport) Peers() []PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers := make([]PeerID, 0, len(t.conns))
	for peer := range t.conns {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Close disconnects every peer and waits for the readers to exit.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = make(map[PeerID]*peerConn)
	t.mu.Unlock()

	for _, pc := range conns {
		pc.mu.Lock()
		pc.conn.SetWriteDeadline(time.Now().Add(writeWait))
		pc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		pc.mu.Unlock()
		pc.conn.Close()
	}
	t.wg.Wait()
	return nil
}
