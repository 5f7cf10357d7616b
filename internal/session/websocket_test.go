package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rewind/internal/telemetry"
)

func newWebSocketPair(t *testing.T) (server, client *WebSocketTransport) {
	t.Helper()
	logger := telemetry.LoggerFunc(t.Logf)
	server = NewWebSocketTransport("a", logger)
	client = NewWebSocketTransport("b", logger)
	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		client.Close()
		server.Close()
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, client.Dial(ctx, "a", url))
	require.Eventually(t, func() bool {
		return len(server.Peers()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	return server, client
}

func receiveWithin(t *testing.T, transport Transport, timeout time.Duration) []Datagram {
	t.Helper()
	var received []Datagram
	require.Eventually(t, func() bool {
		received = append(received, transport.Receive()...)
		return len(received) > 0
	}, timeout, 5*time.Millisecond)
	return received
}

func TestWebSocketTransportExchangesMessages(t *testing.T) {
	server, client := newWebSocketPair(t)
	require.Equal(t, []PeerID{"b"}, server.Peers())
	require.Equal(t, []PeerID{"a"}, client.Peers())

	require.NoError(t, client.Send("a", []byte("hello")))
	received := receiveWithin(t, server, 2*time.Second)
	require.Equal(t, PeerID("b"), received[0].From)
	require.Equal(t, "hello", string(received[0].Payload))

	require.NoError(t, server.Send("b", []byte("world")))
	received = receiveWithin(t, client, 2*time.Second)
	require.Equal(t, PeerID("a"), received[0].From)
	require.Equal(t, "world", string(received[0].Payload))

	require.ErrorIs(t, server.Send("c", []byte("nobody")), ErrUnknownPeer)
}

func TestWebSocketTransportRejectsAnonymousPeers(t *testing.T) {
	server := NewWebSocketTransport("a", telemetry.LoggerFunc(t.Logf))
	srv := httptest.NewServer(server)
	defer srv.Close()
	defer server.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)
}

func TestWebSocketTransportClose(t *testing.T) {
	server, client := newWebSocketPair(t)
	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Send("a", []byte("late")), ErrTransportClosed)
	require.Eventually(t, func() bool {
		return len(server.Peers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestP2PHandshakeOverWebSocket(t *testing.T) {
	server, client := newWebSocketPair(t)
	a, err := NewP2P[int](DefaultP2PConfig(), server, intCodec{}, []Player{Local(), Remote("b")}, nil)
	require.NoError(t, err)
	b, err := NewP2P[int](DefaultP2PConfig(), client, intCodec{}, []Player{Remote("a"), Local()}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a.Poll()
		b.Poll()
		return a.CurrentState() == Running && b.CurrentState() == Running
	}, 5*time.Second, 5*time.Millisecond)

	_, err = Advance[int](b, map[PlayerHandle]int{1: 6})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		a.Poll()
		b.Poll()
		input, ok := a.sync.queues[1].Confirmed(0)
		return ok && input == 6
	}, 2*time.Second, 5*time.Millisecond)
}
