package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
	"github.com/blacktrace-labs/blacktrace/internal/transport"
)

func waitForEvent(t *testing.T, tp *transport.Transport, kind transport.EventKind) transport.Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := tp.PollEvent(); ok {
			if ev.Kind == kind {
				return ev
			}
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event kind %v", kind)
	return transport.Event{}
}

func TestDialRegistersBothSidesAndDeliversMessage(t *testing.T) {
	server := transport.New(ids.PeerID("server"))
	require.NoError(t, server.Listen(0))
	defer server.Close()

	client := transport.New(ids.PeerID("client"))
	defer client.Close()

	remoteID, err := client.Dial(server.Addr().String())
	require.NoError(t, err)
	require.Equal(t, ids.PeerID("server"), remoteID)

	connectedOnServer := waitForEvent(t, server, transport.EventPeerConnected)
	require.Equal(t, ids.PeerID("client"), connectedOnServer.Peer)

	require.NoError(t, client.Send(ids.PeerID("server"), []byte("hello")))

	msgEvent := waitForEvent(t, server, transport.EventMessageReceived)
	require.Equal(t, ids.PeerID("client"), msgEvent.Peer)
	require.Equal(t, []byte("hello"), msgEvent.Payload)
}

func TestSendToUnknownPeerFails(t *testing.T) {
	tp := transport.New(ids.PeerID("solo"))
	defer tp.Close()

	err := tp.Send(ids.PeerID("ghost"), []byte("x"))
	require.Error(t, err)
}

func TestBroadcastReachesAllConnectedPeers(t *testing.T) {
	server := transport.New(ids.PeerID("server"))
	require.NoError(t, server.Listen(0))
	defer server.Close()

	clientA := transport.New(ids.PeerID("a"))
	defer clientA.Close()
	clientB := transport.New(ids.PeerID("b"))
	defer clientB.Close()

	_, err := clientA.Dial(server.Addr().String())
	require.NoError(t, err)
	_, err = clientB.Dial(server.Addr().String())
	require.NoError(t, err)

	waitForEvent(t, server, transport.EventPeerConnected)
	waitForEvent(t, server, transport.EventPeerConnected)

	server.Broadcast([]byte("ping-payload"))

	seen := map[ids.PeerID]bool{}
	for _, c := range []*transport.Transport{clientA, clientB} {
		ev := waitForEvent(t, c, transport.EventMessageReceived)
		seen[ev.Peer] = true
	}
	require.Len(t, seen, 1) // both clients received from "server", same peer ID value
}

func TestAddrNilBeforeListen(t *testing.T) {
	tp := transport.New(ids.PeerID("unlistened"))
	require.Nil(t, tp.Addr())
}

func TestSendAfterPeerDisconnectFailsWithPeerNotFound(t *testing.T) {
	server := transport.New(ids.PeerID("server"))
	require.NoError(t, server.Listen(0))
	defer server.Close()

	client := transport.New(ids.PeerID("client"))

	_, err := client.Dial(server.Addr().String())
	require.NoError(t, err)

	waitForEvent(t, server, transport.EventPeerConnected)

	require.NoError(t, client.Close())
	waitForEvent(t, server, transport.EventPeerDisconnected)

	err = server.Send(ids.PeerID("client"), []byte("too-late"))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindPeerNotFound))
}
