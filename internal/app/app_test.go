package app_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/blacktrace-labs/blacktrace/internal/app"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
	"github.com/blacktrace-labs/blacktrace/internal/wire"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	a := app.New(priv, []byte("viewing-key"), nil)
	require.NoError(t, a.Listen(0))
	return a
}

// drain runs a's event loop until stop fires, used to process inbound
// frames the way a node's real main loop would.
func drain(a *app.App, stop <-chan struct{}) {
	go a.Run(stop)
}

func TestCreateOrderAndRequestDetailsOverRealTransport(t *testing.T) {
	maker := newTestApp(t)
	taker := newTestApp(t)
	defer maker.Close()
	defer taker.Close()

	stopMaker := make(chan struct{})
	stopTaker := make(chan struct{})
	defer close(stopMaker)
	defer close(stopTaker)
	drain(maker, stopMaker)
	drain(taker, stopTaker)

	makerID, err := taker.ConnectToPeer(maker.Addr().String())
	require.NoError(t, err)
	require.Equal(t, maker.Self, makerID)

	orderID, err := maker.CreateOrder(wire.SideSell, 10000, 450, 470, wire.StablecoinUSDC)
	require.NoError(t, err)

	// The announcement reaches taker asynchronously over the broadcast
	// queue; retry until taker has recorded it and the request succeeds.
	require.Eventually(t, func() bool {
		return taker.RequestOrderDetails(orderID, makerID) == nil
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		sessions := taker.Negotiations()
		if len(sessions) != 1 {
			return false
		}
		return sessions[0].State().Kind.String() == "details_revealed"
	}, time.Second, 10*time.Millisecond)
}

func TestCancelOrderRemovesLocalAnnouncement(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	orderID, err := a.CreateOrder(wire.SideBuy, 500, 10, 20, wire.StablecoinDAI)
	require.NoError(t, err)
	require.Len(t, a.ListOrders(), 1)

	require.NoError(t, a.CancelOrder(orderID))
	require.Empty(t, a.ListOrders())

	err = a.CancelOrder(orderID)
	require.Error(t, err)
}

func TestNegotiationStatusUnknownSession(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	_, err := a.NegotiationStatus(ids.NewOrderID())
	require.Error(t, err)
}

func TestRequestOrderDetailsRejectsUnknownOrder(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	err := a.RequestOrderDetails(ids.NewOrderID(), ids.PeerID("some-maker"))
	require.Error(t, err)
}

func TestHTLCLifecycleThroughApp(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	require.NoError(t, a.LockHTLC(hashLock, "alice", a.Self, 100, time.Now().Add(time.Hour).Unix()))

	ev, err := a.ClaimHTLC(hashLock, secret)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ev.Amount)
}

func TestClaimHTLCRejectsNonReceiver(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	require.NoError(t, a.LockHTLC(hashLock, "alice", "bob", 100, time.Now().Add(time.Hour).Unix()))

	_, err = a.ClaimHTLC(hashLock, secret)
	require.Error(t, err)
}
