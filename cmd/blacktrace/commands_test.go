package main

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/blacktrace-labs/blacktrace/internal/app"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	a := app.New(priv, []byte("seed"), nil)
	require.NoError(t, a.Listen(0))
	return a
}

func TestDispatchOrderCreateListCancel(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	out, err := dispatch(a, []string{"order", "create", "sell", "10000", "450", "470", "USDC"})
	require.NoError(t, err)
	require.NotEmpty(t, out)

	listOut, err := dispatch(a, []string{"order", "list"})
	require.NoError(t, err)
	require.True(t, strings.Contains(listOut, out))

	_, err = dispatch(a, []string{"order", "cancel", out})
	require.NoError(t, err)

	listOut, err = dispatch(a, []string{"order", "list"})
	require.NoError(t, err)
	require.Empty(t, listOut)
}

func TestDispatchUnknownCommand(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	_, err := dispatch(a, []string{"bogus"})
	require.Error(t, err)
}

func TestDispatchQueryPeersEmpty(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	out, err := dispatch(a, []string{"query", "peers"})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDispatchNegotiateCancelUnknownSession(t *testing.T) {
	a := newTestApp(t)
	defer a.Close()

	_, err := dispatch(a, []string{"negotiate", "cancel", "order_ghost", "because"})
	require.Error(t, err)
}
