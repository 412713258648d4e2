package ids_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blacktrace-labs/blacktrace/internal/ids"
)

func TestNewOrderIDIsUnique(t *testing.T) {
	a := ids.NewOrderID()
	b := ids.NewOrderID()
	require.NotEqual(t, a, b)
}

func TestHashBytesDeterministic(t *testing.T) {
	h1 := ids.HashBytes([]byte("hello"), []byte("world"))
	h2 := ids.HashBytes([]byte("hello"), []byte("world"))
	require.Equal(t, h1, h2)

	h3 := ids.HashBytes([]byte("hello"))
	require.NotEqual(t, h1, h3)
}

func TestHashJSONRoundTrip(t *testing.T) {
	h := ids.HashBytes([]byte("round-trip"))

	data, err := json.Marshal(h)
	require.NoError(t, err)

	var out ids.Hash
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, h, out)
}

func TestHashFromHexRejectsWrongLength(t *testing.T) {
	_, err := ids.HashFromHex("deadbeef")
	require.Error(t, err)
}

func TestSecretPreimageHashLock(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)

	lock := secret.HashLock()
	require.Equal(t, ids.Hash160(secret[:]), lock)
}

func TestSecretPreimageHexRoundTrip(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)

	parsed, err := ids.SecretPreimageFromHex(secret.Hex())
	require.NoError(t, err)
	require.Equal(t, secret, parsed)
}

func TestHashLockFromHexRejectsWrongLength(t *testing.T) {
	_, err := ids.HashLockFromHex("ab")
	require.Error(t, err)
}

func TestPeerIDFromBytesDeterministic(t *testing.T) {
	a := ids.PeerIDFromBytes([]byte("some-pubkey-bytes"))
	b := ids.PeerIDFromBytes([]byte("some-pubkey-bytes"))
	require.Equal(t, a, b)

	c := ids.PeerIDFromBytes([]byte("other-pubkey-bytes"))
	require.NotEqual(t, a, c)
}
