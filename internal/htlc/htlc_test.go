package htlc_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/htlc"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
)

// fixturePeer generates a peer-ID-shaped fixture, unique per test run, so
// concurrent subtests locking the same ledger never collide on a literal
// "sender"/"receiver" string.
func fixturePeer(role string) ids.PeerID {
	return ids.PeerID(fmt.Sprintf("%s-%s", role, uuid.New().String()))
}

func TestClaimHappyPath(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	clock := int64(1000)
	ledger := htlc.NewLedger(func() int64 { return clock })

	sender, receiver := fixturePeer("sender"), fixturePeer("receiver")
	require.NoError(t, ledger.Lock(hashLock, sender, receiver, 100, 2000))

	ev, err := ledger.Claim(hashLock, receiver, secret)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ev.Amount)
	require.Equal(t, secret, ev.Secret)

	escrow, ok := ledger.Get(hashLock)
	require.True(t, ok)
	require.True(t, escrow.Claimed)
	require.False(t, escrow.Refunded)

	_, err = ledger.Claim(hashLock, receiver, secret)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindInvalidStateTransition))
}

func TestClaimWrongSecret(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	wrongSecret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	ledger := htlc.NewLedger(func() int64 { return 0 })
	sender, receiver := fixturePeer("sender"), fixturePeer("receiver")
	require.NoError(t, ledger.Lock(hashLock, sender, receiver, 100, 1))

	_, err = ledger.Claim(hashLock, receiver, wrongSecret)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindSecretHashMismatch))
}

func TestClaimRejectsCallerNotReceiver(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	ledger := htlc.NewLedger(func() int64 { return 0 })
	sender, receiver := fixturePeer("sender"), fixturePeer("receiver")
	require.NoError(t, ledger.Lock(hashLock, sender, receiver, 100, 1))

	_, err = ledger.Claim(hashLock, fixturePeer("impostor"), secret)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindNotReceiver))

	_, err = ledger.Claim(hashLock, sender, secret)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindNotReceiver))
}

func TestRefundPath(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	clock := int64(1000)
	ledger := htlc.NewLedger(func() int64 { return clock })

	sender, receiver := fixturePeer("sender"), fixturePeer("receiver")
	require.NoError(t, ledger.Lock(hashLock, sender, receiver, 100, 2000))

	_, err = ledger.Refund(hashLock, sender)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindTimelockNotExpired))

	clock = 2000
	ev, err := ledger.Refund(hashLock, sender)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ev.Amount)

	escrow, ok := ledger.Get(hashLock)
	require.True(t, ok)
	require.True(t, escrow.Refunded)
}

func TestRefundRejectsCallerNotSender(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	clock := int64(500)
	ledger := htlc.NewLedger(func() int64 { return clock })

	sender, receiver := fixturePeer("sender"), fixturePeer("receiver")
	require.NoError(t, ledger.Lock(hashLock, sender, receiver, 100, 1000))

	clock = 2000

	_, err = ledger.Refund(hashLock, fixturePeer("impostor"))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindNotSender))

	_, err = ledger.Refund(hashLock, receiver)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindNotSender))
}

func TestAccountKeyIsDeterministic(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	require.Equal(t, htlc.AccountKey(hashLock), htlc.AccountKey(hashLock))

	ledger := htlc.NewLedger(func() int64 { return 0 })
	require.NoError(t, ledger.Lock(hashLock, fixturePeer("sender"), fixturePeer("receiver"), 100, 1))
	escrow, ok := ledger.Get(hashLock)
	require.True(t, ok)
	require.Equal(t, htlc.AccountKey(hashLock), escrow.AccountKey)
}

func TestLockRejectsPastTimeout(t *testing.T) {
	secret, err := ids.NewSecretPreimage()
	require.NoError(t, err)
	hashLock := secret.HashLock()

	ledger := htlc.NewLedger(func() int64 { return 5000 })
	err = ledger.Lock(hashLock, fixturePeer("sender"), fixturePeer("receiver"), 100, 1000)
	require.Error(t, err)
}
