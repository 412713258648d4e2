package negotiation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
	"github.com/blacktrace-labs/blacktrace/internal/negotiation"
	"github.com/blacktrace-labs/blacktrace/internal/wire"
)

// stubSigner returns a fixed signature, standing in for the per-party key
// the application façade wires in.
type stubSigner struct {
	sig []byte
}

func (s stubSigner) Sign(_ []byte) ([]byte, error) {
	return s.sig, nil
}

func newTestEngines() (*negotiation.Engine, *negotiation.Engine, ids.PeerID, ids.PeerID) {
	maker := ids.PeerID("maker")
	taker := ids.PeerID("taker")
	makerEngine := negotiation.NewEngine(maker, stubSigner{sig: []byte{0xAA}})
	takerEngine := negotiation.NewEngine(taker, stubSigner{sig: []byte{0xBB}})
	return makerEngine, takerEngine, maker, taker
}

func TestFullNegotiationFlow(t *testing.T) {
	makerEngine, takerEngine, makerID, takerID := newTestEngines()
	orderID := ids.NewOrderID()

	_, err := takerEngine.RequestDetails(orderID, makerID)
	require.NoError(t, err)

	details := wire.OrderDetails{
		OrderID:    orderID,
		Side:       wire.SideSell,
		Amount:     10000,
		MinPrice:   450,
		MaxPrice:   470,
		Stablecoin: wire.StablecoinUSDC,
	}
	_, err = makerEngine.RevealDetails(orderID, details, takerID)
	require.NoError(t, err)

	// Taker mirrors the maker's reveal locally (in production this comes
	// off the wire via HandleIncoming).
	action, err := takerEngine.HandleIncoming(orderID, details)
	require.NoError(t, err)
	require.Equal(t, negotiation.ActionDetailsReceived, action)

	_, err = takerEngine.Propose(orderID, 450, 10000)
	require.NoError(t, err)

	session, ok := takerEngine.Session(orderID)
	require.True(t, ok)
	price, ok := session.LatestPrice()
	require.True(t, ok)
	require.Equal(t, uint64(450), price)

	_, err = makerEngine.Propose(orderID, 465, 10000)
	require.NoError(t, err)

	terms := wire.SettlementTerms{
		OrderID:          orderID,
		NativeAmount:     10000,
		StablecoinAmount: 4650000,
		StablecoinType:   wire.StablecoinUSDC,
		MakerAddress:     "zs1maker",
		TakerAddress:     "zs1taker",
		SecretHash:       ids.HashBytes([]byte("secret")),
		TimelockBlocks:   144,
	}

	signed, err := makerEngine.AcceptAndFinalize(orderID, terms, []byte{0xBB})
	require.NoError(t, err)
	require.NotEmpty(t, signed.MakerSignature)
	require.NotEmpty(t, signed.TakerSignature)

	makerSession, ok := makerEngine.Session(orderID)
	require.True(t, ok)
	require.True(t, makerSession.IsComplete())
}

func TestCancelAfterFinalizeForbidden(t *testing.T) {
	makerEngine, _, _, takerID := newTestEngines()
	orderID := ids.NewOrderID()

	_, err := makerEngine.RevealDetails(orderID, wire.OrderDetails{OrderID: orderID}, takerID)
	require.NoError(t, err)

	_, err = makerEngine.Propose(orderID, 450, 10000)
	require.NoError(t, err)

	terms := wire.SettlementTerms{
		OrderID:          orderID,
		NativeAmount:     10000,
		StablecoinAmount: 4650000,
		TimelockBlocks:   144,
	}
	signed, err := makerEngine.AcceptAndFinalize(orderID, terms, []byte{0xBB})
	require.NoError(t, err)
	require.True(t, signed.FinalizedAt > 0)

	err = makerEngine.Cancel(orderID, "late")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindInvalidStateTransition))

	session, ok := makerEngine.Session(orderID)
	require.True(t, ok)
	require.True(t, session.IsComplete())
	require.False(t, session.IsCancelled())
}

func TestOutOfOrderProposalsTrackLatest(t *testing.T) {
	makerEngine, _, _, takerID := newTestEngines()
	orderID := ids.NewOrderID()

	_, err := makerEngine.RevealDetails(orderID, wire.OrderDetails{OrderID: orderID}, takerID)
	require.NoError(t, err)

	_, err = makerEngine.Propose(orderID, 450, 10000)
	require.NoError(t, err)
	_, err = makerEngine.Propose(orderID, 455, 10000)
	require.NoError(t, err)

	session, ok := makerEngine.Session(orderID)
	require.True(t, ok)
	require.Len(t, session.Proposals(), 2)

	price, ok := session.LatestPrice()
	require.True(t, ok)
	require.Equal(t, uint64(455), price)
}

func TestFinalizeRequiresProposal(t *testing.T) {
	makerEngine, _, _, takerID := newTestEngines()
	orderID := ids.NewOrderID()

	_, err := makerEngine.RevealDetails(orderID, wire.OrderDetails{OrderID: orderID}, takerID)
	require.NoError(t, err)

	_, err = makerEngine.AcceptAndFinalize(orderID, wire.SettlementTerms{OrderID: orderID}, []byte{0xBB})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindInvalidProposal))
}

func TestFinalizeRejectsInvalidSettlementTerms(t *testing.T) {
	validTerms := wire.SettlementTerms{
		NativeAmount:     10000,
		StablecoinAmount: 4650000,
		TimelockBlocks:   144,
	}

	cases := []struct {
		name  string
		terms wire.SettlementTerms
	}{
		{"zero native amount", wire.SettlementTerms{StablecoinAmount: validTerms.StablecoinAmount, TimelockBlocks: validTerms.TimelockBlocks}},
		{"zero stablecoin amount", wire.SettlementTerms{NativeAmount: validTerms.NativeAmount, TimelockBlocks: validTerms.TimelockBlocks}},
		{"timelock below protocol minimum", wire.SettlementTerms{NativeAmount: validTerms.NativeAmount, StablecoinAmount: validTerms.StablecoinAmount, TimelockBlocks: 10}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			makerEngine, _, _, takerID := newTestEngines()
			orderID := ids.NewOrderID()
			tc.terms.OrderID = orderID

			_, err := makerEngine.RevealDetails(orderID, wire.OrderDetails{OrderID: orderID}, takerID)
			require.NoError(t, err)
			_, err = makerEngine.Propose(orderID, 450, 10000)
			require.NoError(t, err)

			_, err = makerEngine.AcceptAndFinalize(orderID, tc.terms, []byte{0xBB})
			require.Error(t, err)
			require.True(t, errs.Is(err, errs.KindInvalidProposal))
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	makerEngine, _, _, _ := newTestEngines()

	_, err := makerEngine.Propose(ids.NewOrderID(), 1, 1)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindSessionNotFound))
}
