package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
	"github.com/blacktrace-labs/blacktrace/internal/wire"
)

func TestEncodeDecodeRoundTripsEachVariant(t *testing.T) {
	orderID := ids.NewOrderID()

	ann := wire.OrderAnnouncement{
		OrderID:    orderID,
		Side:       wire.SideBuy,
		Stablecoin: wire.StablecoinUSDC,
		CreatedAt:  100,
		ExpiresAt:  200,
	}
	frame, err := wire.Encode(ann)
	require.NoError(t, err)

	typ, payload, err := wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, wire.TypeOrderAnnouncement, typ)
	require.Equal(t, ann, payload)

	interest := wire.OrderInterest{OrderID: orderID, RequesterPeerID: ids.PeerID("taker")}
	frame, err = wire.Encode(interest)
	require.NoError(t, err)
	typ, payload, err = wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, wire.TypeOrderInterest, typ)
	require.Equal(t, interest, payload)

	details := wire.OrderDetails{OrderID: orderID, Side: wire.SideBuy, Amount: 10, MinPrice: 1, MaxPrice: 2, Stablecoin: wire.StablecoinUSDT}
	frame, err = wire.Encode(details)
	require.NoError(t, err)
	typ, payload, err = wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, wire.TypeOrderDetails, typ)
	require.Equal(t, details, payload)

	proposal := wire.Proposal{OrderID: orderID, Price: 5, Amount: 6, Proposer: wire.RoleTaker, Ts: 300}
	frame, err = wire.Encode(proposal)
	require.NoError(t, err)
	typ, payload, err = wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, wire.TypeProposal, typ)
	require.Equal(t, proposal, payload)

	commit := wire.SettlementCommit{
		Settlement: wire.SignedSettlement{
			Terms:       wire.SettlementTerms{OrderID: orderID, StablecoinType: wire.StablecoinDAI},
			FinalizedAt: 400,
		},
	}
	frame, err = wire.Encode(commit)
	require.NoError(t, err)
	typ, payload, err = wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, wire.TypeSettlementCommit, typ)
	require.Equal(t, commit, payload)
}

func TestEncodeRejectsUnknownPayloadType(t *testing.T) {
	_, err := wire.Encode(struct{ X int }{X: 1})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindSerialization))
}

func TestDecodeRejectsMalformedFrame(t *testing.T) {
	_, _, err := wire.Decode([]byte("not json"))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindDeserialization))
}

func TestDecodeRejectsUnmatchedType(t *testing.T) {
	_, _, err := wire.Decode([]byte(`{"type":"bogus","payload":{}}`))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindDeserialization))
}

func TestOrderAnnouncementExpired(t *testing.T) {
	ann := wire.OrderAnnouncement{CreatedAt: 0, ExpiresAt: 100}
	require.False(t, ann.Expired(50))
	require.True(t, ann.Expired(100))
	require.True(t, ann.Expired(150))
}
