// Package wire implements the BlackTrace message taxonomy (§4.2): a single
// self-describing envelope carrying one of five payload variants. Grounded
// on the teacher's lnwire package (see lnwire/message.go's MessageType tag
// + makeEmptyMessage dispatch), adapted from lnwire's 2-byte-type-prefixed
// binary encoding to an explicit tagged JSON envelope — the spec requires
// "a tagged representation rather than structural sniffing" (§4.2), and
// JSON is the encoding original_source/src/p2p/message.rs uses
// (serde_json) for the same envelope.
package wire

import (
	"encoding/json"

	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
)

// Type is the wire tag identifying which payload an Envelope carries,
// playing the same role as lnwire.MessageType but resolved by an explicit
// tag field rather than a leading binary type code.
type Type string

// The five message taxonomy variants named in §4.2.
const (
	TypeOrderAnnouncement Type = "order_announcement"
	TypeOrderInterest     Type = "order_interest"
	TypeOrderDetails      Type = "order_details"
	TypeProposal          Type = "proposal"
	TypeSettlementCommit  Type = "settlement_commit"
)

// Side is an order's direction.
type Side string

// The two order sides named in §3.
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Stablecoin is a supported settlement-currency tag.
type Stablecoin string

// The three supported stablecoins named in §3.
const (
	StablecoinUSDC Stablecoin = "USDC"
	StablecoinUSDT Stablecoin = "USDT"
	StablecoinDAI  Stablecoin = "DAI"
)

// Role identifies which side of a negotiation a party plays.
type Role string

// The two negotiation roles named in §4.3.
const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"
)

// OrderAnnouncement is the public envelope broadcast to peers (§3). The
// order's real amount/price range stay in OrderDetails, revealed only to an
// interested taker.
type OrderAnnouncement struct {
	OrderID          ids.OrderID `json:"order_id"`
	Side             Side        `json:"side"`
	Stablecoin       Stablecoin  `json:"stablecoin"`
	EncryptedDetails []byte      `json:"encrypted_details"`
	ProofCommitment  ids.Hash    `json:"proof_commitment"`
	CreatedAt        int64       `json:"created_at"`
	ExpiresAt        int64       `json:"expires_at"`
}

// Expired reports whether the announcement has passed its expiry relative
// to nowUnix, per §3's "receivers discard expired announcements".
func (a OrderAnnouncement) Expired(nowUnix int64) bool {
	return nowUnix >= a.ExpiresAt
}

// OrderInterest is a details request sent directly to a maker (§4.3
// request_details). It carries only the OrderID, per §4.2.
type OrderInterest struct {
	OrderID         ids.OrderID `json:"order_id"`
	RequesterPeerID ids.PeerID  `json:"requester_peer_id"`
}

// OrderDetails is the private payload revealed to an interested taker
// (§3). It never appears on the broadcast channel.
type OrderDetails struct {
	OrderID    ids.OrderID `json:"order_id"`
	Side       Side        `json:"side"`
	Amount     uint64      `json:"amount"`
	MinPrice   uint64      `json:"min_price"`
	MaxPrice   uint64      `json:"max_price"`
	Stablecoin Stablecoin  `json:"stablecoin"`
}

// Proposal is a (price, amount) offer from one party during price
// discovery (§3).
type Proposal struct {
	OrderID  ids.OrderID `json:"order_id"`
	Price    uint64      `json:"price"`
	Amount   uint64      `json:"amount"`
	Proposer Role        `json:"proposer"`
	Ts       int64       `json:"ts"`
}

// SettlementTerms is the agreed trade terms pending both signatures (§3).
type SettlementTerms struct {
	OrderID          ids.OrderID `json:"order_id"`
	NativeAmount     uint64      `json:"native_amount"`
	StablecoinAmount uint64      `json:"stablecoin_amount"`
	StablecoinType   Stablecoin  `json:"stablecoin_type"`
	MakerAddress     string      `json:"maker_address"`
	TakerAddress     string      `json:"taker_address"`
	SecretHash       ids.Hash    `json:"secret_hash"`
	TimelockBlocks   uint32      `json:"timelock_blocks"`
}

// SignedSettlement is a SettlementTerms plus both parties' signatures (§3).
type SignedSettlement struct {
	Terms          SettlementTerms `json:"terms"`
	MakerSignature []byte          `json:"maker_signature"`
	TakerSignature []byte          `json:"taker_signature"`
	FinalizedAt    int64           `json:"finalized_at"`
}

// SettlementCommit carries a finalized SignedSettlement over the wire,
// the §4.2 SettlementCommit variant.
type SettlementCommit struct {
	Settlement SignedSettlement `json:"settlement"`
}

// envelope is the on-wire JSON shape: an explicit type tag plus the raw
// payload, so decoding dispatches on the tag instead of sniffing fields —
// required by §4.2.
type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes one of the five taxonomy variants into its tagged wire
// form. The payload argument must be one of OrderAnnouncement,
// OrderInterest, OrderDetails, Proposal, or SettlementCommit.
func Encode(payload interface{}) ([]byte, error) {
	var typ Type
	switch payload.(type) {
	case OrderAnnouncement, *OrderAnnouncement:
		typ = TypeOrderAnnouncement
	case OrderInterest, *OrderInterest:
		typ = TypeOrderInterest
	case OrderDetails, *OrderDetails:
		typ = TypeOrderDetails
	case Proposal, *Proposal:
		typ = TypeProposal
	case SettlementCommit, *SettlementCommit:
		typ = TypeSettlementCommit
	default:
		return nil, errs.New(errs.KindSerialization, "unknown wire payload type %T", payload)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.KindSerialization, err)
	}

	out, err := json.Marshal(envelope{Type: typ, Payload: raw})
	if err != nil {
		return nil, errs.Wrap(errs.KindSerialization, err)
	}
	return out, nil
}

// Decode parses a tagged wire frame back into its concrete variant,
// returning it as `interface{}` (callers type-switch the same way
// readHandler in peer.go type-switches on lnwire.Message). Malformed or
// unmatched frames return a KindDeserialization error; callers are expected
// to log and drop per §4.2/§7 rather than kill the connection.
func Decode(data []byte) (Type, interface{}, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, errs.Wrap(errs.KindDeserialization, err)
	}

	switch env.Type {
	case TypeOrderAnnouncement:
		var v OrderAnnouncement
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return "", nil, errs.Wrap(errs.KindDeserialization, err)
		}
		return env.Type, v, nil
	case TypeOrderInterest:
		var v OrderInterest
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return "", nil, errs.Wrap(errs.KindDeserialization, err)
		}
		return env.Type, v, nil
	case TypeOrderDetails:
		var v OrderDetails
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return "", nil, errs.Wrap(errs.KindDeserialization, err)
		}
		return env.Type, v, nil
	case TypeProposal:
		var v Proposal
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return "", nil, errs.Wrap(errs.KindDeserialization, err)
		}
		return env.Type, v, nil
	case TypeSettlementCommit:
		var v SettlementCommit
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return "", nil, errs.Wrap(errs.KindDeserialization, err)
		}
		return env.Type, v, nil
	default:
		return "", nil, errs.New(errs.KindDeserialization, "unmatched wire message type %q", env.Type)
	}
}

// String implements fmt.Stringer for Type, used in debug logs.
func (t Type) String() string {
	return string(t)
}
