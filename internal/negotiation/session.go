package negotiation

import (
	"time"

	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
	"github.com/blacktrace-labs/blacktrace/internal/wire"
)

// protocolMinimumTimelock is the smallest timelock_blocks finalize will
// accept, matching the teacher's chainregistry.go TimeLockDelta: 144 for
// Bitcoin (roughly one day of blocks) — the same value
// original_source/src/negotiation/{session,engine,types}.rs hardcode as
// timelock_blocks: 144 throughout, here promoted from a call-site literal
// to the floor spec.md §3 calls "protocol_minimum".
const protocolMinimumTimelock = 144

// Session is the per-order negotiation state machine (§3), grounded on
// original_source/src/negotiation/session.rs's NegotiationSession. A
// Session is always reached through the Engine's lock, so it carries no
// internal mutex of its own — this mirrors the teacher's convention of
// pushing concurrency control up to the owning registry rather than into
// each small value (compare channeldb's ChannelSnapshot, a plain struct
// copied out from under the owning channel's lock).
type Session struct {
	orderID      ids.OrderID
	localRole    wire.Role
	counterparty ids.PeerID
	state        State
	proposals    []wire.Proposal
	createdAt    time.Time
}

// newSession builds a fresh session in StateDetailsRequested, the state
// every new negotiation begins in regardless of role.
func newSession(orderID ids.OrderID, role wire.Role, counterparty ids.PeerID) *Session {
	return &Session{
		orderID:      orderID,
		localRole:    role,
		counterparty: counterparty,
		state:        detailsRequestedState(),
		createdAt:    time.Now(),
	}
}

// OrderID returns the order this session negotiates.
func (s *Session) OrderID() ids.OrderID { return s.orderID }

// Role returns the local party's role in this negotiation.
func (s *Session) Role() wire.Role { return s.localRole }

// Counterparty returns the other party's PeerID, held by value rather than
// a connection handle so a dropped connection never invalidates a session
// (§3 ownership note).
func (s *Session) Counterparty() ids.PeerID { return s.counterparty }

// State returns the session's current tagged state.
func (s *Session) State() State { return s.state }

// Proposals returns the session's proposal history, oldest first.
func (s *Session) Proposals() []wire.Proposal {
	out := make([]wire.Proposal, len(s.proposals))
	copy(out, s.proposals)
	return out
}

// LatestPrice returns the price of the most recent proposal, if any.
func (s *Session) LatestPrice() (uint64, bool) {
	if len(s.proposals) == 0 {
		return 0, false
	}
	return s.proposals[len(s.proposals)-1].Price, true
}

// IsComplete reports whether the session reached TermsAgreed.
func (s *Session) IsComplete() bool {
	return s.state.Kind == StateTermsAgreed
}

// IsCancelled reports whether the session reached Cancelled.
func (s *Session) IsCancelled() bool {
	return s.state.Kind == StateCancelled
}

// revealDetails transitions the session to DetailsRevealed, failing if the
// session is already terminal.
func (s *Session) revealDetails(details wire.OrderDetails) error {
	if s.state.IsTerminal() {
		return errs.New(errs.KindInvalidStateTransition,
			"cannot reveal details: session %v is terminal", s.orderID)
	}
	s.state = State{Kind: StateDetailsRevealed, Details: details, RevealedAt: time.Now()}
	return nil
}

// addProposal appends a proposal and transitions to PriceDiscovery, failing
// if the session is already terminal (§3 transition rules).
func (s *Session) addProposal(p wire.Proposal) error {
	if s.state.IsTerminal() {
		return errs.New(errs.KindInvalidStateTransition,
			"cannot add proposal: session %v is terminal", s.orderID)
	}

	s.proposals = append(s.proposals, p)
	s.state = State{Kind: StatePriceDiscovery, Proposals: s.Proposals()}
	return nil
}

// finalize transitions the session to TermsAgreed, requiring both
// signatures to be present and at least one prior proposal (§4.3
// accept_and_finalize).
func (s *Session) finalize(settlement wire.SignedSettlement) error {
	if s.state.IsTerminal() {
		return errs.New(errs.KindInvalidStateTransition,
			"cannot finalize: session %v is already terminal", s.orderID)
	}
	if len(s.proposals) == 0 {
		return errs.New(errs.KindInvalidProposal,
			"cannot finalize %v: no proposals exist", s.orderID)
	}
	if len(settlement.MakerSignature) == 0 || len(settlement.TakerSignature) == 0 {
		return errs.New(errs.KindInvalidProposal,
			"cannot finalize %v: missing signature", s.orderID)
	}
	terms := settlement.Terms
	if terms.NativeAmount == 0 {
		return errs.New(errs.KindInvalidProposal,
			"cannot finalize %v: native_amount must be nonzero", s.orderID)
	}
	if terms.StablecoinAmount == 0 {
		return errs.New(errs.KindInvalidProposal,
			"cannot finalize %v: stablecoin_amount must be nonzero", s.orderID)
	}
	if terms.TimelockBlocks < protocolMinimumTimelock {
		return errs.New(errs.KindInvalidProposal,
			"cannot finalize %v: timelock_blocks %d below protocol minimum %d",
			s.orderID, terms.TimelockBlocks, protocolMinimumTimelock)
	}

	s.state = State{Kind: StateTermsAgreed, Settlement: settlement}
	return nil
}

// cancel transitions the session to Cancelled. Unlike
// original_source/src/negotiation/session.rs's unconditional cancel, this
// rejects an attempt to cancel an already-terminal session with
// KindInvalidStateTransition — the session becomes read-only once terminal,
// per §3's "no transition out of a terminal state" and the cancel-after-
// finalize end-to-end scenario.
func (s *Session) cancel(reason string) error {
	if s.state.IsTerminal() {
		return errs.New(errs.KindInvalidStateTransition,
			"cannot cancel: session %v is already terminal", s.orderID)
	}

	s.state = State{Kind: StateCancelled, CancelReason: reason}
	return nil
}
