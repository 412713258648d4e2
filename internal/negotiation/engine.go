package negotiation

import (
	"encoding/json"
	"sync"

	"github.com/blacktrace-labs/blacktrace/internal/blacktracelog"
	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
	"github.com/blacktrace-labs/blacktrace/internal/wire"
)

// Signer produces a signature over serialized settlement terms. The engine
// never fabricates a counterparty's signature (per §9's note on
// accept_and_finalize as a modeling shortcut); AcceptAndFinalize only signs
// the local party's half and requires a counterparty signature be supplied
// by the caller once collected over the wire.
type Signer interface {
	Sign(termsBytes []byte) ([]byte, error)
}

// Engine owns every active negotiation session, keyed by OrderID, and
// dispatches inbound wire messages to the right session (§4.3, §5). All
// operations are keyed by OrderID and serialized by a single exclusive
// lock held for the duration of one call, matching htlcswitch/switch.go's
// pattern of a single indexMtx guarding the switch's link index for the
// life of one forwarding decision.
type Engine struct {
	self   ids.PeerID
	signer Signer

	mu       sync.Mutex
	sessions map[ids.OrderID]*Session
}

// NewEngine creates an Engine for the local peer identified by self, using
// signer to produce this party's half of a settlement signature.
func NewEngine(self ids.PeerID, signer Signer) *Engine {
	return &Engine{
		self:     self,
		signer:   signer,
		sessions: make(map[ids.OrderID]*Session),
	}
}

// RequestDetails creates a session in role Taker, state DetailsRequested,
// and returns the OrderInterest frame to send to makerPeer (§4.3
// request_details).
func (e *Engine) RequestDetails(orderID ids.OrderID, makerPeer ids.PeerID) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions[orderID] = newSession(orderID, wire.RoleTaker, makerPeer)

	return wire.Encode(wire.OrderInterest{
		OrderID:         orderID,
		RequesterPeerID: e.self,
	})
}

// RevealDetails creates or updates a session in role Maker, transitions it
// to DetailsRevealed, and returns the OrderDetails frame to send to
// takerPeer (§4.3 reveal_details).
func (e *Engine) RevealDetails(orderID ids.OrderID, details wire.OrderDetails, takerPeer ids.PeerID) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[orderID]
	if !ok {
		session = newSession(orderID, wire.RoleMaker, takerPeer)
		e.sessions[orderID] = session
	}

	if err := session.revealDetails(details); err != nil {
		return nil, err
	}

	blacktracelog.NegotiationLog.Debugf("%v: details revealed to %v", orderID, takerPeer)
	return wire.Encode(details)
}

// Propose appends a Proposal whose proposer is the local role and
// transitions the session to PriceDiscovery, returning the outbound frame
// (§4.3 propose).
func (e *Engine) Propose(orderID ids.OrderID, price, amount uint64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[orderID]
	if !ok {
		return nil, errs.New(errs.KindSessionNotFound, "no session for order %v", orderID)
	}

	proposal := wire.Proposal{
		OrderID:  orderID,
		Price:    price,
		Amount:   amount,
		Proposer: session.Role(),
		Ts:       nowUnixMilli(),
	}

	if err := session.addProposal(proposal); err != nil {
		return nil, err
	}

	return wire.Encode(proposal)
}

// AcceptAndFinalize signs terms with the local signer, combines the result
// with counterpartySig into a SignedSettlement, and finalizes the session
// to TermsAgreed (§4.3 accept_and_finalize). counterpartySig must already
// have been collected over the wire; the engine never forges it.
func (e *Engine) AcceptAndFinalize(orderID ids.OrderID, terms wire.SettlementTerms, counterpartySig []byte) (wire.SignedSettlement, error) {
	termsBytes, err := json.Marshal(terms)
	if err != nil {
		return wire.SignedSettlement{}, errs.Wrap(errs.KindSerialization, err)
	}

	localSig, err := e.signer.Sign(termsBytes)
	if err != nil {
		return wire.SignedSettlement{}, errs.Wrap(errs.KindProofGeneration, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[orderID]
	if !ok {
		return wire.SignedSettlement{}, errs.New(errs.KindSessionNotFound, "no session for order %v", orderID)
	}

	var signed wire.SignedSettlement
	switch session.Role() {
	case wire.RoleMaker:
		signed = wire.SignedSettlement{
			Terms:          terms,
			MakerSignature: localSig,
			TakerSignature: counterpartySig,
			FinalizedAt:    nowUnixMilli(),
		}
	default:
		signed = wire.SignedSettlement{
			Terms:          terms,
			MakerSignature: counterpartySig,
			TakerSignature: localSig,
			FinalizedAt:    nowUnixMilli(),
		}
	}

	if err := session.finalize(signed); err != nil {
		return wire.SignedSettlement{}, err
	}

	blacktracelog.NegotiationLog.Infof("%v: terms agreed", orderID)
	return signed, nil
}

// Cancel transitions a session to Cancelled, failing with
// KindInvalidStateTransition if the session is already terminal (the
// redesigned behavior required by §4.3/§8's cancel-after-finalize scenario,
// stricter than original_source/src/negotiation/session.rs's unconditional
// cancel).
func (e *Engine) Cancel(orderID ids.OrderID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[orderID]
	if !ok {
		return errs.New(errs.KindSessionNotFound, "no session for order %v", orderID)
	}

	return session.cancel(reason)
}

// Action tags what handling an inbound message did, mirroring
// original_source/src/negotiation/engine.rs's NegotiationAction.
type Action int

const (
	ActionUnknown Action = iota
	ActionDetailsReceived
	ActionProposalReceived
)

// HandleIncoming dispatches a decoded wire payload to the session for
// orderID, applying the corresponding state transition (§4.3 handle
// inbound messages). It does not itself call wire.Decode — callers (the
// application façade) decode first and pass the typed payload through, so
// the engine never has to guess a frame's shape.
func (e *Engine) HandleIncoming(orderID ids.OrderID, payload interface{}) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[orderID]
	if !ok {
		return ActionUnknown, errs.New(errs.KindSessionNotFound, "no session for order %v", orderID)
	}

	switch v := payload.(type) {
	case wire.OrderDetails:
		if err := session.revealDetails(v); err != nil {
			return ActionUnknown, err
		}
		return ActionDetailsReceived, nil
	case wire.Proposal:
		if err := session.addProposal(v); err != nil {
			return ActionUnknown, err
		}
		return ActionProposalReceived, nil
	default:
		return ActionUnknown, nil
	}
}

// Session returns the session for orderID, if any.
func (e *Engine) Session(orderID ids.OrderID) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[orderID]
	return s, ok
}

// Sessions returns every active session, a snapshot safe to range over
// without holding the engine's lock.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}
