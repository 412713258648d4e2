// Package negotiation implements the BlackTrace negotiation session and
// engine (§4.3): a per-order state machine driven to a jointly-signed
// settlement, plus a session registry that dispatches inbound wire messages.
// Grounded on original_source/src/negotiation/{types,session,engine}.rs,
// rewritten in the teacher's style of small state-holding structs guarded by
// a single owner lock (see htlcswitch/switch.go's htlcPlex and its
// linkIndex map, held under one mutex for the life of a dispatch).
package negotiation

import (
	"time"

	"github.com/blacktrace-labs/blacktrace/internal/wire"
)

// StateKind tags which phase a NegotiationSession is in. Unlike a wide struct
// re-read field by field, each state carries only the payload relevant to
// it — callers must switch on Kind to learn which fields are meaningful,
// mirroring the tagged-variant shape original_source's NegotiationState enum
// uses and the REDESIGN FLAG against "enum + switch over a wide struct".
type StateKind int

const (
	StateDetailsRequested StateKind = iota
	StateDetailsRevealed
	StatePriceDiscovery
	StateTermsAgreed
	StateCancelled
)

func (k StateKind) String() string {
	switch k {
	case StateDetailsRequested:
		return "details_requested"
	case StateDetailsRevealed:
		return "details_revealed"
	case StatePriceDiscovery:
		return "price_discovery"
	case StateTermsAgreed:
		return "terms_agreed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// State is the session's current tagged variant. Only the fields relevant
// to Kind are populated; the rest are zero.
type State struct {
	Kind StateKind

	// set when Kind == StateDetailsRequested
	RequestedAt time.Time

	// set when Kind == StateDetailsRevealed
	Details    wire.OrderDetails
	RevealedAt time.Time

	// set when Kind == StatePriceDiscovery
	Proposals []wire.Proposal

	// set when Kind == StateTermsAgreed
	Settlement wire.SignedSettlement

	// set when Kind == StateCancelled
	CancelReason string
}

// IsTerminal reports whether state is TermsAgreed or Cancelled, per §3/§8
// invariant 2: no further state mutation changes observable fields once
// terminal.
func (s State) IsTerminal() bool {
	return s.Kind == StateTermsAgreed || s.Kind == StateCancelled
}

// detailsRequestedState builds the initial state every session starts in.
func detailsRequestedState() State {
	return State{Kind: StateDetailsRequested, RequestedAt: time.Now()}
}

// nowUnixMilli timestamps outbound proposals and settlements.
func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
