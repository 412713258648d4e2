// Package app wires the transport, negotiation engine, settlement
// coordinator, and HTLC ledger into the single façade a CLI or other
// front-end drives, grounded on original_source/src/cli/app.rs's
// BlackTraceApp — the same "one struct owns a peer manager, a negotiation
// engine, and an in-memory order book" shape, reworked so inbound wire
// frames dispatch through wire.Decode's tagged envelope instead of
// app.rs's handle_network_event, which tries OrderAnnouncement, then a
// bare OrderID, then OrderDetails, then Proposal in sequence until one
// deserializes.
package app

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/blacktrace-labs/blacktrace/internal/blacktracelog"
	"github.com/blacktrace-labs/blacktrace/internal/commitment"
	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/htlc"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
	"github.com/blacktrace-labs/blacktrace/internal/negotiation"
	"github.com/blacktrace-labs/blacktrace/internal/settlement"
	"github.com/blacktrace-labs/blacktrace/internal/transport"
	"github.com/blacktrace-labs/blacktrace/internal/wire"
)

// orderExpiry is how long an OrderAnnouncement remains valid after
// creation, matching app.rs's create_order hardcoding `timestamp + 3600`.
const orderExpiry = time.Hour

// keySigner signs settlement terms with the node's own secp256k1 identity
// key, implementing negotiation.Signer the way §9's "replace the
// BLAKE2b-digest signature stand-in with a real scheme" note asks for.
type keySigner struct {
	priv *btcec.PrivateKey
}

func (s keySigner) Sign(termsBytes []byte) ([]byte, error) {
	digest := ids.HashBytes(termsBytes)
	sig := ecdsa.Sign(s.priv, digest[:])
	return sig.Serialize(), nil
}

// localOrder is the façade's private record for an order this node
// announced, pairing the public OrderAnnouncement with the commitment
// opening needed to answer a details request, mirroring app.rs's orders
// HashMap<OrderID, OrderAnnouncement> plus the opening app.rs keeps
// implicitly in request_order_details's closure.
type localOrder struct {
	announcement wire.OrderAnnouncement
	details      wire.OrderDetails
}

// App is the BlackTrace node façade: one instance per running node,
// owning its transport, negotiation engine, settlement coordinator, and
// HTLC ledger.
type App struct {
	Self ids.PeerID

	priv *btcec.PrivateKey

	transport  *transport.Transport
	engine     *negotiation.Engine
	coord      *settlement.Coordinator
	ledger     *htlc.Ledger
	viewingKey []byte

	mu     sync.Mutex
	orders map[ids.OrderID]*localOrder

	// known tracks every order this node is aware of, whether it created
	// it or merely observed its OrderAnnouncement on the wire, the same
	// role app.rs's orders map plays as the source of truth
	// request_order_details checks existence against.
	known map[ids.OrderID]wire.OrderAnnouncement
}

// New builds an App around a freshly generated or seed-derived identity
// key. viewingKey scopes this node's liquidity-commitment nullifiers, per
// §4.4 and §8 invariant 3.
func New(priv *btcec.PrivateKey, viewingKey []byte, coord *settlement.Coordinator) *App {
	self := ids.PeerIDFromPubKey(priv.PubKey())
	return &App{
		Self:       self,
		priv:       priv,
		transport:  transport.New(self),
		engine:     negotiation.NewEngine(self, keySigner{priv: priv}),
		coord:      coord,
		ledger:     htlc.NewLedger(nil),
		viewingKey: viewingKey,
		orders:     make(map[ids.OrderID]*localOrder),
		known:      make(map[ids.OrderID]wire.OrderAnnouncement),
	}
}

// Listen starts accepting inbound peer connections on port, mirroring
// app.rs's BlackTraceApp::new spinning up its NetworkManager listener.
func (a *App) Listen(port uint16) error {
	return a.transport.Listen(port)
}

// ConnectToPeer dials a known peer's address, per app.rs's
// connect_to_peer.
func (a *App) ConnectToPeer(addr string) (ids.PeerID, error) {
	return a.transport.Dial(addr)
}

// Addr returns the address this node is listening on, or nil if Listen
// has not been called.
func (a *App) Addr() net.Addr {
	return a.transport.Addr()
}

// CreateOrder commits to a new order and broadcasts its public
// announcement, per §4.4 and app.rs's create_order. Unlike app.rs, the
// 1-hour expiry and commitment salt are computed here rather than
// inlined at the call site, but the constant itself is the same
// `timestamp + 3600`.
func (a *App) CreateOrder(side wire.Side, amount, minPrice, maxPrice uint64, stablecoin wire.Stablecoin) (ids.OrderID, error) {
	orderID := ids.NewOrderID()

	salt, err := commitment.RandomSalt()
	if err != nil {
		return "", errs.Wrap(errs.KindProofGeneration, err)
	}
	lc, err := commitment.Generate(amount, salt, minPrice, a.viewingKey, orderID)
	if err != nil {
		return "", err
	}

	now := time.Now()
	announcement := wire.OrderAnnouncement{
		OrderID:         orderID,
		Side:            side,
		Stablecoin:      stablecoin,
		ProofCommitment: lc.CommitmentHash,
		CreatedAt:       now.Unix(),
		ExpiresAt:       now.Add(orderExpiry).Unix(),
	}
	details := wire.OrderDetails{
		OrderID:    orderID,
		Side:       side,
		Amount:     amount,
		MinPrice:   minPrice,
		MaxPrice:   maxPrice,
		Stablecoin: stablecoin,
	}

	a.mu.Lock()
	a.orders[orderID] = &localOrder{
		announcement: announcement,
		details:      details,
	}
	a.known[orderID] = announcement
	a.mu.Unlock()

	frame, err := wire.Encode(announcement)
	if err != nil {
		return "", err
	}
	a.transport.Broadcast(frame)

	blacktracelog.AppLog.Infof("created order %v (%v %v %v, commitment=%v)",
		orderID, side, amount, stablecoin, lc.CommitmentHash)
	return orderID, nil
}

// ListOrders returns every order this node has announced, per app.rs's
// list_orders.
func (a *App) ListOrders() []wire.OrderAnnouncement {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]wire.OrderAnnouncement, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, o.announcement)
	}
	return out
}

// CancelOrder withdraws a locally announced order, per the CLI's `order
// cancel` subcommand. The wire taxonomy has no retraction message (§4.2
// names five variants, none of them a withdrawal), so cancellation is
// purely local: peers that already saw the announcement rely on its
// ExpiresAt to age it out.
func (a *App) CancelOrder(orderID ids.OrderID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.orders[orderID]; !ok {
		return errs.New(errs.KindOrderNotFound, "no local order %v", orderID)
	}
	delete(a.orders, orderID)
	return nil
}

// RequestOrderDetails asks makerPeer to reveal the private details behind
// orderID, per app.rs's request_order_details (which picks "the first
// connected peer" as a simplified maker lookup; callers here must supply
// the maker explicitly, since the façade keeps no peer-to-order routing
// table of its own). Requesting details for an order this node has never
// seen announced fails with KindOrderNotFound, matching app.rs's lookup
// against its own orders map before issuing a request.
func (a *App) RequestOrderDetails(orderID ids.OrderID, makerPeer ids.PeerID) error {
	a.mu.Lock()
	_, known := a.known[orderID]
	a.mu.Unlock()
	if !known {
		return errs.New(errs.KindOrderNotFound, "no known order %v", orderID)
	}

	frame, err := a.engine.RequestDetails(orderID, makerPeer)
	if err != nil {
		return err
	}
	return a.transport.Send(makerPeer, frame)
}

// RevealOrderDetails answers an incoming OrderInterest for one of this
// node's own orders, sending OrderDetails to the requester.
func (a *App) RevealOrderDetails(orderID ids.OrderID, requester ids.PeerID) error {
	a.mu.Lock()
	order, ok := a.orders[orderID]
	a.mu.Unlock()
	if !ok {
		return errs.New(errs.KindOrderNotFound, "no local order %v", orderID)
	}

	frame, err := a.engine.RevealDetails(orderID, order.details, requester)
	if err != nil {
		return err
	}
	return a.transport.Send(requester, frame)
}

// ProposePrice submits a (price, amount) offer in an open negotiation and
// sends it to the counterparty, per app.rs's propose_price.
func (a *App) ProposePrice(orderID ids.OrderID, price, amount uint64) error {
	frame, err := a.engine.Propose(orderID, price, amount)
	if err != nil {
		return err
	}

	session, ok := a.engine.Session(orderID)
	if !ok {
		return errs.New(errs.KindSessionNotFound, "no session for %v", orderID)
	}
	return a.transport.Send(session.Counterparty(), frame)
}

// AcceptTerms finalizes a negotiation, signs terms locally, and requests
// settlement once the counterparty signature is supplied. Unlike app.rs's
// accept_terms, which hardcodes zec_amount, timelock_blocks, and both
// parties' addresses, every settlement-relevant field is a required
// argument here — §9 flags those constants as "required inputs to
// finalization, not values the code should invent".
func (a *App) AcceptTerms(orderID ids.OrderID, terms wire.SettlementTerms, counterpartySig []byte) (wire.SignedSettlement, error) {
	signed, err := a.engine.AcceptAndFinalize(orderID, terms, counterpartySig)
	if err != nil {
		return wire.SignedSettlement{}, err
	}

	session, ok := a.engine.Session(orderID)
	if !ok {
		return signed, errs.New(errs.KindSessionNotFound, "no session for %v", orderID)
	}

	var makerID, takerID ids.PeerID
	if session.Role() == wire.RoleMaker {
		makerID, takerID = a.Self, session.Counterparty()
	} else {
		makerID, takerID = session.Counterparty(), a.Self
	}

	if a.coord != nil {
		req := settlement.Request{
			ProposalID:       orderID.String(),
			OrderID:          orderID,
			MakerID:          makerID,
			TakerID:          takerID,
			NativeAmount:     terms.NativeAmount,
			StablecoinAmount: terms.StablecoinAmount,
		}
		data, err := json.Marshal(req)
		if err == nil {
			a.coord.HandleRequest(data)
		} else {
			blacktracelog.AppLog.Warnf("unable to encode settlement request for %v: %v", orderID, err)
		}
	}

	frame, err := wire.Encode(wire.SettlementCommit{Settlement: signed})
	if err != nil {
		return signed, err
	}
	return signed, a.transport.Send(session.Counterparty(), frame)
}

// LockHTLC records this node's side of an on-chain escrow lock against the
// secret's hashlock, per §4.6. The façade does not itself watch a chain;
// it records the lock a chain-watcher component would observe, the same
// boundary original_source/connectors draws between the on-chain program
// and the off-chain coordinator.
func (a *App) LockHTLC(hashLock ids.HashLock, sender, receiver ids.PeerID, amount uint64, timeoutUnix int64) error {
	return a.ledger.Lock(hashLock, sender, receiver, amount, timeoutUnix)
}

// ClaimHTLC reveals secret against hashLock on behalf of this node, per
// §4.6 claim. Fails with KindNotReceiver if this node is not the escrow's
// receiver.
func (a *App) ClaimHTLC(hashLock ids.HashLock, secret ids.SecretPreimage) (htlc.ClaimedEvent, error) {
	return a.ledger.Claim(hashLock, a.Self, secret)
}

// RefundHTLC reclaims a timed-out escrow back to this node, per §4.6
// refund. Fails with KindNotSender if this node is not the escrow's
// sender.
func (a *App) RefundHTLC(hashLock ids.HashLock) (htlc.RefundedEvent, error) {
	return a.ledger.Refund(hashLock, a.Self)
}

// CancelNegotiation cancels an in-flight session, per app.rs's (absent)
// cancel path — added here since §4.3 names cancel as a first-class
// operation even though the CLI prototype never exposed it.
func (a *App) CancelNegotiation(orderID ids.OrderID, reason string) error {
	return a.engine.Cancel(orderID, reason)
}

// NegotiationStatus renders a human-readable summary of one session's
// state, per app.rs's get_negotiation_status.
func (a *App) NegotiationStatus(orderID ids.OrderID) (string, error) {
	session, ok := a.engine.Session(orderID)
	if !ok {
		return "", errs.New(errs.KindSessionNotFound, "no session for %v", orderID)
	}

	switch session.State().Kind {
	case negotiation.StateDetailsRequested:
		return "waiting for order details", nil
	case negotiation.StateDetailsRevealed:
		return "details revealed, awaiting price proposals", nil
	case negotiation.StatePriceDiscovery:
		price, _ := session.LatestPrice()
		return fmt.Sprintf("price discovery, latest proposal %d", price), nil
	case negotiation.StateTermsAgreed:
		return "terms agreed, settlement finalized", nil
	case negotiation.StateCancelled:
		return "cancelled: " + session.State().CancelReason, nil
	default:
		return "unknown", nil
	}
}

// ConnectedPeers lists currently connected peers, per the CLI's `query
// peers` subcommand.
func (a *App) ConnectedPeers() []ids.PeerID {
	return a.transport.ConnectedPeers()
}

// Negotiations lists every session this node is party to, per the CLI's
// `query negotiations` subcommand.
func (a *App) Negotiations() []*negotiation.Session {
	return a.engine.Sessions()
}

// Run drains transport events until stop is closed, dispatching each
// MessageReceived frame through wire.Decode's tagged envelope — the
// replacement for app.rs's handle_network_event sequential-try
// deserialization, which had to attempt OrderAnnouncement, then a bare
// OrderID, then OrderDetails, then Proposal until one succeeded.
func (a *App) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for {
				ev, ok := a.transport.PollEvent()
				if !ok {
					break
				}
				a.handleEvent(ev)
			}
		}
	}
}

func (a *App) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventPeerConnected:
		blacktracelog.AppLog.Infof("peer connected: %v", ev.Peer)
	case transport.EventPeerDisconnected:
		blacktracelog.AppLog.Infof("peer disconnected: %v", ev.Peer)
	case transport.EventMessageReceived:
		a.handleMessage(ev.Peer, ev.Payload)
	}
}

func (a *App) handleMessage(from ids.PeerID, payload []byte) {
	typ, msg, err := wire.Decode(payload)
	if err != nil {
		// Malformed or unmatched frames are logged and dropped per
		// §4.2/§7, including the ping frames transport.pingLoop sends
		// (they carry no tagged envelope and always fail to decode
		// here by design).
		blacktracelog.AppLog.Debugf("dropping undecodable frame from %v: %v", from, err)
		return
	}

	switch typ {
	case wire.TypeOrderAnnouncement:
		a.handleOrderAnnouncement(msg.(wire.OrderAnnouncement))
	case wire.TypeOrderInterest:
		interest := msg.(wire.OrderInterest)
		if err := a.RevealOrderDetails(interest.OrderID, from); err != nil {
			blacktracelog.AppLog.Warnf("unable to reveal details for %v to %v: %v",
				interest.OrderID, from, err)
		}
	case wire.TypeOrderDetails:
		details := msg.(wire.OrderDetails)
		if _, err := a.engine.HandleIncoming(details.OrderID, details); err != nil {
			blacktracelog.AppLog.Warnf("unable to record details for %v: %v", details.OrderID, err)
		}
	case wire.TypeProposal:
		proposal := msg.(wire.Proposal)
		if _, err := a.engine.HandleIncoming(proposal.OrderID, proposal); err != nil {
			blacktracelog.AppLog.Warnf("unable to record proposal for %v: %v", proposal.OrderID, err)
		}
	case wire.TypeSettlementCommit:
		commit := msg.(wire.SettlementCommit)
		blacktracelog.AppLog.Infof("received settlement commit for %v from %v",
			commit.Settlement.Terms.OrderID, from)
	}
}

func (a *App) handleOrderAnnouncement(ann wire.OrderAnnouncement) {
	if ann.Expired(time.Now().Unix()) {
		blacktracelog.AppLog.Debugf("dropping expired announcement %v", ann.OrderID)
		return
	}

	a.mu.Lock()
	a.known[ann.OrderID] = ann
	a.mu.Unlock()

	blacktracelog.AppLog.Infof("order announced: %v (%v %v)", ann.OrderID, ann.Side, ann.Stablecoin)
}

// Close tears down the transport and settlement coordinator.
func (a *App) Close() error {
	if a.coord != nil {
		if err := a.coord.Close(); err != nil {
			return err
		}
	}
	return a.transport.Close()
}
