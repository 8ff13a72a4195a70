package node

import (
	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/ledger"
	"github.com/LeJamon/rcld/internal/core/txset"
	"github.com/LeJamon/rcld/internal/crypto/validator"
)

type messageKind uint8

const (
	msgPosition messageKind = iota + 1
	msgValidation
	msgDispute
	msgTx
	msgTxSet
	msgLedger
)

func (k messageKind) String() string {
	switch k {
	case msgPosition:
		return "position"
	case msgValidation:
		return "validation"
	case msgDispute:
		return "dispute"
	case msgTx:
		return "tx"
	case msgTxSet:
		return "txset"
	case msgLedger:
		return "ledger"
	default:
		return "unknown"
	}
}

// message is one item on the inbound queue.
type message struct {
	kind       messageKind
	position   consensus.Position
	validation consensus.Validation
	dispute    consensus.DisputeVote
	sig        []byte
	tx         []byte
	set        *txset.Set
	ledger     *ledger.Ledger
}

func (n *Node) enqueue(m message) error {
	select {
	case n.inbound <- m:
		return nil
	default:
		n.dropped.Add(1)
		n.log.WithField("kind", m.kind).Debug("Dropping inbound message")
		return ErrQueueFull
	}
}

// DeliverPosition queues a signed peer position.
func (n *Node) DeliverPosition(p consensus.Position) error {
	return n.enqueue(message{kind: msgPosition, position: p})
}

// DeliverValidation queues a signed validation.
func (n *Node) DeliverValidation(v consensus.Validation) error {
	return n.enqueue(message{kind: msgValidation, validation: v})
}

// DeliverDispute queues a peer's vote on a disputed transaction.
func (n *Node) DeliverDispute(vote consensus.DisputeVote, sig []byte) error {
	return n.enqueue(message{kind: msgDispute, dispute: vote, sig: sig})
}

// DeliverTx queues a transaction relayed by a peer.
func (n *Node) DeliverTx(blob []byte) error {
	return n.enqueue(message{kind: msgTx, tx: blob})
}

// DeliverTxSet queues a transaction set a peer sent in reply to a request.
func (n *Node) DeliverTxSet(set *txset.Set) error {
	return n.enqueue(message{kind: msgTxSet, set: set})
}

// DeliverLedger queues a ledger a peer sent in reply to a request.
func (n *Node) DeliverLedger(l *ledger.Ledger) error {
	return n.enqueue(message{kind: msgLedger, ledger: l})
}

// Submit adds a locally submitted transaction to the open ledger and
// relays it. It reports false for transactions already known.
func (n *Node) Submit(blob []byte) bool {
	if !n.addTx(blob) {
		return false
	}
	n.network.BroadcastTx(blob)
	return true
}

func (n *Node) handle(m message) {
	switch m.kind {
	case msgPosition:
		n.onPosition(m.position)
	case msgValidation:
		n.onValidation(m.validation)
	case msgDispute:
		n.onDispute(m.dispute, m.sig)
	case msgTx:
		n.addTx(m.tx)
	case msgTxSet:
		n.txsets.Add(m.set)
	case msgLedger:
		n.onLedger(m.ledger)
	}
}

func (n *Node) badSignature(kind messageKind, from consensus.NodeID, err error) {
	n.badSignatures.Add(1)
	n.log.WithError(err).WithFields(logrus.Fields{
		"kind": kind,
		"from": from.Short(),
	}).Warn("Rejecting message")
}

func (n *Node) onPosition(p consensus.Position) {
	if err := validator.VerifyPosition(p); err != nil {
		n.badSignature(msgPosition, p.NodeID, err)
		return
	}
	p.ReceivedAt = n.clock()

	n.mu.Lock()
	n.proposals = append(n.proposals, p)
	n.mu.Unlock()
}

func (n *Node) onValidation(v consensus.Validation) {
	if err := validator.VerifyValidation(v); err != nil {
		n.badSignature(msgValidation, v.NodeID, err)
		return
	}
	v.SeenTime = n.clock()

	n.mu.Lock()
	n.validations = append(n.validations, v)
	n.mu.Unlock()
}

func (n *Node) onDispute(vote consensus.DisputeVote, sig []byte) {
	if err := validator.VerifyDispute(vote, sig); err != nil {
		n.badSignature(msgDispute, vote.NodeID, err)
		return
	}
	n.disputeVotes.Add(1)
	n.log.WithFields(logrus.Fields{
		"from": vote.NodeID.Short(),
		"tx":   vote.TxID.String()[:8],
		"vote": vote.Vote,
	}).Debug("Peer dispute vote")
}

func (n *Node) onLedger(l *ledger.Ledger) {
	if l == nil {
		return
	}
	n.ledgers.Add(l.ID(), l)

	n.mu.Lock()
	delete(n.requested, l.ID())
	n.mu.Unlock()
}

// addTx puts a transaction in the open ledger. Transactions already
// included in the last closed ledger are ignored.
func (n *Node) addTx(blob []byte) bool {
	if len(blob) == 0 {
		return false
	}
	id := txset.TxIDFor(blob)

	n.mu.Lock()
	lcl := n.lastClosed
	if _, ok := n.openTxs[id]; ok {
		n.mu.Unlock()
		return false
	}
	n.mu.Unlock()

	if closed, ok := n.txsets.Peek(lcl.TxSetID()); ok && closed.Contains(id) {
		return false
	}

	n.mu.Lock()
	n.openTxs[id] = append([]byte(nil), blob...)
	n.mu.Unlock()

	n.engine.UpdateOpenSet(n.openSet())
	return true
}
