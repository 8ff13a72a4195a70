package consensus

import (
	"time"
)

// Adaptor provides the interface between a consensus engine and the rest
// of the node (network, ledger building, storage, signing). The engine
// never touches any of these directly.
//
// AcquireTxSet, AcquireLedger and OnAccept may be slow; the engine calls
// them without holding its lock. AcquireTxSet and AcquireLedger must not
// block: they return false when the object is not available yet and the
// engine asks again on the next timer tick.
type Adaptor interface {
	// AcquireTxSet returns the set if it is available locally, and
	// otherwise starts fetching it.
	AcquireTxSet(id TxSetID) (TxSet, bool)

	// AcquireLedger returns the ledger if it is available locally, and
	// otherwise starts fetching it.
	AcquireLedger(id LedgerID) (Ledger, bool)

	// Share broadcasts our position to the network.
	Share(position Position)

	// ShareDispute broadcasts our vote on a disputed transaction.
	ShareDispute(vote DisputeVote)

	// OnAccept builds and persists the ledger described by result on top
	// of prev. It is called at most once per round. An error is fatal to
	// the round and is returned to the caller of TimerEntry.
	OnAccept(result ConsensusResult, prev Ledger) (Ledger, error)

	// Resync asks the node to switch to the branch ending in ledger before
	// the next round starts.
	Resync(ledger LedgerID)

	// Proposals returns the peer positions received since the last call.
	Proposals() []Position

	// Validations returns the validations received since the last call.
	Validations() []Validation

	// TrustedNodes returns the nodes whose positions and validations count.
	TrustedNodes() []NodeID

	// NodeID returns our own node ID.
	NodeID() NodeID

	// Proposing reports whether we should propose this round.
	Proposing() bool

	// Now returns the current network-adjusted time.
	Now() time.Time
}

// Ledger represents a ledger in the consensus process.
type Ledger interface {
	// ID returns the ledger hash.
	ID() LedgerID

	// Seq returns the ledger sequence number.
	Seq() uint32

	// ParentID returns the parent ledger hash.
	ParentID() LedgerID

	// CloseTime returns when the ledger was closed.
	CloseTime() time.Time

	// Ancestor returns the ID of the ancestor at seq. A ledger is its own
	// ancestor at its own sequence. The second result is false when seq is
	// greater than Seq() or the ancestor is unknown.
	Ancestor(seq uint32) (LedgerID, bool)
}

// TxSet is an immutable, content-addressed set of transactions.
type TxSet interface {
	// ID returns the transaction set hash.
	ID() TxSetID

	// Len returns the number of transactions.
	Len() int

	// Contains checks if a transaction is in the set.
	Contains(id TxID) bool

	// IDs returns the transaction IDs in ascending order.
	IDs() []TxID

	// Tx returns the payload of a transaction if it is known.
	Tx(id TxID) ([]byte, bool)

	// Compare returns the symmetric difference with other. A true value
	// means the transaction is in the receiver, false means it is only in
	// other.
	Compare(other TxSet) map[TxID]bool

	// Apply returns a new set with the changes applied.
	Apply(changes []TxChange) TxSet
}

// OnBranch reports whether the ledger (id, seq) is tip or one of its
// ancestors. The second result is false if tip's ancestry at seq is
// unknown.
func OnBranch(tip Ledger, id LedgerID, seq uint32) (bool, bool) {
	if seq > tip.Seq() {
		return false, true
	}
	anc, ok := tip.Ancestor(seq)
	if !ok {
		return false, false
	}
	return anc == id, true
}
