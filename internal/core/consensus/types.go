// Package consensus defines the types shared by ledger consensus engines:
// identifiers, positions, validations, round results and the Adaptor an
// engine uses to reach the rest of the node.
package consensus

import (
	"bytes"
	"encoding/hex"
	"math"
	"time"
)

// Mode represents the current consensus operating mode.
// A node can transition between modes during consensus rounds.
type Mode int

const (
	// ModeProposing means the node is actively participating in consensus,
	// proposing transactions and voting on disputes.
	ModeProposing Mode = iota

	// ModeObserving means the node is watching consensus but not proposing.
	// Non-validators always operate in this mode.
	ModeObserving

	// ModeWrongLedger means the node detected it's on a different ledger
	// than the network and is acquiring the correct one.
	ModeWrongLedger

	// ModeSwitchedLedger means the node recovered from wrong ledger
	// and is now observing until fully synced.
	ModeSwitchedLedger
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeProposing:
		return "proposing"
	case ModeObserving:
		return "observing"
	case ModeWrongLedger:
		return "wrongLedger"
	case ModeSwitchedLedger:
		return "switchedLedger"
	default:
		return "unknown"
	}
}

// Phase represents the current phase within a consensus round.
type Phase int

const (
	// PhaseOpen is the initial phase where transactions are being accumulated.
	// The ledger is "open" for new transactions.
	PhaseOpen Phase = iota

	// PhaseEstablish is the negotiation phase where validators exchange
	// positions and work toward agreement on the transaction set.
	PhaseEstablish

	// PhaseAccepted means a result was produced for the round.
	PhaseAccepted

	// PhaseExpired is entered from establish when the round ran past the
	// establish timeout. The current position is accepted immediately.
	PhaseExpired

	// PhaseAbandoned means the round was dropped because the network
	// validated a different branch. No result is produced.
	PhaseAbandoned
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseEstablish:
		return "establish"
	case PhaseAccepted:
		return "accepted"
	case PhaseExpired:
		return "expired"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Finished reports whether the round can no longer change.
func (p Phase) Finished() bool {
	return p == PhaseAccepted || p == PhaseAbandoned
}

// Result represents the outcome of a consensus round.
type Result int

const (
	// ResultSuccess means enough peers agreed with our position.
	ResultSuccess Result = iota

	// ResultMovedOn means we accepted because a supermajority of peers
	// had already validated a later ledger.
	ResultMovedOn

	// ResultExpired means the establish timeout forced acceptance.
	ResultExpired
)

// String returns the string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultMovedOn:
		return "movedOn"
	case ResultExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// NodeID uniquely identifies a node in the network.
type NodeID [33]byte // Compressed public key

// TxID uniquely identifies a transaction.
type TxID [32]byte

// TxSetID uniquely identifies a transaction set.
type TxSetID [32]byte

// LedgerID uniquely identifies a ledger.
type LedgerID [32]byte

func (id NodeID) String() string   { return hex.EncodeToString(id[:]) }
func (id TxID) String() string     { return hex.EncodeToString(id[:]) }
func (id TxSetID) String() string  { return hex.EncodeToString(id[:]) }
func (id LedgerID) String() string { return hex.EncodeToString(id[:]) }

// Short returns an abbreviated form for log lines.
func (id NodeID) Short() string { return hex.EncodeToString(id[:5]) }

// Short returns an abbreviated form for log lines.
func (id TxSetID) Short() string { return hex.EncodeToString(id[:4]) }

// Short returns an abbreviated form for log lines.
func (id LedgerID) Short() string { return hex.EncodeToString(id[:4]) }

// IsZero reports whether the ID is unset.
func (id LedgerID) IsZero() bool { return id == LedgerID{} }

// Less orders node IDs byte-wise.
func (id NodeID) Less(other NodeID) bool { return bytes.Compare(id[:], other[:]) < 0 }

// Less orders transaction IDs byte-wise.
func (id TxID) Less(other TxID) bool { return bytes.Compare(id[:], other[:]) < 0 }

// Less orders transaction set IDs byte-wise. Used for deterministic
// tie-breaking between positions.
func (id TxSetID) Less(other TxSetID) bool { return bytes.Compare(id[:], other[:]) < 0 }

// Less orders ledger IDs byte-wise.
func (id LedgerID) Less(other LedgerID) bool { return bytes.Compare(id[:], other[:]) < 0 }

// RoundID identifies a consensus round.
type RoundID struct {
	// Seq is the ledger sequence number being built.
	Seq uint32

	// Parent is the ID of the ledger this round builds on.
	Parent LedgerID
}

const (
	// SeqJoin is the propose sequence of the first position of a round.
	SeqJoin uint32 = 0

	// SeqLeave is the propose sequence carried by a bow-out position.
	SeqLeave uint32 = math.MaxUint32
)

// Position is a node's current claim about which transactions and close
// time should form the next ledger.
type Position struct {
	// PreviousLedger is the ledger this position builds on.
	PreviousLedger LedgerID

	// TxSet is the proposed transaction set.
	TxSet TxSetID

	// CloseTime is the proposed ledger close time.
	CloseTime time.Time

	// ProposeSeq increases with every change of position within a round.
	ProposeSeq uint32

	// NodeID is the proposing node.
	NodeID NodeID

	// BowOut marks the last position a node sends before leaving the round.
	BowOut bool

	// ReceivedAt is set by the receiving engine.
	ReceivedAt time.Time

	// Signature covers the fields above except ReceivedAt.
	Signature []byte
}

// IsInitial reports whether this is the first position of the round.
func (p Position) IsInitial() bool {
	return p.ProposeSeq == SeqJoin
}

// IsStale reports whether the position was received before cutoff.
func (p Position) IsStale(cutoff time.Time) bool {
	return p.ReceivedAt.Before(cutoff)
}

// DisputeVote is a node's vote on a single disputed transaction.
type DisputeVote struct {
	PreviousLedger LedgerID
	TxID           TxID
	NodeID         NodeID
	Vote           bool
}

// Validation represents a validation message from a validator.
type Validation struct {
	// LedgerID is the hash of the validated ledger.
	LedgerID LedgerID

	// LedgerSeq is the sequence number of the validated ledger.
	LedgerSeq uint32

	// SignTime is when the validation was signed.
	SignTime time.Time

	// SeenTime is when we received this validation.
	SeenTime time.Time

	// NodeID is the validating node's public key.
	NodeID NodeID

	// Full indicates if this is a full validation (vs partial).
	Full bool

	// Signature is the validator's signature.
	Signature []byte
}

// Supersedes reports whether v replaces prev as the latest validation
// from the same node.
func (v Validation) Supersedes(prev Validation) bool {
	if v.LedgerSeq != prev.LedgerSeq {
		return v.LedgerSeq > prev.LedgerSeq
	}
	return v.SignTime.After(prev.SignTime)
}

// TxChange adds or removes a transaction when deriving a new set.
type TxChange struct {
	ID      TxID
	Tx      []byte
	Include bool
}

// DisputeOutcome is the final verdict on a disputed transaction.
type DisputeOutcome struct {
	TxID     TxID
	Tx       []byte
	Included bool
	Yays     int
	Nays     int
}

// Discards counts inputs an engine dropped during a round.
type Discards struct {
	WrongLedger  int
	StaleSeq     int
	BowedOut     int
	Untrusted    int
	Late         int
	OldValidated int
}

// Total returns the number of discarded inputs.
func (d Discards) Total() int {
	return d.WrongLedger + d.StaleSeq + d.BowedOut + d.Untrusted + d.Late + d.OldValidated
}

// RoundStats summarizes how a round went.
type RoundStats struct {
	Result Result

	// Proposers is the number of peers whose positions counted at the end.
	Proposers int

	// OpenDuration is how long the ledger stayed open.
	OpenDuration time.Duration

	// Duration is the time spent in establish.
	Duration time.Duration

	// Expired is set when the establish timeout forced acceptance.
	Expired bool

	Disputes        int
	PositionChanges int
	Discarded       Discards
}

// ConsensusResult is produced once per round and handed to the Adaptor.
type ConsensusResult struct {
	Round RoundID

	// TxSet is the agreed set. TxSetID equals TxSet.ID().
	TxSet   TxSet
	TxSetID TxSetID

	// CloseTime is the effective close time of the new ledger.
	CloseTime time.Time

	// CloseTimeAgreed is false when peers did not agree on a close time
	// and CloseTime was derived from the previous ledger.
	CloseTimeAgreed bool

	// CloseResolution is the resolution used for close times this round.
	CloseResolution time.Duration

	// Disputes lists every disputed transaction with its final verdict.
	Disputes []DisputeOutcome

	// Position is our final position.
	Position Position

	// Proposing is true if we proposed during the round.
	Proposing bool

	Stats RoundStats
}

// RoundState is a snapshot of the engine's current round.
type RoundState struct {
	Round      RoundID
	Mode       Mode
	Phase      Phase
	Position   Position
	Peers      int
	Disputes   int
	Resolution time.Duration
	OpenedAt   time.Time
	ClosedAt   time.Time
	Committed  bool
}
