// Package ledger holds the closed ledgers a node builds from consensus
// results. Only the consensus-relevant header is modelled; ledger state is
// out of scope.
package ledger

import (
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// SkipListSize is how many ancestor hashes a ledger carries.
const SkipListSize = 256

// Ledger is an immutable closed ledger.
type Ledger struct {
	header Header
	id     consensus.LedgerID

	// skip holds the hashes of up to SkipListSize ancestors, oldest first.
	// The last entry is the parent.
	skip []consensus.LedgerID
}

var _ consensus.Ledger = (*Ledger)(nil)

// New builds a ledger from its header and the skip list of its ancestors.
func New(header Header, skip []consensus.LedgerID) *Ledger {
	if len(skip) > SkipListSize {
		skip = skip[len(skip)-SkipListSize:]
	}
	return &Ledger{
		header: header,
		id:     header.Hash(),
		skip:   append([]consensus.LedgerID(nil), skip...),
	}
}

// Genesis returns ledger 1 with no transactions.
func Genesis(closeTime time.Time, resolution time.Duration) *Ledger {
	return New(Header{
		Seq:                 1,
		TxSetHash:           consensus.TxSetID{},
		CloseTime:           closeTime.UTC(),
		CloseTimeResolution: resolution,
	}, nil)
}

// Build creates the child of parent described by a consensus result.
func Build(parent *Ledger, result consensus.ConsensusResult) *Ledger {
	h := Header{
		Seq:                 parent.Seq() + 1,
		ParentHash:          parent.ID(),
		TxSetHash:           result.TxSetID,
		ParentCloseTime:     parent.CloseTime(),
		CloseTime:           result.CloseTime.UTC(),
		CloseTimeResolution: result.CloseResolution,
	}
	if !result.CloseTimeAgreed {
		h.CloseFlags |= FlagNoConsensusTime
	}
	skip := make([]consensus.LedgerID, 0, len(parent.skip)+1)
	skip = append(skip, parent.skip...)
	skip = append(skip, parent.ID())
	return New(h, skip)
}

func (l *Ledger) ID() consensus.LedgerID       { return l.id }
func (l *Ledger) Seq() uint32                  { return l.header.Seq }
func (l *Ledger) ParentID() consensus.LedgerID { return l.header.ParentHash }
func (l *Ledger) CloseTime() time.Time         { return l.header.CloseTime }

// TxSetID returns the hash of the ledger's transaction set.
func (l *Ledger) TxSetID() consensus.TxSetID { return l.header.TxSetHash }

// CloseAgree reports whether the close time was agreed.
func (l *Ledger) CloseAgree() bool { return l.header.CloseAgree() }

// CloseTimeResolution returns the resolution used for the close time.
func (l *Ledger) CloseTimeResolution() time.Duration { return l.header.CloseTimeResolution }

// Header returns a copy of the header.
func (l *Ledger) Header() Header { return l.header }

// SkipList returns the ancestor hashes, oldest first.
func (l *Ledger) SkipList() []consensus.LedgerID {
	return append([]consensus.LedgerID(nil), l.skip...)
}

// Ancestor returns the ancestor at seq if it is within the skip list.
func (l *Ledger) Ancestor(seq uint32) (consensus.LedgerID, bool) {
	if seq > l.Seq() {
		return consensus.LedgerID{}, false
	}
	if seq == l.Seq() {
		return l.id, true
	}
	back := int(l.Seq() - seq)
	if back > len(l.skip) {
		return consensus.LedgerID{}, false
	}
	return l.skip[len(l.skip)-back], true
}
