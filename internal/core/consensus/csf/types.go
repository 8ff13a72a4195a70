package csf

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/txset"
	crypto "github.com/LeJamon/rcld/internal/crypto/common"
	"github.com/LeJamon/rcld/internal/protocol"
)

// LedgerID identifies a simulated ledger.
type LedgerID = consensus.LedgerID

// PeerID identifies a simulated peer.
type PeerID uint32

// NodeID derives the consensus node ID a peer signs with.
func (id PeerID) NodeID() consensus.NodeID {
	var n consensus.NodeID
	n[0] = 0x02
	binary.BigEndian.PutUint32(n[1:5], uint32(id))
	return n
}

func (id PeerID) String() string { return fmt.Sprintf("peer-%d", uint32(id)) }

// Tx is a simulated transaction. Two transactions with the same ID are the
// same transaction.
type Tx struct {
	ID uint32
}

// Blob returns the transaction's raw bytes.
func (tx Tx) Blob() []byte {
	b := make([]byte, 6)
	copy(b, "tx")
	binary.BigEndian.PutUint32(b[2:], tx.ID)
	return b
}

// TxID returns the consensus ID of the transaction.
func (tx Tx) TxID() consensus.TxID {
	return txset.TxIDFor(tx.Blob())
}

// TxSetOf builds a transaction set from simulated transactions.
func TxSetOf(txs ...Tx) *txset.Set {
	blobs := make([][]byte, len(txs))
	for i, tx := range txs {
		blobs[i] = tx.Blob()
	}
	return txset.FromBlobs(blobs)
}

// Ledger is a simulated ledger. It records the full ancestry so branch
// questions are answered without walking the oracle.
type Ledger struct {
	id         consensus.LedgerID
	seq        uint32
	parentID   consensus.LedgerID
	txs        consensus.TxSet
	closeTime  time.Time
	closeAgree bool
	resolution time.Duration
	ancestors  []consensus.LedgerID
}

var _ consensus.Ledger = (*Ledger)(nil)

// MakeGenesis creates the genesis ledger closing at closeTime.
func MakeGenesis(closeTime time.Time) *Ledger {
	l := &Ledger{
		txs:        txset.Empty(),
		closeTime:  closeTime,
		closeAgree: true,
		resolution: 30 * time.Second,
	}
	l.id = l.computeID()
	l.ancestors = []consensus.LedgerID{l.id}
	return l
}

func (l *Ledger) computeID() consensus.LedgerID {
	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], l.seq)
	var ct [8]byte
	binary.BigEndian.PutUint64(ct[:], uint64(l.closeTime.UnixNano()))
	agree := []byte{0}
	if l.closeAgree {
		agree[0] = 1
	}
	setID := l.txs.ID()
	return consensus.LedgerID(crypto.Sha512HalfPrefixed(
		protocol.HashPrefixLedgerMaster, seq[:], l.parentID[:], setID[:], ct[:], agree))
}

func (l *Ledger) ID() consensus.LedgerID       { return l.id }
func (l *Ledger) Seq() uint32                  { return l.seq }
func (l *Ledger) ParentID() consensus.LedgerID { return l.parentID }
func (l *Ledger) CloseTime() time.Time         { return l.closeTime }

// Txs returns the transactions applied by this ledger.
func (l *Ledger) Txs() consensus.TxSet { return l.txs }

// CloseAgree reports whether the close time was agreed on.
func (l *Ledger) CloseAgree() bool { return l.closeAgree }

// CloseTimeResolution returns the resolution the ledger closed with.
func (l *Ledger) CloseTimeResolution() time.Duration { return l.resolution }

// Ancestor returns the ledger on this branch at seq.
func (l *Ledger) Ancestor(seq uint32) (consensus.LedgerID, bool) {
	if int(seq) >= len(l.ancestors) || seq > l.seq {
		return consensus.LedgerID{}, false
	}
	return l.ancestors[seq], true
}

// IsAncestor reports whether other is a strict ancestor of l.
func (l *Ledger) IsAncestor(other *Ledger) bool {
	if other.seq >= l.seq {
		return false
	}
	anc, ok := l.Ancestor(other.seq)
	return ok && anc == other.id
}

// LedgerOracle hands out unique ledger instances: the same parent, set and
// close time always produce the same ledger.
type LedgerOracle struct {
	mu      sync.RWMutex
	genesis *Ledger
	ledgers map[consensus.LedgerID]*Ledger
}

// NewLedgerOracle creates an oracle seeded with a genesis ledger.
func NewLedgerOracle(genesisTime time.Time) *LedgerOracle {
	g := MakeGenesis(genesisTime)
	return &LedgerOracle{
		genesis: g,
		ledgers: map[consensus.LedgerID]*Ledger{g.id: g},
	}
}

// Genesis returns the shared genesis ledger.
func (o *LedgerOracle) Genesis() *Ledger { return o.genesis }

// Get retrieves a ledger by ID.
func (o *LedgerOracle) Get(id consensus.LedgerID) (*Ledger, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	l, ok := o.ledgers[id]
	return l, ok
}

// Accept builds the ledger that applies txs to parent.
func (o *LedgerOracle) Accept(parent *Ledger, txs consensus.TxSet, closeTime time.Time, closeAgree bool, resolution time.Duration) *Ledger {
	l := &Ledger{
		seq:        parent.seq + 1,
		parentID:   parent.id,
		txs:        txs,
		closeTime:  closeTime,
		closeAgree: closeAgree,
		resolution: resolution,
	}
	l.id = l.computeID()

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.ledgers[l.id]; ok {
		return existing
	}
	l.ancestors = make([]consensus.LedgerID, len(parent.ancestors)+1)
	copy(l.ancestors, parent.ancestors)
	l.ancestors[l.seq] = l.id
	o.ledgers[l.id] = l
	return l
}

// Branches counts the distinct branches among ledgers. Two ledgers are on
// different branches if neither is the other or an ancestor of it.
func (o *LedgerOracle) Branches(ledgers []*Ledger) int {
	sorted := append([]*Ledger(nil), ledgers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].seq > sorted[j].seq })

	var tips []*Ledger
	for _, l := range sorted {
		covered := false
		for _, tip := range tips {
			if tip.id == l.id || tip.IsAncestor(l) {
				covered = true
				break
			}
		}
		if !covered {
			tips = append(tips, l)
		}
	}
	return len(tips)
}
