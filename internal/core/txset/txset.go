// Package txset implements immutable, content-addressed transaction sets
// and the provider that caches them by ID.
package txset

import (
	"sort"

	"github.com/LeJamon/rcld/internal/core/consensus"
	crypto "github.com/LeJamon/rcld/internal/crypto/common"
	"github.com/LeJamon/rcld/internal/protocol"
)

// Set is an immutable set of transactions identified by the hash of its
// sorted transaction IDs. Two sets have the same ID iff they hold the same
// transactions.
type Set struct {
	id  consensus.TxSetID
	ids []consensus.TxID
	txs map[consensus.TxID][]byte
}

var _ consensus.TxSet = (*Set)(nil)

// TxIDFor returns the ID of a raw transaction.
func TxIDFor(blob []byte) consensus.TxID {
	return consensus.TxID(crypto.Sha512HalfPrefixed(protocol.HashPrefixTransactionID, blob))
}

// Empty returns the set with no transactions.
func Empty() *Set {
	return New(nil)
}

// New builds a set from transaction payloads keyed by ID. A nil payload
// means the transaction is known by ID only.
func New(txs map[consensus.TxID][]byte) *Set {
	s := &Set{
		ids: make([]consensus.TxID, 0, len(txs)),
		txs: make(map[consensus.TxID][]byte, len(txs)),
	}
	for id, blob := range txs {
		s.ids = append(s.ids, id)
		if blob != nil {
			s.txs[id] = append([]byte(nil), blob...)
		} else {
			s.txs[id] = nil
		}
	}
	s.seal()
	return s
}

// FromBlobs builds a set from raw transactions.
func FromBlobs(blobs [][]byte) *Set {
	txs := make(map[consensus.TxID][]byte, len(blobs))
	for _, b := range blobs {
		txs[TxIDFor(b)] = b
	}
	return New(txs)
}

// FromIDs builds a set of transactions known by ID only.
func FromIDs(ids ...consensus.TxID) *Set {
	txs := make(map[consensus.TxID][]byte, len(ids))
	for _, id := range ids {
		txs[id] = nil
	}
	return New(txs)
}

func (s *Set) seal() {
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i].Less(s.ids[j]) })
	parts := make([][]byte, len(s.ids))
	for i := range s.ids {
		parts[i] = s.ids[i][:]
	}
	s.id = consensus.TxSetID(crypto.Sha512HalfPrefixed(protocol.HashPrefixTxSet, parts...))
}

// ID returns the transaction set hash.
func (s *Set) ID() consensus.TxSetID { return s.id }

// Len returns the number of transactions.
func (s *Set) Len() int { return len(s.ids) }

// Contains checks if a transaction is in the set.
func (s *Set) Contains(id consensus.TxID) bool {
	_, ok := s.txs[id]
	return ok
}

// IDs returns the transaction IDs in ascending order.
func (s *Set) IDs() []consensus.TxID {
	return append([]consensus.TxID(nil), s.ids...)
}

// Tx returns the payload of a transaction if it is known.
func (s *Set) Tx(id consensus.TxID) ([]byte, bool) {
	blob, ok := s.txs[id]
	if !ok || blob == nil {
		return nil, false
	}
	return blob, true
}

// Compare returns the symmetric difference with other. Both ID lists are
// sorted, so this is a single merge pass.
func (s *Set) Compare(other consensus.TxSet) map[consensus.TxID]bool {
	diff := make(map[consensus.TxID]bool)
	if other == nil {
		for _, id := range s.ids {
			diff[id] = true
		}
		return diff
	}
	if other.ID() == s.id {
		return diff
	}
	theirs := other.IDs()
	i, j := 0, 0
	for i < len(s.ids) && j < len(theirs) {
		switch {
		case s.ids[i] == theirs[j]:
			i++
			j++
		case s.ids[i].Less(theirs[j]):
			diff[s.ids[i]] = true
			i++
		default:
			diff[theirs[j]] = false
			j++
		}
	}
	for ; i < len(s.ids); i++ {
		diff[s.ids[i]] = true
	}
	for ; j < len(theirs); j++ {
		diff[theirs[j]] = false
	}
	return diff
}

// Apply returns a new set with the changes applied. The receiver is not
// modified.
func (s *Set) Apply(changes []consensus.TxChange) consensus.TxSet {
	if len(changes) == 0 {
		return s
	}
	txs := make(map[consensus.TxID][]byte, len(s.txs)+len(changes))
	for id, blob := range s.txs {
		txs[id] = blob
	}
	for _, c := range changes {
		if c.Include {
			if blob, ok := txs[c.ID]; !ok || blob == nil {
				txs[c.ID] = c.Tx
			}
		} else {
			delete(txs, c.ID)
		}
	}
	return New(txs)
}

// Blobs returns the known payloads in ID order.
func (s *Set) Blobs() [][]byte {
	out := make([][]byte, 0, len(s.ids))
	for _, id := range s.ids {
		if blob := s.txs[id]; blob != nil {
			out = append(out, blob)
		}
	}
	return out
}

// Of converts any consensus.TxSet into a *Set.
func Of(ts consensus.TxSet) *Set {
	if s, ok := ts.(*Set); ok {
		return s
	}
	ids := ts.IDs()
	txs := make(map[consensus.TxID][]byte, len(ids))
	for _, id := range ids {
		blob, _ := ts.Tx(id)
		txs[id] = blob
	}
	return New(txs)
}
