package rcl

import (
	"sort"
	"sync"
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// addOutcome says what PositionStore.Add did with a position.
type addOutcome int

const (
	// positionStored means the position is now the peer's latest.
	positionStored addOutcome = iota

	// positionLeft means the peer bowed out of the round.
	positionLeft

	// positionWrongLedger means it builds on a different ledger.
	positionWrongLedger

	// positionStaleSeq means it is not newer than what we have.
	positionStaleSeq

	// positionDeadPeer means the peer already bowed out.
	positionDeadPeer
)

// PositionStore holds the latest position of each peer for the current
// round.
type PositionStore struct {
	mu sync.RWMutex

	// prevLedger is the ledger positions must build on
	prevLedger consensus.LedgerID

	// positions maps node ID to its latest position
	positions map[consensus.NodeID]consensus.Position

	// dead holds peers that bowed out this round
	dead map[consensus.NodeID]struct{}

	// staleAfter excludes peers that stopped updating
	staleAfter time.Duration
}

// NewPositionStore creates an empty store.
func NewPositionStore(staleAfter time.Duration) *PositionStore {
	return &PositionStore{
		positions:  make(map[consensus.NodeID]consensus.Position),
		dead:       make(map[consensus.NodeID]struct{}),
		staleAfter: staleAfter,
	}
}

// Reset clears the store for a round building on prev.
func (s *PositionStore) Reset(prev consensus.LedgerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prevLedger = prev
	s.positions = make(map[consensus.NodeID]consensus.Position)
	s.dead = make(map[consensus.NodeID]struct{})
}

// Add records p if it is the newest position of its peer.
func (s *PositionStore) Add(p consensus.Position) addOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.PreviousLedger != s.prevLedger {
		return positionWrongLedger
	}
	if _, ok := s.dead[p.NodeID]; ok {
		return positionDeadPeer
	}
	if existing, ok := s.positions[p.NodeID]; ok && p.ProposeSeq <= existing.ProposeSeq {
		return positionStaleSeq
	}
	if p.BowOut {
		delete(s.positions, p.NodeID)
		s.dead[p.NodeID] = struct{}{}
		return positionLeft
	}
	s.positions[p.NodeID] = p
	return positionStored
}

// Get returns the latest position of a peer.
func (s *PositionStore) Get(node consensus.NodeID) (consensus.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[node]
	return p, ok
}

// Len returns the number of stored positions, stale ones included.
func (s *PositionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Participants counts the peers that proposed this round, including
// those gone stale or bowed out since.
func (s *PositionStore) Participants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions) + len(s.dead)
}

// IsStale reports whether the peer's position is too old to count.
func (s *PositionStore) IsStale(node consensus.NodeID, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[node]
	return ok && p.IsStale(now.Add(-s.staleAfter))
}

// All returns every stored position ordered by node ID.
func (s *PositionStore) All() []consensus.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(func(consensus.Position) bool { return true })
}

// Active returns positions that count toward tallies, ordered by node ID.
func (s *PositionStore) Active(now time.Time) []consensus.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := now.Add(-s.staleAfter)
	return s.sorted(func(p consensus.Position) bool { return !p.IsStale(cutoff) })
}

// Stale returns the peers whose positions stopped counting.
func (s *PositionStore) Stale(now time.Time) []consensus.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := now.Add(-s.staleAfter)
	var out []consensus.NodeID
	for _, p := range s.sorted(func(p consensus.Position) bool { return p.IsStale(cutoff) }) {
		out = append(out, p.NodeID)
	}
	return out
}

// ActiveCount returns the number of peers that count toward tallies.
func (s *PositionStore) ActiveCount(now time.Time) int {
	return len(s.Active(now))
}

// Plurality returns the transaction set proposed by the most active peers.
// Ties go to the lexicographically smallest ID so every honest node picks
// the same one.
func (s *PositionStore) Plurality(now time.Time) (consensus.TxSetID, int, bool) {
	counts := make(map[consensus.TxSetID]int)
	for _, p := range s.Active(now) {
		counts[p.TxSet]++
	}

	var best consensus.TxSetID
	bestCount := 0
	for id, n := range counts {
		if n > bestCount || (n == bestCount && id.Less(best)) {
			best, bestCount = id, n
		}
	}
	return best, bestCount, bestCount > 0
}

// Distinct returns the transaction sets currently proposed, ordered by ID.
func (s *PositionStore) Distinct(now time.Time) []consensus.TxSetID {
	seen := make(map[consensus.TxSetID]struct{})
	var out []consensus.TxSetID
	for _, p := range s.Active(now) {
		if _, ok := seen[p.TxSet]; ok {
			continue
		}
		seen[p.TxSet] = struct{}{}
		out = append(out, p.TxSet)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Dead returns the peers that bowed out this round.
func (s *PositionStore) Dead() []consensus.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consensus.NodeID, 0, len(s.dead))
	for id := range s.dead {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (s *PositionStore) sorted(keep func(consensus.Position) bool) []consensus.Position {
	out := make([]consensus.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID.Less(out[j].NodeID) })
	return out
}
