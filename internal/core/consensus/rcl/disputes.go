package rcl

import (
	"sort"
	"sync"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// DisputedTx is a transaction that some positions include and others
// don't. Tallies are always counted from the votes map.
type DisputedTx struct {
	id      consensus.TxID
	tx      []byte
	ourVote bool
	votes   map[consensus.NodeID]bool

	// version changes whenever a peer vote changes
	version uint64

	// flipped is set once our vote changed; flippedAt is the version it
	// changed at. Our vote stays put until the tally moves again.
	flipped   bool
	flippedAt uint64
}

func newDisputedTx(id consensus.TxID, tx []byte, ourVote bool) *DisputedTx {
	return &DisputedTx{
		id:      id,
		tx:      tx,
		ourVote: ourVote,
		votes:   make(map[consensus.NodeID]bool),
	}
}

// ID returns the disputed transaction's ID.
func (d *DisputedTx) ID() consensus.TxID { return d.id }

// Tx returns the transaction payload if known.
func (d *DisputedTx) Tx() []byte { return d.tx }

// OurVote returns whether we currently vote to include the transaction.
func (d *DisputedTx) OurVote() bool { return d.ourVote }

// SetVote records a peer's vote. Returns true if the tally changed.
func (d *DisputedTx) SetVote(node consensus.NodeID, include bool) bool {
	if prev, ok := d.votes[node]; ok && prev == include {
		return false
	}
	d.votes[node] = include
	d.version++
	return true
}

// UnVote removes a peer's vote. Returns true if the tally changed.
func (d *DisputedTx) UnVote(node consensus.NodeID) bool {
	if _, ok := d.votes[node]; !ok {
		return false
	}
	delete(d.votes, node)
	d.version++
	return true
}

// Tally counts peer votes, not including ours.
func (d *DisputedTx) Tally() (yays, nays int) {
	for _, v := range d.votes {
		if v {
			yays++
		} else {
			nays++
		}
	}
	return yays, nays
}

// UpdateVote re-evaluates our vote against threshold percent. We include
// the transaction once more than threshold percent vote yes and exclude it
// once more than threshold percent vote no; in between our vote stands.
// Our vote counts when we are proposing. Returns true if our vote flipped.
func (d *DisputedTx) UpdateVote(threshold int, proposing bool) bool {
	yays, nays := d.Tally()
	if proposing {
		if d.ourVote {
			yays++
		} else {
			nays++
		}
	}
	total := yays + nays
	if total == 0 {
		return false
	}

	vote := d.ourVote
	switch {
	case yays*100 > threshold*total:
		vote = true
	case nays*100 > threshold*total:
		vote = false
	}
	if vote == d.ourVote {
		return false
	}
	if d.flipped && d.flippedAt == d.version {
		return false
	}

	d.ourVote = vote
	d.flipped = true
	d.flippedAt = d.version
	return true
}

// Outcome returns the dispute's current verdict.
func (d *DisputedTx) Outcome() consensus.DisputeOutcome {
	yays, nays := d.Tally()
	return consensus.DisputeOutcome{
		TxID:     d.id,
		Tx:       d.tx,
		Included: d.ourVote,
		Yays:     yays,
		Nays:     nays,
	}
}

// DisputeTracker holds the disputed transactions of the current round.
type DisputeTracker struct {
	mu       sync.RWMutex
	disputes map[consensus.TxID]*DisputedTx
}

// NewDisputeTracker creates an empty tracker.
func NewDisputeTracker() *DisputeTracker {
	return &DisputeTracker{
		disputes: make(map[consensus.TxID]*DisputedTx),
	}
}

// Reset drops every dispute.
func (dt *DisputeTracker) Reset() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.disputes = make(map[consensus.TxID]*DisputedTx)
}

// Create adds a dispute unless one exists. Returns the dispute and whether
// it was created.
func (dt *DisputeTracker) Create(id consensus.TxID, tx []byte, ourVote bool) (*DisputedTx, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if d, ok := dt.disputes[id]; ok {
		return d, false
	}
	d := newDisputedTx(id, tx, ourVote)
	dt.disputes[id] = d
	return d, true
}

// Get returns a dispute by transaction ID.
func (dt *DisputeTracker) Get(id consensus.TxID) (*DisputedTx, bool) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	d, ok := dt.disputes[id]
	return d, ok
}

// Len returns the number of disputes.
func (dt *DisputeTracker) Len() int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return len(dt.disputes)
}

// SetVotes records node's vote on every dispute from the set it proposes.
func (dt *DisputeTracker) SetVotes(node consensus.NodeID, set consensus.TxSet) int {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	changed := 0
	for id, d := range dt.disputes {
		if d.SetVote(node, set.Contains(id)) {
			changed++
		}
	}
	return changed
}

// UnVote removes node's votes from every dispute.
func (dt *DisputeTracker) UnVote(node consensus.NodeID) int {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	changed := 0
	for _, d := range dt.disputes {
		if d.UnVote(node) {
			changed++
		}
	}
	return changed
}

// All returns the disputes ordered by transaction ID.
func (dt *DisputeTracker) All() []*DisputedTx {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	out := make([]*DisputedTx, 0, len(dt.disputes))
	for _, d := range dt.disputes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.Less(out[j].id) })
	return out
}

// Outcomes returns the verdict on every dispute ordered by transaction ID.
func (dt *DisputeTracker) Outcomes() []consensus.DisputeOutcome {
	all := dt.All()
	out := make([]consensus.DisputeOutcome, len(all))
	for i, d := range all {
		out[i] = d.Outcome()
	}
	return out
}
