package rcl

import (
	"sort"
	"sync"
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// LedgerLookup returns a ledger if it is available locally.
type LedgerLookup func(id consensus.LedgerID) (consensus.Ledger, bool)

// validationOutcome says what ValidationTracker.Add did.
type validationOutcome int

const (
	validationAdded validationOutcome = iota
	validationUntrusted
	validationStale
	validationNotNewer
)

// Fork describes a branch that competes with our working ledger.
type Fork struct {
	// Branch is the competing ledger at our working ledger's sequence.
	Branch consensus.LedgerID

	// Tip is the highest validated ledger on the branch.
	Tip    consensus.LedgerID
	TipSeq uint32

	// Support is the number of peers that validated on the branch.
	Support int
}

// ValidationTracker keeps the latest validation of each trusted peer and
// answers branch questions about them.
type ValidationTracker struct {
	mu sync.RWMutex

	// latest maps node ID to its most recent validation
	latest map[consensus.NodeID]consensus.Validation

	// trusted is the set of validators whose validations count
	trusted map[consensus.NodeID]struct{}

	// freshness is how long validations are considered current
	freshness time.Duration
}

// NewValidationTracker creates a new validation tracker.
func NewValidationTracker(freshness time.Duration) *ValidationTracker {
	return &ValidationTracker{
		latest:    make(map[consensus.NodeID]consensus.Validation),
		trusted:   make(map[consensus.NodeID]struct{}),
		freshness: freshness,
	}
}

// SetTrusted updates the set of trusted validators. Validations from
// nodes that are no longer trusted are dropped.
func (vt *ValidationTracker) SetTrusted(nodes []consensus.NodeID) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.trusted = make(map[consensus.NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		vt.trusted[n] = struct{}{}
	}
	for n := range vt.latest {
		if _, ok := vt.trusted[n]; !ok {
			delete(vt.latest, n)
		}
	}
}

// TrustedCount returns the size of the trusted set.
func (vt *ValidationTracker) TrustedCount() int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return len(vt.trusted)
}

// Add records v if it comes from a trusted node, is fresh and supersedes
// that node's previous validation.
func (vt *ValidationTracker) Add(v consensus.Validation, now time.Time) validationOutcome {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	if _, ok := vt.trusted[v.NodeID]; !ok {
		return validationUntrusted
	}
	if v.SignTime.Before(now.Add(-vt.freshness)) {
		return validationStale
	}
	if prev, ok := vt.latest[v.NodeID]; ok && !v.Supersedes(prev) {
		return validationNotNewer
	}
	if v.SeenTime.IsZero() {
		v.SeenTime = now
	}
	vt.latest[v.NodeID] = v
	return validationAdded
}

// Latest returns the current validation of a node.
func (vt *ValidationTracker) Latest(node consensus.NodeID) (consensus.Validation, bool) {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	v, ok := vt.latest[node]
	return v, ok
}

// Count returns the number of nodes with a current validation.
func (vt *ValidationTracker) Count() int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return len(vt.latest)
}

// Expire drops validations signed before cutoff.
func (vt *ValidationTracker) Expire(cutoff time.Time) int {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	dropped := 0
	for n, v := range vt.latest {
		if v.SignTime.Before(cutoff) {
			delete(vt.latest, n)
			dropped++
		}
	}
	return dropped
}

// CountFor returns the number of nodes whose current validation is for id.
func (vt *ValidationTracker) CountFor(id consensus.LedgerID) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	n := 0
	for _, v := range vt.latest {
		if v.LedgerID == id {
			n++
		}
	}
	return n
}

// LedgersAfter returns the distinct ledgers validated with a sequence
// greater than seq.
func (vt *ValidationTracker) LedgersAfter(seq uint32) []consensus.LedgerID {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	seen := make(map[consensus.LedgerID]struct{})
	var out []consensus.LedgerID
	for _, v := range vt.latest {
		if v.LedgerSeq <= seq {
			continue
		}
		if _, ok := seen[v.LedgerID]; ok {
			continue
		}
		seen[v.LedgerID] = struct{}{}
		out = append(out, v.LedgerID)
	}
	return out
}

// BranchSupport returns the number of nodes whose current validation is
// for a ledger on tip's branch with sequence at least minSeq. Ledgers
// later than tip count when lookup shows they descend from it.
func (vt *ValidationTracker) BranchSupport(tip consensus.Ledger, minSeq uint32, lookup LedgerLookup) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	n := 0
	for _, v := range vt.latest {
		if v.LedgerSeq < minSeq {
			continue
		}
		if on, known := onBranch(tip, v, lookup); known && on {
			n++
		}
	}
	return n
}

// NodesAfter returns the number of nodes that validated a ledger later
// than prev that descends from it.
func (vt *ValidationTracker) NodesAfter(prev consensus.Ledger, lookup LedgerLookup) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	n := 0
	for _, v := range vt.latest {
		if v.LedgerSeq <= prev.Seq() {
			continue
		}
		if on, known := onBranch(prev, v, lookup); known && on {
			n++
		}
	}
	return n
}

// Competing returns the best supported branch that does not contain prev,
// considering validations at or after prev's sequence. Validations of
// later ledgers that lookup cannot resolve are skipped until they can.
func (vt *ValidationTracker) Competing(prev consensus.Ledger, lookup LedgerLookup) (Fork, bool) {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	forks := make(map[consensus.LedgerID]*Fork)
	for _, v := range vt.latest {
		if v.LedgerSeq < prev.Seq() {
			continue
		}
		key := v.LedgerID
		if v.LedgerSeq > prev.Seq() {
			if lookup == nil {
				continue
			}
			l, ok := lookup(v.LedgerID)
			if !ok {
				continue
			}
			anc, ok := l.Ancestor(prev.Seq())
			if !ok {
				continue
			}
			key = anc
		}
		if key == prev.ID() {
			continue
		}
		f, ok := forks[key]
		if !ok {
			f = &Fork{Branch: key}
			forks[key] = f
		}
		f.Support++
		if v.LedgerSeq > f.TipSeq || f.Tip.IsZero() {
			f.Tip, f.TipSeq = v.LedgerID, v.LedgerSeq
		}
	}

	keys := make([]consensus.LedgerID, 0, len(forks))
	for k := range forks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := forks[keys[i]], forks[keys[j]]
		if a.Support != b.Support {
			return a.Support > b.Support
		}
		return a.Branch.Less(b.Branch)
	})
	if len(keys) == 0 {
		return Fork{}, false
	}
	return *forks[keys[0]], true
}

// onBranch reports whether v's ledger is on tip's branch. known is false
// when the answer needs a ledger lookup that failed.
func onBranch(tip consensus.Ledger, v consensus.Validation, lookup LedgerLookup) (on bool, known bool) {
	if v.LedgerSeq <= tip.Seq() {
		return consensus.OnBranch(tip, v.LedgerID, v.LedgerSeq)
	}
	if lookup == nil {
		return false, false
	}
	l, ok := lookup(v.LedgerID)
	if !ok {
		return false, false
	}
	anc, ok := l.Ancestor(tip.Seq())
	if !ok {
		return false, false
	}
	return anc == tip.ID(), true
}
