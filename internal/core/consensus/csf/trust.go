package csf

import (
	"sort"
	"sync"
)

// TrustGraph represents the trust relationships between peers.
// It is a directed graph where an edge from A to B means A trusts B
// (B is in A's UNL - Unique Node List).
type TrustGraph struct {
	mu    sync.RWMutex
	edges map[PeerID]map[PeerID]bool
}

// NewTrustGraph creates a new empty trust graph.
func NewTrustGraph() *TrustGraph {
	return &TrustGraph{
		edges: make(map[PeerID]map[PeerID]bool),
	}
}

// Trust adds a trust relationship: from trusts to.
// This means 'to' is in 'from's UNL.
func (g *TrustGraph) Trust(from, to PeerID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.edges[from] == nil {
		g.edges[from] = make(map[PeerID]bool)
	}
	g.edges[from][to] = true
}

// Untrust removes a trust relationship.
func (g *TrustGraph) Untrust(from, to PeerID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.edges[from] != nil {
		delete(g.edges[from], to)
	}
}

// Trusts checks if 'from' trusts 'to'.
func (g *TrustGraph) Trusts(from, to PeerID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.edges[from] == nil {
		return false
	}
	return g.edges[from][to]
}

// TrustedPeers returns all peers that 'from' trusts (from's UNL).
func (g *TrustGraph) TrustedPeers(from PeerID) []PeerID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	trusted := g.edges[from]
	if trusted == nil {
		return nil
	}

	result := make([]PeerID, 0, len(trusted))
	for peer := range trusted {
		result = append(result, peer)
	}
	sortPeerIDs(result)
	return result
}

// TrustingPeers returns all peers that trust 'to' (peers with 'to' in their UNL).
func (g *TrustGraph) TrustingPeers(to PeerID) []PeerID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []PeerID
	for from, trusted := range g.edges {
		if trusted[to] {
			result = append(result, from)
		}
	}
	sortPeerIDs(result)
	return result
}

// UNLSize returns the number of peers in from's UNL.
func (g *TrustGraph) UNLSize(from PeerID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.edges[from] == nil {
		return 0
	}
	return len(g.edges[from])
}

// CanFork reports whether two peers' UNLs overlap too little to rule out
// a fork. Two lists of sizes a and b are safe when they share more than
// 2*(1-q)*max(a, b) validators, q being the consensus quorum.
func (g *TrustGraph) CanFork(minConsensusPercent int) bool {
	_, _, ok := g.ForkPair(minConsensusPercent)
	return ok
}

// ForkPair returns a pair of peers whose UNLs overlap too little.
func (g *TrustGraph) ForkPair(minConsensusPercent int) (PeerID, PeerID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	peers := make([]PeerID, 0, len(g.edges))
	for p, unl := range g.edges {
		if len(unl) > 0 {
			peers = append(peers, p)
		}
	}
	sortPeerIDs(peers)

	for i := 0; i < len(peers); i++ {
		for j := i + 1; j < len(peers); j++ {
			unlA, unlB := g.edges[peers[i]], g.edges[peers[j]]
			overlap := 0
			for p := range unlA {
				if unlB[p] {
					overlap++
				}
			}
			size := len(unlA)
			if len(unlB) > size {
				size = len(unlB)
			}
			if overlap*100 < 2*(100-minConsensusPercent)*size {
				return peers[i], peers[j], true
			}
		}
	}
	return 0, 0, false
}

// Clear removes all trust relationships.
func (g *TrustGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = make(map[PeerID]map[PeerID]bool)
}

func sortPeerIDs(ids []PeerID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
