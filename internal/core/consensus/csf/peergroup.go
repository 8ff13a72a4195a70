package csf

import (
	"math/rand"
	"sort"
)

// PeerGroup is an ordered set of peers used to build trust and network
// relations in bulk. Groups combine with Union and Difference.
type PeerGroup struct {
	peers []*Peer
}

// NewPeerGroup creates a group from peers, ordered by ID with duplicates
// removed.
func NewPeerGroup(peers ...*Peer) *PeerGroup {
	seen := make(map[PeerID]struct{}, len(peers))
	out := make([]*Peer, 0, len(peers))
	for _, p := range peers {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &PeerGroup{peers: out}
}

// Size returns the number of peers in the group.
func (g *PeerGroup) Size() int { return len(g.peers) }

// Get returns the i-th peer by ID order.
func (g *PeerGroup) Get(i int) *Peer { return g.peers[i] }

// Peers returns the peers in ID order.
func (g *PeerGroup) Peers() []*Peer { return g.peers }

// Contains reports whether p is in the group.
func (g *PeerGroup) Contains(p *Peer) bool {
	i := sort.Search(len(g.peers), func(i int) bool { return g.peers[i].ID >= p.ID })
	return i < len(g.peers) && g.peers[i] == p
}

// IDs returns the IDs of the peers in the group.
func (g *PeerGroup) IDs() []PeerID {
	ids := make([]PeerID, len(g.peers))
	for i, p := range g.peers {
		ids[i] = p.ID
	}
	return ids
}

// Union returns the peers in either group.
func (g *PeerGroup) Union(other *PeerGroup) *PeerGroup {
	return NewPeerGroup(append(append([]*Peer(nil), g.peers...), other.peers...)...)
}

// Difference returns the peers in g that are not in other.
func (g *PeerGroup) Difference(other *PeerGroup) *PeerGroup {
	var out []*Peer
	for _, p := range g.peers {
		if !other.Contains(p) {
			out = append(out, p)
		}
	}
	return NewPeerGroup(out...)
}

// ForEach calls fn for each peer in ID order.
func (g *PeerGroup) ForEach(fn func(*Peer)) {
	for _, p := range g.peers {
		fn(p)
	}
}

// each calls fn for every pair of distinct peers across g and other.
func (g *PeerGroup) each(other *PeerGroup, fn func(p, target *Peer)) {
	for _, p := range g.peers {
		for _, target := range other.peers {
			if p != target {
				fn(p, target)
			}
		}
	}
}

// Trust makes every peer in g trust every peer in other.
func (g *PeerGroup) Trust(other *PeerGroup) {
	g.each(other, func(p, t *Peer) { p.Trust(t) })
}

// Untrust revokes the trust Trust added.
func (g *PeerGroup) Untrust(other *PeerGroup) {
	g.each(other, func(p, t *Peer) { p.Untrust(t) })
}

// Connect links every peer in g to every peer in other.
func (g *PeerGroup) Connect(other *PeerGroup, delay SimDuration) {
	g.each(other, func(p, t *Peer) { p.Connect(t, delay) })
}

// Disconnect removes the links Connect added.
func (g *PeerGroup) Disconnect(other *PeerGroup) {
	g.each(other, func(p, t *Peer) { p.Disconnect(t) })
}

// TrustAndConnect trusts and links every peer in other.
func (g *PeerGroup) TrustAndConnect(other *PeerGroup, delay SimDuration) {
	g.Trust(other)
	g.Connect(other, delay)
}

// ConnectFromTrust links each peer to the members of g it trusts.
func (g *PeerGroup) ConnectFromTrust(delay SimDuration) {
	for _, p := range g.peers {
		for _, id := range p.trustGraph.TrustedPeers(p.ID) {
			for _, t := range g.peers {
				if t.ID == id && t != p {
					p.Connect(t, delay)
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Random group generation utilities

// RandomRankedGroups generates random peer groups based on peer rankings.
// More important peers (higher rank) are more likely to appear in groups.
func RandomRankedGroups(
	peers *PeerGroup,
	ranks []float64,
	numGroups int,
	sizeFunc func() int,
	rng *rand.Rand,
) []*PeerGroup {
	if len(peers.peers) != len(ranks) {
		panic("csf: peers and ranks must have the same length")
	}

	groups := make([]*PeerGroup, 0, numGroups)
	rawPeers := peers.peers

	for i := 0; i < numGroups; i++ {
		shuffled := randomWeightedShuffle(rawPeers, ranks, rng)
		size := sizeFunc()
		if size > len(shuffled) {
			size = len(shuffled)
		}
		groups = append(groups, NewPeerGroup(shuffled[:size]...))
	}

	return groups
}

// RandomRankedTrust generates random trust groups based on peer rankings.
func RandomRankedTrust(
	peers *PeerGroup,
	ranks []float64,
	numGroups int,
	sizeFunc func() int,
	rng *rand.Rand,
) {
	groups := RandomRankedGroups(peers, ranks, numGroups, sizeFunc, rng)

	for _, peer := range peers.peers {
		// Pick a random group for this peer's trust
		group := groups[rng.Intn(len(groups))]
		for _, target := range group.peers {
			peer.Trust(target)
		}
	}
}

// RandomRankedConnect generates random network connections based on peer rankings.
func RandomRankedConnect(
	peers *PeerGroup,
	ranks []float64,
	numGroups int,
	sizeFunc func() int,
	rng *rand.Rand,
	delay SimDuration,
) {
	groups := RandomRankedGroups(peers, ranks, numGroups, sizeFunc, rng)

	for _, peer := range peers.peers {
		// Pick a random group for this peer's connections
		group := groups[rng.Intn(len(groups))]
		for _, target := range group.peers {
			if peer != target {
				peer.Connect(target, delay)
			}
		}
	}
}

// randomWeightedShuffle shuffles peers weighted by their ranks.
// Higher ranked peers are more likely to appear earlier.
func randomWeightedShuffle(peers []*Peer, ranks []float64, rng *rand.Rand) []*Peer {
	n := len(peers)
	result := make([]*Peer, n)
	indices := make([]int, n)
	weights := make([]float64, n)

	for i := 0; i < n; i++ {
		indices[i] = i
		weights[i] = ranks[i]
	}

	for i := 0; i < n; i++ {
		// Calculate cumulative weights
		total := 0.0
		for _, w := range weights[:n-i] {
			total += w
		}

		if total == 0 {
			// All remaining weights are 0, pick uniformly
			idx := rng.Intn(n - i)
			result[i] = peers[indices[idx]]
			// Remove selected element
			indices[idx] = indices[n-i-1]
			weights[idx] = weights[n-i-1]
			continue
		}

		// Pick random weighted index
		r := rng.Float64() * total
		cumulative := 0.0
		selectedIdx := 0
		for j := 0; j < n-i; j++ {
			cumulative += weights[j]
			if r <= cumulative {
				selectedIdx = j
				break
			}
		}

		result[i] = peers[indices[selectedIdx]]

		// Remove selected element by swapping with last
		indices[selectedIdx] = indices[n-i-1]
		weights[selectedIdx] = weights[n-i-1]
	}

	return result
}

// ZipfRanks returns n ranks falling off as 1/(i+1), so early peers are the
// most popular picks for UNLs and links.
func ZipfRanks(n int) []float64 {
	ranks := make([]float64, n)
	for i := range ranks {
		ranks[i] = 1 / float64(i+1)
	}
	return ranks
}
