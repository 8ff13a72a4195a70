package csf

import (
	"sort"
	"sync"
)

// Link represents a network connection between two peers.
type Link struct {
	Inbound     bool
	Delay       SimDuration
	Established SimTime
}

// BasicNetwork simulates a peer-to-peer network with configurable delays.
// Messages sent on a link are delivered after the link's delay, and only
// if the link still exists at delivery time.
type BasicNetwork struct {
	mu        sync.RWMutex
	scheduler *Scheduler
	links     map[PeerID]map[PeerID]*Link
	nodes     map[PeerID]*Peer
	sent      uint64
	dropped   uint64
}

// NewBasicNetwork creates a new simulated network.
func NewBasicNetwork(scheduler *Scheduler) *BasicNetwork {
	return &BasicNetwork{
		scheduler: scheduler,
		links:     make(map[PeerID]map[PeerID]*Link),
		nodes:     make(map[PeerID]*Peer),
	}
}

// Attach makes a peer reachable by ID.
func (n *BasicNetwork) Attach(p *Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[p.ID] = p
}

// Node returns the peer attached under id.
func (n *BasicNetwork) Node(id PeerID) (*Peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.nodes[id]
	return p, ok
}

// Stats returns the number of messages sent and the number lost to links
// that went down in flight.
func (n *BasicNetwork) Stats() (sent, dropped uint64) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sent, n.dropped
}

// Connect establishes a bidirectional connection between two peers.
// Messages sent between them will be delayed by the given duration.
func (n *BasicNetwork) Connect(from, to PeerID, delay SimDuration) bool {
	if from == to {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	// Check if already connected
	if n.links[from] != nil && n.links[from][to] != nil {
		return false
	}

	now := n.scheduler.Now()

	// Create outbound link from -> to
	if n.links[from] == nil {
		n.links[from] = make(map[PeerID]*Link)
	}
	n.links[from][to] = &Link{
		Inbound:     false,
		Delay:       delay,
		Established: now,
	}

	// Create inbound link to -> from
	if n.links[to] == nil {
		n.links[to] = make(map[PeerID]*Link)
	}
	n.links[to][from] = &Link{
		Inbound:     true,
		Delay:       delay,
		Established: now,
	}

	return true
}

// Disconnect removes the connection between two peers.
func (n *BasicNetwork) Disconnect(from, to PeerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.links[from] == nil || n.links[from][to] == nil {
		return false
	}

	delete(n.links[from], to)
	if n.links[to] != nil {
		delete(n.links[to], from)
	}

	return true
}

// IsConnected checks if two peers are connected.
func (n *BasicNetwork) IsConnected(from, to PeerID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.links[from] == nil {
		return false
	}
	return n.links[from][to] != nil
}

// GetDelay returns the delay for messages from one peer to another.
// Returns 0 and false if not connected.
func (n *BasicNetwork) GetDelay(from, to PeerID) (SimDuration, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.links[from] == nil {
		return 0, false
	}
	link := n.links[from][to]
	if link == nil {
		return 0, false
	}
	return link.Delay, true
}

// Peers returns all peers that the given peer is connected to.
func (n *BasicNetwork) Peers(id PeerID) []PeerID {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peerLinks := n.links[id]
	if peerLinks == nil {
		return nil
	}

	result := make([]PeerID, 0, len(peerLinks))
	for peer := range peerLinks {
		result = append(result, peer)
	}
	// map order would make runs irreproducible
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Send delivers a message to the peer attached under to after the link
// delay. Returns false if the peers are not connected.
func (n *BasicNetwork) Send(from, to PeerID, handler func(target *Peer)) bool {
	delay, ok := n.GetDelay(from, to)
	if !ok {
		return false
	}

	n.mu.Lock()
	n.sent++
	n.mu.Unlock()

	n.scheduler.In(delay, func() {
		target, attached := n.Node(to)
		if !attached || !n.IsConnected(from, to) {
			n.mu.Lock()
			n.dropped++
			n.mu.Unlock()
			return
		}
		handler(target)
	})
	return true
}

// Broadcast sends a message to every connected peer except skip.
// Returns the number of peers the message was sent to.
func (n *BasicNetwork) Broadcast(from PeerID, skip PeerID, handler func(target *Peer)) int {
	count := 0
	for _, to := range n.Peers(from) {
		if to == skip {
			continue
		}
		if n.Send(from, to, handler) {
			count++
		}
	}
	return count
}
