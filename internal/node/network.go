package node

import (
	"context"
	"sync"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/ledger"
	"github.com/LeJamon/rcld/internal/core/txset"
)

// Network carries a node's outbound traffic. Implementations must not
// block: they are called from the consensus loop.
type Network interface {
	BroadcastPosition(p consensus.Position)
	BroadcastValidation(v consensus.Validation)
	BroadcastDispute(vote consensus.DisputeVote, sig []byte)
	BroadcastTx(blob []byte)
	RequestTxSet(id consensus.TxSetID)
	RequestLedger(id consensus.LedgerID)
}

// NopNetwork drops everything. A node on it runs standalone.
type NopNetwork struct{}

func (NopNetwork) BroadcastPosition(consensus.Position) {}
func (NopNetwork) BroadcastValidation(consensus.Validation) {}
func (NopNetwork) BroadcastDispute(consensus.DisputeVote, []byte) {}
func (NopNetwork) BroadcastTx([]byte) {}
func (NopNetwork) RequestTxSet(consensus.TxSetID) {}
func (NopNetwork) RequestLedger(consensus.LedgerID) {}

// Hub connects nodes in one process. Every message reaches every other
// attached node; requests are answered by whichever node holds the data.
type Hub struct {
	mu    sync.RWMutex
	nodes map[consensus.NodeID]*Node
	order []consensus.NodeID
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[consensus.NodeID]*Node)}
}

// Network returns the hub as seen by self. Pass it in Deps before the
// node is attached.
func (h *Hub) Network(self consensus.NodeID) Network {
	return &hubNetwork{hub: h, self: self}
}

// Attach starts delivering messages to n.
func (h *Hub) Attach(n *Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := n.NodeID()
	if _, ok := h.nodes[id]; !ok {
		h.order = append(h.order, id)
	}
	h.nodes[id] = n
}

// Detach stops delivering messages to the node.
func (h *Hub) Detach(id consensus.NodeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, id)
	for i, o := range h.order {
		if o == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *Hub) others(self consensus.NodeID) []*Node {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Node, 0, len(h.order))
	for _, id := range h.order {
		if id != self {
			out = append(out, h.nodes[id])
		}
	}
	return out
}

func (h *Hub) node(id consensus.NodeID) (*Node, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[id]
	return n, ok
}

type hubNetwork struct {
	hub  *Hub
	self consensus.NodeID
}

// Delivery errors mean the receiver is saturated. The sender has no way
// to help, so they are counted by the receiver and otherwise ignored.

func (n *hubNetwork) BroadcastPosition(p consensus.Position) {
	for _, peer := range n.hub.others(n.self) {
		_ = peer.DeliverPosition(p)
	}
}

func (n *hubNetwork) BroadcastValidation(v consensus.Validation) {
	for _, peer := range n.hub.others(n.self) {
		_ = peer.DeliverValidation(v)
	}
}

func (n *hubNetwork) BroadcastDispute(vote consensus.DisputeVote, sig []byte) {
	for _, peer := range n.hub.others(n.self) {
		_ = peer.DeliverDispute(vote, sig)
	}
}

func (n *hubNetwork) BroadcastTx(blob []byte) {
	for _, peer := range n.hub.others(n.self) {
		_ = peer.DeliverTx(blob)
	}
}

func (n *hubNetwork) RequestTxSet(id consensus.TxSetID) {
	me, ok := n.hub.node(n.self)
	if !ok {
		return
	}
	for _, peer := range n.hub.others(n.self) {
		if set, ok := peer.ServeTxSet(id); ok {
			_ = me.DeliverTxSet(set)
			return
		}
	}
}

func (n *hubNetwork) RequestLedger(id consensus.LedgerID) {
	me, ok := n.hub.node(n.self)
	if !ok {
		return
	}
	for _, peer := range n.hub.others(n.self) {
		if l, ok := peer.ServeLedger(id); ok {
			_ = me.DeliverLedger(l)
			return
		}
	}
}

// ServeTxSet answers a peer's request for a transaction set.
func (n *Node) ServeTxSet(id consensus.TxSetID) (*txset.Set, bool) {
	if set, ok := n.txsets.Peek(id); ok {
		return set, true
	}
	if set, ok := n.engine.TxSet(id); ok {
		return txset.Of(set), true
	}
	return nil, false
}

// ServeLedger answers a peer's request for a ledger.
func (n *Node) ServeLedger(id consensus.LedgerID) (*ledger.Ledger, bool) {
	if l, ok := n.ledgers.Get(id); ok {
		return l, true
	}
	l, err := n.store.LoadLedger(context.Background(), id)
	if err != nil {
		return nil, false
	}
	return l, true
}
