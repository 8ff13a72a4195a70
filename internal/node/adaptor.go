package node

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/ledger"
	"github.com/LeJamon/rcld/internal/core/txset"
)

// AcquireTxSet returns a set we hold. Missing sets are requested from the
// network by the provider.
func (n *Node) AcquireTxSet(id consensus.TxSetID) (consensus.TxSet, bool) {
	return n.txsets.Acquire(id)
}

// AcquireLedger returns a ledger from memory or the store, and otherwise
// asks the network for it.
func (n *Node) AcquireLedger(id consensus.LedgerID) (consensus.Ledger, bool) {
	l, ok := n.acquireLedger(id)
	if !ok {
		return nil, false
	}
	return l, true
}

func (n *Node) acquireLedger(id consensus.LedgerID) (*ledger.Ledger, bool) {
	if l, ok := n.ledgers.Get(id); ok {
		return l, true
	}
	l, err := n.store.LoadLedger(context.Background(), id)
	if err == nil {
		n.ledgers.Add(id, l)
		return l, true
	}

	now := n.clock()
	n.mu.Lock()
	at, asked := n.requested[id]
	if asked && now.Sub(at) < acquireRetry {
		n.mu.Unlock()
		return nil, false
	}
	n.requested[id] = now
	n.mu.Unlock()

	n.network.RequestLedger(id)
	return nil, false
}

// Share signs and broadcasts our position.
func (n *Node) Share(p consensus.Position) {
	n.signer.SignPosition(&p)
	n.network.BroadcastPosition(p)
}

// ShareDispute signs and broadcasts a dispute vote.
func (n *Node) ShareDispute(vote consensus.DisputeVote) {
	sig := n.signer.SignDispute(vote)
	n.network.BroadcastDispute(vote, sig)
}

// OnAccept builds and stores the agreed ledger, then validates it if we
// proposed. The next round starts on the following tick.
func (n *Node) OnAccept(res consensus.ConsensusResult, prev consensus.Ledger) (consensus.Ledger, error) {
	parent, ok := prev.(*ledger.Ledger)
	if !ok {
		if parent, ok = n.acquireLedger(prev.ID()); !ok {
			return nil, fmt.Errorf("unknown parent ledger %s", prev.ID().Short())
		}
	}

	set := n.txsets.Add(res.TxSet)
	l := ledger.Build(parent, res)

	ctx := context.Background()
	if err := n.store.StoreTxSet(set); err != nil {
		return nil, fmt.Errorf("store tx set: %w", err)
	}
	if err := n.store.SaveLedger(ctx, l); err != nil {
		return nil, fmt.Errorf("store ledger %d: %w", l.Seq(), err)
	}
	if err := n.store.SetLatest(ctx, l.ID()); err != nil {
		return nil, fmt.Errorf("store ledger %d: %w", l.Seq(), err)
	}
	n.ledgers.Add(l.ID(), l)

	n.mu.Lock()
	n.lastClosed = l
	n.startNext = l
	n.accepted++
	for _, id := range set.IDs() {
		delete(n.openTxs, id)
	}
	validate := res.Proposing && n.config.Proposing
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{
		"seq":       l.Seq(),
		"ledger":    l.ID().Short(),
		"txs":       set.Len(),
		"closeTime": l.CloseTime().Format(time.RFC3339),
		"agreed":    l.CloseAgree(),
		"result":    res.Stats.Result,
	}).Info("Ledger accepted")

	if validate {
		v := consensus.Validation{
			LedgerID:  l.ID(),
			LedgerSeq: l.Seq(),
			SignTime:  n.clock(),
			NodeID:    n.NodeID(),
			Full:      true,
		}
		n.signer.SignValidation(&v)
		v.SeenTime = v.SignTime
		n.engine.OnValidation(v)
		n.network.BroadcastValidation(v)
	}
	n.checkFullyValidated(l)

	select {
	case n.acceptedCh <- l:
	default:
	}
	return l, nil
}

// Resync records the ledger the network is on. The next tick fetches it
// and restarts the round there.
func (n *Node) Resync(id consensus.LedgerID) {
	n.mu.Lock()
	n.resyncTo = id
	n.mu.Unlock()
	n.log.WithField("ledger", id.Short()).Warn("Network moved to another branch")
}

// Proposals drains the verified positions received since the last call.
func (n *Node) Proposals() []consensus.Position {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.proposals
	n.proposals = nil
	return out
}

// Validations drains the verified validations received since the last call.
func (n *Node) Validations() []consensus.Validation {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.validations
	n.validations = nil
	return out
}

// TrustedNodes returns the UNL, including ourselves.
func (n *Node) TrustedNodes() []consensus.NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]consensus.NodeID(nil), n.trusted...)
}

// Proposing reports whether we propose.
func (n *Node) Proposing() bool { return n.config.Proposing }

// Now returns the node's clock.
func (n *Node) Now() time.Time { return n.clock() }

// checkFullyValidated marks l fully validated once a quorum of the UNL
// validated it.
func (n *Node) checkFullyValidated(l *ledger.Ledger) {
	n.mu.Lock()
	behind := l.Seq() <= n.validated.Seq()
	n.mu.Unlock()
	if behind || n.engine.Validations().CountFor(l.ID()) < n.Quorum() {
		return
	}

	n.mu.Lock()
	if l.Seq() <= n.validated.Seq() {
		n.mu.Unlock()
		return
	}
	n.validated = l
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{"seq": l.Seq(), "ledger": l.ID().Short()}).Info("Ledger fully validated")
}

// openSet builds the set of open transactions.
func (n *Node) openSet() *txset.Set {
	n.mu.Lock()
	blobs := make([][]byte, 0, len(n.openTxs))
	for _, b := range n.openTxs {
		blobs = append(blobs, b)
	}
	n.mu.Unlock()
	return n.txsets.Build(blobs)
}
