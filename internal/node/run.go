package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/consensus/rcl"
	"github.com/LeJamon/rcld/internal/core/ledger"
)

// errFinished stops Run once the configured number of ledgers closed.
var errFinished = errors.New("ledger target reached")

// Run drives consensus until ctx ends, the ledger target is reached or a
// ledger fails to commit. Only the last case returns an error.
func (n *Node) Run(ctx context.Context) error {
	n.events.Start()
	defer n.events.Stop()

	n.log.WithFields(logrus.Fields{
		"seq":       n.LastClosed().Seq(),
		"trusted":   len(n.trusted),
		"quorum":    n.Quorum(),
		"proposing": n.config.Proposing,
	}).Info("Node starting")
	n.startRound(n.LastClosed())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.inboundLoop(gCtx) })
	g.Go(func() error { return n.timerLoop(gCtx) })

	err := g.Wait()
	if errors.Is(err, errFinished) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	n.log.WithFields(logrus.Fields{
		"seq":       n.LastClosed().Seq(),
		"validated": n.Validated().Seq(),
	}).Info("Node stopped")
	return err
}

func (n *Node) inboundLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-n.inbound:
			n.handle(m)
		}
	}
}

func (n *Node) timerLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := n.tick()
			if err != nil {
				return err
			}
			if done {
				return errFinished
			}
		}
	}
}

// tick runs one heartbeat: resync or advance the round, start the next
// round after an accept, and re-request anything still missing.
func (n *Node) tick() (bool, error) {
	n.mu.Lock()
	resync := n.resyncTo
	n.mu.Unlock()

	if !resync.IsZero() {
		n.tryResync(resync)
	} else if err := n.engine.TimerEntry(); err != nil {
		return false, fmt.Errorf("consensus: %w", err)
	}

	n.mu.Lock()
	next := n.startNext
	n.startNext = nil
	current := n.lastClosed
	accepted := n.accepted
	n.mu.Unlock()

	if next != nil && next == current {
		n.startRound(next)
	}
	n.checkFullyValidated(current)
	n.refetch()

	return n.config.Ledgers > 0 && accepted >= n.config.Ledgers, nil
}

func (n *Node) startRound(prev *ledger.Ledger) {
	err := n.engine.StartRound(prev, n.openSet())
	if errors.Is(err, rcl.ErrWrongLedger) {
		n.log.WithField("seq", prev.Seq()).Debug("Waiting for the network branch")
		return
	}
	if err != nil {
		n.log.WithError(err).Error("Failed to start round")
	}
}

// tryResync switches to the network's branch once its ledger arrived.
func (n *Node) tryResync(id consensus.LedgerID) {
	l, ok := n.acquireLedger(id)
	if !ok {
		return
	}

	ctx := context.Background()
	if err := n.store.SaveLedger(ctx, l); err != nil {
		n.log.WithError(err).Error("Failed to store network ledger")
		return
	}
	if err := n.store.SetLatest(ctx, l.ID()); err != nil {
		n.log.WithError(err).Error("Failed to store network ledger")
		return
	}
	set, haveSet := n.txsets.Peek(l.TxSetID())

	n.mu.Lock()
	n.resyncTo = consensus.LedgerID{}
	prior := n.lastClosed
	n.lastClosed = l
	if haveSet {
		for _, id := range set.IDs() {
			delete(n.openTxs, id)
		}
	}
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{
		"from": prior.ID().Short(),
		"to":   l.ID().Short(),
		"seq":  l.Seq(),
	}).Info("Switched to network branch")
	n.startRound(l)
}

// refetch asks again for transaction sets that never arrived.
func (n *Node) refetch() {
	now := n.clock()
	n.mu.Lock()
	due := now.Sub(n.lastRefetch) >= acquireRetry
	if due {
		n.lastRefetch = now
	}
	n.mu.Unlock()
	if !due {
		return
	}
	for _, id := range n.txsets.Pending() {
		n.network.RequestTxSet(id)
	}
}
