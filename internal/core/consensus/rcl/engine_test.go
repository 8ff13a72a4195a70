package rcl

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

func newTestEngine(t *testing.T, a *fakeAdaptor, params consensus.Params) *Engine {
	t.Helper()
	e, err := NewEngine(a, Config{Params: params, Logger: quietLogger()})
	require.NoError(t, err)
	return e
}

func fivePeers() (*fakeAdaptor, []consensus.NodeID) {
	peers := []consensus.NodeID{node(2), node(3), node(4), node(5)}
	return newFakeAdaptor(node(1), peers...), peers
}

func TestNewEngine_RejectsInvalidParams(t *testing.T) {
	a, _ := fivePeers()
	p := consensus.DefaultParams()
	p.MinConsensusPercent = 40

	_, err := NewEngine(a, Config{Params: p})
	require.Error(t, err)
	assert.True(t, errors.Is(err, consensus.ErrInvalidParams))
}

func TestStartRound_RequiresInputs(t *testing.T) {
	a, _ := fivePeers()
	e := newTestEngine(t, a, consensus.DefaultParams())

	assert.ErrorIs(t, e.StartRound(nil, set("A")), ErrNoRound)
	assert.ErrorIs(t, e.StartRound(newGenesis(0xAA, 10, epoch), nil), ErrNoRound)
	assert.NoError(t, e.TimerEntry(), "ticking before any round is a no-op")
}

func TestEngine_UnanimousFastPath(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	abc := set("A", "B", "C")
	e := newTestEngine(t, a, consensus.DefaultParams())

	require.NoError(t, e.StartRound(prev, abc))
	assert.Equal(t, consensus.PhaseOpen, e.State().Phase)
	assert.Equal(t, consensus.ModeProposing, e.State().Mode)

	for _, p := range peers {
		a.deliver(position(p, prev.ID(), abc, epoch.Add(2*time.Second), consensus.SeqJoin))
	}
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())

	results := a.accepted()
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, abc.ID(), res.TxSetID)
	assert.Equal(t, 3, res.TxSet.Len())
	assert.Equal(t, consensus.ResultSuccess, res.Stats.Result)
	assert.Empty(t, res.Disputes)
	assert.Equal(t, 0, res.Stats.Disputes)
	assert.Equal(t, 4, res.Stats.Proposers)
	assert.True(t, res.CloseTimeAgreed)
	assert.True(t, res.Proposing)
	assert.Equal(t, uint32(11), res.Round.Seq)

	// rounded close time lands on the parent's, so it is bumped one second
	assert.Equal(t, epoch.Add(time.Second), res.CloseTime)

	state := e.State()
	assert.Equal(t, consensus.PhaseAccepted, state.Phase)
	assert.True(t, state.Committed)

	next, ok := e.Accepted()
	require.True(t, ok)
	assert.Equal(t, uint32(11), next.Seq())
	assert.Equal(t, prev.ID(), next.ParentID())

	shared := a.sharedPositions()
	require.Len(t, shared, 1)
	assert.Equal(t, abc.ID(), shared[0].TxSet)
	assert.Equal(t, consensus.SeqJoin, shared[0].ProposeSeq)
}

func TestEngine_AcceptsAtMostOnce(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	abc := set("A", "B", "C")
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, abc))

	for _, p := range peers {
		a.deliver(position(p, prev.ID(), abc, epoch, consensus.SeqJoin))
	}
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())

	for i := 0; i < 20; i++ {
		a.advance(time.Second)
		for _, p := range peers {
			a.deliver(position(p, prev.ID(), set("A"), epoch, uint32(i+1)))
		}
		require.NoError(t, e.TimerEntry())
	}
	assert.Len(t, a.accepted(), 1)
}

func TestEngine_LatePeerIgnored(t *testing.T) {
	a, peers := fivePeers()
	late := node(6)
	a.trusted = append(a.trusted, late)
	prev := newGenesis(0xAA, 10, epoch)
	abc := set("A", "B", "C")
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, abc))

	for _, p := range peers {
		a.deliver(position(p, prev.ID(), abc, epoch, consensus.SeqJoin))
	}
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())
	require.Len(t, a.accepted(), 1)

	a.advance(consensus.DefaultParams().StaleProposalTimeout + time.Second)
	assert.False(t, e.PeerProposal(position(late, prev.ID(), set("D"), a.Now(), consensus.SeqJoin)))
	require.NoError(t, e.TimerEntry())

	results := a.accepted()
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Stats.Proposers)
	assert.Equal(t, 1, e.Discards().Late)
}

func TestEngine_DisputeResolvedByMajority(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	ab, abc := set("A", "B"), set("A", "B", "C")
	a.addSet(abc)
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, ab))

	for i, p := range peers {
		s := ab
		if i == len(peers)-1 {
			s = abc
		}
		a.deliver(position(p, prev.ID(), s, epoch, consensus.SeqJoin))
	}
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())

	results := a.accepted()
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, ab.ID(), res.TxSetID)
	assert.False(t, res.TxSet.Contains(txIDOf("C")))

	require.Len(t, res.Disputes, 1)
	d := res.Disputes[0]
	assert.Equal(t, txIDOf("C"), d.TxID)
	assert.False(t, d.Included)
	assert.Equal(t, 1, d.Yays)
	assert.Equal(t, 3, d.Nays)
	assert.Equal(t, tx("C"), d.Tx)
}

func TestEngine_MinorityAdoptsMajoritySet(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	ab, abc := set("A", "B"), set("A", "B", "C")
	a.addSet(ab)
	params := consensus.DefaultParams()
	params.ShareDisputes = true
	e := newTestEngine(t, a, params)
	require.NoError(t, e.StartRound(prev, abc))

	for _, p := range peers {
		a.deliver(position(p, prev.ID(), ab, epoch, consensus.SeqJoin))
	}
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())

	// our vote on C flipped, so we wait a tick before checking agreement
	assert.Empty(t, a.accepted())
	shared := a.sharedPositions()
	require.Len(t, shared, 2)
	assert.Equal(t, abc.ID(), shared[0].TxSet)
	assert.Equal(t, ab.ID(), shared[1].TxSet)
	assert.Equal(t, uint32(1), shared[1].ProposeSeq)

	require.Len(t, a.votes, 1)
	assert.Equal(t, txIDOf("C"), a.votes[0].TxID)
	assert.False(t, a.votes[0].Vote)

	a.advance(time.Second)
	require.NoError(t, e.TimerEntry())
	results := a.accepted()
	require.Len(t, results, 1)
	assert.Equal(t, ab.ID(), results[0].TxSetID)
	assert.Equal(t, 1, results[0].Stats.PositionChanges)
}

func TestEngine_ForcedAcceptOnTimeout(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	ab, abc := set("A", "B"), set("A", "B", "C")
	a.addSet(abc)
	params := consensus.DefaultParams()
	e := newTestEngine(t, a, params)
	require.NoError(t, e.StartRound(prev, ab))

	// only one of four peers ever proposes, and it disagrees
	a.deliver(position(peers[0], prev.ID(), abc, epoch, consensus.SeqJoin))
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())
	require.Equal(t, consensus.PhaseEstablish, e.State().Phase)

	for elapsed := time.Second; elapsed < params.EstablishTimeout; elapsed += time.Second {
		a.advance(time.Second)
		require.NoError(t, e.TimerEntry())
		require.Empty(t, a.accepted(), "accepted after %s", elapsed)
	}

	a.advance(time.Second)
	require.NoError(t, e.TimerEntry())
	results := a.accepted()
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, consensus.ResultExpired, res.Stats.Result)
	assert.True(t, res.Stats.Expired)
	assert.Equal(t, ab.ID(), res.TxSetID)
	assert.Equal(t, params.EstablishTimeout, res.Stats.Duration)
	assert.Equal(t, consensus.PhaseAccepted, e.State().Phase)
}

func TestEngine_ThinParticipationWaitsForTimeout(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	abc := set("A", "B", "C")
	params := consensus.DefaultParams()
	e := newTestEngine(t, a, params)
	require.NoError(t, e.StartRound(prev, abc))

	// one of four trusted peers proposes, and it agrees with us
	a.deliver(position(peers[0], prev.ID(), abc, epoch, consensus.SeqJoin))
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())
	require.Equal(t, consensus.PhaseEstablish, e.State().Phase)
	require.Empty(t, a.accepted())

	for elapsed := time.Second; elapsed < params.EstablishTimeout; elapsed += time.Second {
		a.advance(time.Second)
		require.NoError(t, e.TimerEntry())
		require.Empty(t, a.accepted(), "accepted after %s", elapsed)
	}

	a.advance(time.Second)
	require.NoError(t, e.TimerEntry())
	results := a.accepted()
	require.Len(t, results, 1)
	assert.Equal(t, consensus.ResultExpired, results[0].Stats.Result)
	assert.True(t, results[0].Stats.Expired)
	assert.Equal(t, abc.ID(), results[0].TxSetID)
}

func TestEngine_WaitsForMinOpenTime(t *testing.T) {
	a, peers := fivePeers()
	// the parent closed long ago, and every peer has already closed
	prev := newGenesis(0xAA, 10, epoch.Add(-time.Hour))
	s := set("A")
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, s))
	for _, p := range peers {
		a.deliver(position(p, prev.ID(), s, epoch, consensus.SeqJoin))
	}

	a.advance(time.Second)
	require.NoError(t, e.TimerEntry())
	assert.Equal(t, consensus.PhaseOpen, e.State().Phase)
	assert.Empty(t, a.accepted())

	a.advance(time.Second)
	require.NoError(t, e.TimerEntry())
	assert.Len(t, a.accepted(), 1)
}

func TestEngine_StalePeerExcludedFromTally(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	ab, abc := set("A", "B"), set("A", "B", "C")
	a.addSet(abc)
	params := consensus.DefaultParams()
	params.EstablishTimeout = 30 * time.Second
	params.StaleProposalTimeout = 10 * time.Second
	params.ProposeInterval = 5 * time.Second
	e := newTestEngine(t, a, params)
	require.NoError(t, e.StartRound(prev, ab))

	a.advance(2 * time.Second)
	a.deliver(
		position(peers[0], prev.ID(), ab, epoch, consensus.SeqJoin),
		position(peers[1], prev.ID(), ab, epoch, consensus.SeqJoin),
		position(peers[2], prev.ID(), abc, epoch, consensus.SeqJoin),
		position(peers[3], prev.ID(), abc, epoch, consensus.SeqJoin),
	)
	require.NoError(t, e.TimerEntry())
	require.Equal(t, consensus.PhaseEstablish, e.State().Phase)

	// peers 2 and 3 keep talking, 4 and 5 go quiet
	for seq := uint32(1); seq <= 10 && len(a.accepted()) == 0; seq++ {
		a.advance(2 * time.Second)
		a.deliver(
			position(peers[0], prev.ID(), ab, epoch, seq),
			position(peers[1], prev.ID(), ab, epoch, seq),
		)
		require.NoError(t, e.TimerEntry())
	}

	results := a.accepted()
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, consensus.ResultSuccess, res.Stats.Result)
	assert.Equal(t, 2, res.Stats.Proposers)
	assert.Equal(t, ab.ID(), res.TxSetID)
	assert.Less(t, res.Stats.Duration, params.EstablishTimeout)
	require.Len(t, res.Disputes, 1)
	assert.Equal(t, 0, res.Disputes[0].Yays, "stale yes votes are dropped")
}

func TestEngine_StaleSequenceRejected(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, set("A")))

	assert.True(t, e.PeerProposal(position(peers[0], prev.ID(), set("A"), epoch, 3)))
	assert.False(t, e.PeerProposal(position(peers[0], prev.ID(), set("B"), epoch, 2)))
	assert.False(t, e.PeerProposal(position(peers[0], prev.ID(), set("B"), epoch, 3)))

	got := e.Positions()
	require.Len(t, got, 1)
	assert.Equal(t, uint32(3), got[0].ProposeSeq)
	assert.Equal(t, set("A").ID(), got[0].TxSet)
	assert.Equal(t, 2, e.Discards().StaleSeq)
}

func TestEngine_SnapshotsWhileRoundRuns(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	ab, abc := set("A", "B"), set("A", "B", "C")
	a.addSet(abc)
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, ab))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = e.Positions()
				_ = e.Disputes()
			}
		}
	}()

	for i, p := range peers {
		e.PeerProposal(position(p, prev.ID(), abc, epoch, uint32(i)))
	}
	for i := 0; i < 5; i++ {
		a.advance(time.Second)
		require.NoError(t, e.TimerEntry())
	}
	close(stop)
	wg.Wait()

	assert.Len(t, e.Positions(), len(peers))
}

func TestEngine_DiscardsBadInput(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, set("A")))

	assert.False(t, e.PeerProposal(position(node(9), prev.ID(), set("A"), epoch, 0)), "untrusted")
	assert.False(t, e.PeerProposal(position(peers[0], consensus.LedgerID{0xEE}, set("A"), epoch, 0)), "wrong ledger")
	assert.False(t, e.PeerProposal(position(node(1), prev.ID(), set("A"), epoch, 0)), "our own")

	bow := position(peers[1], prev.ID(), set("A"), epoch, consensus.SeqLeave)
	bow.BowOut = true
	assert.True(t, e.PeerProposal(bow))
	assert.False(t, e.PeerProposal(position(peers[1], prev.ID(), set("A"), epoch, 1)), "bowed out")

	d := e.Discards()
	assert.Equal(t, 1, d.Untrusted)
	assert.Equal(t, 1, d.WrongLedger)
	assert.Equal(t, 1, d.BowedOut)
	assert.Equal(t, 3, d.Total())
	assert.Empty(t, e.Positions())
}

func TestEngine_CloseTimeSkewWithinResolution(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	s := set("A")
	params := consensus.DefaultParams()
	params.InitialCloseResolution = 10 * time.Second
	e := newTestEngine(t, a, params)
	require.NoError(t, e.StartRound(prev, s))

	a.deliver(
		position(peers[0], prev.ID(), s, epoch.Add(100*time.Second), 0),
		position(peers[1], prev.ID(), s, epoch.Add(100*time.Second), 0),
		position(peers[2], prev.ID(), s, epoch.Add(104*time.Second), 0),
		position(peers[3], prev.ID(), s, epoch.Add(104*time.Second), 0),
	)
	a.advance(102 * time.Second)
	require.NoError(t, e.TimerEntry())

	results := a.accepted()
	require.Len(t, results, 1)
	res := results[0]
	assert.True(t, res.CloseTimeAgreed)
	assert.Equal(t, 10*time.Second, res.CloseResolution)
	assert.Equal(t, epoch.Add(100*time.Second), res.CloseTime)
	assert.Equal(t, 0, res.Stats.PositionChanges)

	next, ok := e.Accepted()
	require.True(t, ok)
	require.NoError(t, e.StartRound(next, set()))
	assert.Equal(t, 10*time.Second, e.State().Resolution)
}

func TestEngine_CloseTimeDisagreementCoarsensResolution(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	s := set("A")
	params := consensus.DefaultParams()
	params.InitialCloseResolution = 10 * time.Second
	e := newTestEngine(t, a, params)
	require.NoError(t, e.StartRound(prev, s))

	a.deliver(
		position(peers[0], prev.ID(), s, epoch.Add(2*time.Second), 0),
		position(peers[1], prev.ID(), s, epoch.Add(2*time.Second), 0),
		position(peers[2], prev.ID(), s, epoch.Add(22*time.Second), 0),
		position(peers[3], prev.ID(), s, epoch.Add(22*time.Second), 0),
	)
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())

	for i := 0; i < 20 && len(a.accepted()) == 0; i++ {
		a.advance(time.Second)
		require.NoError(t, e.TimerEntry())
	}

	results := a.accepted()
	require.Len(t, results, 1)
	res := results[0]
	assert.False(t, res.CloseTimeAgreed)
	assert.Equal(t, consensus.ResultExpired, res.Stats.Result)
	assert.Equal(t, prev.CloseTime().Add(time.Second), res.CloseTime)

	next, ok := e.Accepted()
	require.True(t, ok)
	require.NoError(t, e.StartRound(next, set()))
	assert.Equal(t, 20*time.Second, e.State().Resolution)
}

func TestEngine_ForkAbandonsRound(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	other := newGenesis(0xBB, 10, epoch)
	ab, abc := set("A", "B"), set("A", "B", "C")
	a.addSet(abc)
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, ab))

	// split the peers so the round can't converge on its own
	a.deliver(
		position(peers[0], prev.ID(), ab, epoch, 0),
		position(peers[1], prev.ID(), abc, epoch, 0),
	)
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())
	require.Equal(t, consensus.PhaseEstablish, e.State().Phase)

	for _, p := range peers {
		a.deliverValidations(consensus.Validation{
			LedgerID:  other.ID(),
			LedgerSeq: other.Seq(),
			SignTime:  a.Now(),
			NodeID:    p,
			Full:      true,
		})
	}
	a.advance(time.Second)
	require.NoError(t, e.TimerEntry())

	state := e.State()
	assert.Equal(t, consensus.PhaseAbandoned, state.Phase)
	assert.Equal(t, consensus.ModeWrongLedger, state.Mode)
	assert.False(t, state.Committed)
	assert.Empty(t, a.accepted())
	assert.Equal(t, []consensus.LedgerID{other.ID()}, a.resyncs)

	shared := a.sharedPositions()
	require.NotEmpty(t, shared)
	last := shared[len(shared)-1]
	assert.True(t, last.BowOut)
	assert.Equal(t, consensus.SeqLeave, last.ProposeSeq)

	// nothing more happens to the abandoned round
	a.advance(30 * time.Second)
	require.NoError(t, e.TimerEntry())
	assert.Empty(t, a.accepted())

	// the old ledger is refused, the validated one starts a round
	err := e.StartRound(prev, ab)
	assert.ErrorIs(t, err, ErrWrongLedger)
	require.NoError(t, e.StartRound(other, ab))
	state = e.State()
	assert.Equal(t, consensus.PhaseOpen, state.Phase)
	assert.Equal(t, consensus.ModeSwitchedLedger, state.Mode)
	assert.Equal(t, other.ID(), state.Round.Parent)
}

func TestEngine_ForkOnLaterLedger(t *testing.T) {
	a, peers := fivePeers()
	base := newGenesis(0xAA, 9, epoch)
	prev := base.child(0x01, epoch)
	sibling := base.child(0x02, epoch)
	tip := sibling.child(0x03, epoch)
	a.addLedger(tip)
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, set("A")))

	for _, p := range peers {
		a.deliverValidations(consensus.Validation{
			LedgerID:  tip.ID(),
			LedgerSeq: tip.Seq(),
			SignTime:  a.Now(),
			NodeID:    p,
		})
	}
	require.NoError(t, e.TimerEntry())

	assert.Equal(t, consensus.PhaseAbandoned, e.State().Phase)
	assert.Equal(t, []consensus.LedgerID{tip.ID()}, a.resyncs)
}

func TestEngine_ValidationsOnOurBranchAreNotAFork(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, set("A")))

	for _, p := range peers {
		assert.True(t, e.OnValidation(consensus.Validation{
			LedgerID:  prev.ID(),
			LedgerSeq: prev.Seq(),
			SignTime:  a.Now(),
			NodeID:    p,
		}))
	}
	assert.False(t, e.OnValidation(consensus.Validation{
		LedgerID:  prev.ID(),
		LedgerSeq: prev.Seq(),
		SignTime:  a.Now(),
		NodeID:    node(9),
	}))
	require.NoError(t, e.TimerEntry())
	assert.Equal(t, consensus.PhaseOpen, e.State().Phase)
	assert.Empty(t, a.resyncs)
	assert.Equal(t, 4, e.Validations().CountFor(prev.ID()))
}

func TestEngine_AcceptFailureIsReported(t *testing.T) {
	a, peers := fivePeers()
	diskFull := errors.New("disk full")
	a.acceptErr = diskFull
	prev := newGenesis(0xAA, 10, epoch)
	s := set("A")
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, s))

	for _, p := range peers {
		a.deliver(position(p, prev.ID(), s, epoch, 0))
	}
	a.advance(2 * time.Second)
	err := e.TimerEntry()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAcceptFailed)
	assert.ErrorIs(t, err, diskFull)

	// the commit is not retried
	a.advance(time.Second)
	assert.NoError(t, e.TimerEntry())
	assert.Len(t, a.accepted(), 1)
	_, ok := e.Accepted()
	assert.False(t, ok)
}

func TestEngine_PlaysBackEarlyPositions(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	s := set("A")
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, s))

	for _, p := range peers {
		a.deliver(position(p, prev.ID(), s, epoch, 0))
	}
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())
	next, ok := e.Accepted()
	require.True(t, ok)

	// faster peers already propose on the new ledger
	for _, p := range peers[:2] {
		assert.False(t, e.PeerProposal(position(p, next.ID(), set("B"), a.Now(), 0)))
	}
	require.NoError(t, e.StartRound(next, set("B")))

	got := e.Positions()
	require.Len(t, got, 2)
	for _, p := range got {
		assert.Equal(t, next.ID(), p.PreviousLedger)
	}
}

func TestEngine_ObserverDoesNotShare(t *testing.T) {
	a, peers := fivePeers()
	a.proposing = false
	prev := newGenesis(0xAA, 10, epoch)
	s := set("A", "B")
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, s))
	assert.Equal(t, consensus.ModeObserving, e.State().Mode)

	for _, p := range peers {
		a.deliver(position(p, prev.ID(), s, epoch, 0))
	}
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())

	results := a.accepted()
	require.Len(t, results, 1)
	assert.False(t, results[0].Proposing)
	assert.Empty(t, a.sharedPositions())
}

func TestEngine_UpdateOpenSet(t *testing.T) {
	a := newFakeAdaptor(node(1))
	prev := newGenesis(0xAA, 10, epoch)
	e := newTestEngine(t, a, consensus.DefaultParams())
	require.NoError(t, e.StartRound(prev, set()))

	// no peers and no transactions: the ledger stays open until idle
	a.advance(time.Second)
	require.NoError(t, e.TimerEntry())
	assert.Equal(t, consensus.PhaseOpen, e.State().Phase)

	e.UpdateOpenSet(set("A"))
	a.advance(consensus.DefaultParams().MinOpenTime)
	require.NoError(t, e.TimerEntry())

	results := a.accepted()
	require.Len(t, results, 1)
	assert.Equal(t, set("A").ID(), results[0].TxSetID)

	e.UpdateOpenSet(set("B"))
	assert.Equal(t, set("A").ID(), e.State().Position.TxSet, "closed ledgers ignore updates")
}

func TestEngine_RefreshesPositionWhileWaiting(t *testing.T) {
	a, peers := fivePeers()
	prev := newGenesis(0xAA, 10, epoch)
	ab, abc := set("A", "B"), set("A", "B", "C")
	a.addSet(abc)
	params := consensus.DefaultParams()
	e := newTestEngine(t, a, params)
	require.NoError(t, e.StartRound(prev, ab))

	a.deliver(position(peers[0], prev.ID(), abc, epoch, 0))
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())
	require.Len(t, a.sharedPositions(), 1)

	a.advance(params.ProposeInterval)
	require.NoError(t, e.TimerEntry())
	shared := a.sharedPositions()
	require.Len(t, shared, 2)
	assert.Equal(t, shared[0].TxSet, shared[1].TxSet)
	assert.Equal(t, uint32(1), shared[1].ProposeSeq)
}

func TestEngine_PublishesEvents(t *testing.T) {
	a, peers := fivePeers()
	bus := consensus.NewEventBus(64)
	e, err := NewEngine(a, Config{Params: consensus.DefaultParams(), Events: bus, Logger: quietLogger()})
	require.NoError(t, err)

	prev := newGenesis(0xAA, 10, epoch)
	s := set("A")
	require.NoError(t, e.StartRound(prev, s))
	for _, p := range peers {
		a.deliver(position(p, prev.ID(), s, epoch, 0))
	}
	a.advance(2 * time.Second)
	require.NoError(t, e.TimerEntry())

	seen := make(map[consensus.EventType]int)
	for done := false; !done; {
		select {
		case ev := <-bus.Events():
			seen[ev.Type()]++
		default:
			done = true
		}
	}
	assert.Equal(t, 1, seen[consensus.EventRoundStarted])
	assert.Equal(t, 1, seen[consensus.EventConsensusReached])
	assert.Equal(t, 1, seen[consensus.EventLedgerAccepted])
	assert.Equal(t, 3, seen[consensus.EventPhaseChanged], "open, establish, accepted")
	assert.Zero(t, seen[consensus.EventDisputeCreated])
}
